package suppression

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/models"
)

func newTestService(t *testing.T) (*Service, *catalogue.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "suppression-test.db")
	db, err := database.NewSQLite(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := catalogue.New(db)
	return New(db, store), store
}

func insertFinishedScan(t *testing.T, store *catalogue.Store, name, version string, finishedAt time.Time) *models.Scan {
	t.Helper()
	ctx := context.Background()
	scan := &models.Scan{Name: name, Version: version, Status: models.StatusQueued, QueuedAt: finishedAt, QueuedBy: "system"}
	if err := store.InsertScan(ctx, scan); err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	result := &models.SuccessVerdict{Name: name, Version: version, Score: 5, InspectorURL: "u", Commit: "c"}
	if err := store.FinalizeSuccess(ctx, scan.ID, result, "system", finishedAt); err != nil {
		t.Fatalf("finalize scan: %v", err)
	}
	found, err := store.FindScans(ctx, name, version, nil)
	if err != nil || len(found) != 1 {
		t.Fatalf("find scan after finalize: %v / %+v", err, found)
	}
	return &found[0]
}

func TestSuppressUnknownScanFails(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Suppress(context.Background(), "nonexistent"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSuppressAndListAndUnsuppress(t *testing.T) {
	svc, store := newTestService(t)
	scan := insertFinishedScan(t, store, "evilpkg", "0.1", time.Now().UTC())

	if err := svc.Suppress(context.Background(), scan.ID); err != nil {
		t.Fatalf("suppress: %v", err)
	}

	list, err := svc.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "evilpkg" {
		t.Fatalf("expected evilpkg in suppressed list, got %+v", list)
	}

	if err := svc.Unsuppress(context.Background(), "evilpkg"); err != nil {
		t.Fatalf("unsuppress: %v", err)
	}

	list, err = svc.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list after unsuppress: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty suppressed list, got %+v", list)
	}
}

func TestUnsuppressUnknownPackageFails(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Unsuppress(context.Background(), "never-suppressed"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSuppressRepointsToNewestScanOnReSuppress(t *testing.T) {
	svc, store := newTestService(t)
	older := insertFinishedScan(t, store, "flaky", "1.0", time.Now().UTC().Add(-time.Hour))
	newer := insertFinishedScan(t, store, "flaky", "2.0", time.Now().UTC())

	if err := svc.Suppress(context.Background(), older.ID); err != nil {
		t.Fatalf("suppress older: %v", err)
	}
	if err := svc.Suppress(context.Background(), newer.ID); err != nil {
		t.Fatalf("suppress newer: %v", err)
	}

	list, err := svc.List(context.Background(), "flaky")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ScanID != newer.ID {
		t.Fatalf("expected suppression to repoint to the newest scan, got %+v", list)
	}
}
