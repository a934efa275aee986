package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/internal/packageindex"
	"github.com/ossguard/scanguard/models"
)

func newTestReportStore(t *testing.T) *catalogue.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "report-test.db")
	db, err := database.NewSQLite(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return catalogue.New(db)
}

func seedFinishedScan(t *testing.T, store *catalogue.Store, name, version, inspectorURL string) *models.Scan {
	t.Helper()
	ctx := context.Background()
	scan := &models.Scan{Name: name, Version: version, Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, scan); err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	verdict := &models.SuccessVerdict{Name: name, Version: version, Score: 10, InspectorURL: inspectorURL, RulesMatched: []string{"suspicious_eval"}}
	if err := store.FinalizeSuccess(ctx, scan.ID, verdict, "worker-1", time.Now().UTC()); err != nil {
		t.Fatalf("finalize success: %v", err)
	}
	return scan
}

func TestReportPackageUnknownNameIsNotFound(t *testing.T) {
	store := newTestReportStore(t)
	index := packageindex.New(config.PackageIndexConfig{})
	svc := New(store, index, config.ReporterConfig{})

	err := svc.ReportPackage(context.Background(), auth.Subject("security-team"), Request{Name: "ghost", Version: "1.0.0"})
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestReportPackageConflictsWithAlreadyReportedOtherVersion(t *testing.T) {
	store := newTestReportStore(t)
	ctx := context.Background()
	seedFinishedScan(t, store, "leftpad", "1.0.0", "https://inspector.test/leftpad-1.0.0")
	v2 := seedFinishedScan(t, store, "leftpad", "2.0.0", "https://inspector.test/leftpad-2.0.0")
	_ = v2

	scans, err := store.FindScans(ctx, "leftpad", "1.0.0", nil)
	if err != nil || len(scans) != 1 {
		t.Fatalf("setup: find v1: %v %+v", err, scans)
	}
	if err := store.MarkReported(ctx, scans[0].ID, "security-team", time.Now().UTC()); err != nil {
		t.Fatalf("mark reported: %v", err)
	}

	index := packageindex.New(config.PackageIndexConfig{})
	svc := New(store, index, config.ReporterConfig{})

	err = svc.ReportPackage(ctx, auth.Subject("security-team"), Request{Name: "leftpad", Version: "2.0.0"})
	if !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
	if appErr, ok := apperr.As(err); !ok || appErr != apperr.Conflict {
		t.Fatalf("expected a typed Conflict error")
	}
}

func TestReportPackageRequiresInspectorURL(t *testing.T) {
	store := newTestReportStore(t)
	ctx := context.Background()

	scan := &models.Scan{Name: "noinspector", Version: "1.0.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, scan); err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	if err := store.FinalizeSuccess(ctx, scan.ID, &models.SuccessVerdict{Name: "noinspector", Version: "1.0.0", Score: 10}, "worker-1", time.Now().UTC()); err != nil {
		t.Fatalf("finalize success: %v", err)
	}

	index := packageindex.New(config.PackageIndexConfig{})
	svc := New(store, index, config.ReporterConfig{})

	err := svc.ReportPackage(ctx, auth.Subject("security-team"), Request{Name: "noinspector", Version: "1.0.0"})
	if !apperr.Is(err, apperr.Invalid) {
		t.Fatalf("expected Invalid when no inspector_url is available, got %v", err)
	}
}

func TestReportPackageSucceedsAndMarksReported(t *testing.T) {
	store := newTestReportStore(t)
	ctx := context.Background()
	seedFinishedScan(t, store, "badpkg", "9.9.9", "https://inspector.test/badpkg")

	var posted bool
	reporterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report/badpkg" {
			t.Errorf("unexpected observation path: %s", r.URL.Path)
		}
		posted = true
		w.WriteHeader(http.StatusOK)
	}))
	defer reporterSrv.Close()

	indexSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer indexSrv.Close()

	index := packageindex.New(config.PackageIndexConfig{URLTemplate: indexSrv.URL + "/%s/%s"})
	svc := New(store, index, config.ReporterConfig{URL: reporterSrv.URL})

	if err := svc.ReportPackage(ctx, auth.Subject("security-team"), Request{Name: "badpkg", Version: "9.9.9", AdditionalInformation: "obfuscated payload"}); err != nil {
		t.Fatalf("report package: %v", err)
	}
	if !posted {
		t.Fatalf("expected the observation to be posted to the reporter sink")
	}

	found, err := store.FindScans(ctx, "badpkg", "9.9.9", nil)
	if err != nil {
		t.Fatalf("find scans: %v", err)
	}
	if found[0].ReportedAt == nil || found[0].ReportedBy == nil || *found[0].ReportedBy != "security-team" {
		t.Fatalf("expected reported_at/reported_by set, got %+v", found[0])
	}
}
