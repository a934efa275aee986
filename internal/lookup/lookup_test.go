package lookup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/models"
)

func newTestLookupStore(t *testing.T) *catalogue.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "lookup-test.db")
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

func TestLookupPackagesUnpaginatedReturnsAll(t *testing.T) {
	store := newTestLookupStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		scan := &models.Scan{Name: "widget", Version: string(rune('a' + i)), Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
		if err := store.InsertScan(ctx, scan); err != nil {
			t.Fatalf("insert scan %d: %v", i, err)
		}
	}

	svc := New(store)
	page, err := svc.LookupPackages(ctx, "widget", "", nil, 0, 0)
	if err != nil {
		t.Fatalf("lookup packages: %v", err)
	}
	if len(page.Items) != 3 || page.Total != 3 {
		t.Fatalf("expected 3 unpaginated items, got %+v", page)
	}
	if page.Page != 0 || page.Size != 0 {
		t.Fatalf("expected zero page/size when unpaginated, got %+v", page)
	}
}

func TestLookupPackagesPaginates(t *testing.T) {
	store := newTestLookupStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		scan := &models.Scan{Name: "gadget", Version: string(rune('a' + i)), Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
		if err := store.InsertScan(ctx, scan); err != nil {
			t.Fatalf("insert scan %d: %v", i, err)
		}
	}

	svc := New(store)
	page, err := svc.LookupPackages(ctx, "gadget", "", nil, 1, 2)
	if err != nil {
		t.Fatalf("lookup packages: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items on page 1 of size 2, got %d", len(page.Items))
	}
	if page.Total != 5 || page.TotalPages != 3 {
		t.Fatalf("expected total=5 totalPages=3, got %+v", page)
	}
}

func TestGetStatsCountsFailedAndAverageScanTime(t *testing.T) {
	store := newTestLookupStore(t)
	ctx := context.Background()

	ok := &models.Scan{Name: "ok-pkg", Version: "1.0.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, ok); err != nil {
		t.Fatalf("insert ok scan: %v", err)
	}
	leased, err := store.LeaseJobs(ctx, 1, "worker-1", time.Now().UTC(), time.Minute)
	if err != nil || len(leased) != 1 {
		t.Fatalf("lease ok scan: %v %+v", err, leased)
	}
	time.Sleep(10 * time.Millisecond)
	if err := store.FinalizeSuccess(ctx, ok.ID, &models.SuccessVerdict{Name: "ok-pkg", Version: "1.0.0", Score: 0}, "worker-1", time.Now().UTC()); err != nil {
		t.Fatalf("finalize success: %v", err)
	}

	bad := &models.Scan{Name: "bad-pkg", Version: "1.0.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, bad); err != nil {
		t.Fatalf("insert bad scan: %v", err)
	}
	if err := store.FinalizeFailure(ctx, bad.ID, "malware detected", time.Now().UTC()); err != nil {
		t.Fatalf("finalize failure: %v", err)
	}

	svc := New(store)
	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.Ingested != 2 {
		t.Fatalf("expected 2 ingested in the last 24h, got %d", stats.Ingested)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.AverageScanTime <= 0 {
		t.Fatalf("expected a positive average scan time, got %f", stats.AverageScanTime)
	}
}
