package jobcache

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

func newTestCacheStore(t *testing.T) *catalogue.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "jobcache-test.db")
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

func TestCacheDisabledBelowSizeTwo(t *testing.T) {
	c := New(1, newTestCacheStore(t), time.Minute)
	if c.Enabled() {
		t.Fatalf("expected size=1 cache to be disabled")
	}
	c2 := New(0, newTestCacheStore(t), time.Minute)
	if c2.Enabled() {
		t.Fatalf("expected size=0 cache to be disabled")
	}
}

func TestAcquireRefillsFromStoreAndReturnsNilWhenEmpty(t *testing.T) {
	store := newTestCacheStore(t)
	ctx := context.Background()

	scan := &models.Scan{Name: "six", Version: "1.16.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, scan); err != nil {
		t.Fatalf("insert scan: %v", err)
	}

	cache := New(4, store, time.Minute)

	acquired, err := cache.Acquire(ctx, "worker-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if acquired == nil || acquired.Name != "six" {
		t.Fatalf("expected to acquire six, got %+v", acquired)
	}
	if acquired.PendingBy == nil || *acquired.PendingBy != "worker-1" {
		t.Fatalf("expected pending_by to record the leaseholder, got %+v", acquired.PendingBy)
	}

	none, err := cache.Acquire(ctx, "worker-1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil once the store has no more queued scans, got %+v", none)
	}
}

func TestSubmitFlushesOnceResultsReachCapacity(t *testing.T) {
	store := newTestCacheStore(t)
	ctx := context.Background()

	for _, name := range []string{"pkg-a", "pkg-b"} {
		scan := &models.Scan{Name: name, Version: "1.0.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
		if err := store.InsertScan(ctx, scan); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	cache := New(2, store, time.Minute)
	if _, err := cache.Acquire(ctx, "worker-1"); err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := cache.Acquire(ctx, "worker-2"); err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	if err := cache.Submit(ctx, "worker-1", models.Verdict{Success: &models.SuccessVerdict{Name: "pkg-a", Version: "1.0.0", Score: 0}}); err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	// The second submit fills the results buffer to capacity (size 2) and
	// should trigger an implicit flush to the store.
	if err := cache.Submit(ctx, "worker-2", models.Verdict{Failure: &models.FailureVerdict{Name: "pkg-b", Version: "1.0.0", Reason: "malicious"}}); err != nil {
		t.Fatalf("submit 2: %v", err)
	}

	found, err := store.FindScans(ctx, "pkg-a", "1.0.0", nil)
	if err != nil {
		t.Fatalf("find pkg-a: %v", err)
	}
	if len(found) != 1 || found[0].Status != models.StatusFinished {
		t.Fatalf("expected pkg-a finished after auto-flush, got %+v", found)
	}

	foundB, err := store.FindScans(ctx, "pkg-b", "1.0.0", nil)
	if err != nil {
		t.Fatalf("find pkg-b: %v", err)
	}
	if len(foundB) != 1 || foundB[0].Status != models.StatusFailed {
		t.Fatalf("expected pkg-b failed after auto-flush, got %+v", foundB)
	}
}

func TestRefillRequeuesExpiredLeases(t *testing.T) {
	store := newTestCacheStore(t)
	ctx := context.Background()

	scan := &models.Scan{Name: "toast", Version: "1.0.0", Status: models.StatusQueued, QueuedAt: time.Now().UTC(), QueuedBy: "system"}
	if err := store.InsertScan(ctx, scan); err != nil {
		t.Fatalf("insert scan: %v", err)
	}

	cache := New(4, store, time.Millisecond)
	if _, err := cache.Acquire(ctx, "worker-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := cache.Refill(ctx); err != nil {
		t.Fatalf("refill: %v", err)
	}

	reacquired, err := cache.Acquire(ctx, "worker-1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if reacquired == nil || reacquired.Name != "toast" {
		t.Fatalf("expected the expired lease to be requeued and reacquired, got %+v", reacquired)
	}
}
