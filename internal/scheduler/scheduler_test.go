package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/internal/jobcache"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
)

func newTestSchedulerStore(t *testing.T) *catalogue.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "scheduler-test.db")
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

func TestStartRefreshesRuleSnapshotOnSchedule(t *testing.T) {
	store := newTestSchedulerStore(t)
	rules, err := rulesnapshot.New(config.RulesConfig{GitHubToken: "test"}, store)
	if err != nil {
		t.Fatalf("new rule snapshot: %v", err)
	}

	sched := New(rules, nil)
	if err := sched.Start(50*time.Millisecond, time.Minute); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rules.Current().CommitHash == "" {
		if time.Now().After(deadline) {
			t.Fatalf("rule snapshot was never refreshed by the scheduler")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartSkipsRefillJobWhenCacheDisabled(t *testing.T) {
	store := newTestSchedulerStore(t)
	rules, err := rulesnapshot.New(config.RulesConfig{GitHubToken: "test"}, store)
	if err != nil {
		t.Fatalf("new rule snapshot: %v", err)
	}
	cache := jobcache.New(1, store, time.Minute)

	sched := New(rules, cache)
	if err := sched.Start(time.Hour, time.Minute); err != nil {
		t.Fatalf("start scheduler with a disabled cache: %v", err)
	}
	defer sched.Stop()

	if n := len(sched.cron.Entries()); n != 1 {
		t.Fatalf("expected only the rule refresh job to be registered, got %d entries", n)
	}
}
