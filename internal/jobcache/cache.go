// Package jobcache is the optional in-process accelerator sitting between
// dispatch/ingestion and the durable catalogue store. Its contents are
// non-owning copies: authoritative state always lives in catalogue.Store.
package jobcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/models"
)

// pendingEntry is a leased-but-not-yet-finalized scan together with the
// timestamp its lease was acquired.
type pendingEntry struct {
	scan     models.Scan
	leasedAt time.Time
}

// verdictEntry pairs a buffered verdict with the subject that submitted it,
// since models.Verdict itself carries no actor identity.
type verdictEntry struct {
	verdict models.Verdict
	subject string
}

// Cache is the bounded ready/pending/results accelerator described in the
// job cache contract. A Cache with size <= 1 is disabled: callers should
// check Enabled() and fall back to the catalogue store directly.
type Cache struct {
	size    int
	store   *catalogue.Store
	timeout time.Duration

	mu      sync.Mutex // guards ready, pending, results
	ready   []models.Scan
	pending []pendingEntry
	results []verdictEntry

	refillMu  sync.Mutex
	persistMu sync.Mutex
}

// New returns a Cache configured with the given capacity and lease timeout.
// A size <= 1 yields a disabled cache.
func New(size int, store *catalogue.Store, timeout time.Duration) *Cache {
	return &Cache{size: size, store: store, timeout: timeout}
}

// Enabled reports whether this cache should be used, per the size <= 1
// disables it rule.
func (c *Cache) Enabled() bool {
	return c.size > 1
}

// Acquire returns the head of the ready queue, triggering a Refill first if
// it is empty, and records subject as the lease owner. Returns nil if no
// scan is available after refilling.
func (c *Cache) Acquire(ctx context.Context, subject string) (*models.Scan, error) {
	c.mu.Lock()
	empty := len(c.ready) == 0
	c.mu.Unlock()

	if empty {
		if err := c.Refill(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ready) == 0 {
		return nil, nil
	}

	scan := c.ready[0]
	c.ready = c.ready[1:]

	now := time.Now().UTC()
	scan.Status = models.StatusPending
	scan.PendingAt = &now
	scan.PendingBy = &subject
	c.pending = append(c.pending, pendingEntry{scan: scan, leasedAt: now})

	return &scan, nil
}

// Submit appends verdict to the results buffer, flushing to the store when
// the buffer reaches capacity, and removes the matching scan from pending.
// subject is the authenticated actor submitting the verdict, recorded as
// finished_by for a success verdict once the buffer flushes.
func (c *Cache) Submit(ctx context.Context, subject string, verdict models.Verdict) error {
	name, version := verdict.NameVersion()

	c.mu.Lock()
	c.results = append(c.results, verdictEntry{verdict: verdict, subject: subject})
	full := len(c.results) >= c.size
	for i, p := range c.pending {
		if p.scan.Name == name && p.scan.Version == version {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if full {
		return c.PersistAll(ctx)
	}
	return nil
}

// Refill requeues lease-expired pending scans back into ready (status reset
// to QUEUED, pending_at cleared) and tops ready up from the store with
// fresh QUEUED scans not already held by this cache.
func (c *Cache) Refill(ctx context.Context) error {
	c.refillMu.Lock()
	defer c.refillMu.Unlock()

	now := time.Now().UTC()

	c.mu.Lock()
	held := make(map[string]bool, len(c.pending)+len(c.ready))
	remaining := c.pending[:0:0]
	for _, p := range c.pending {
		if now.Sub(p.leasedAt) > c.timeout {
			requeued := p.scan
			requeued.Status = models.StatusQueued
			requeued.PendingAt = nil
			requeued.PendingBy = nil
			c.ready = append(c.ready, requeued)
			slog.Info("requeued expired lease", "name", requeued.Name, "version", requeued.Version)
			continue
		}
		held[p.scan.Name+"@"+p.scan.Version] = true
		remaining = append(remaining, p)
	}
	c.pending = remaining
	for _, s := range c.ready {
		held[s.Name+"@"+s.Version] = true
	}
	need := c.size - len(c.ready)
	c.mu.Unlock()

	if need <= 0 {
		return nil
	}

	fresh, err := c.findQueued(ctx, need*4)
	if err != nil {
		return err
	}

	c.mu.Lock()
	added := 0
	for _, s := range fresh {
		if added >= need {
			break
		}
		key := s.Name + "@" + s.Version
		if held[key] {
			continue
		}
		held[key] = true
		c.ready = append(c.ready, s)
		added++
	}
	c.mu.Unlock()

	return nil
}

// findQueued asks the store for up to limit QUEUED scans ordered by
// queued_at, oldest first.
func (c *Cache) findQueued(ctx context.Context, limit int) ([]models.Scan, error) {
	return c.store.FindQueuedScans(ctx, limit)
}

// PersistAll drains the results buffer and reconciles each verdict against
// its matching scan row in the store, grouping duplicate (name, version)
// submissions to only the last. Verdicts for unknown or already-FINISHED
// scans are logged and dropped.
func (c *Cache) PersistAll(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	drained := c.results
	c.results = nil
	c.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	latest := make(map[string]verdictEntry, len(drained))
	for _, e := range drained {
		name, version := e.verdict.NameVersion()
		latest[name+"@"+version] = e
	}

	now := time.Now().UTC()
	items := make([]catalogue.FinalizeItem, 0, len(latest))
	for _, entry := range latest {
		verdict := entry.verdict
		name, version := verdict.NameVersion()
		scans, err := c.store.FindScans(ctx, name, version, nil)
		if err != nil {
			return err
		}
		if len(scans) == 0 {
			slog.Warn("dropping verdict for unknown scan", "name", name, "version", version)
			continue
		}
		scan := scans[0]
		if scan.Status == models.StatusFinished {
			slog.Warn("dropping verdict for already-finished scan", "name", name, "version", version)
			continue
		}

		item := catalogue.FinalizeItem{ScanID: scan.ID, FinishedBy: entry.subject, Now: now}
		if verdict.Success != nil {
			item.Success = verdict.Success
		} else {
			item.FailureReason = verdict.Failure.Reason
		}
		items = append(items, item)
	}

	return c.store.FinalizeBatch(ctx, items)
}
