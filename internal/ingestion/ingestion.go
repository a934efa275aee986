// Package ingestion accepts worker verdicts, reconciles matched rule names
// against the rule catalogue, and finalizes scan state.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/greylist"
	"github.com/ossguard/scanguard/internal/jobcache"
	"github.com/ossguard/scanguard/internal/packageindex"
	"github.com/ossguard/scanguard/models"
)

// Service routes verdicts either through the job cache's deferred result
// batch (when enabled) or directly to the catalogue store, and admits new
// (name, version) submissions into the QUEUED state.
type Service struct {
	store *catalogue.Store
	cache *jobcache.Cache
	index *packageindex.Client
}

// New returns a Service.
func New(store *catalogue.Store, cache *jobcache.Cache, index *packageindex.Client) *Service {
	return &Service{store: store, cache: cache, index: index}
}

// QueuePackage validates that (name, version) exists on the upstream index
// and, if so, inserts a new QUEUED scan. Fails with apperr.NotFound if the
// package is unknown upstream, apperr.AlreadyExists if (name, version) is
// already queued.
func (s *Service) QueuePackage(ctx context.Context, subject auth.Subject, name, version string) (string, error) {
	if err := s.index.Exists(ctx, name, version); err != nil {
		return "", err
	}

	now := time.Now().UTC()
	scan := &models.Scan{
		ID:       uuid.New().String(),
		Name:     name,
		Version:  version,
		Status:   models.StatusQueued,
		QueuedAt: now,
		QueuedBy: subject.String(),
	}
	if err := s.store.InsertScan(ctx, scan); err != nil {
		return "", err
	}
	return scan.ID, nil
}

// QueuePackages queues each (name, version) pair independently, skipping
// any that individually fail and reporting them in the returned per-item
// errors — one bad pair in a batch does not abort the rest.
func (s *Service) QueuePackages(ctx context.Context, subject auth.Subject, pairs [][2]string) []error {
	errs := make([]error, len(pairs))
	for i, pair := range pairs {
		_, err := s.QueuePackage(ctx, subject, pair[0], pair[1])
		errs[i] = err
	}
	return errs
}

// SubmitVerdict accepts a worker's terminal report for a job. When the job
// cache is enabled the verdict is queued for deferred flush and this call
// only fails on cache-layer errors; correctness errors (NotFound, Conflict)
// then surface when PersistAll eventually drops them and are only logged,
// per SPEC_FULL.md §4.E — the caller's "accepted" observation is final.
func (s *Service) SubmitVerdict(ctx context.Context, subject auth.Subject, verdict models.Verdict) error {
	if s.cache != nil && s.cache.Enabled() {
		return s.cache.Submit(ctx, subject.String(), verdict)
	}
	return s.submitDirect(ctx, subject, verdict)
}

func (s *Service) submitDirect(ctx context.Context, subject auth.Subject, verdict models.Verdict) error {
	name, version := verdict.NameVersion()
	scans, err := s.store.FindScans(ctx, name, version, nil)
	if err != nil {
		return fmt.Errorf("looking up scan %s@%s: %w", name, version, err)
	}
	if len(scans) == 0 {
		return apperr.NewNotFound(fmt.Sprintf("scan %s@%s not found", name, version))
	}
	scan := scans[0]
	if scan.Status == models.StatusFinished {
		return apperr.NewConflict(fmt.Sprintf("scan %s@%s is already finished", name, version))
	}

	now := time.Now().UTC()
	if verdict.Success != nil {
		s.warnIfGreylisted(ctx, name, verdict.Success.RulesMatched)
		if err := s.store.FinalizeSuccess(ctx, scan.ID, verdict.Success, subject.String(), now); err != nil {
			return fmt.Errorf("finalizing success for scan %s@%s: %w", name, version, err)
		}
		return nil
	}
	if err := s.store.FinalizeFailure(ctx, scan.ID, verdict.Failure.Reason, now); err != nil {
		return fmt.Errorf("finalizing failure for scan %s@%s: %w", name, version, err)
	}
	return nil
}

// warnIfGreylisted logs when rulesMatched duplicates name's last completed
// scan, so an operator watching logs can tell a verdict carried no new
// information before this one finalizes over it.
func (s *Service) warnIfGreylisted(ctx context.Context, name string, rulesMatched []string) {
	scans, err := s.store.FindScans(ctx, name, "", nil)
	if err != nil {
		return
	}
	for _, prior := range scans {
		if prior.Status != models.StatusFinished {
			continue
		}
		if greylist.SameAsLastScan(prior.RuleNames(), rulesMatched) {
			slog.Info("greylisted: rules matched are unchanged from the last scan", "package", name, "rules", rulesMatched)
		}
		return
	}
}
