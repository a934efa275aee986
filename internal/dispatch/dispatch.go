// Package dispatch hands out scan jobs to worker clients: at-least-once
// delivery, per-job leases, and transition of eligible scans to PENDING.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/jobcache"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
	"github.com/ossguard/scanguard/models"
)

// Service assigns jobs to workers, consulting the job cache when enabled
// and falling back to the catalogue store directly otherwise.
type Service struct {
	store    *catalogue.Store
	cache    *jobcache.Cache
	rules    *rulesnapshot.Manager
	leaseTTL time.Duration
}

// New returns a Service. cache may be disabled (see jobcache.Cache.Enabled);
// in that case RequestJobs always delegates straight to store.LeaseJobs.
func New(store *catalogue.Store, cache *jobcache.Cache, rules *rulesnapshot.Manager, leaseTTL time.Duration) *Service {
	return &Service{store: store, cache: cache, rules: rules, leaseTTL: leaseTTL}
}

// RequestJobs returns up to batch job descriptors, leasing the underlying
// scans to subject as a side effect. The returned descriptors' Hash field
// always equals the rule snapshot's current commit hash at call time.
func (s *Service) RequestJobs(ctx context.Context, subject auth.Subject, batch int) ([]models.JobDescriptor, error) {
	if batch <= 0 {
		return nil, nil
	}

	var scans []models.Scan
	if s.cache != nil && s.cache.Enabled() {
		for i := 0; i < batch; i++ {
			scan, err := s.cache.Acquire(ctx, subject.String())
			if err != nil {
				return nil, fmt.Errorf("acquiring from job cache: %w", err)
			}
			if scan == nil {
				break
			}
			scans = append(scans, *scan)
		}
	} else {
		leased, err := s.store.LeaseJobs(ctx, batch, subject.String(), time.Now().UTC(), s.leaseTTL)
		if err != nil {
			return nil, fmt.Errorf("leasing jobs: %w", err)
		}
		scans = leased
	}

	hash := s.rules.Current().CommitHash
	descriptors := make([]models.JobDescriptor, 0, len(scans))
	for _, scan := range scans {
		descriptors = append(descriptors, models.JobDescriptor{
			Name:          scan.Name,
			Version:       scan.Version,
			Distributions: scan.DistributionURLs(),
			Hash:          hash,
		})
	}
	return descriptors, nil
}

// RequestJob is RequestJobs(ctx, subject, 1) collapsed to the singular shape
// legacy callers expect. It returns (nil, nil) when no job is eligible.
func (s *Service) RequestJob(ctx context.Context, subject auth.Subject) (*models.JobDescriptor, error) {
	descriptors, err := s.RequestJobs(ctx, subject, 1)
	if err != nil {
		return nil, err
	}
	if len(descriptors) == 0 {
		return nil, nil
	}
	return &descriptors[0], nil
}
