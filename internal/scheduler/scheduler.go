// Package scheduler runs the two periodic background jobs the scan
// lifecycle engine needs independent of inbound HTTP traffic: rule-snapshot
// refresh and job-cache lease reap/refill. Grounded on the teacher's
// internal/gateway/scheduler.go robfig/cron idiom.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ossguard/scanguard/internal/jobcache"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
)

// minRefillInterval floors the job-cache refill tick per SPEC_FULL.md §4.I
// ("default every job_timeout/4, floor 5s").
const minRefillInterval = 5 * time.Second

// Scheduler runs rule-snapshot refresh and job-cache refill on independent
// cron schedules.
type Scheduler struct {
	cron  *cron.Cron
	rules *rulesnapshot.Manager
	cache *jobcache.Cache
}

// New returns a Scheduler. cache may be nil or disabled; its refill job is
// only registered when cache.Enabled() is true.
func New(rules *rulesnapshot.Manager, cache *jobcache.Cache) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		rules: rules,
		cache: cache,
	}
}

// Start registers both jobs and starts the cron runner. refreshInterval
// and jobTimeout come from config.RulesConfig.RefreshIntervalSeconds and
// config.ServerConfig.JobTimeoutSeconds respectively.
func (s *Scheduler) Start(refreshInterval, jobTimeout time.Duration) error {
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Minute
	}
	if _, err := s.cron.AddFunc(everySpec(refreshInterval), func() {
		if err := s.rules.Refresh(context.Background()); err != nil {
			slog.Warn("scheduler: rule snapshot refresh failed, keeping previous snapshot", "error", err)
		}
	}); err != nil {
		return err
	}

	if s.cache != nil && s.cache.Enabled() {
		refillInterval := jobTimeout / 4
		if refillInterval < minRefillInterval {
			refillInterval = minRefillInterval
		}
		if _, err := s.cron.AddFunc(everySpec(refillInterval), func() {
			if err := s.cache.Refill(context.Background()); err != nil {
				slog.Warn("scheduler: job cache refill failed, retrying next tick", "error", err)
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "refresh_interval", refreshInterval, "cache_enabled", s.cache != nil && s.cache.Enabled())
	return nil
}

// Stop halts the cron runner gracefully.
func (s *Scheduler) Stop() { s.cron.Stop() }

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
