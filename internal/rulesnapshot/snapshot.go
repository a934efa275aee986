// Package rulesnapshot holds the active YARA rule bundle in memory and
// knows how to refresh it from a GitHub- or GitLab-hosted rule repository.
package rulesnapshot

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
)

// testTokenSentinel short-circuits Fetch to an empty snapshot without
// contacting any upstream, for local development and tests.
const testTokenSentinel = "test"

// RuleSnapshot is the tuple (commit hash, rule name -> rule body) that
// represents one version of the active rule bundle.
type RuleSnapshot struct {
	CommitHash string
	Rules      map[string]string
}

// Names returns the rule names in the snapshot, in no particular order.
func (s RuleSnapshot) Names() []string {
	names := make([]string, 0, len(s.Rules))
	for name := range s.Rules {
		names = append(names, name)
	}
	return names
}

// fetcher is the provider-specific half of the contract: given a repository
// and branch, return the head commit hash and the raw bytes of a zip
// archive of its tree.
type fetcher interface {
	FetchCommitHash(ctx context.Context, repo, branch string) (string, error)
	FetchArchive(ctx context.Context, repo, branch string) ([]byte, error)
}

// Manager owns the current RuleSnapshot and refreshes it on demand.
type Manager struct {
	current    atomic.Pointer[RuleSnapshot]
	fetcher    fetcher
	repository string
	branch     string
	store      *catalogue.Store
	sentinel   bool
}

// New builds a Manager from cfg. If the selected provider's token
// (cfg.GitHubToken or cfg.GitLabToken) equals the test sentinel, Fetch
// short-circuits without any network call.
func New(cfg config.RulesConfig, store *catalogue.Store) (*Manager, error) {
	m := &Manager{
		repository: cfg.Repository,
		branch:     cfg.Branch,
		store:      store,
	}
	m.current.Store(&RuleSnapshot{Rules: map[string]string{}})

	switch cfg.Provider {
	case "", "github":
		if cfg.GitHubToken == testTokenSentinel {
			m.sentinel = true
			return m, nil
		}
		m.fetcher = newGitHubFetcher(cfg.GitHubToken)
	case "gitlab":
		if cfg.GitLabToken == testTokenSentinel {
			m.sentinel = true
			return m, nil
		}
		f, err := newGitLabFetcher(cfg.GitLabToken)
		if err != nil {
			return nil, fmt.Errorf("configuring gitlab rule source: %w", err)
		}
		m.fetcher = f
	default:
		return nil, fmt.Errorf("unsupported rules provider %q (supported: github, gitlab)", cfg.Provider)
	}

	return m, nil
}

// Current returns the most recently materialized snapshot without blocking
// on network I/O. Before the first successful Refresh it returns an empty
// snapshot with an empty commit hash.
func (m *Manager) Current() RuleSnapshot {
	return *m.current.Load()
}

// Fetch pulls the head commit hash and rule bundle from the configured
// upstream. Returns an empty snapshot with commit "test" if the configured
// token is the test sentinel.
func (m *Manager) Fetch(ctx context.Context) (RuleSnapshot, error) {
	if m.sentinel {
		return RuleSnapshot{CommitHash: testTokenSentinel, Rules: map[string]string{}}, nil
	}

	hash, err := m.fetcher.FetchCommitHash(ctx, m.repository, m.branch)
	if err != nil {
		return RuleSnapshot{}, fmt.Errorf("fetching commit hash: %w", err)
	}

	archive, err := m.fetcher.FetchArchive(ctx, m.repository, m.branch)
	if err != nil {
		return RuleSnapshot{}, fmt.Errorf("fetching rule archive: %w", err)
	}

	rules, err := parseRuleArchive(archive)
	if err != nil {
		return RuleSnapshot{}, fmt.Errorf("parsing rule archive: %w", err)
	}

	return RuleSnapshot{CommitHash: hash, Rules: rules}, nil
}

// Refresh calls Fetch and, on success, atomically replaces Current and
// ensures every rule name has a corresponding Rule row in the catalogue.
func (m *Manager) Refresh(ctx context.Context) error {
	snap, err := m.Fetch(ctx)
	if err != nil {
		return err
	}

	if err := m.store.UpsertRuleNames(ctx, snap.Names()); err != nil {
		return fmt.Errorf("upserting rule names: %w", err)
	}

	m.current.Store(&snap)
	return nil
}
