// Package catalogue is the durable store for scans, the rules they matched,
// and their distribution URLs. It is the single source of truth; the job
// cache (internal/jobcache) is a non-owning accelerator in front of it.
package catalogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/models"
)

// Store provides durable CRUD and lease operations over the scan catalogue.
type Store struct {
	db database.DB
}

// New returns a Store backed by db.
func New(db database.DB) *Store {
	return &Store{db: db}
}

// InsertScan persists a new scan. Fails with apperr.AlreadyExists when
// (name, version) is already taken.
func (s *Store) InsertScan(ctx context.Context, scan *models.Scan) error {
	if scan.ID == "" {
		scan.ID = uuid.New().String()
	}

	var existing models.Scan
	err := s.db.Get(ctx, &existing,
		`SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
		        queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
		 FROM scans WHERE name = ? AND version = ?`, scan.Name, scan.Version)
	if err == nil {
		return apperr.NewAlreadyExists(fmt.Sprintf("scan %s@%s already queued", scan.Name, scan.Version))
	}

	if err := s.db.Insert(ctx, "scans", scan); err != nil {
		if isUniqueViolation(err) {
			return apperr.NewAlreadyExists(fmt.Sprintf("scan %s@%s already queued", scan.Name, scan.Version))
		}
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

// FindScans returns scans matching one of the four valid parameter
// combinations: (name, version), (name, since), (name), (since). Any other
// combination fails with apperr.Invalid. Results are ordered by queued_at
// descending, with rules and download URLs eagerly loaded.
func (s *Store) FindScans(ctx context.Context, name, version string, since *time.Time) ([]models.Scan, error) {
	hasName := name != ""
	hasVersion := version != ""
	hasSince := since != nil

	var where []string
	var args []interface{}

	switch {
	case hasName && hasVersion && !hasSince:
		where = append(where, "name = ?", "version = ?")
		args = append(args, name, version)
	case hasName && hasSince && !hasVersion:
		where = append(where, "name = ?", "queued_at >= ?")
		args = append(args, name, since.UTC())
	case hasName && !hasVersion && !hasSince:
		where = append(where, "name = ?")
		args = append(args, name)
	case hasSince && !hasName && !hasVersion:
		where = append(where, "queued_at >= ?")
		args = append(args, since.UTC())
	default:
		return nil, apperr.NewInvalid("invalid lookup parameter combination: must be (name,version), (name,since), (name), or (since)")
	}

	query := `SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
	                 queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
	          FROM scans WHERE ` + strings.Join(where, " AND ") + ` ORDER BY queued_at DESC`

	var scans []models.Scan
	if err := s.db.Select(ctx, &scans, query, args...); err != nil {
		return nil, fmt.Errorf("selecting scans: %w", err)
	}

	if err := s.hydrate(ctx, scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// LeaseJobs atomically leases up to batch eligible scans to leaseholder,
// moving them to PENDING with a fresh lease timestamp, and returns them
// with download URLs loaded. Eligible scans are QUEUED, or PENDING with an
// expired lease (pending_at < now - timeout); ordering is
// pending_at NULLS FIRST, queued_at ASC.
func (s *Store) LeaseJobs(ctx context.Context, batch int, leaseholder string, now time.Time, timeout time.Duration) ([]models.Scan, error) {
	if batch <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning lease transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Add(-timeout).UTC()

	selectQuery := `SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
	                       queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
	                FROM scans
	                WHERE status = ? OR (status = ? AND pending_at < ?)
	                ORDER BY CASE WHEN pending_at IS NULL THEN 0 ELSE 1 END, pending_at ASC, queued_at ASC
	                LIMIT ?`
	if s.db.SupportsSkipLocked() {
		selectQuery += ` FOR UPDATE SKIP LOCKED`
	}

	var candidates []models.Scan
	if err := tx.Select(ctx, &candidates, selectQuery,
		string(models.StatusQueued), string(models.StatusPending), cutoff, batch); err != nil {
		return nil, fmt.Errorf("selecting lease candidates: %w", err)
	}

	leased := make([]models.Scan, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		pendingAt := now.UTC()
		c.Status = models.StatusPending
		c.PendingAt = &pendingAt
		c.PendingBy = &leaseholder

		if err := tx.Update(ctx, "scans", c, "scan_id = ?", c.ID); err != nil {
			return nil, fmt.Errorf("updating leased scan %s: %w", c.ID, err)
		}
		leased = append(leased, *c)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lease transaction: %w", err)
	}

	if err := s.hydrateDownloadURLs(ctx, leased); err != nil {
		return nil, err
	}
	return leased, nil
}

// FinalizeSuccess marks scan_id FINISHED with the given result and attaches
// its matched rules. Idempotent: a no-op if the scan is already FINISHED.
func (s *Store) FinalizeSuccess(ctx context.Context, scanID string, result *models.SuccessVerdict, finishedBy string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning finalize transaction: %w", err)
	}
	defer tx.Rollback()

	if err := finalizeSuccessTx(ctx, tx, scanID, result, finishedBy, now); err != nil {
		return err
	}
	return tx.Commit()
}

// FinalizeFailure marks scan_id FAILED with reason. Idempotent: a no-op if
// the scan is already FINISHED.
func (s *Store) FinalizeFailure(ctx context.Context, scanID string, reason string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning finalize transaction: %w", err)
	}
	defer tx.Rollback()

	if err := finalizeFailureTx(ctx, tx, scanID, reason, now); err != nil {
		return err
	}
	return tx.Commit()
}

// FinalizeItem is one scan's terminal outcome, as batched by jobcache for an
// atomic flush. Exactly one of Success or FailureReason is set.
type FinalizeItem struct {
	ScanID        string
	Success       *models.SuccessVerdict
	FailureReason string
	FinishedBy    string
	Now           time.Time
}

// FinalizeBatch applies every item in a single transaction, committing once
// for the whole batch. A failure on any item rolls back the entire batch.
func (s *Store) FinalizeBatch(ctx context.Context, items []FinalizeItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning finalize batch transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if item.Success != nil {
			if err := finalizeSuccessTx(ctx, tx, item.ScanID, item.Success, item.FinishedBy, item.Now); err != nil {
				return err
			}
			continue
		}
		if err := finalizeFailureTx(ctx, tx, item.ScanID, item.FailureReason, item.Now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// finalizeSuccessTx performs the FinalizeSuccess mutation within an
// already-open transaction, without committing it.
func finalizeSuccessTx(ctx context.Context, tx database.Tx, scanID string, result *models.SuccessVerdict, finishedBy string, now time.Time) error {
	scan, err := getScanForUpdate(ctx, tx, scanID)
	if err != nil {
		return err
	}
	if scan.Status == models.StatusFinished {
		return nil
	}

	if _, err := upsertAndAttachRules(ctx, tx, scanID, result.RulesMatched); err != nil {
		return err
	}

	finishedAt := now.UTC()
	score := result.Score
	inspectorURL := result.InspectorURL
	commitHash := result.Commit
	scan.Status = models.StatusFinished
	scan.Score = &score
	scan.InspectorURL = &inspectorURL
	scan.CommitHash = &commitHash
	scan.FinishedAt = &finishedAt
	scan.FinishedBy = &finishedBy

	if err := tx.Update(ctx, "scans", scan, "scan_id = ?", scanID); err != nil {
		return fmt.Errorf("finalizing scan %s: %w", scanID, err)
	}
	return nil
}

// finalizeFailureTx performs the FinalizeFailure mutation within an
// already-open transaction, without committing it.
func finalizeFailureTx(ctx context.Context, tx database.Tx, scanID string, reason string, now time.Time) error {
	scan, err := getScanForUpdate(ctx, tx, scanID)
	if err != nil {
		return err
	}
	if scan.Status == models.StatusFinished {
		return nil
	}

	finishedAt := now.UTC()
	scan.Status = models.StatusFailed
	scan.FailReason = &reason
	scan.FinishedAt = &finishedAt

	if err := tx.Update(ctx, "scans", scan, "scan_id = ?", scanID); err != nil {
		return fmt.Errorf("failing scan %s: %w", scanID, err)
	}
	return nil
}

// MarkReported sets reported_by/reported_at on scan_id.
func (s *Store) MarkReported(ctx context.Context, scanID, subject string, now time.Time) error {
	var scan models.Scan
	if err := s.db.Get(ctx, &scan,
		`SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
		        queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
		 FROM scans WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("loading scan %s: %w", scanID, err)
	}

	reportedAt := now.UTC()
	scan.ReportedAt = &reportedAt
	scan.ReportedBy = &subject

	if err := s.db.Update(ctx, "scans", &scan, "scan_id = ?", scanID); err != nil {
		return fmt.Errorf("marking scan %s reported: %w", scanID, err)
	}
	return nil
}

// getScanForUpdate loads the full scan row within tx, so callers can mutate
// a subset of fields and Update the whole record without nulling the rest
// (the generic Update helper writes every db-tagged field it is given).
func getScanForUpdate(ctx context.Context, tx database.Tx, scanID string) (*models.Scan, error) {
	var scan models.Scan
	if err := tx.Get(ctx, &scan,
		`SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
		        queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
		 FROM scans WHERE scan_id = ?`, scanID); err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", scanID, err)
	}
	return &scan, nil
}

// UpsertRuleNames idempotently ensures a Rule row exists for every name.
func (s *Store) UpsertRuleNames(ctx context.Context, names []string) error {
	for _, name := range names {
		var existing models.Rule
		if err := s.db.Get(ctx, &existing, `SELECT id, name FROM rules WHERE name = ?`, name); err == nil {
			continue
		}
		r := &models.Rule{ID: uuid.New().String(), Name: name}
		if err := s.db.Insert(ctx, "rules", r); err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("upserting rule %q: %w", name, err)
		}
	}
	return nil
}

// FindQueuedScans returns up to limit QUEUED scans ordered by queued_at
// ascending, with download URLs loaded. Used by the job cache's Refill to
// top up ready without leasing rows in the store.
func (s *Store) FindQueuedScans(ctx context.Context, limit int) ([]models.Scan, error) {
	var scans []models.Scan
	if err := s.db.Select(ctx, &scans,
		`SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
		        queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
		 FROM scans WHERE status = ? ORDER BY queued_at ASC LIMIT ?`,
		string(models.StatusQueued), limit); err != nil {
		return nil, fmt.Errorf("selecting queued scans: %w", err)
	}
	if err := s.hydrateDownloadURLs(ctx, scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// ReportedVersion returns the version of name that currently has
// reported_at set, or "" if none does.
func (s *Store) ReportedVersion(ctx context.Context, name string) (string, error) {
	var scans []models.Scan
	if err := s.db.Select(ctx, &scans,
		`SELECT scan_id, name, version, status, score, inspector_url, commit_hash, fail_reason,
		        queued_at, queued_by, pending_at, pending_by, finished_at, finished_by, reported_at, reported_by
		 FROM scans WHERE name = ? AND reported_at IS NOT NULL`, name); err != nil {
		return "", fmt.Errorf("looking up reported version of %s: %w", name, err)
	}
	if len(scans) == 0 {
		return "", nil
	}
	return scans[0].Version, nil
}

// upsertAndAttachRules ensures a Rule row exists for each name in ruleNames
// (creating missing ones) and attaches all of them to scanID via
// package_rules, within the caller's transaction.
func upsertAndAttachRules(ctx context.Context, tx database.Tx, scanID string, ruleNames []string) ([]string, error) {
	ids := make([]string, 0, len(ruleNames))
	for _, name := range ruleNames {
		var rule models.Rule
		err := tx.Get(ctx, &rule, `SELECT id, name FROM rules WHERE name = ?`, name)
		if err != nil {
			rule = models.Rule{ID: uuid.New().String(), Name: name}
			if insErr := tx.Insert(ctx, "rules", &rule); insErr != nil {
				if !isUniqueViolation(insErr) {
					return nil, fmt.Errorf("creating rule %q: %w", name, insErr)
				}
				if getErr := tx.Get(ctx, &rule, `SELECT id, name FROM rules WHERE name = ?`, name); getErr != nil {
					return nil, fmt.Errorf("re-reading rule %q after race: %w", name, getErr)
				}
			}
		}
		ids = append(ids, rule.ID)

		if err := tx.Exec(ctx,
			`INSERT INTO package_rules (scan_id, rule_id) VALUES (?, ?)`, scanID, rule.ID); err != nil {
			if !isUniqueViolation(err) {
				return nil, fmt.Errorf("attaching rule %q to scan %s: %w", name, scanID, err)
			}
		}
	}
	return ids, nil
}

// hydrate loads DownloadURLs and Rules for each scan in scans.
func (s *Store) hydrate(ctx context.Context, scans []models.Scan) error {
	if err := s.hydrateDownloadURLs(ctx, scans); err != nil {
		return err
	}
	return s.hydrateRules(ctx, scans)
}

func (s *Store) hydrateDownloadURLs(ctx context.Context, scans []models.Scan) error {
	for i := range scans {
		var urls []models.DownloadURL
		if err := s.db.Select(ctx, &urls,
			`SELECT id, scan_id, url FROM download_urls WHERE scan_id = ?`, scans[i].ID); err != nil {
			return fmt.Errorf("loading download urls for scan %s: %w", scans[i].ID, err)
		}
		scans[i].DownloadURLs = urls
	}
	return nil
}

func (s *Store) hydrateRules(ctx context.Context, scans []models.Scan) error {
	for i := range scans {
		var rules []models.Rule
		if err := s.db.Select(ctx, &rules,
			`SELECT rules.id, rules.name FROM rules
			 JOIN package_rules ON package_rules.rule_id = rules.id
			 WHERE package_rules.scan_id = ?`, scans[i].ID); err != nil {
			return fmt.Errorf("loading rules for scan %s: %w", scans[i].ID, err)
		}
		scans[i].Rules = rules
	}
	return nil
}

// isUniqueViolation does a driver-agnostic substring check on unique/primary
// key constraint errors across sqlite, mysql, and postgres error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
