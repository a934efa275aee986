// Package suppression lets an operator hide a package from reporting and
// default listing, e.g. a known false positive. Suppression is tracked per
// package name but keyed by whichever scan row currently represents it;
// suppressing the package again moves it to the newest finished scan.
package suppression

import (
	"context"
	"fmt"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/models"
)

// Service manages suppressed packages.
type Service struct {
	db      database.DB
	catalog *catalogue.Store
}

// New returns a Service.
func New(db database.DB, catalog *catalogue.Store) *Service {
	return &Service{db: db, catalog: catalog}
}

// Suppressed is one suppressed package with its suppressing scan's details.
type Suppressed struct {
	Name         string
	Version      string
	ScanID       string
	SuppressedAt time.Time
	Rules        []string
}

// Suppress marks scanID's package as suppressed. If the package already has
// a suppression entry, the entry is repointed at the package's newest finished scan
// instead of creating a duplicate. Fails with apperr.NotFound if scanID does
// not exist.
func (s *Service) Suppress(ctx context.Context, scanID string) error {
	scan, err := s.getScan(ctx, scanID)
	if err != nil {
		return err
	}

	scansForName, err := s.catalog.FindScans(ctx, scan.Name, "", nil)
	if err != nil {
		return fmt.Errorf("looking up scans for %s: %w", scan.Name, err)
	}

	var existing models.SuppressedPackage
	found := false
	for _, candidate := range scansForName {
		if err := s.db.Get(ctx, &existing, `SELECT scan_id FROM suppressed_packages WHERE scan_id = ?`, candidate.ID); err == nil {
			found = true
			break
		}
	}

	if found {
		newest := newestFinished(scansForName)
		if newest == nil {
			return apperr.NewNotFound(fmt.Sprintf("no finished scan found for package %s", scan.Name))
		}
		if newest.ID == existing.ScanID {
			return nil
		}
		if err := s.db.Exec(ctx, `DELETE FROM suppressed_packages WHERE scan_id = ?`, existing.ScanID); err != nil {
			return fmt.Errorf("repointing suppression for %s: %w", scan.Name, err)
		}
		return s.db.Insert(ctx, "suppressed_packages", &models.SuppressedPackage{ScanID: newest.ID})
	}

	return s.db.Insert(ctx, "suppressed_packages", &models.SuppressedPackage{ScanID: scan.ID})
}

// Unsuppress removes packageName's suppression entry. Fails with
// apperr.NotFound if packageName is not currently suppressed.
func (s *Service) Unsuppress(ctx context.Context, packageName string) error {
	scansForName, err := s.catalog.FindScans(ctx, packageName, "", nil)
	if err != nil {
		return fmt.Errorf("looking up scans for %s: %w", packageName, err)
	}
	for _, candidate := range scansForName {
		var existing models.SuppressedPackage
		if err := s.db.Get(ctx, &existing, `SELECT scan_id FROM suppressed_packages WHERE scan_id = ?`, candidate.ID); err == nil {
			return s.db.Exec(ctx, `DELETE FROM suppressed_packages WHERE scan_id = ?`, existing.ScanID)
		}
	}
	return apperr.NewNotFound(fmt.Sprintf("no suppressed package found with name %s", packageName))
}

// List returns every suppressed package, optionally filtered to one name,
// ordered by name.
func (s *Service) List(ctx context.Context, packageName string) ([]Suppressed, error) {
	query := `SELECT scans.scan_id, scans.name, scans.version, scans.finished_at
	          FROM scans JOIN suppressed_packages ON suppressed_packages.scan_id = scans.scan_id`
	args := []interface{}{}
	if packageName != "" {
		query += ` WHERE scans.name = ?`
		args = append(args, packageName)
	}
	query += ` ORDER BY scans.name`

	var rows []struct {
		ScanID     string     `db:"scan_id"`
		Name       string     `db:"name"`
		Version    string     `db:"version"`
		FinishedAt *time.Time `db:"finished_at"`
	}
	if err := s.db.Select(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing suppressed packages: %w", err)
	}

	out := make([]Suppressed, 0, len(rows))
	for _, row := range rows {
		scans, err := s.catalog.FindScans(ctx, row.Name, row.Version, nil)
		if err != nil {
			return nil, err
		}
		var rules []string
		if len(scans) == 1 {
			rules = scans[0].RuleNames()
		}
		var at time.Time
		if row.FinishedAt != nil {
			at = *row.FinishedAt
		}
		out = append(out, Suppressed{Name: row.Name, Version: row.Version, ScanID: row.ScanID, SuppressedAt: at, Rules: rules})
	}
	return out, nil
}

// scanIdentity is a narrow projection of scans; Get scans positionally by
// declared field order, so this must list exactly the selected columns.
type scanIdentity struct {
	ID      string `db:"scan_id"`
	Name    string `db:"name"`
	Version string `db:"version"`
}

func (s *Service) getScan(ctx context.Context, scanID string) (*scanIdentity, error) {
	var scan scanIdentity
	if err := s.db.Get(ctx, &scan, `SELECT scan_id, name, version FROM scans WHERE scan_id = ?`, scanID); err != nil {
		return nil, apperr.NewNotFound(fmt.Sprintf("no scan found with id %s", scanID))
	}
	return &scan, nil
}

func newestFinished(scans []models.Scan) *models.Scan {
	var newest *models.Scan
	for i := range scans {
		if scans[i].FinishedAt == nil {
			continue
		}
		if newest == nil || scans[i].FinishedAt.After(*newest.FinishedAt) {
			newest = &scans[i]
		}
	}
	return newest
}
