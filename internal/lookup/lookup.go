// Package lookup implements the read-side queries over the scan catalogue:
// projection of Scan rows into the stable external Package representation,
// pagination, and 24-hour statistics aggregation.
package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/models"
)

// Package is the stable external representation of a Scan (§6).
type Package struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Status       string   `json:"status"`
	Score        *int     `json:"score"`
	InspectorURL *string  `json:"inspector_url"`
	CommitHash   *string  `json:"commit_hash"`
	FailReason   *string  `json:"fail_reason"`
	Rules        []string `json:"rules_matched"`
	Distributions []string `json:"distributions"`
	QueuedAt     int64    `json:"queued_at"`
	PendingAt    *int64   `json:"pending_at"`
	FinishedAt   *int64   `json:"finished_at"`
	ReportedAt   *int64   `json:"reported_at"`
}

// Page is a paginated slice of Packages.
type Page struct {
	Items      []Package `json:"items"`
	Page       int       `json:"page"`
	Size       int       `json:"size"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

// Stats summarizes activity over the trailing 24 hours.
type Stats struct {
	Ingested        int     `json:"ingested"`
	AverageScanTime float64 `json:"average_scan_time"`
	Failed          int     `json:"failed"`
}

// Service answers read-side queries against the catalogue store.
type Service struct {
	store *catalogue.Store
}

// New returns a Service.
func New(store *catalogue.Store) *Service {
	return &Service{store: store}
}

// LookupPackages projects FindScans results into Packages. When both page
// and size are positive, the result is paginated; otherwise the full
// sequence is returned with Page/Size/TotalPages left zero.
func (s *Service) LookupPackages(ctx context.Context, name, version string, since *time.Time, page, size int) (Page, error) {
	scans, err := s.store.FindScans(ctx, name, version, since)
	if err != nil {
		return Page{}, err
	}

	items := make([]Package, 0, len(scans))
	for _, scan := range scans {
		items = append(items, toPackage(scan))
	}

	if page <= 0 || size <= 0 {
		return Page{Items: items, Total: len(items)}, nil
	}

	total := len(items)
	totalPages := (total + size - 1) / size
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return Page{
		Items:      items[start:end],
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// GetStats returns 24-hour ingestion/failure/completion statistics.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	scans, err := s.store.FindScans(ctx, "", "", &since)
	if err != nil {
		return Stats{}, fmt.Errorf("gathering stats: %w", err)
	}

	var failed int
	var totalScanTime time.Duration
	var completed int
	for _, scan := range scans {
		if scan.Status == models.StatusFailed {
			failed++
		}
		if scan.FinishedAt != nil && scan.PendingAt != nil {
			totalScanTime += scan.FinishedAt.Sub(*scan.PendingAt)
			completed++
		}
	}

	var avg float64
	if completed > 0 {
		avg = totalScanTime.Seconds() / float64(completed)
	}

	return Stats{
		Ingested:        len(scans),
		AverageScanTime: avg,
		Failed:          failed,
	}, nil
}

func toPackage(scan models.Scan) Package {
	p := Package{
		ID:            scan.ID,
		Name:          scan.Name,
		Version:       scan.Version,
		Status:        string(scan.Status),
		Score:         scan.Score,
		InspectorURL:  scan.InspectorURL,
		CommitHash:    scan.CommitHash,
		FailReason:    scan.FailReason,
		Rules:         scan.RuleNames(),
		Distributions: scan.DistributionURLs(),
		QueuedAt:      scan.QueuedAt.Unix(),
	}
	if scan.PendingAt != nil {
		ts := scan.PendingAt.Unix()
		p.PendingAt = &ts
	}
	if scan.FinishedAt != nil {
		ts := scan.FinishedAt.Unix()
		p.FinishedAt = &ts
	}
	if scan.ReportedAt != nil {
		ts := scan.ReportedAt.Unix()
		p.ReportedAt = &ts
	}
	return p
}
