package models

import "time"

// Status is a Scan's position in the lifecycle state machine.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPending  Status = "pending"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Scan is a unique (name, version) submission and its lifecycle record.
type Scan struct {
	ID           string  `json:"id"            db:"scan_id"`
	Name         string  `json:"name"          db:"name"`
	Version      string  `json:"version"       db:"version"`
	Status       Status  `json:"status"        db:"status"`
	Score        *int    `json:"score"         db:"score"`
	InspectorURL *string `json:"inspector_url" db:"inspector_url"`
	CommitHash   *string `json:"commit_hash"   db:"commit_hash"`
	FailReason   *string `json:"fail_reason"   db:"fail_reason"`

	QueuedAt   time.Time  `json:"queued_at"   db:"queued_at"`
	QueuedBy   string     `json:"queued_by"   db:"queued_by"`
	PendingAt  *time.Time `json:"pending_at"  db:"pending_at"`
	PendingBy  *string    `json:"pending_by"  db:"pending_by"`
	FinishedAt *time.Time `json:"finished_at" db:"finished_at"`
	FinishedBy *string    `json:"finished_by" db:"finished_by"`
	ReportedAt *time.Time `json:"reported_at" db:"reported_at"`
	ReportedBy *string    `json:"reported_by" db:"reported_by"`

	// Populated by the store when eagerly loading relations; never scanned
	// directly off the scans table.
	DownloadURLs []DownloadURL `json:"-" db:"-"`
	Rules        []Rule        `json:"-" db:"-"`
}

// RuleNames returns the flattened list of matched rule names, in the order
// the association rows were loaded.
func (s *Scan) RuleNames() []string {
	names := make([]string, 0, len(s.Rules))
	for _, r := range s.Rules {
		names = append(names, r.Name)
	}
	return names
}

// DistributionURLs returns the flattened list of download URLs.
func (s *Scan) DistributionURLs() []string {
	urls := make([]string, 0, len(s.DownloadURLs))
	for _, d := range s.DownloadURLs {
		urls = append(urls, d.URL)
	}
	return urls
}

// LeaseExpired reports whether a PENDING scan's lease has outlived timeout
// as of now.
func (s *Scan) LeaseExpired(now time.Time, timeout time.Duration) bool {
	if s.Status != StatusPending || s.PendingAt == nil {
		return false
	}
	return s.PendingAt.Add(timeout).Before(now)
}
