// Package report implements the malicious-package reporting workflow:
// eligibility validation, de-duplication, and forwarding an observation to
// the upstream package index.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/packageindex"
	"github.com/ossguard/scanguard/models"
)

// Request is the inbound reporting payload.
type Request struct {
	Name                  string
	Version               string
	InspectorURL          string
	AdditionalInformation string
}

// observation is the outbound payload POSTed to the reporter sink.
type observation struct {
	Kind         string           `json:"kind"`
	Summary      string           `json:"summary"`
	InspectorURL string           `json:"inspector_url"`
	Extra        observationExtra `json:"extra"`
}

type observationExtra struct {
	YaraRules []string `json:"yara_rules"`
}

// Service validates a scan for reporting and forwards it to the upstream
// observation sink.
type Service struct {
	store      *catalogue.Store
	index      *packageindex.Client
	reporterURL string
	http       *http.Client
}

// New returns a Service.
func New(store *catalogue.Store, index *packageindex.Client, cfg config.ReporterConfig) *Service {
	return &Service{
		store:       store,
		index:       index,
		reporterURL: strings.TrimRight(cfg.URL, "/"),
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

// ReportPackage runs the §4.F validation pipeline and, on success, posts an
// Observation to the configured sink before marking the scan reported.
func (s *Service) ReportPackage(ctx context.Context, subject auth.Subject, req Request) error {
	scans, err := s.store.FindScans(ctx, req.Name, "", nil)
	if err != nil {
		return fmt.Errorf("looking up package %s: %w", req.Name, err)
	}
	if len(scans) == 0 {
		return apperr.NewNotFound(fmt.Sprintf("package %s not found", req.Name))
	}

	reportedVersion, err := s.store.ReportedVersion(ctx, req.Name)
	if err != nil {
		return fmt.Errorf("checking existing report for %s: %w", req.Name, err)
	}
	if reportedVersion != "" && reportedVersion != req.Version {
		return apperr.NewConflict(fmt.Sprintf("%s is already reported", req.Name)).
			WithDetail("reported_version", fmt.Sprintf("%s@%s", req.Name, reportedVersion))
	}

	var scan *models.Scan
	for i := range scans {
		if scans[i].Version == req.Version {
			scan = &scans[i]
			break
		}
	}
	if scan == nil {
		return apperr.NewNotFound(fmt.Sprintf("package %s@%s not found", req.Name, req.Version))
	}

	inspectorURL := req.InspectorURL
	if inspectorURL == "" && scan.InspectorURL != nil {
		inspectorURL = *scan.InspectorURL
	}
	if inspectorURL == "" {
		return apperr.NewInvalid("inspector_url is required when the scan has none recorded")
	}

	if err := s.index.Exists(ctx, req.Name, req.Version); err != nil {
		return err
	}

	if err := s.postObservation(ctx, req.Name, observation{
		Kind:         "is_malware",
		Summary:      req.AdditionalInformation,
		InspectorURL: inspectorURL,
		Extra:        observationExtra{YaraRules: scan.RuleNames()},
	}); err != nil {
		return err
	}

	if err := s.store.MarkReported(ctx, scan.ID, subject.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("marking %s@%s reported: %w", req.Name, req.Version, err)
	}
	return nil
}

func (s *Service) postObservation(ctx context.Context, name string, obs observation) error {
	if s.reporterURL == "" {
		return nil
	}
	body, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("encoding observation: %w", err)
	}

	url := fmt.Sprintf("%s/report/%s", s.reporterURL, name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building observation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return apperr.NewUpstream(fmt.Sprintf("posting observation for %s", name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.NewUpstream(fmt.Sprintf("observation sink returned %s for %s", resp.Status, name), nil)
	}
	return nil
}
