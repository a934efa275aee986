// Package packageindex is a minimal HTTP client for checking whether a
// (name, version) exists on the upstream package index. It is intentionally
// thin, following the same shape as internal/controlplane's client: only
// the reachability check this core needs is implemented.
package packageindex

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/config"
)

// Client checks package existence against a configured URL template.
type Client struct {
	urlTemplate string
	http        *http.Client
}

// New returns a Client configured from cfg.
func New(cfg config.PackageIndexConfig) *Client {
	return &Client{
		urlTemplate: cfg.URLTemplate,
		http:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Exists reports whether (name, version) is reachable on the upstream
// index. Returns apperr.NotFound on a 404 response, apperr.Upstream on any
// other transport or non-2xx/404 failure.
func (c *Client) Exists(ctx context.Context, name, version string) error {
	if c.urlTemplate == "" {
		return nil
	}
	url := fmt.Sprintf(c.urlTemplate, name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building package index request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.NewUpstream(fmt.Sprintf("package index unreachable for %s@%s", name, version), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.NewNotFound(fmt.Sprintf("package %s@%s not found on upstream index", name, version))
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return apperr.NewUpstream(fmt.Sprintf("package index returned %s for %s@%s", resp.Status, name, version), nil)
	}
}
