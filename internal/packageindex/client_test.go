package packageindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/config"
)

func TestExistsReturnsNilOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(config.PackageIndexConfig{URLTemplate: srv.URL + "/pypi/%s/%s/json"})
	if err := c.Exists(context.Background(), "requests", "2.31.0"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestExistsReturnsNotFoundOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(config.PackageIndexConfig{URLTemplate: srv.URL + "/pypi/%s/%s/json"})
	err := c.Exists(context.Background(), "doesnotexist", "0.0.1")
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestExistsReturnsUpstreamOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.PackageIndexConfig{URLTemplate: srv.URL + "/pypi/%s/%s/json"})
	err := c.Exists(context.Background(), "requests", "2.31.0")
	if !apperr.Is(err, apperr.Upstream) {
		t.Fatalf("expected Upstream, got %v", err)
	}
}

func TestExistsWithEmptyTemplateSkipsCheck(t *testing.T) {
	c := New(config.PackageIndexConfig{})
	if err := c.Exists(context.Background(), "anything", "1.0.0"); err != nil {
		t.Fatalf("expected a no-op pass when no URL template is configured, got %v", err)
	}
}
