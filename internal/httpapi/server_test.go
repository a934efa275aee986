package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ossguard/scanguard/internal/catalogue"
	"github.com/ossguard/scanguard/internal/config"
	"github.com/ossguard/scanguard/internal/database"
	"github.com/ossguard/scanguard/internal/dispatch"
	"github.com/ossguard/scanguard/internal/ingestion"
	"github.com/ossguard/scanguard/internal/lookup"
	"github.com/ossguard/scanguard/internal/packageindex"
	"github.com/ossguard/scanguard/internal/report"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
	"github.com/ossguard/scanguard/internal/subscription"
	"github.com/ossguard/scanguard/internal/suppression"
	"github.com/ossguard/scanguard/models"
)

func newTestServer(t *testing.T) (*Server, *catalogue.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "httpapi-test.db")
	db, err := database.NewSQLite(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("new sqlite db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store := catalogue.New(db)

	rules, err := rulesnapshot.New(config.RulesConfig{GitHubToken: "test"}, store)
	if err != nil {
		t.Fatalf("new rule snapshot: %v", err)
	}
	if err := rules.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh rule snapshot: %v", err)
	}

	index := packageindex.New(config.PackageIndexConfig{})
	dispatchSvc := dispatch.New(store, nil, rules, time.Minute)
	ingestionSvc := ingestion.New(store, nil, index)
	reportSvc := report.New(store, index, config.ReporterConfig{})
	lookupSvc := lookup.New(store)
	subscriptionSvc := subscription.New(db, store)
	suppressionSvc := suppression.New(db, store)

	return New(dispatchSvc, ingestionSvc, reportSvc, lookupSvc, rules, subscriptionSvc, suppressionSvc), store
}

func TestRootReturnsCommitsWithoutAuth(t *testing.T) {
	server, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["rules_commit"] != "test" {
		t.Fatalf("expected sentinel rules_commit 'test', got %+v", body)
	}
}

func TestAuthenticatedRoutesRequireBearerToken(t *testing.T) {
	server, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a bearer token, got %d", rr.Code)
	}
}

func TestQueueAndLookupPackageRoundTrip(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	body, _ := json.Marshal(map[string]string{"name": "scanguard-fixture", "version": "1.0.0"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/package", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer alice")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 queuing a package, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/package?name=scanguard-fixture", nil)
	req.Header.Set("Authorization", "Bearer alice")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 looking up a package, got %d: %s", rr.Code, rr.Body.String())
	}

	var items []map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
		t.Fatalf("decode lookup response: %v", err)
	}
	if len(items) != 1 || items[0]["name"] != "scanguard-fixture" {
		t.Fatalf("expected to find the queued package, got %+v", items)
	}
}

func TestRequestJobsReturnsEmptyArrayNotNull(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs?batch=3", nil)
	req.Header.Set("Authorization", "Bearer worker-1")
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() == "null\n" || rr.Body.String() == "null" {
		t.Fatalf("expected an empty JSON array, not null")
	}
	var jobs []models.JobDescriptor
	if err := json.NewDecoder(rr.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode jobs response: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs on an empty catalogue, got %+v", jobs)
	}
}

func TestSubmitVerdictMissingBodyIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/package", nil)
	req.Header.Set("Authorization", "Bearer worker-1")
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing verdict body, got %d", rr.Code)
	}
}
