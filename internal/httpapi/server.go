// Package httpapi binds the scan lifecycle engine's service layer
// (dispatch, ingestion, report, lookup, rule snapshot) to the HTTP surface
// described in SPEC_FULL.md §6. Handlers are thin: decode, extract the
// AuthSubject, call a service, encode, map error kinds to status codes in
// one shared helper. No handler touches a database connection; the rule
// snapshot is read and refreshed only through rulesnapshot.Manager.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/ossguard/scanguard/internal/dispatch"
	"github.com/ossguard/scanguard/internal/ingestion"
	"github.com/ossguard/scanguard/internal/lookup"
	"github.com/ossguard/scanguard/internal/report"
	"github.com/ossguard/scanguard/internal/rulesnapshot"
	"github.com/ossguard/scanguard/internal/subscription"
	"github.com/ossguard/scanguard/internal/suppression"
)

// ServerCommit identifies the running build, set at build time via
// -ldflags, mirroring the teacher's cmd.Version convention.
var ServerCommit = "dev"

// Server wires A–G's service layer onto an http.Handler.
type Server struct {
	dispatch     *dispatch.Service
	ingestion    *ingestion.Service
	report       *report.Service
	lookup       *lookup.Service
	rules        *rulesnapshot.Manager
	subscription *subscription.Service
	suppression  *suppression.Service
}

// New returns a Server. Every dependency is passed explicitly — no
// package-level singletons, per SPEC_FULL.md §9/§10. subscription and
// suppression may be nil, in which case their routes 404, except
// GET /suppressed, which returns an empty list.
func New(d *dispatch.Service, i *ingestion.Service, r *report.Service, l *lookup.Service, rules *rulesnapshot.Manager, sub *subscription.Service, sup *suppression.Service) *Server {
	return &Server{dispatch: d, ingestion: i, report: r, lookup: l, rules: rules, subscription: sub, suppression: sup}
}

// Handler builds the routed http.Handler for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /update-rules/", s.requireAuth(s.handleUpdateRules))
	mux.HandleFunc("GET /rules", s.requireAuth(s.handleGetRules))

	mux.HandleFunc("POST /jobs", s.requireAuth(s.handleRequestJobs))
	mux.HandleFunc("POST /job", s.requireAuth(s.handleRequestJob))

	mux.HandleFunc("PUT /package", s.requireAuth(s.handleSubmitVerdict))
	mux.HandleFunc("POST /package", s.requireAuth(s.handleQueuePackage))
	mux.HandleFunc("POST /batch/package", s.requireAuth(s.handleQueuePackageBatch))
	mux.HandleFunc("GET /package", s.requireAuth(s.handleLookupPackages))

	mux.HandleFunc("POST /report", s.requireAuth(s.handleReportPackage))
	mux.HandleFunc("GET /stats", s.requireAuth(s.handleStats))

	mux.HandleFunc("POST /subscriptions", s.requireAuth(s.handleSubscribe))
	mux.HandleFunc("GET /subscriptions/{person_id}", s.requireAuth(s.handleGetPerson))

	mux.HandleFunc("PUT /suppress", s.requireAuth(s.handleSuppress))
	mux.HandleFunc("DELETE /unsuppress", s.requireAuth(s.handleUnsuppress))
	mux.HandleFunc("GET /suppressed", s.requireAuth(s.handleListSuppressed))

	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"server_commit": ServerCommit,
		"rules_commit":  s.rules.Current().CommitHash,
	})
}

func logServiceError(r *http.Request, kind string, err error) {
	slog.Error("service error",
		"method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
}
