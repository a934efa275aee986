package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
)

// --- auth boundary ---

// requireAuth extracts an AuthSubject from the request's bearer token and
// calls next with it as an argument. A missing or empty
// token yields 401 without reaching the handler. Full JWT signature/claims
// verification against the configured Auth0 domain/audience is outside
// this core's scope (SPEC_FULL.md §1/§4.H) — any non-empty bearer token is
// accepted here.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, auth.Subject)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		subject := auth.FromBearerToken(token)
		if subject.Empty() {
			writeError(w, http.StatusUnauthorized, "empty bearer token")
			return
		}
		next(w, r, subject)
	}
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeServiceError maps an apperr.Kind (or a plain error) to the one HTTP
// status table in SPEC_FULL.md §7, and logs it once at this boundary.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind, ok := apperr.As(err)
	if !ok {
		logServiceError(r, "unknown", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	logServiceError(r, string(kind), err)

	status := statusForKind(kind)
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
	}

	if appErr != nil && len(appErr.Detail) > 0 {
		body := map[string]any{"detail": appErr.Message}
		for k, v := range appErr.Detail {
			body[k] = v
		}
		writeJSON(w, status, body)
		return
	}
	writeError(w, status, err.Error())
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.AlreadyExists, apperr.Conflict:
		return http.StatusConflict
	case apperr.Invalid:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Upstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// --- query parsing ---

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// queryTime parses "since" as either an integer Unix timestamp or an
// RFC3339/ISO-8601 string, matching SPEC_FULL.md §6's "may be ISO-8601 or
// seconds on input" rule.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
