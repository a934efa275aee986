package httpapi

import (
	"net/http"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
)

func (s *Server) handleUpdateRules(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if err := s.rules.Refresh(r.Context()); err != nil {
		writeServiceError(w, r, apperr.NewUpstream("refreshing rule snapshot", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	snap := s.rules.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":  snap.CommitHash,
		"rules": snap.Rules,
	})
}
