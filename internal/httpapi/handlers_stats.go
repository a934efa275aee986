package httpapi

import (
	"net/http"

	"github.com/ossguard/scanguard/internal/auth"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	stats, err := s.lookup.GetStats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ingested":          stats.Ingested,
		"average_scan_time": stats.AverageScanTime,
		"failed":            stats.Failed,
	})
}
