package httpapi

import (
	"net/http"
	"time"

	"github.com/ossguard/scanguard/internal/auth"
)

type suppressedResponse struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	ScanID       string   `json:"scan_id"`
	SuppressedAt string   `json:"suppressed_at"`
	Rules        []string `json:"rules"`
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if s.suppression == nil {
		writeError(w, http.StatusNotFound, "suppression is not enabled")
		return
	}

	packageID := r.URL.Query().Get("package_id")
	if packageID == "" {
		writeError(w, http.StatusBadRequest, "package_id is required")
		return
	}

	if err := s.suppression.Suppress(r.Context(), packageID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnsuppress(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if s.suppression == nil {
		writeError(w, http.StatusNotFound, "suppression is not enabled")
		return
	}

	packageName := r.URL.Query().Get("package_name")
	if packageName == "" {
		writeError(w, http.StatusBadRequest, "package_name is required")
		return
	}

	if err := s.suppression.Unsuppress(r.Context(), packageName); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListSuppressed(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if s.suppression == nil {
		writeJSON(w, http.StatusOK, []suppressedResponse{})
		return
	}

	packageName := r.URL.Query().Get("package_name")
	suppressed, err := s.suppression.List(r.Context(), packageName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]suppressedResponse, 0, len(suppressed))
	for _, item := range suppressed {
		out = append(out, suppressedResponse{
			Name:         item.Name,
			Version:      item.Version,
			ScanID:       item.ScanID,
			SuppressedAt: item.SuppressedAt.UTC().Format(time.RFC3339),
			Rules:        item.Rules,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
