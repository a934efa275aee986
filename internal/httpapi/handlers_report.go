package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/report"
)

type reportRequest struct {
	Name                  string `json:"name"`
	Version               string `json:"version"`
	InspectorURL          string `json:"inspector_url"`
	AdditionalInformation string `json:"additional_information"`
}

func (s *Server) handleReportPackage(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "name and version are required")
		return
	}

	err := s.report.ReportPackage(r.Context(), subject, report.Request{
		Name:                  req.Name,
		Version:               req.Version,
		InspectorURL:          req.InspectorURL,
		AdditionalInformation: req.AdditionalInformation,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
