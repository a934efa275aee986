package httpapi

import (
	"net/http"

	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/models"
)

func (s *Server) handleRequestJobs(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	batch := queryInt(r, "batch", 1)

	descriptors, err := s.dispatch.RequestJobs(r.Context(), subject, batch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if descriptors == nil {
		descriptors = []models.JobDescriptor{}
	}
	writeJSON(w, http.StatusOK, descriptors)
}

func (s *Server) handleRequestJob(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	job, err := s.dispatch.RequestJob(r.Context(), subject)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusOK, map[string]string{"detail": "no job available"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}
