package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ossguard/scanguard/internal/apperr"
	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/models"
)

// verdictWire is the union of both wire shapes in SPEC_FULL.md §6; which
// branch is present is decided by the presence of "reason" versus "score".
type verdictWire struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Commit       string   `json:"commit"`
	Score        *int     `json:"score"`
	InspectorURL string   `json:"inspector_url"`
	RulesMatched []string `json:"rules_matched"`
	Reason       *string  `json:"reason"`
}

func decodeVerdict(raw []byte) (models.Verdict, error) {
	var wire verdictWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.Verdict{}, apperr.NewInvalid("malformed verdict body: " + err.Error())
	}
	if wire.Name == "" || wire.Version == "" {
		return models.Verdict{}, apperr.NewInvalid("verdict requires name and version")
	}

	if wire.Reason != nil {
		return models.Verdict{Failure: &models.FailureVerdict{
			Name:    wire.Name,
			Version: wire.Version,
			Reason:  *wire.Reason,
		}}, nil
	}
	if wire.Score != nil {
		return models.Verdict{Success: &models.SuccessVerdict{
			Name:         wire.Name,
			Version:      wire.Version,
			Commit:       wire.Commit,
			Score:        *wire.Score,
			InspectorURL: wire.InspectorURL,
			RulesMatched: wire.RulesMatched,
		}}, nil
	}
	return models.Verdict{}, apperr.NewInvalid("verdict must contain either a success (score) or failure (reason) payload")
}

func (s *Server) handleSubmitVerdict(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "missing request body")
		return
	}

	verdict, err := decodeVerdict(body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if err := s.ingestion.SubmitVerdict(r.Context(), subject, verdict); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queuePackageRequest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (s *Server) handleQueuePackage(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	var req queuePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Version == "" {
		writeError(w, http.StatusBadRequest, "name and version are required")
		return
	}

	id, err := s.ingestion.QueuePackage(r.Context(), subject, req.Name, req.Version)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleQueuePackageBatch(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	var reqs []queuePackageRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pairs := make([][2]string, len(reqs))
	for i, req := range reqs {
		pairs[i] = [2]string{req.Name, req.Version}
	}
	s.ingestion.QueuePackages(r.Context(), subject, pairs)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookupPackages(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	name := r.URL.Query().Get("name")
	version := r.URL.Query().Get("version")
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since parameter")
		return
	}
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 0)

	result, err := s.lookup.LookupPackages(r.Context(), name, version, since, page, size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	if page > 0 && size > 0 {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, result.Items)
}
