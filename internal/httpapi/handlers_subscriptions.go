package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ossguard/scanguard/internal/auth"
	"github.com/ossguard/scanguard/internal/subscription"
)

type subscribeRequest struct {
	DiscordID    string `json:"discord_id"`
	EmailAddress string `json:"email_address"`
	PackageName  string `json:"package_name"`
}

type personResponse struct {
	PersonID           string   `json:"person_id"`
	DiscordID          *string  `json:"discord_id"`
	EmailAddress       *string  `json:"email_address"`
	SubscribedPackages []string `json:"subscribed_packages"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if s.subscription == nil {
		writeError(w, http.StatusNotFound, "subscriptions are not enabled")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PackageName == "" {
		writeError(w, http.StatusBadRequest, "package_name is required")
		return
	}

	view, err := s.subscription.Subscribe(r.Context(), req.DiscordID, req.EmailAddress, req.PackageName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonResponse(view))
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request, subject auth.Subject) {
	if s.subscription == nil {
		writeError(w, http.StatusNotFound, "subscriptions are not enabled")
		return
	}

	personID := r.PathValue("person_id")
	view, err := s.subscription.GetPerson(r.Context(), personID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonResponse(view))
}

func toPersonResponse(view *subscription.PersonView) personResponse {
	return personResponse{
		PersonID:           view.Person.ID,
		DiscordID:          view.Person.DiscordID,
		EmailAddress:       view.Person.EmailAddress,
		SubscribedPackages: view.PackageNames,
	}
}
