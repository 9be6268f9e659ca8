package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vouch/internal/registration"
	"vouch/pkg/domerr"
)

type beginRegistrationRequest struct {
	Subject   string `json:"subject"`
	Recipient string `json:"recipient"`
}

type registrationResponse struct {
	Subject    string         `json:"subject"`
	State      string         `json:"state"`
	Credential map[string]any `json:"credential"`
}

type confirmRegistrationRequest struct {
	Secret string `json:"secret"`
}

// handleBeginRegistration opens a registration: issues the pending
// confirmation credential and mails the secret to the recipient. The secret
// never appears in the response.
func (h *Handler) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req beginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domerr.New(domerr.CodeInvalidInput, "invalid request body"))
		return
	}
	if err := validateBeginRegistration(req); err != nil {
		writeError(w, err)
		return
	}

	confirmation, err := h.registration.Begin(r.Context(), req.Subject, req.Recipient)
	if err != nil {
		h.logger.Printf("begin registration for %s failed: %v", req.Subject, err)
		writeError(w, err)
		return
	}

	respond(w, http.StatusCreated, registrationResponse{
		Subject:    confirmation.Subject,
		State:      string(registration.StatePending),
		Credential: confirmation.Claims,
	})
}

func (h *Handler) handleConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	var req confirmRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domerr.New(domerr.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Secret == "" {
		writeError(w, domerr.New(domerr.CodeInvalidInput, "secret is required"))
		return
	}

	approval, err := h.registration.Confirm(r.Context(), req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, registrationResponse{
		Subject:    approval.Subject,
		State:      string(registration.StateConfirmed),
		Credential: approval.Claims,
	})
}

func (h *Handler) handleLookupRegistration(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	session, ok := h.registration.Lookup(subject)
	if !ok {
		writeError(w, domerr.Newf(domerr.CodeNotFound, "no registration for subject %s", subject))
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"subject":   session.Subject,
		"state":     string(session.State),
		"expiresAt": session.ExpiresAt,
	})
}

func validateBeginRegistration(req beginRegistrationRequest) error {
	if strings.TrimSpace(req.Subject) == "" {
		return domerr.New(domerr.CodeInvalidInput, "subject is required")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return domerr.New(domerr.CodeInvalidInput, "recipient is required")
	}
	if len(req.Subject) > 255 || len(req.Recipient) > 255 {
		return domerr.New(domerr.CodeInvalidInput, "subject and recipient must be at most 255 characters")
	}
	return nil
}
