package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vouch/internal/credential"
	"vouch/pkg/domerr"
	"vouch/pkg/platform/sentinel"
)

func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadCredential(r)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, rec.Claims)
}

// handleGetTip resolves any credential in a chain to its latest amendment.
func (h *Handler) handleGetTip(w http.ResponseWriter, r *http.Request) {
	id, err := credentialID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tip, err := h.chain.Tip(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, tip.Claims)
}

// handleExportJWT re-packages a stored credential as an EdDSA JWT signed by
// the server issuer key. The embedded proof rides along untouched.
func (h *Handler) handleExportJWT(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadCredential(r)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := credential.EncodeJWT(rec, h.issuer)
	if err != nil {
		h.logger.Printf("JWT export of %s failed: %v", rec.ID, err)
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"jwt": token})
}

func (h *Handler) handleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	rec, err := h.loadCredential(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.chain.VerifyChain(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"valid": true, "id": rec.URN()})
}

func (h *Handler) loadCredential(r *http.Request) (credential.Record, error) {
	id, err := credentialID(r)
	if err != nil {
		return credential.Record{}, err
	}
	rec, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return credential.Record{}, domerr.Newf(domerr.CodeNotFound, "credential %s not found", id)
		}
		return credential.Record{}, fmt.Errorf("load credential %s: %w", id, err)
	}
	return rec, nil
}

func credentialID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.UUID{}, domerr.New(domerr.CodeInvalidInput, "credential id must be a UUID")
	}
	return id, nil
}
