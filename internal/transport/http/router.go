// Package httptransport is the thin HTTP layer over the credential engine.
// Handlers decode, delegate and encode; all rules live in the services.
package httptransport

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vouch/internal/credential"
	"vouch/internal/keys"
	"vouch/internal/platform/metrics"
	"vouch/internal/platform/middleware"
	"vouch/internal/registration"
	"vouch/pkg/domerr"
	"vouch/pkg/platform/sentinel"
)

// Handler bundles the services the routes delegate to. The issuer key signs
// JWT exports; credential proofs are signed inside the chain.
type Handler struct {
	logger       *log.Logger
	registration *registration.Manager
	chain        *credential.Chain
	store        credential.Store
	issuer       keys.KeyPair
	pool         *keys.Pool
	metrics      *metrics.Metrics
}

func NewHandler(logger *log.Logger, reg *registration.Manager, chain *credential.Chain, store credential.Store, issuer keys.KeyPair, pool *keys.Pool, m *metrics.Metrics) *Handler {
	return &Handler{logger: logger, registration: reg, chain: chain, store: store, issuer: issuer, pool: pool, metrics: m}
}

// NewRouter wires all public endpoints.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/registrations", h.handleBeginRegistration)
	r.Post("/registrations/confirm", h.handleConfirmRegistration)
	r.Get("/registrations/{subject}", h.handleLookupRegistration)

	r.Post("/keys/derive", h.handleDeriveKey)

	r.Get("/credentials/{id}", h.handleGetCredential)
	r.Get("/credentials/{id}/tip", h.handleGetTip)
	r.Get("/credentials/{id}/jwt", h.handleExportJWT)
	r.Post("/credentials/{id}/verify", h.handleVerifyCredential)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates domain errors into the JSON error envelope. The
// envelope exposes the code and message only; diagnostics stay server-side.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	message := "internal error"

	var derr *domerr.Error
	switch {
	case errors.As(err, &derr):
		status = statusFor(derr.Code)
		code = string(derr.Code)
		message = derr.Message
	case errors.Is(err, sentinel.ErrConflict):
		status = http.StatusConflict
		code = "conflict"
		message = err.Error()
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
		message = err.Error()
	}

	respond(w, status, map[string]string{"error": code, "message": message})
}

func statusFor(code domerr.Code) int {
	switch code {
	case domerr.CodeInvalidInput, domerr.CodeCanonicalization, domerr.CodeDecode:
		return http.StatusBadRequest
	case domerr.CodeNotFound, domerr.CodeMissingIdentifier:
		return http.StatusNotFound
	case domerr.CodeIdentifierConflict:
		return http.StatusConflict
	case domerr.CodeUnauthorizedAmender:
		return http.StatusForbidden
	case domerr.CodeExpired:
		return http.StatusGone
	case domerr.CodeSignatureInvalid, domerr.CodeMissingProof, domerr.CodeEmptyProofList:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
