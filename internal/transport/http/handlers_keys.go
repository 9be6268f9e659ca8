package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"vouch/internal/enc"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/pkg/domerr"
)

type deriveKeyRequest struct {
	Passphrase string     `json:"passphrase"`
	Slip       *keys.Slip `json:"slip,omitempty"`
	Index      uint64     `json:"index"`
}

type deriveKeyResponse struct {
	Slip        keys.Slip `json:"slip"`
	PublicKey   string    `json:"publicKey"`
	Fingerprint string    `json:"fingerprint"`
}

// handleDeriveKey derives a signing keypair from a passphrase. Without a slip
// it initialises a fresh main key under moderate cost parameters and returns
// the slip; with a slip it reproduces the main key. Only public material
// leaves the process.
func (h *Handler) handleDeriveKey(w http.ResponseWriter, r *http.Request) {
	var req deriveKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domerr.New(domerr.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.Passphrase == "" {
		writeError(w, domerr.New(domerr.CodeInvalidInput, "passphrase is required"))
		return
	}

	var (
		mainKey keys.MainKey
		slip    keys.Slip
		err     error
	)
	start := time.Now()
	if req.Slip != nil {
		slip = *req.Slip
		mainKey, err = h.pool.ReproduceMainKey(r.Context(), []byte(req.Passphrase), slip)
	} else {
		mainKey, slip, err = h.pool.InitMainKey(r.Context(), []byte(req.Passphrase), keys.ParamsModerate)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	defer mainKey.Zero()
	if h.metrics != nil {
		h.metrics.KeyDerivationSeconds.Observe(time.Since(start).Seconds())
	}

	pair, err := keys.DeriveSigningKeyPair(mainKey, req.Index)
	if err != nil {
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, deriveKeyResponse{
		Slip:        slip,
		PublicKey:   enc.Show(pair.Public),
		Fingerprint: identifier.Fingerprint(pair.Public),
	})
}
