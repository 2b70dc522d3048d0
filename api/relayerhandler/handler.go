// Package relayerhandler serves the relayer over HTTP: network key
// material for clients that encrypt, input proof issuance and the user
// decryption ceremony.
package relayerhandler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/metrics"
)

const (
	KeyInfoPath     = "/v1/keyurl"
	InputProofPath  = "/v1/input-proof"
	UserDecryptPath = "/v1/user-decrypt"
)

// Handler exposes an interfaces.Relayer.
type Handler struct {
	relayer interfaces.Relayer
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHandler creates a relayer handler. m may be nil.
func NewHandler(relayer interfaces.Relayer, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		relayer: relayer,
		metrics: m,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(KeyInfoPath, h.HandleKeyInfo)
	r.Post(InputProofPath, h.HandleInputProof)
	r.Post(UserDecryptPath, h.HandleUserDecrypt)
}

// HandleKeyInfo returns the network public key, the coprocessor set and
// the KMS signer.
//
// URL format: GET /v1/keyurl
func (h *Handler) HandleKeyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.relayer.KeyInfo(r.Context())
	if err != nil {
		api.WriteError(w, h.log, err, "could not load key info")
		return
	}
	api.WriteJSON(w, http.StatusOK, info)
}

// HandleInputProof verifies client ciphertexts and returns their handles
// together with the coprocessor-signed input proof.
//
// URL format: POST /v1/input-proof
// Request body: interfaces.InputProofRequest
func (h *Handler) HandleInputProof(w http.ResponseWriter, r *http.Request) {
	var req interfaces.InputProofRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.log, err, "could not parse input proof request")
		return
	}

	resp, err := h.relayer.InputProof(r.Context(), &req)
	h.metrics.RecordInputProof(err)
	if err != nil {
		api.WriteError(w, h.log, err, "could not verify inputs")
		return
	}

	h.log.Info("issued input proof",
		"contract", req.ContractAddress.Hex(),
		"user", req.UserAddress.Hex(),
		"handles", len(resp.Handles))
	api.WriteJSON(w, http.StatusOK, resp)
}

// HandleUserDecrypt runs the user decryption ceremony.
//
// URL format: POST /v1/user-decrypt
// Request body: interfaces.UserDecryptRequest
// Response: values re-encrypted to the request's public key, signed by the KMS
func (h *Handler) HandleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	var req interfaces.UserDecryptRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.log, err, "could not parse user decrypt request")
		return
	}

	resp, err := h.relayer.UserDecrypt(r.Context(), &req)
	h.metrics.RecordDecryption(err)
	if err != nil {
		api.WriteError(w, h.log, err, "could not decrypt")
		return
	}

	api.WriteJSON(w, http.StatusOK, resp)
}
