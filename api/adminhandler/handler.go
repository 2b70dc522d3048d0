// Package adminhandler lets KMS administrators unlock a ShamirKMS over HTTP.
//
// Every request that changes state is authenticated twice: the request
// itself is signed with the administrator's P-256 key (see SignRequest), and
// the submitted share carries its own signature over kms.ShareDigest. The
// node never sees an administrator's private key.
package adminhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/metrics"
)

const (
	StatusPath = "/api/admin/status"
	UnlockPath = "/api/admin/unlock"

	// FingerprintHeader carries kms.Fingerprint of the admin public key.
	FingerprintHeader = "X-Admin-Fingerprint"
	// SignatureHeader carries the base64 ASN.1 signature over RequestDigest.
	SignatureHeader = "X-Admin-Signature"
)

// UnlockRequest submits one admin-signed share of the master key.
type UnlockRequest struct {
	ShareIndex int    `json:"share_index"`
	Share      []byte `json:"share"`
	Signature  []byte `json:"signature"`
}

// UnlockResponse reports unlock progress after a share was accepted.
type UnlockResponse struct {
	kms.ShamirStatus
	Message string `json:"message"`
}

// Handler processes share submissions for a locked ShamirKMS.
type Handler struct {
	kms     *kms.ShamirKMS
	metrics *metrics.Metrics
	log     *slog.Logger

	unlockOnce sync.Once
	unlocked   chan struct{}
}

// NewHandler creates an admin handler for k. m may be nil.
func NewHandler(k *kms.ShamirKMS, m *metrics.Metrics, log *slog.Logger) *Handler {
	h := &Handler{
		kms:      k,
		metrics:  m,
		log:      log,
		unlocked: make(chan struct{}),
	}
	if k.IsUnlocked() {
		h.markUnlocked()
	}
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(StatusPath, h.HandleStatus)
	r.Post(UnlockPath, h.HandleUnlock)
}

func (h *Handler) markUnlocked() {
	h.unlockOnce.Do(func() { close(h.unlocked) })
}

// WaitForUnlock blocks until the KMS is unlocked or ctx is done.
func (h *Handler) WaitForUnlock(ctx context.Context) error {
	select {
	case <-h.unlocked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleStatus returns the unlock progress.
//
// URL format: GET /api/admin/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.kms.Status())
}

// HandleUnlock accepts a share from an authenticated administrator.
//
// URL format: POST /api/admin/unlock
// Headers: X-Admin-Fingerprint, X-Admin-Signature
// Request body: UnlockRequest
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	adminPEM, err := h.verifyAdmin(r)
	if err != nil {
		api.WriteError(w, h.log, err, "admin authentication failed")
		return
	}

	var req UnlockRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, h.log, err, "could not parse unlock request")
		return
	}

	err = h.kms.SubmitShare(req.ShareIndex, req.Share, req.Signature, adminPEM)
	h.metrics.RecordShare(err)
	if err != nil {
		api.WriteError(w, h.log, err, "share submission failed")
		return
	}

	resp := UnlockResponse{ShamirStatus: h.kms.Status(), Message: "share accepted, waiting for more shares"}
	if resp.Unlocked {
		resp.Message = "KMS unlocked"
		h.markUnlocked()
	}

	h.log.Info("admin share accepted",
		"admin", r.Header.Get(FingerprintHeader),
		"shareIndex", req.ShareIndex,
		"unlocked", resp.Unlocked)
	api.WriteJSON(w, http.StatusOK, resp)
}

// verifyAdmin checks the request signature and returns the admin's public key.
// The body is restored for the handler.
func (h *Handler) verifyAdmin(r *http.Request) ([]byte, error) {
	fp := r.Header.Get(FingerprintHeader)
	sigHeader := r.Header.Get(SignatureHeader)
	if fp == "" || sigHeader == "" {
		return nil, fmt.Errorf("%w: missing admin headers", kms.ErrUnknownAdmin)
	}

	adminPEM, found := h.kms.Admin(fp)
	if !found {
		return nil, fmt.Errorf("%w: %s", kms.ErrUnknownAdmin, fp)
	}

	sig, err := base64.StdEncoding.DecodeString(sigHeader)
	if err != nil {
		return nil, fmt.Errorf("%w: signature encoding: %v", api.ErrMalformedRequest, err)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, api.MaxRequestBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrMalformedRequest, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	pub, err := adminPEM.ECDSA()
	if err != nil {
		return nil, err
	}
	if !ecdsa.VerifyASN1(pub, RequestDigest(r.URL.Path, body), sig) {
		return nil, fmt.Errorf("%w: request signature", kms.ErrInvalidShareSig)
	}

	return adminPEM, nil
}

// RequestDigest is the digest an administrator signs to authenticate a request.
func RequestDigest(path string, body []byte) []byte {
	sum := sha256.Sum256(append([]byte(path), body...))
	return sum[:]
}
