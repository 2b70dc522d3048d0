package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/relayer"
)

// MaxRequestBodySize bounds JSON request bodies.
const MaxRequestBodySize = 4 << 20

// ErrMalformedRequest is reported for bodies and path parameters that do not parse.
var ErrMalformedRequest = errors.New("malformed request")

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RequestError is returned by clients when the server rejects a request.
// Err is the sentinel reported by the server, if the client knows it.
type RequestError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

type errorCode struct {
	code   string
	err    error
	status int
}

// Checked in order, so wrapped errors match their most specific sentinel first.
var errorCodes = []errorCode{
	{"malformed_request", ErrMalformedRequest, http.StatusBadRequest},
	{"invalid_input", relayer.ErrInvalidInput, http.StatusBadRequest},
	{"malformed_input_proof", fhe.ErrMalformedInputProof, http.StatusBadRequest},
	{"invalid_encryption_proof", fhe.ErrInvalidEncryptionProof, http.StatusBadRequest},
	{"invalid_ciphertext", fhe.ErrInvalidCiphertext, http.StatusBadRequest},
	{"plaintext_range", fhe.ErrPlaintextRange, http.StatusBadRequest},
	{"unsupported_type", fhe.ErrUnsupportedType, http.StatusBadRequest},
	{"invalid_proof", interfaces.ErrInvalidProof, http.StatusBadRequest},
	{"invalid_handle_type", interfaces.ErrInvalidHandleType, http.StatusBadRequest},
	{"empty_name", interfaces.ErrEmptyName, http.StatusBadRequest},
	{"zero_address", interfaces.ErrZeroAddress, http.StatusBadRequest},
	{"unsupported_method", interfaces.ErrUnsupportedMethod, http.StatusBadRequest},
	{"empty_request", kms.ErrEmptyRequest, http.StatusBadRequest},
	{"handle_mismatch", kms.ErrHandleMismatch, http.StatusBadRequest},
	{"unknown_database", interfaces.ErrUnknownDatabase, http.StatusNotFound},
	{"entry_out_of_range", interfaces.ErrEntryOutOfRange, http.StatusNotFound},
	{"content_not_found", interfaces.ErrContentNotFound, http.StatusNotFound},
	{"not_owner", interfaces.ErrNotOwner, http.StatusForbidden},
	{"address_mismatch", interfaces.ErrAddressMismatch, http.StatusForbidden},
	{"acl_not_allowed", interfaces.ErrACLNotAllowed, http.StatusForbidden},
	{"contract_not_authorized", kms.ErrContractNotAuthorized, http.StatusForbidden},
	{"expired_authorization", kms.ErrExpiredAuthorization, http.StatusForbidden},
	{"authorization_range", interfaces.ErrAuthorizationRange, http.StatusForbidden},
	{"unknown_admin", kms.ErrUnknownAdmin, http.StatusForbidden},
	{"invalid_share_signature", kms.ErrInvalidShareSig, http.StatusForbidden},
	{"invalid_signature", interfaces.ErrInvalidSignature, http.StatusUnauthorized},
	{"invalid_nonce", interfaces.ErrInvalidNonce, http.StatusConflict},
	{"duplicate_share", kms.ErrDuplicateShare, http.StatusConflict},
	{"already_unlocked", kms.ErrAlreadyUnlocked, http.StatusConflict},
	{"kms_locked", interfaces.ErrKMSLocked, http.StatusServiceUnavailable},
	{"backend_unavailable", interfaces.ErrBackendUnavailable, http.StatusServiceUnavailable},
}

// StatusFor returns the HTTP status and wire code for err.
// Unknown errors map to 500 with an empty code.
func StatusFor(err error) (int, string) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, ""
}

func errorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorResponse, prefixed with msg.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error, msg string) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error(msg, "err", err)
	} else {
		log.Debug(msg, "err", err, "status", status)
	}
	WriteJSON(w, status, ErrorResponse{Error: fmt.Sprintf("%s: %s", msg, err), Code: code})
}

// DecodeJSON reads a bounded JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return nil
}
