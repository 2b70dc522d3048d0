package interfaces

import "errors"

// Registry reverts. A call that fails with one of these leaves no state behind.
var (
	ErrInvalidProof       = errors.New("invalid input proof")
	ErrUnknownDatabase    = errors.New("unknown database")
	ErrEntryOutOfRange    = errors.New("entry index out of range")
	ErrNotOwner           = errors.New("caller is not the database owner")
	ErrAddressMismatch    = errors.New("encrypted address handle does not match")
	ErrACLNotAllowed      = errors.New("account not allowed on handle")
	ErrInvalidHandleType  = errors.New("unexpected handle type")
	ErrEmptyName          = errors.New("database name must not be empty")
	ErrInvalidNonce       = errors.New("invalid transaction nonce")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrZeroAddress        = errors.New("zero address")
	ErrAuthorizationRange = errors.New("decryption authorization outside validity window")
	ErrKMSLocked          = errors.New("KMS is locked - need more shares to unlock")
)
