package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ContentID is a 32-byte key under which a blob is stored. Ciphertexts are
// keyed by their handle; published key material by its SHA-256 digest.
type ContentID [32]byte

// NewContentIDFromBytes creates a content ID from a 32-byte slice.
func NewContentIDFromBytes(source []byte) (ContentID, error) {
	if len(source) != 32 {
		return ContentID{}, errors.New("invalid ContentID conversion from bytes: incorrect length")
	}

	var id ContentID
	copy(id[:], source)
	return id, nil
}

// NewContentIDFromHex parses a 64-character hex string, with or without 0x prefix.
func NewContentIDFromHex(source string) (ContentID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return ContentID{}, errors.New("invalid content ID length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return ContentID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewContentIDFromBytes(raw)
}

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns raw 32 bytes.
func (id ContentID) Bytes() []byte {
	return id[:]
}

// ContentType indicates storage namespace.
type ContentType int

const (
	// CiphertextType for serialized ciphertexts keyed by handle
	CiphertextType ContentType = iota
	// KeyMaterialType for published network key material
	KeyMaterialType
)

// String returns type name.
func (ct ContentType) String() string {
	switch ct {
	case CiphertextType:
		return "ciphertext"
	case KeyMaterialType:
		return "keymaterial"
	default:
		return "unknown"
	}
}

// StorageBackendLocation is a URI identifying a storage backend,
// [scheme]://[auth@]host[:port][/path][?params].
type StorageBackendLocation string

// Validate checks that the location parses and names a supported scheme.
func (loc StorageBackendLocation) Validate() error {
	parsed, err := url.Parse(string(loc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs", "vault", "memory":
		return nil
	default:
		return fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}
}

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend stores blobs under caller-chosen 32-byte keys.
type StorageBackend interface {
	// Fetch retrieves data by ID and type.
	Fetch(ctx context.Context, id ContentID, contentType ContentType) ([]byte, error)

	// Store saves data under id. Storing the same id twice overwrites.
	Store(ctx context.Context, id ContentID, data []byte, contentType ContentType) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, ipfs://, vault:// and memory://
	StorageBackendFor(locationURI StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locationURIs []StorageBackendLocation) (StorageBackend, error)
}
