package interfaces

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// HandleVersion is the layout version stored in the last byte of every handle.
const HandleVersion uint8 = 0

// FheType identifies the plaintext type behind a ciphertext handle.
type FheType uint8

const (
	FheBool    FheType = 0
	FheUint8   FheType = 2
	FheUint16  FheType = 3
	FheUint32  FheType = 4
	FheUint64  FheType = 5
	FheUint128 FheType = 6
	FheAddress FheType = 7
)

// String returns the solidity-side type name.
func (t FheType) String() string {
	switch t {
	case FheBool:
		return "ebool"
	case FheUint8:
		return "euint8"
	case FheUint16:
		return "euint16"
	case FheUint32:
		return "euint32"
	case FheUint64:
		return "euint64"
	case FheUint128:
		return "euint128"
	case FheAddress:
		return "eaddress"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Handle is an opaque 32-byte reference to a ciphertext held by the encryption runtime.
//
// Layout:
//
//	[0:21]  truncated keccak256 commitment to the ciphertext and its context
//	[21]    index of the value inside the input batch it was submitted with
//	[22:30] chain id, big endian
//	[30]    FheType
//	[31]    HandleVersion
type Handle [32]byte

// NewHandleFromBytes creates a handle from a 32-byte slice.
func NewHandleFromBytes(source []byte) (Handle, error) {
	if len(source) != 32 {
		return Handle{}, errors.New("invalid handle length: must be 32 bytes")
	}

	var h Handle
	copy(h[:], source)
	return h, nil
}

// NewHandleFromHex parses a 64-character hex string, with or without 0x prefix.
func NewHandleFromHex(source string) (Handle, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Handle{}, errors.New("invalid handle length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewHandleFromBytes(raw)
}

// String returns the 0x-prefixed hex representation.
func (h Handle) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// Bytes returns the raw 32 bytes.
func (h Handle) Bytes() []byte {
	return h[:]
}

// Equal compares two handles.
func (h Handle) Equal(other Handle) bool {
	return bytes.Equal(h[:], other[:])
}

// IsZero reports whether the handle is uninitialized.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Type returns the FheType encoded in the handle.
func (h Handle) Type() FheType {
	return FheType(h[30])
}

// Index returns the position of the value inside its input batch.
func (h Handle) Index() uint8 {
	return h[21]
}

// ChainID returns the chain id encoded in the handle.
func (h Handle) ChainID() uint64 {
	return binary.BigEndian.Uint64(h[22:30])
}

// Version returns the handle layout version.
func (h Handle) Version() uint8 {
	return h[31]
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := NewHandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
