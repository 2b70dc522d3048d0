package fhe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

var (
	ErrUnsupportedType   = errors.New("unsupported fhe type")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrPlaintextRange    = errors.New("plaintext out of range for type")
)

// Ciphertext is a typed encryption under the network key. Proof is the
// serialized proof of correct encryption and is only present on inputs
// that have not been verified yet.
type Ciphertext struct {
	Type  interfaces.FheType `json:"type"`
	Value *big.Int           `json:"value"`
	Proof json.RawMessage    `json:"proof,omitempty"`
}

// Digest commits to the type and ciphertext value. The proof is not part of it.
func (c *Ciphertext) Digest() [32]byte {
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte{byte(c.Type)}, c.Value.Bytes()))
	return digest
}

// Marshal serializes the ciphertext for storage and transport.
func (c *Ciphertext) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// WithoutProof returns a copy that drops the encryption proof.
func (c *Ciphertext) WithoutProof() *Ciphertext {
	return &Ciphertext{Type: c.Type, Value: new(big.Int).Set(c.Value)}
}

// UnmarshalCiphertext parses a serialized ciphertext and checks its type.
func UnmarshalCiphertext(data []byte) (*Ciphertext, error) {
	var c Ciphertext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if c.Value == nil || c.Value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing value", ErrInvalidCiphertext)
	}
	if err := checkSupported(c.Type); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkSupported(t interfaces.FheType) error {
	switch t {
	case interfaces.FheUint32, interfaces.FheAddress:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
}

// EncodeUint32 maps a euint32 plaintext to the message space.
func EncodeUint32(v uint32) *big.Int {
	return new(big.Int).SetUint64(uint64(v))
}

// EncodeAddress maps an eaddress plaintext to the message space.
func EncodeAddress(addr common.Address) *big.Int {
	return new(big.Int).SetBytes(addr.Bytes())
}

// typeBits is the plaintext width of each supported type.
func typeBits(t interfaces.FheType) int {
	switch t {
	case interfaces.FheUint32:
		return 32
	case interfaces.FheAddress:
		return 160
	default:
		return 0
	}
}

// wrap reduces m modulo 2^bits.
func wrap(m *big.Int, bits int) *big.Int {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(bits)), big.NewInt(1))
	return new(big.Int).And(m, mask)
}

// DecodeUint32 maps a decrypted message back to a euint32 plaintext.
// Messages wider than 32 bits wrap, so every ciphertext of the type decodes.
func DecodeUint32(m *big.Int) (uint32, error) {
	if m.Sign() < 0 {
		return 0, ErrPlaintextRange
	}
	return uint32(wrap(m, 32).Uint64()), nil
}

// DecodeAddress maps a decrypted message back to an eaddress plaintext,
// keeping the low 160 bits.
func DecodeAddress(m *big.Int) (common.Address, error) {
	if m.Sign() < 0 {
		return common.Address{}, ErrPlaintextRange
	}
	return common.BigToAddress(wrap(m, 160)), nil
}

// Cleartext is a decrypted value together with its type.
type Cleartext struct {
	Type  interfaces.FheType
	Value *big.Int
}

// Uint32 returns the cleartext as euint32.
func (c Cleartext) Uint32() (uint32, error) {
	if c.Type != interfaces.FheUint32 {
		return 0, fmt.Errorf("%w: have %s", ErrUnsupportedType, c.Type)
	}
	return DecodeUint32(c.Value)
}

// Address returns the cleartext as eaddress.
func (c Cleartext) Address() (common.Address, error) {
	if c.Type != interfaces.FheAddress {
		return common.Address{}, fmt.Errorf("%w: have %s", ErrUnsupportedType, c.Type)
	}
	return DecodeAddress(c.Value)
}

// String renders the cleartext according to its type.
func (c Cleartext) String() string {
	switch c.Type {
	case interfaces.FheAddress:
		if addr, err := c.Address(); err == nil {
			return addr.Hex()
		}
	case interfaces.FheUint32:
		if v, err := c.Uint32(); err == nil {
			return fmt.Sprintf("%d", v)
		}
	}
	return c.Value.String()
}
