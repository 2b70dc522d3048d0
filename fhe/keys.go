package fhe

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/niclabs/tcpaillier"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// PublicKey encrypts values and verifies encryption proofs.
type PublicKey struct {
	pk *tcpaillier.PubKey
}

func (k *PublicKey) modulus() modulus {
	return newModulus(k.pk.N, k.pk.S)
}

// Encrypt encrypts a plaintext of the given type and attaches a proof of
// plaintext knowledge bound to pc.
func (k *PublicKey) Encrypt(t interfaces.FheType, plaintext *big.Int, pc ProofContext) (*Ciphertext, error) {
	if err := checkSupported(t); err != nil {
		return nil, err
	}

	if plaintext.Sign() < 0 || plaintext.BitLen() > typeBits(t) {
		return nil, fmt.Errorf("%w: %s holds %d bits", ErrPlaintextRange, t, typeBits(t))
	}
	return k.encrypt(t, plaintext, pc)
}

func (k *PublicKey) encrypt(t interfaces.FheType, plaintext *big.Int, pc ProofContext) (*Ciphertext, error) {
	m := k.modulus()
	if plaintext.Cmp(m.nToS) >= 0 {
		return nil, ErrPlaintextRange
	}

	r, err := m.unit()
	if err != nil {
		return nil, fmt.Errorf("failed to sample randomness: %w", err)
	}

	c, err := k.pk.EncryptFixed(plaintext, r)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	zk, err := m.prove(c, plaintext, r, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to prove encryption: %w", err)
	}

	proof, err := json.Marshal(zk)
	if err != nil {
		return nil, fmt.Errorf("failed to encode encryption proof: %w", err)
	}

	return &Ciphertext{Type: t, Value: c, Proof: proof}, nil
}

// EncryptUint32 encrypts a euint32 value.
func (k *PublicKey) EncryptUint32(v uint32, pc ProofContext) (*Ciphertext, error) {
	return k.Encrypt(interfaces.FheUint32, EncodeUint32(v), pc)
}

// EncryptAddress encrypts an eaddress value.
func (k *PublicKey) EncryptAddress(addr common.Address, pc ProofContext) (*Ciphertext, error) {
	return k.Encrypt(interfaces.FheAddress, EncodeAddress(addr), pc)
}

// Verify checks the ciphertext's proof of plaintext knowledge for pc.
func (k *PublicKey) Verify(ct *Ciphertext, pc ProofContext) error {
	if err := checkSupported(ct.Type); err != nil {
		return err
	}
	if ct.Value == nil || len(ct.Proof) == 0 {
		return fmt.Errorf("%w: missing value or proof", ErrInvalidCiphertext)
	}

	var zk KnowledgeProof
	if err := json.Unmarshal(ct.Proof, &zk); err != nil {
		return fmt.Errorf("%w: malformed proof: %v", ErrInvalidCiphertext, err)
	}

	if err := k.modulus().verify(ct.Value, &zk, pc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	return nil
}

// ID is a stable identifier of the key, the keccak256 of its serialization.
func (k *PublicKey) ID() (string, error) {
	encoded, err := k.MarshalJSON()
	if err != nil {
		return "", err
	}
	return hexutil.Encode(crypto.Keccak256(encoded)), nil
}

// MarshalJSON implements json.Marshaler.
func (k *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.pk)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var pk tcpaillier.PubKey
	if err := json.Unmarshal(data, &pk); err != nil {
		return fmt.Errorf("invalid public key: %w", err)
	}
	k.pk = &pk
	return nil
}

// NetworkKey is the dealer-generated threshold key. Any Threshold of its
// shares decrypt.
type NetworkKey struct {
	public    *PublicKey
	shares    []*tcpaillier.KeyShare
	threshold uint8
}

// GenerateNetworkKey deals a fresh key with the given modulus size split
// among parties shares, threshold of which are needed to decrypt.
func GenerateNetworkKey(bitSize int, parties, threshold uint8) (*NetworkKey, error) {
	if threshold == 0 || threshold > parties {
		return nil, errors.New("threshold must be between 1 and the number of parties")
	}

	shares, pk, err := tcpaillier.NewKey(bitSize, 1, parties, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network key: %w", err)
	}

	return &NetworkKey{
		public:    &PublicKey{pk: pk},
		shares:    shares,
		threshold: threshold,
	}, nil
}

// Public returns the encryption half of the key.
func (k *NetworkKey) Public() *PublicKey {
	return k.public
}

// Threshold returns the number of shares combined on decryption.
func (k *NetworkKey) Threshold() uint8 {
	return k.threshold
}

// Decrypt combines Threshold partial decryptions of the ciphertext. The
// result is reduced to the width of the ciphertext's type.
func (k *NetworkKey) Decrypt(ct *Ciphertext) (*Cleartext, error) {
	if err := checkSupported(ct.Type); err != nil {
		return nil, err
	}

	partials := make([]*tcpaillier.DecryptionShare, 0, k.threshold)
	for _, share := range k.shares[:k.threshold] {
		partial, err := share.PartialDecrypt(ct.Value)
		if err != nil {
			return nil, fmt.Errorf("partial decryption failed: %w", err)
		}
		partials = append(partials, partial)
	}

	m, err := k.public.pk.CombineShares(partials...)
	if err != nil {
		return nil, fmt.Errorf("failed to combine decryption shares: %w", err)
	}

	return &Cleartext{Type: ct.Type, Value: wrap(m, typeBits(ct.Type))}, nil
}

type networkKeyFile struct {
	Threshold uint8                  `json:"threshold"`
	PublicKey *tcpaillier.PubKey     `json:"public_key"`
	Shares    []*tcpaillier.KeyShare `json:"shares"`
}

// Save writes the key with all of its shares to path.
func (k *NetworkKey) Save(path string) error {
	encoded, err := json.Marshal(networkKeyFile{
		Threshold: k.threshold,
		PublicKey: k.public.pk,
		Shares:    k.shares,
	})
	if err != nil {
		return fmt.Errorf("failed to encode network key: %w", err)
	}
	return os.WriteFile(path, encoded, 0600)
}

// LoadNetworkKey reads a key previously written with Save.
func LoadNetworkKey(path string) (*NetworkKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file networkKeyFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode network key: %w", err)
	}
	if file.PublicKey == nil || int(file.Threshold) == 0 || len(file.Shares) < int(file.Threshold) {
		return nil, errors.New("network key file is incomplete")
	}

	return &NetworkKey{
		public:    &PublicKey{pk: file.PublicKey},
		shares:    file.Shares,
		threshold: file.Threshold,
	}, nil
}
