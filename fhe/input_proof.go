package fhe

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// MaxInputValues bounds the number of handles one input proof can cover.
const MaxInputValues = 255

var (
	ErrMalformedInputProof = errors.New("malformed input proof")

	inputProofArgs = abi.Arguments{
		{Name: "handles", Type: bytes32ArrayType},
		{Name: "userAddress", Type: addressType},
		{Name: "contractAddress", Type: addressType},
		{Name: "chainId", Type: uint256Type},
	}
)

// InputProof attests that Handles were derived from verified ciphertexts
// encrypted by a user for a contract. Encoded as
// [numHandles][numSignatures][handles 32 bytes each][signatures 65 bytes each].
type InputProof struct {
	Handles    []interfaces.Handle
	Signatures [][]byte
}

// InputProofDigest is the message signed by coprocessors.
func InputProofDigest(handles []interfaces.Handle, user, contract common.Address, chainID uint64) (common.Hash, error) {
	raw := make([][32]byte, len(handles))
	for i, h := range handles {
		raw[i] = h
	}

	packed, err := inputProofArgs.Pack(raw, user, contract, new(big.Int).SetUint64(chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode input proof: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// SignInputProof produces a proof over handles signed by each of signers.
func SignInputProof(handles []interfaces.Handle, user, contract common.Address, chainID uint64, signers ...*ecdsa.PrivateKey) (*InputProof, error) {
	if len(handles) == 0 || len(handles) > MaxInputValues {
		return nil, fmt.Errorf("%w: %d handles", ErrMalformedInputProof, len(handles))
	}
	if len(signers) > MaxInputValues {
		return nil, fmt.Errorf("%w: %d signers", ErrMalformedInputProof, len(signers))
	}

	digest, err := InputProofDigest(handles, user, contract, chainID)
	if err != nil {
		return nil, err
	}

	proof := &InputProof{Handles: handles}
	for _, key := range signers {
		sig, err := crypto.Sign(digest.Bytes(), key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input proof: %w", err)
		}
		proof.Signatures = append(proof.Signatures, sig)
	}
	return proof, nil
}

// Bytes encodes the proof.
func (p *InputProof) Bytes() []byte {
	out := make([]byte, 2, 2+32*len(p.Handles)+crypto.SignatureLength*len(p.Signatures))
	out[0] = byte(len(p.Handles))
	out[1] = byte(len(p.Signatures))
	for _, h := range p.Handles {
		out = append(out, h[:]...)
	}
	for _, sig := range p.Signatures {
		out = append(out, sig...)
	}
	return out
}

// ParseInputProof decodes a proof produced by Bytes.
func ParseInputProof(raw []byte) (*InputProof, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrMalformedInputProof)
	}

	numHandles, numSigs := int(raw[0]), int(raw[1])
	if len(raw) != 2+32*numHandles+crypto.SignatureLength*numSigs {
		return nil, fmt.Errorf("%w: length %d does not match %d handles and %d signatures", ErrMalformedInputProof, len(raw), numHandles, numSigs)
	}

	proof := &InputProof{
		Handles:    make([]interfaces.Handle, numHandles),
		Signatures: make([][]byte, numSigs),
	}

	offset := 2
	for i := range proof.Handles {
		copy(proof.Handles[i][:], raw[offset:offset+32])
		offset += 32
	}
	for i := range proof.Signatures {
		proof.Signatures[i] = append([]byte(nil), raw[offset:offset+crypto.SignatureLength]...)
		offset += crypto.SignatureLength
	}
	return proof, nil
}

// Contains reports whether the proof covers handle.
func (p *InputProof) Contains(handle interfaces.Handle) bool {
	for _, h := range p.Handles {
		if h == handle {
			return true
		}
	}
	return false
}

// Signers recovers the accounts that signed the proof for user and contract.
func (p *InputProof) Signers(user, contract common.Address, chainID uint64) ([]common.Address, error) {
	digest, err := InputProofDigest(p.Handles, user, contract, chainID)
	if err != nil {
		return nil, err
	}

	signers := make([]common.Address, 0, len(p.Signatures))
	for _, sig := range p.Signatures {
		addr, err := cryptoutils.RecoverDigestSigner(digest.Bytes(), sig)
		if err != nil {
			return nil, err
		}
		signers = append(signers, addr)
	}
	return signers, nil
}

// InputVerifier checks input proofs against the configured coprocessor set.
// Every coprocessor must have signed.
type InputVerifier struct {
	chainID      uint64
	coprocessors []common.Address
}

// NewInputVerifier creates a verifier for chainID trusting coprocessors.
func NewInputVerifier(chainID uint64, coprocessors []common.Address) (*InputVerifier, error) {
	if len(coprocessors) == 0 {
		return nil, errors.New("at least one coprocessor is required")
	}
	return &InputVerifier{chainID: chainID, coprocessors: coprocessors}, nil
}

// Coprocessors returns the trusted signer set.
func (v *InputVerifier) Coprocessors() []common.Address {
	return append([]common.Address(nil), v.coprocessors...)
}

// VerifyInput implements interfaces.InputVerifier.
func (v *InputVerifier) VerifyInput(handle interfaces.Handle, user, contract common.Address, inputProof []byte) error {
	proof, err := ParseInputProof(inputProof)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	if handle.ChainID() != v.chainID {
		return fmt.Errorf("%w: handle bound to chain %d", interfaces.ErrInvalidProof, handle.ChainID())
	}
	if handle.Version() != interfaces.HandleVersion {
		return fmt.Errorf("%w: unknown handle version %d", interfaces.ErrInvalidProof, handle.Version())
	}
	if !proof.Contains(handle) {
		return fmt.Errorf("%w: handle %s not covered", interfaces.ErrInvalidProof, handle)
	}

	signers, err := proof.Signers(user, contract, v.chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidProof, err)
	}

	signed := make(map[common.Address]bool, len(signers))
	for _, s := range signers {
		signed[s] = true
	}
	for _, c := range v.coprocessors {
		if !signed[c] {
			return fmt.Errorf("%w: missing signature from coprocessor %s", interfaces.ErrInvalidProof, c.Hex())
		}
	}
	return nil
}
