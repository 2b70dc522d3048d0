package relayer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// ErrInvalidInput is returned for input proof requests that cannot be served.
var ErrInvalidInput = errors.New("invalid input proof request")

// Config names the chain and contracts the relayer serves.
type Config struct {
	ChainID           uint64
	VerifyingContract common.Address
	RegistryContract  common.Address
}

// Relayer validates client ciphertexts and issues input proofs.
type Relayer struct {
	publicKey   *fhe.PublicKey
	keyJSON     []byte
	keyID       string
	coprocessor *ecdsa.PrivateKey
	ciphertexts interfaces.StorageBackend
	kms         interfaces.KMS
	cfg         Config
	log         *slog.Logger
}

// New creates a relayer and publishes the network public key to the
// ciphertext store as key material.
func New(ctx context.Context, publicKey *fhe.PublicKey, coprocessor *ecdsa.PrivateKey, ciphertexts interfaces.StorageBackend, kms interfaces.KMS, cfg Config, log *slog.Logger) (*Relayer, error) {
	if publicKey == nil || coprocessor == nil || ciphertexts == nil || kms == nil {
		return nil, errors.New("relayer requires a public key, a coprocessor key, a ciphertext store and a KMS")
	}

	keyJSON, err := publicKey.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	keyID, err := publicKey.ID()
	if err != nil {
		return nil, err
	}

	if err := ciphertexts.Store(ctx, interfaces.ComputeID(keyJSON), keyJSON, interfaces.KeyMaterialType); err != nil {
		return nil, fmt.Errorf("failed to publish public key: %w", err)
	}

	return &Relayer{
		publicKey:   publicKey,
		keyJSON:     keyJSON,
		keyID:       keyID,
		coprocessor: coprocessor,
		ciphertexts: ciphertexts,
		kms:         kms,
		cfg:         cfg,
		log:         log,
	}, nil
}

// Coprocessor returns the address that signs input proofs.
func (r *Relayer) Coprocessor() common.Address {
	return crypto.PubkeyToAddress(r.coprocessor.PublicKey)
}

// KeyInfo returns what a client needs to encrypt inputs and verify responses.
// A locked KMS has no signer yet, which is reported as the zero address.
func (r *Relayer) KeyInfo(ctx context.Context) (*interfaces.KeyInfo, error) {
	signer, err := r.kms.SignerAddress()
	if err != nil && !errors.Is(err, interfaces.ErrKMSLocked) {
		return nil, err
	}

	return &interfaces.KeyInfo{
		ChainID:           r.cfg.ChainID,
		PublicKey:         json.RawMessage(r.keyJSON),
		PublicKeyID:       r.keyID,
		Coprocessors:      []common.Address{r.Coprocessor()},
		KMSSigner:         signer,
		VerifyingContract: r.cfg.VerifyingContract,
		RegistryContract:  r.cfg.RegistryContract,
	}, nil
}

// InputProof verifies every ciphertext of the request, stores it under its
// handle and signs an input proof covering all handles. Handles are returned
// in request order; the index byte of each handle is its request position.
func (r *Relayer) InputProof(ctx context.Context, req *interfaces.InputProofRequest) (*interfaces.InputProofResponse, error) {
	if req.ContractAddress == (common.Address{}) || req.UserAddress == (common.Address{}) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, interfaces.ErrZeroAddress)
	}
	if len(req.Ciphertexts) == 0 || len(req.Ciphertexts) > fhe.MaxInputValues {
		return nil, fmt.Errorf("%w: expected 1 to %d ciphertexts, got %d", ErrInvalidInput, fhe.MaxInputValues, len(req.Ciphertexts))
	}

	pc := fhe.ProofContext{
		User:     req.UserAddress,
		Contract: req.ContractAddress,
		ChainID:  r.cfg.ChainID,
	}

	handles := make([]interfaces.Handle, len(req.Ciphertexts))
	blobs := make([][]byte, len(req.Ciphertexts))
	for i, raw := range req.Ciphertexts {
		ct, err := fhe.UnmarshalCiphertext(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: %w", ErrInvalidInput, i, err)
		}
		if err := r.publicKey.Verify(ct, pc); err != nil {
			return nil, fmt.Errorf("%w: ciphertext %d: %w", ErrInvalidInput, i, err)
		}

		handles[i], err = fhe.DeriveHandle(ct, uint8(i), req.ContractAddress, req.UserAddress, r.cfg.ChainID)
		if err != nil {
			return nil, err
		}
		if blobs[i], err = ct.Marshal(); err != nil {
			return nil, err
		}
	}

	// Nothing is stored unless every ciphertext verified.
	for i, handle := range handles {
		if err := r.ciphertexts.Store(ctx, interfaces.ContentID(handle), blobs[i], interfaces.CiphertextType); err != nil {
			return nil, fmt.Errorf("failed to store ciphertext %s: %w", handle, err)
		}
	}

	proof, err := fhe.SignInputProof(handles, req.UserAddress, req.ContractAddress, r.cfg.ChainID, r.coprocessor)
	if err != nil {
		return nil, err
	}

	r.log.Debug("issued input proof",
		"user", req.UserAddress,
		"contract", req.ContractAddress,
		"handles", len(handles))

	return &interfaces.InputProofResponse{
		Handles:    handles,
		InputProof: proof.Bytes(),
	}, nil
}

// UserDecrypt forwards the request to the KMS.
func (r *Relayer) UserDecrypt(ctx context.Context, req *interfaces.UserDecryptRequest) (*interfaces.UserDecryptResponse, error) {
	return r.kms.UserDecrypt(ctx, req)
}
