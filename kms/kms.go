package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// MaxDurationDays bounds the validity window of a user decryption authorization.
const MaxDurationDays = 365

var (
	ErrExpiredAuthorization  = errors.New("user decryption authorization is not valid now")
	ErrContractNotAuthorized = errors.New("contract not covered by user decryption authorization")
	ErrEmptyRequest          = errors.New("no handles to decrypt")
	ErrHandleMismatch        = errors.New("stored ciphertext does not match handle")
)

// Config binds a KMS to one chain and decryption domain.
type Config struct {
	ChainID uint64
	// VerifyingContract is the EIP-712 verifying contract of user decryption requests.
	VerifyingContract common.Address
	// Now defaults to time.Now.
	Now func() time.Time
}

// Dependencies are the services a KMS reads while decrypting.
type Dependencies struct {
	NetworkKey  *fhe.NetworkKey
	ACL         interfaces.ACL
	Ciphertexts interfaces.StorageBackend
}

func (d Dependencies) validate() error {
	if d.NetworkKey == nil || d.ACL == nil || d.Ciphertexts == nil {
		return errors.New("kms requires a network key, an ACL and a ciphertext store")
	}
	return nil
}

// KMS performs user decryption with the threshold network key. Responses are
// signed by a secp256k1 key derived from the master key, so a KMS restarted
// with the same master key keeps its signer address.
type KMS struct {
	deps   Dependencies
	cfg    Config
	signer *ecdsa.PrivateKey
	log    *slog.Logger
}

// NewKMS creates a KMS. The master key must be at least 32 bytes long.
func NewKMS(deps Dependencies, masterKey []byte, cfg Config, log *slog.Logger) (*KMS, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	signer, err := DeriveSignerKey(masterKey)
	if err != nil {
		return nil, err
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &KMS{
		deps:   deps,
		cfg:    cfg,
		signer: signer,
		log:    log,
	}, nil
}

// DeriveSignerKey derives the response-signing key from the master key.
func DeriveSignerKey(masterKey []byte) (*ecdsa.PrivateKey, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	seed := sha256.Sum256(append(slices.Clone(masterKey), "kms-signer"...))
	// A digest outside the curve order is astronomically unlikely; rehash if it happens.
	for counter := byte(0); counter < 8; counter++ {
		if key, err := crypto.ToECDSA(seed[:]); err == nil {
			return key, nil
		}
		seed = sha256.Sum256(append(seed[:], counter))
	}
	return nil, errors.New("could not derive signer key")
}

// SignerAddress returns the account that signs decryption responses.
func (k *KMS) SignerAddress() (common.Address, error) {
	return crypto.PubkeyToAddress(k.signer.PublicKey), nil
}

// UserDecrypt decrypts each requested handle and returns the cleartexts
// encrypted to the user's public key.
//
// The request must carry an EIP-712 signature by the user covering the
// public key and every contract of the request, valid at the current time,
// and both the user and the contract must be allowed on every handle.
func (k *KMS) UserDecrypt(ctx context.Context, req *interfaces.UserDecryptRequest) (*interfaces.UserDecryptResponse, error) {
	if err := k.authorize(ctx, req); err != nil {
		k.log.Debug("rejected user decryption", "user", req.UserAddress, "err", err)
		return nil, err
	}

	results := make([]interfaces.UserDecryptResult, 0, len(req.HandleContractPairs))
	for _, pair := range req.HandleContractPairs {
		cleartext, err := k.decrypt(ctx, pair.Handle)
		if err != nil {
			return nil, err
		}

		sealed, err := cryptoutils.EncryptWithPublicKey([]byte(req.PublicKey), common.LeftPadBytes(cleartext.Value.Bytes(), 32), pair.Handle[:])
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt result to user key: %w", err)
		}

		results = append(results, interfaces.UserDecryptResult{
			Handle:         pair.Handle,
			EncryptedValue: sealed,
		})
	}

	digest, err := ResponseDigest(req.UserAddress, results)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, k.signer)
	if err != nil {
		return nil, fmt.Errorf("failed to sign response: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	k.log.Info("user decryption served",
		"user", req.UserAddress,
		"handles", len(results))

	return &interfaces.UserDecryptResponse{
		Results:   results,
		Signer:    crypto.PubkeyToAddress(k.signer.PublicKey),
		Signature: sig,
	}, nil
}

func (k *KMS) authorize(ctx context.Context, req *interfaces.UserDecryptRequest) error {
	if len(req.HandleContractPairs) == 0 {
		return ErrEmptyRequest
	}

	if _, err := cryptoutils.NewPublicKeyPEM([]byte(req.PublicKey)); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}

	if req.DurationDays == 0 || req.DurationDays > MaxDurationDays {
		return fmt.Errorf("%w: %d days", interfaces.ErrAuthorizationRange, req.DurationDays)
	}

	now := uint64(k.cfg.Now().Unix())
	end := req.StartTimestamp + req.DurationDays*24*60*60
	if now < req.StartTimestamp || now >= end {
		return fmt.Errorf("%w: %w", interfaces.ErrAuthorizationRange, ErrExpiredAuthorization)
	}

	signer, err := cryptoutils.RecoverUserDecryptSigner(k.cfg.ChainID, k.cfg.VerifyingContract, &cryptoutils.UserDecryptAuthorization{
		PublicKey:         []byte(req.PublicKey),
		ContractAddresses: req.ContractAddresses,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
		ExtraData:         req.ExtraData,
	}, req.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}
	if signer != req.UserAddress {
		return fmt.Errorf("%w: signed by %s", interfaces.ErrInvalidSignature, signer.Hex())
	}

	for _, pair := range req.HandleContractPairs {
		if pair.ContractAddress == req.UserAddress {
			return fmt.Errorf("%w: user address used as contract", ErrContractNotAuthorized)
		}
		if !slices.Contains(req.ContractAddresses, pair.ContractAddress) {
			return fmt.Errorf("%w: %s", ErrContractNotAuthorized, pair.ContractAddress.Hex())
		}

		for _, account := range []common.Address{req.UserAddress, pair.ContractAddress} {
			allowed, err := k.deps.ACL.IsAllowed(ctx, pair.Handle, account)
			if err != nil {
				return fmt.Errorf("acl lookup failed: %w", err)
			}
			if !allowed {
				return fmt.Errorf("%w: %s on %s", interfaces.ErrACLNotAllowed, account.Hex(), pair.Handle)
			}
		}
	}

	return nil
}

func (k *KMS) decrypt(ctx context.Context, handle interfaces.Handle) (*fhe.Cleartext, error) {
	data, err := k.deps.Ciphertexts.Fetch(ctx, interfaces.ContentID(handle), interfaces.CiphertextType)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ciphertext %s: %w", handle, err)
	}

	ct, err := fhe.UnmarshalCiphertext(data)
	if err != nil {
		return nil, err
	}
	if ct.Type != handle.Type() || handle.ChainID() != k.cfg.ChainID {
		return nil, fmt.Errorf("%w: %s", ErrHandleMismatch, handle)
	}

	return k.deps.NetworkKey.Decrypt(ct)
}

var (
	addressType, _    = abi.NewType("address", "", nil)
	bytes32ArrType, _ = abi.NewType("bytes32[]", "", nil)
	bytesArrType, _   = abi.NewType("bytes[]", "", nil)
)

// ResponseDigest is the digest the KMS signs:
// keccak256(abi.encode(address user, bytes32[] handles, bytes[] encryptedValues)).
func ResponseDigest(user common.Address, results []interfaces.UserDecryptResult) ([]byte, error) {
	handles := make([][32]byte, len(results))
	values := make([][]byte, len(results))
	for i, r := range results {
		handles[i] = r.Handle
		values[i] = r.EncryptedValue
	}

	packed, err := abi.Arguments{
		{Type: addressType},
		{Type: bytes32ArrType},
		{Type: bytesArrType},
	}.Pack(user, handles, values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return crypto.Keccak256(packed), nil
}

// VerifyResponse checks that resp was signed by the expected KMS signer for user.
func VerifyResponse(resp *interfaces.UserDecryptResponse, user, signer common.Address) error {
	digest, err := ResponseDigest(user, resp.Results)
	if err != nil {
		return err
	}

	recovered, err := cryptoutils.RecoverDigestSigner(digest, resp.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}
	if recovered != signer {
		return fmt.Errorf("%w: response signed by %s", interfaces.ErrInvalidSignature, recovered.Hex())
	}
	return nil
}
