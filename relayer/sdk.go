package relayer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/kms"
)

const (
	// DefaultDurationDays is the validity of authorizations signed by Decrypt.
	DefaultDurationDays = 10

	// clockSkew backdates authorizations so a KMS running slightly behind accepts them.
	clockSkew = time.Minute
)

// ErrUnknownKMSSigner is returned when the relayer does not name the KMS
// signer, so a decryption response cannot be authenticated.
var ErrUnknownKMSSigner = errors.New("relayer reports no KMS signer")

// Session is a client's view of a relayer: the fetched key information and
// the parsed network public key.
type Session struct {
	relayer   interfaces.Relayer
	info      *interfaces.KeyInfo
	publicKey *fhe.PublicKey

	mu        sync.Mutex
	kmsSigner common.Address
}

// NewSession fetches key information from the relayer.
func NewSession(ctx context.Context, r interfaces.Relayer) (*Session, error) {
	info, err := r.KeyInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key info: %w", err)
	}

	var pk fhe.PublicKey
	if err := json.Unmarshal(info.PublicKey, &pk); err != nil {
		return nil, err
	}

	return &Session{relayer: r, info: info, publicKey: &pk, kmsSigner: info.KMSSigner}, nil
}

// signer returns the KMS signer, asking the relayer again when the session
// was created before the KMS was unlocked.
func (s *Session) signer(ctx context.Context) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kmsSigner != (common.Address{}) {
		return s.kmsSigner, nil
	}

	info, err := s.relayer.KeyInfo(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to refresh key info: %w", err)
	}
	if info.KMSSigner == (common.Address{}) {
		return common.Address{}, ErrUnknownKMSSigner
	}
	s.kmsSigner = info.KMSSigner
	return s.kmsSigner, nil
}

// Info returns the key information the session was created with.
func (s *Session) Info() *interfaces.KeyInfo {
	return s.info
}

// NewInput starts an encrypted input for user to submit to contract.
func (s *Session) NewInput(contract, user common.Address) *fhe.EncryptedInput {
	return fhe.NewEncryptedInput(s.publicKey, contract, user, s.info.ChainID)
}

// Encrypt encrypts the input locally and asks the relayer for handles and
// an input proof.
func (s *Session) Encrypt(ctx context.Context, in *fhe.EncryptedInput) (*interfaces.InputProofResponse, error) {
	cts, err := in.Encrypt()
	if err != nil {
		return nil, err
	}

	req := &interfaces.InputProofRequest{
		ContractAddress: in.Context().Contract,
		UserAddress:     in.Context().User,
		Ciphertexts:     make([]json.RawMessage, len(cts)),
	}
	for i, ct := range cts {
		if req.Ciphertexts[i], err = ct.Marshal(); err != nil {
			return nil, err
		}
	}

	resp, err := s.relayer.InputProof(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Handles) != len(cts) {
		return nil, fmt.Errorf("relayer returned %d handles for %d values", len(resp.Handles), len(cts))
	}
	return resp, nil
}

// Decrypt runs the user decryption ceremony for handles used by contract:
// it generates an ephemeral keypair, signs an authorization with key,
// verifies the KMS signature on the response and opens every result.
// Cleartexts are returned in handle order.
func (s *Session) Decrypt(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, now time.Time, handles ...interfaces.Handle) ([]*big.Int, error) {
	if len(handles) == 0 {
		return nil, errors.New("no handles to decrypt")
	}

	pub, priv, err := cryptoutils.RandomP256Keypair()
	if err != nil {
		return nil, err
	}

	user := crypto.PubkeyToAddress(key.PublicKey)
	auth := &cryptoutils.UserDecryptAuthorization{
		PublicKey:         pub,
		ContractAddresses: []common.Address{contract},
		StartTimestamp:    uint64(now.Add(-clockSkew).Unix()),
		DurationDays:      DefaultDurationDays,
	}
	sig, err := cryptoutils.SignUserDecryptAuthorization(key, s.info.ChainID, s.info.VerifyingContract, auth)
	if err != nil {
		return nil, err
	}

	req := &interfaces.UserDecryptRequest{
		UserAddress:       user,
		PublicKey:         string(pub),
		Signature:         sig,
		ContractAddresses: auth.ContractAddresses,
		StartTimestamp:    auth.StartTimestamp,
		DurationDays:      auth.DurationDays,
	}
	for _, h := range handles {
		req.HandleContractPairs = append(req.HandleContractPairs, interfaces.HandleContractPair{Handle: h, ContractAddress: contract})
	}

	resp, err := s.relayer.UserDecrypt(ctx, req)
	if err != nil {
		return nil, err
	}

	signer, err := s.signer(ctx)
	if err != nil {
		return nil, err
	}
	if err := kms.VerifyResponse(resp, user, signer); err != nil {
		return nil, err
	}

	if len(resp.Results) != len(handles) {
		return nil, fmt.Errorf("KMS returned %d results for %d handles", len(resp.Results), len(handles))
	}

	out := make([]*big.Int, len(handles))
	for i, result := range resp.Results {
		if result.Handle != handles[i] {
			return nil, fmt.Errorf("KMS result %d is for handle %s", i, result.Handle)
		}
		raw, err := cryptoutils.DecryptWithPrivateKey(priv, result.EncryptedValue, handles[i][:])
		if err != nil {
			return nil, fmt.Errorf("failed to open result %d: %w", i, err)
		}
		out[i] = new(big.Int).SetBytes(raw)
	}
	return out, nil
}

// DecryptUint32 decrypts a single euint32 handle.
func (s *Session) DecryptUint32(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, now time.Time, handle interfaces.Handle) (uint32, error) {
	if handle.Type() != interfaces.FheUint32 {
		return 0, fmt.Errorf("%w: handle is %s", interfaces.ErrInvalidHandleType, handle.Type())
	}
	values, err := s.Decrypt(ctx, key, contract, now, handle)
	if err != nil {
		return 0, err
	}
	return fhe.DecodeUint32(values[0])
}

// DecryptAddress decrypts a single eaddress handle.
func (s *Session) DecryptAddress(ctx context.Context, key *ecdsa.PrivateKey, contract common.Address, now time.Time, handle interfaces.Handle) (common.Address, error) {
	if handle.Type() != interfaces.FheAddress {
		return common.Address{}, fmt.Errorf("%w: handle is %s", interfaces.ErrInvalidHandleType, handle.Type())
	}
	values, err := s.Decrypt(ctx, key, contract, now, handle)
	if err != nil {
		return common.Address{}, err
	}
	return fhe.DecodeAddress(values[0])
}
