package kms

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = 31337

var (
	testContract  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testVerifying = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	testNow       = time.Unix(1_700_000_000, 0)
)

type grantKey struct {
	handle  interfaces.Handle
	account common.Address
}

// mapACL is an in-memory interfaces.ACL.
type mapACL map[grantKey]bool

func (a mapACL) IsAllowed(_ context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	return a[grantKey{handle, account}], nil
}

func (a mapACL) allow(handle interfaces.Handle, accounts ...common.Address) {
	for _, account := range accounts {
		a[grantKey{handle, account}] = true
	}
}

type fixture struct {
	deps  Dependencies
	acl   mapACL
	cfg   Config
	user  *ecdsa.PrivateKey
	owner common.Address
	log   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	user, err := crypto.GenerateKey()
	require.NoError(t, err)

	acl := mapACL{}
	return &fixture{
		deps: Dependencies{
			NetworkKey:  fhe.MustTestNetworkKey(),
			ACL:         acl,
			Ciphertexts: storage.NewMemoryBackend("kms-test"),
		},
		acl: acl,
		cfg: Config{
			ChainID:           testChainID,
			VerifyingContract: testVerifying,
			Now:               func() time.Time { return testNow },
		},
		user:  user,
		owner: crypto.PubkeyToAddress(user.PublicKey),
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// storeValue encrypts v for the fixture user and stores it under its handle.
func (f *fixture) storeValue(t *testing.T, v uint32) interfaces.Handle {
	t.Helper()

	pc := fhe.ProofContext{User: f.owner, Contract: testContract, ChainID: testChainID}
	ct, err := f.deps.NetworkKey.Public().EncryptUint32(v, pc)
	require.NoError(t, err)

	handle, err := fhe.DeriveHandle(ct, 0, testContract, f.owner, testChainID)
	require.NoError(t, err)

	data, err := ct.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.deps.Ciphertexts.Store(context.Background(), interfaces.ContentID(handle), data, interfaces.CiphertextType))
	return handle
}

// request builds a signed user decryption request and returns the matching private key PEM.
func (f *fixture) request(t *testing.T, handles ...interfaces.Handle) (*interfaces.UserDecryptRequest, cryptoutils.PrivateKeyPEM) {
	t.Helper()

	pub, priv, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)

	req := &interfaces.UserDecryptRequest{
		UserAddress:       f.owner,
		PublicKey:         string(pub),
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    uint64(testNow.Add(-time.Hour).Unix()),
		DurationDays:      1,
	}
	for _, h := range handles {
		req.HandleContractPairs = append(req.HandleContractPairs, interfaces.HandleContractPair{Handle: h, ContractAddress: testContract})
	}
	f.sign(t, req)
	return req, priv
}

func (f *fixture) sign(t *testing.T, req *interfaces.UserDecryptRequest) {
	t.Helper()

	sig, err := cryptoutils.SignUserDecryptAuthorization(f.user, testChainID, testVerifying, &cryptoutils.UserDecryptAuthorization{
		PublicKey:         []byte(req.PublicKey),
		ContractAddresses: req.ContractAddresses,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
		ExtraData:         req.ExtraData,
	})
	require.NoError(t, err)
	req.Signature = sig
}

func masterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func openResult(t *testing.T, priv cryptoutils.PrivateKeyPEM, result interfaces.UserDecryptResult) uint32 {
	t.Helper()

	raw, err := cryptoutils.DecryptWithPrivateKey(priv, result.EncryptedValue, result.Handle[:])
	require.NoError(t, err)
	require.Len(t, raw, 32)

	v, err := fhe.DecodeUint32(new(big.Int).SetBytes(raw))
	require.NoError(t, err)
	return v
}

func TestUserDecrypt(t *testing.T) {
	f := newFixture(t)
	k, err := NewKMS(f.deps, masterKey(t), f.cfg, f.log)
	require.NoError(t, err)

	h1 := f.storeValue(t, 777)
	h2 := f.storeValue(t, 42)
	f.acl.allow(h1, f.owner, testContract)
	f.acl.allow(h2, f.owner, testContract)

	req, priv := f.request(t, h1, h2)
	resp, err := k.UserDecrypt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.Equal(t, h1, resp.Results[0].Handle)
	assert.Equal(t, uint32(777), openResult(t, priv, resp.Results[0]))
	assert.Equal(t, uint32(42), openResult(t, priv, resp.Results[1]))

	// A result only opens under the handle it was sealed for.
	_, err = cryptoutils.DecryptWithPrivateKey(priv, resp.Results[0].EncryptedValue, h2[:])
	require.Error(t, err)
	_, err = cryptoutils.DecryptWithPrivateKey(priv, resp.Results[1].EncryptedValue, nil)
	require.Error(t, err)

	signer, err := k.SignerAddress()
	require.NoError(t, err)
	assert.Equal(t, signer, resp.Signer)
	require.NoError(t, VerifyResponse(resp, f.owner, signer))
	require.ErrorIs(t, VerifyResponse(resp, testContract, signer), interfaces.ErrInvalidSignature)
}

func TestUserDecryptRejections(t *testing.T) {
	f := newFixture(t)
	k, err := NewKMS(f.deps, masterKey(t), f.cfg, f.log)
	require.NoError(t, err)

	granted := f.storeValue(t, 1)
	f.acl.allow(granted, f.owner, testContract)

	userOnly := f.storeValue(t, 2)
	f.acl.allow(userOnly, f.owner)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(req *interfaces.UserDecryptRequest)
		wantErr error
	}{
		{
			name:    "no handles",
			mutate:  func(req *interfaces.UserDecryptRequest) { req.HandleContractPairs = nil },
			wantErr: ErrEmptyRequest,
		},
		{
			name: "not signed by user",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.UserAddress = crypto.PubkeyToAddress(other.PublicKey)
			},
			wantErr: interfaces.ErrInvalidSignature,
		},
		{
			name: "signature over different key",
			mutate: func(req *interfaces.UserDecryptRequest) {
				pub, _, err := cryptoutils.RandomP256Keypair()
				require.NoError(t, err)
				req.PublicKey = string(pub)
			},
			wantErr: interfaces.ErrInvalidSignature,
		},
		{
			name: "window in the future",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.StartTimestamp = uint64(testNow.Add(time.Hour).Unix())
				f.sign(t, req)
			},
			wantErr: ErrExpiredAuthorization,
		},
		{
			name: "window elapsed",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.StartTimestamp = uint64(testNow.Add(-48 * time.Hour).Unix())
				f.sign(t, req)
			},
			wantErr: ErrExpiredAuthorization,
		},
		{
			name: "duration too long",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.DurationDays = MaxDurationDays + 1
				f.sign(t, req)
			},
			wantErr: interfaces.ErrAuthorizationRange,
		},
		{
			name: "contract not in authorization",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.ContractAddresses = []common.Address{testVerifying}
				f.sign(t, req)
			},
			wantErr: ErrContractNotAuthorized,
		},
		{
			name: "contract not allowed on handle",
			mutate: func(req *interfaces.UserDecryptRequest) {
				req.HandleContractPairs[0].Handle = userOnly
			},
			wantErr: interfaces.ErrACLNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := f.request(t, granted)
			tt.mutate(req)

			_, err := k.UserDecrypt(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUserDecryptMissingCiphertext(t *testing.T) {
	f := newFixture(t)
	k, err := NewKMS(f.deps, masterKey(t), f.cfg, f.log)
	require.NoError(t, err)

	var handle interfaces.Handle
	handle[30] = byte(interfaces.FheUint32)
	f.acl.allow(handle, f.owner, testContract)

	req, _ := f.request(t, handle)
	_, err = k.UserDecrypt(context.Background(), req)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestDeriveSignerKey(t *testing.T) {
	key := masterKey(t)

	a, err := DeriveSignerKey(key)
	require.NoError(t, err)
	b, err := DeriveSignerKey(key)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(a.PublicKey), crypto.PubkeyToAddress(b.PublicKey))

	_, err = DeriveSignerKey(make([]byte, 16))
	require.Error(t, err)
}
