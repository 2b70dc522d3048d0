package relayerhandler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/relayer"
	"github.com/ruteri/encrypted-db-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = 31337

var (
	testContract  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testVerifying = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

type grant struct {
	handle  interfaces.Handle
	account common.Address
}

type mapACL map[grant]bool

func (a mapACL) IsAllowed(_ context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	return a[grant{handle, account}], nil
}

// setupTestServer serves a relayer backed by an in-memory store and a
// Shamir KMS that is unlocked when unlocked is set.
func setupTestServer(t *testing.T, unlocked bool) (*httptest.Server, mapACL) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryBackend("relayerhandler-test")
	acl := mapACL{}
	deps := kms.Dependencies{NetworkKey: fhe.MustTestNetworkKey(), ACL: acl, Ciphertexts: store}
	cfg := kms.Config{ChainID: testChainID, VerifyingContract: testVerifying}

	admins := make([][]byte, 2)
	for i := range admins {
		pub, _, err := cryptoutils.RandomP256Keypair()
		require.NoError(t, err)
		admins[i] = pub
	}
	shamirCfg := kms.ShamirConfig{Threshold: 2, AdminPubKeys: admins}

	var k *kms.ShamirKMS
	var err error
	if unlocked {
		master := make([]byte, 32)
		master[31] = 7
		k, _, err = kms.NewShamirKMS(master, shamirCfg, deps, cfg, log)
	} else {
		k, err = kms.NewShamirKMSRecovery(shamirCfg, deps, cfg, log)
	}
	require.NoError(t, err)

	coprocessor, err := crypto.GenerateKey()
	require.NoError(t, err)
	r, err := relayer.New(context.Background(), deps.NetworkKey.Public(), coprocessor, store, k, relayer.Config{
		ChainID:           testChainID,
		VerifyingContract: testVerifying,
		RegistryContract:  testContract,
	}, log)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(r, nil, log).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, acl
}

func TestHandleKeyInfo(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	info, err := NewClient(srv.URL, time.Second).KeyInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(testChainID), info.ChainID)
	assert.Equal(t, testContract, info.RegistryContract)
	assert.Equal(t, common.Address{}, info.KMSSigner)
	assert.Len(t, info.Coprocessors, 1)
	assert.NotEmpty(t, info.PublicKeyID)
}

func TestEncryptAndDecryptOverHTTP(t *testing.T) {
	srv, acl := setupTestServer(t, true)
	ctx := context.Background()

	user, err := crypto.GenerateKey()
	require.NoError(t, err)
	userAddr := crypto.PubkeyToAddress(user.PublicKey)

	session, err := relayer.NewSession(ctx, NewClient(srv.URL, 10*time.Second))
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, session.Info().KMSSigner)

	resp, err := session.Encrypt(ctx, session.NewInput(testContract, userAddr).AddUint32(777))
	require.NoError(t, err)
	require.Len(t, resp.Handles, 1)
	handle := resp.Handles[0]

	_, err = session.DecryptUint32(ctx, user, testContract, time.Now(), handle)
	require.ErrorIs(t, err, interfaces.ErrACLNotAllowed)
	var reqErr *api.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.StatusCode)

	acl[grant{handle, userAddr}] = true
	acl[grant{handle, testContract}] = true

	value, err := session.DecryptUint32(ctx, user, testContract, time.Now(), handle)
	require.NoError(t, err)
	assert.Equal(t, uint32(777), value)
}

func TestHandlerRejections(t *testing.T) {
	srv, _ := setupTestServer(t, false)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"malformed input proof body", InputProofPath, "{", http.StatusBadRequest},
		{"input proof without ciphertexts", InputProofPath, `{"contractAddress":"0x00000000000000000000000000000000000000aa","userAddress":"0x0000000000000000000000000000000000000b0b","ciphertexts":[]}`, http.StatusBadRequest},
		{"malformed decrypt body", UserDecryptPath, "[]", http.StatusBadRequest},
		{"locked kms", UserDecryptPath, `{"handleContractPairs":[],"userAddress":"0x0000000000000000000000000000000000000b0b"}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
