package registryhandler

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
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
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = uint64(31337)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type testEnv struct {
	srv      *httptest.Server
	contract *registry.Contract
	copro    *ecdsa.PrivateKey
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	copro, err := crypto.GenerateKey()
	require.NoError(t, err)
	verifier, err := fhe.NewInputVerifier(testChainID, []common.Address{crypto.PubkeyToAddress(copro.PublicKey)})
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	contract, err := registry.NewContract(state.NewMemoryStore(), verifier, registry.Config{
		Address: testContract,
		ChainID: testChainID,
		Clock:   func() time.Time { return time.Unix(1700000000, 0) },
	}, log)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewHandler(contract, nil, log).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, contract: contract, copro: copro}
}

// input encrypts one value for user the way the relayer would and returns
// its handle and the signed input proof.
func (e *testEnv) input(t *testing.T, user common.Address, build func(in *fhe.EncryptedInput)) (interfaces.Handle, []byte) {
	t.Helper()

	in := fhe.NewEncryptedInput(fhe.MustTestNetworkKey().Public(), testContract, user, testChainID)
	build(in)
	cts, err := in.Encrypt()
	require.NoError(t, err)
	require.Len(t, cts, 1)

	handle, err := fhe.DeriveHandle(cts[0], 0, testContract, user, testChainID)
	require.NoError(t, err)
	proof, err := fhe.SignInputProof([]interfaces.Handle{handle}, user, testContract, testChainID, e.copro)
	require.NoError(t, err)
	return handle, proof.Bytes()
}

func (e *testEnv) client(t *testing.T, key *ecdsa.PrivateKey) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), e.srv.URL, key, 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestRegistryOverHTTP(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	aliceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	bobKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	alice := env.client(t, aliceKey)
	bob := env.client(t, bobKey)

	var _ interfaces.EncryptedDBRegistry = alice
	assert.Equal(t, testContract, alice.ContractAddress())
	assert.Equal(t, testChainID, alice.ChainID())

	addrHandle, addrProof := env.input(t, alice.Caller(), func(in *fhe.EncryptedInput) { in.AddAddress(common.HexToAddress("0x1234")) })
	id, err := alice.CreateDatabase(ctx, "Vault A", addrHandle, addrProof)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	metadata, err := bob.GetDatabase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Vault A", metadata.Name)
	assert.Equal(t, alice.Caller(), metadata.Owner)

	stored, err := bob.GetEncryptedAddress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, addrHandle, stored)

	valueHandle, valueProof := env.input(t, alice.Caller(), func(in *fhe.EncryptedInput) { in.AddUint32(777) })
	index, err := alice.StoreEncryptedValue(ctx, id, valueHandle, addrHandle, valueProof)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	entry, err := alice.GetEntry(ctx, id, index)
	require.NoError(t, err)
	assert.Equal(t, valueHandle, entry.Handle)
	assert.Equal(t, alice.Caller(), entry.Submitter)

	err = bob.ShareEncryptedValue(ctx, id, index, bob.Caller())
	require.ErrorIs(t, err, interfaces.ErrNotOwner)

	require.NoError(t, alice.ShareEncryptedValue(ctx, id, index, bob.Caller()))
	require.NoError(t, alice.RefreshAddressAccess(ctx, id, bob.Caller()))

	allowed, err := env.contract.ACL().IsAllowed(ctx, valueHandle, bob.Caller())
	require.NoError(t, err)
	assert.True(t, allowed)

	owned, err := alice.GetOwnedDatabases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, owned)

	nonce, err := alice.Nonce(ctx, alice.Caller())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), nonce)

	events, err := bob.Events(ctx, state.EventFilter{DatabaseID: &id})
	require.NoError(t, err)
	kinds := make([]interfaces.EventKind, len(events))
	for i := range events {
		kinds[i] = events[i].Kind
	}
	assert.Equal(t, []interfaces.EventKind{
		interfaces.EventDatabaseCreated,
		interfaces.EventDatabaseEntryStored,
		interfaces.EventDatabaseEntryShared,
		interfaces.EventDatabaseAddressShared,
	}, kinds)

	info, err := bob.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.DatabaseCount)
	assert.Equal(t, uint64(4), info.BlockNumber)
}

func postTx(t *testing.T, url string, tx *SignedTransaction) *http.Response {
	t.Helper()
	body, err := json.Marshal(tx)
	require.NoError(t, err)
	resp, err := http.Post(url+TxPath, "application/json", strings.NewReader(string(body)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestTransactionRejections(t *testing.T) {
	env := setupTestServer(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := crypto.PubkeyToAddress(key.PublicKey)

	handle, proof := env.input(t, sender, func(in *fhe.EncryptedInput) { in.AddAddress(sender) })
	create := CreateDatabaseParams{Name: "Vault A", EncryptedAddress: handle, InputProof: proof}

	accepted, err := SignTransaction(key, testChainID, testContract, 0, registry.MethodCreateDatabase, create)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, postTx(t, env.srv.URL, accepted).StatusCode)

	forged := *accepted
	forged.Nonce = 1
	forged.From = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	otherChain, err := SignTransaction(key, testChainID+1, testContract, 1, registry.MethodCreateDatabase, create)
	require.NoError(t, err)
	unknown, err := SignTransaction(key, testChainID, testContract, 1, "selfDestruct", struct{}{})
	require.NoError(t, err)
	emptyName, err := SignTransaction(key, testChainID, testContract, 1, registry.MethodCreateDatabase, CreateDatabaseParams{EncryptedAddress: handle, InputProof: proof})
	require.NoError(t, err)
	badParams, err := SignTransaction(key, testChainID, testContract, 1, registry.MethodShareEncryptedValue, "not an object")
	require.NoError(t, err)

	tests := []struct {
		name   string
		tx     *SignedTransaction
		status int
	}{
		{"replayed nonce", accepted, http.StatusConflict},
		{"forged sender", &forged, http.StatusUnauthorized},
		{"signed for another chain", otherChain, http.StatusUnauthorized},
		{"unsupported method", unknown, http.StatusBadRequest},
		{"empty name", emptyName, http.StatusBadRequest},
		{"malformed params", badParams, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, postTx(t, env.srv.URL, tt.tx).StatusCode)
		})
	}

	// Only the first transaction was executed.
	count, err := env.contract.DatabaseCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
	nonce, err := env.contract.Nonce(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), nonce)
}

func TestReadRejections(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		err    error
	}{
		{"unknown database", BasePath + "/databases/7", http.StatusNotFound, interfaces.ErrUnknownDatabase},
		{"non numeric id", BasePath + "/databases/abc", http.StatusBadRequest, api.ErrMalformedRequest},
		{"entry of unknown database", BasePath + "/databases/0/entries/0", http.StatusNotFound, interfaces.ErrUnknownDatabase},
		{"invalid account", BasePath + "/owners/0x12/databases", http.StatusBadRequest, api.ErrMalformedRequest},
		{"invalid limit", BasePath + "/events?limit=-1", http.StatusBadRequest, api.ErrMalformedRequest},
	}

	client := api.NewClient(env.srv.URL, time.Second)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Do(context.Background(), http.MethodGet, tt.path, nil, nil)
			var reqErr *api.RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, tt.status, reqErr.StatusCode)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
