package adminhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allowAll struct{}

func (allowAll) IsAllowed(context.Context, interfaces.Handle, common.Address) (bool, error) {
	return true, nil
}

type testAdmin struct {
	pem []byte
	key *ecdsa.PrivateKey
}

func newTestAdmin(t *testing.T) testAdmin {
	t.Helper()
	pub, priv, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)
	key, err := priv.ECDSA()
	require.NoError(t, err)
	return testAdmin{pem: pub, key: key}
}

type fixture struct {
	srv      *httptest.Server
	handler  *Handler
	admins   []testAdmin
	shares   [][]byte
	expected common.Address
}

func setupTestServer(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := kms.Dependencies{
		NetworkKey:  fhe.MustTestNetworkKey(),
		ACL:         allowAll{},
		Ciphertexts: storage.NewMemoryBackend("adminhandler-test"),
	}
	cfg := kms.Config{ChainID: 31337}

	admins := []testAdmin{newTestAdmin(t), newTestAdmin(t), newTestAdmin(t)}
	config := kms.ShamirConfig{Threshold: 2, AdminPubKeys: [][]byte{admins[0].pem, admins[1].pem, admins[2].pem}}

	master := bytes.Repeat([]byte{0x42}, 32)
	genesis, shares, err := kms.NewShamirKMS(master, config, deps, cfg, log)
	require.NoError(t, err)
	expected, err := genesis.SignerAddress()
	require.NoError(t, err)

	recovering, err := kms.NewShamirKMSRecovery(config, deps, cfg, log)
	require.NoError(t, err)

	handler := NewHandler(recovering, nil, log)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, handler: handler, admins: admins, shares: shares, expected: expected}
}

func (f *fixture) client(i int) *Client {
	return NewClient(f.srv.URL, f.admins[i].pem, f.admins[i].key, 5*time.Second)
}

func TestUnlockFlow(t *testing.T) {
	f := setupTestServer(t)
	ctx := context.Background()

	status, err := f.client(0).Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Unlocked)
	assert.Equal(t, 2, status.Threshold)
	assert.Equal(t, 3, status.Admins)

	resp, err := f.client(0).SubmitShare(ctx, 0, f.shares[0])
	require.NoError(t, err)
	assert.False(t, resp.Unlocked)
	assert.Equal(t, 1, resp.ReceivedShares)

	_, err = f.client(0).SubmitShare(ctx, 0, f.shares[0])
	require.ErrorIs(t, err, kms.ErrDuplicateShare)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.handler.WaitForUnlock(waitCtx), context.DeadlineExceeded)

	resp, err = f.client(2).SubmitShare(ctx, 2, f.shares[2])
	require.NoError(t, err)
	assert.True(t, resp.Unlocked)
	assert.Equal(t, "KMS unlocked", resp.Message)
	assert.Equal(t, f.expected, resp.Signer)

	require.NoError(t, f.handler.WaitForUnlock(ctx))
	require.NoError(t, f.client(1).WaitForUnlock(ctx, time.Millisecond))

	_, err = f.client(1).SubmitShare(ctx, 1, f.shares[1])
	require.ErrorIs(t, err, kms.ErrAlreadyUnlocked)
	var reqErr *api.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)
}

func TestUnlockRejections(t *testing.T) {
	f := setupTestServer(t)
	ctx := context.Background()
	outsider := newTestAdmin(t)

	_, err := NewClient(f.srv.URL, outsider.pem, outsider.key, time.Second).SubmitShare(ctx, 0, f.shares[0])
	require.ErrorIs(t, err, kms.ErrUnknownAdmin)

	// Registered fingerprint, wrong signing key.
	_, err = NewClient(f.srv.URL, f.admins[0].pem, outsider.key, time.Second).SubmitShare(ctx, 0, f.shares[0])
	require.ErrorIs(t, err, kms.ErrInvalidShareSig)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"missing headers", nil, http.StatusForbidden},
		{"bad signature encoding", map[string]string{FingerprintHeader: kms.Fingerprint(f.admins[0].pem), SignatureHeader: "%%%"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, f.srv.URL+UnlockPath, bytes.NewReader([]byte(`{}`)))
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	status, err := f.client(0).Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.ReceivedShares)
}
