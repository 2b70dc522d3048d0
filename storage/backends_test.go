package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackendRoundTrip(t *testing.T, backend interfaces.StorageBackend) {
	t.Helper()
	ctx := context.Background()

	id := interfaces.ComputeID([]byte("handle"))
	_, err := backend.Fetch(ctx, id, interfaces.CiphertextType)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, backend.Store(ctx, id, []byte("first"), interfaces.CiphertextType))
	data, err := backend.Fetch(ctx, id, interfaces.CiphertextType)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Content types are separate namespaces.
	_, err = backend.Fetch(ctx, id, interfaces.KeyMaterialType)
	require.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, backend.Store(ctx, id, []byte("second"), interfaces.CiphertextType))
	data, err = backend.Fetch(ctx, id, interfaces.CiphertextType)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	assert.True(t, backend.Available(ctx))
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)

	testBackendRoundTrip(t, backend)

	id := interfaces.ComputeID([]byte("handle"))
	_, err = os.Stat(filepath.Join(dir, "ciphertexts", id.String()))
	require.NoError(t, err)
	assert.Equal(t, "file://"+dir, backend.LocationURI())
}

func TestFileBackendUnavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	assert.False(t, backend.Available(context.Background()))
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend("")
	testBackendRoundTrip(t, backend)
	assert.Equal(t, "memory-default", backend.Name())

	ctx := context.Background()
	id := interfaces.ComputeID([]byte("copy"))
	data := []byte("abc")
	require.NoError(t, backend.Store(ctx, id, data, interfaces.CiphertextType))
	data[0] = 'x'

	fetched, err := backend.Fetch(ctx, id, interfaces.CiphertextType)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), fetched)
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	tests := []struct {
		name     string
		uri      string
		wantName string
		wantErr  bool
	}{
		{name: "file", uri: "file://" + dir, wantName: "file-" + filepath.Base(dir)},
		{name: "memory", uri: "memory://cache", wantName: "memory-cache"},
		{name: "s3", uri: "s3://AK:SK@bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000", wantName: "s3-bucket"},
		{name: "ipfs", uri: "ipfs://localhost:5001/registry", wantName: "ipfs-localhost-5001"},
		{name: "vault", uri: "vault://token@localhost:8200/secret/registry", wantName: "vault-secret-registry"},
		{name: "vault without path", uri: "vault://token@localhost:8200/secret", wantErr: true},
		{name: "ipfs bad timeout", uri: "ipfs://localhost:5001/?timeout=soon", wantErr: true},
		{name: "unsupported scheme", uri: "github://owner/repo", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation(tt.uri))
			if tt.wantErr {
				require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, backend.Name())
		})
	}
}

func TestStorageBackendFactory_CreateMultiBackend(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		"memory://a",
		"bogus://nothing",
		interfaces.StorageBackendLocation("file://" + t.TempDir()),
	})
	require.NoError(t, err)
	testBackendRoundTrip(t, multi)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"bogus://nothing"})
	require.Error(t, err)
}
