package flags

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runAccountKey(t *testing.T, args ...string) (*ecdsa.PrivateKey, error) {
	t.Helper()

	var key *ecdsa.PrivateKey
	app := &cli.App{
		Name:  "test",
		Flags: AccountFlags,
		Action: func(cCtx *cli.Context) (err error) {
			key, err = AccountKey(cCtx)
			return err
		},
	}
	err := app.Run(append([]string{"test"}, args...))
	return key, err
}

func TestAccountKey(t *testing.T) {
	want, err := crypto.GenerateKey()
	require.NoError(t, err)
	wantAddr := crypto.PubkeyToAddress(want.PublicKey)

	dir := t.TempDir()
	keystore := filepath.Join(dir, "account.json")
	_, err = cryptoutils.WriteKeystore(keystore, want, []byte("correct horse"))
	require.NoError(t, err)

	passFile := filepath.Join(dir, "pass")
	require.NoError(t, os.WriteFile(passFile, []byte("correct horse\n"), 0600))
	wrongFile := filepath.Join(dir, "wrong")
	require.NoError(t, os.WriteFile(wrongFile, []byte("battery staple"), 0600))

	t.Run("hex key", func(t *testing.T) {
		key, err := runAccountKey(t, "--private-key", hexutil.Encode(crypto.FromECDSA(want)))
		require.NoError(t, err)
		assert.Equal(t, wantAddr, crypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("keystore", func(t *testing.T) {
		key, err := runAccountKey(t, "--keystore", keystore, "--passphrase-file", passFile)
		require.NoError(t, err)
		assert.Equal(t, wantAddr, crypto.PubkeyToAddress(key.PublicKey))
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := runAccountKey(t, "--keystore", keystore, "--passphrase-file", wrongFile)
		require.Error(t, err)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := runAccountKey(t, "--private-key", "0xzz")
		require.Error(t, err)
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv("PRIVATE_KEY", "")
		t.Setenv("REGISTRY_KEYSTORE", "")
		key, err := runAccountKey(t)
		require.NoError(t, err)
		assert.Nil(t, key)
	})
}
