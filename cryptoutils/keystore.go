package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/argon2"
)

const keystoreVersion = 1

// ErrWrongPassphrase is returned when a keystore cannot be opened with the given passphrase.
var ErrWrongPassphrase = errors.New("could not decrypt key with given passphrase")

// KDFParams are the Argon2id parameters used to stretch a passphrase.
type KDFParams struct {
	Salt    hexutil.Bytes `json:"salt"`
	Time    uint32        `json:"time"`
	Memory  uint32        `json:"memory"`
	Threads uint8         `json:"threads"`
}

// DefaultKDFParams follow the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
}

// Keystore is an account key encrypted with AES-256-GCM under an Argon2id
// derived key. The address is stored in the clear for lookup.
type Keystore struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	KDF        KDFParams      `json:"kdf"`
	Nonce      hexutil.Bytes  `json:"nonce"`
	Ciphertext hexutil.Bytes  `json:"ciphertext"`
}

// EncryptKey seals key under passphrase.
func EncryptKey(key *ecdsa.PrivateKey, passphrase []byte, params KDFParams) (*Keystore, error) {
	params.Salt = make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, params.Salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := keystoreAEAD(passphrase, params)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	return &Keystore{
		Version:    keystoreVersion,
		Address:    address,
		KDF:        params,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, crypto.FromECDSA(key), address.Bytes()),
	}, nil
}

// DecryptKey opens the keystore and checks the key against the stored address.
func (ks *Keystore) DecryptKey(passphrase []byte) (*ecdsa.PrivateKey, error) {
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", ks.Version)
	}

	aead, err := keystoreAEAD(passphrase, ks.KDF)
	if err != nil {
		return nil, err
	}
	if len(ks.Nonce) != aead.NonceSize() {
		return nil, errors.New("invalid keystore nonce")
	}

	raw, err := aead.Open(nil, ks.Nonce, ks.Ciphertext, ks.Address.Bytes())
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid key in keystore: %w", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != ks.Address {
		return nil, errors.New("keystore address does not match key")
	}
	return key, nil
}

func keystoreAEAD(passphrase []byte, params KDFParams) (cipher.AEAD, error) {
	if params.Time == 0 || params.Memory == 0 || params.Threads == 0 || len(params.Salt) == 0 {
		return nil, errors.New("invalid keystore KDF parameters")
	}

	derived := argon2.IDKey(passphrase, params.Salt, params.Time, params.Memory, params.Threads, 32)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// WriteKeystore encrypts key and writes it to path with owner-only permissions.
func WriteKeystore(path string, key *ecdsa.PrivateKey, passphrase []byte) (*Keystore, error) {
	ks, err := EncryptKey(key, passphrase, DefaultKDFParams)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write keystore: %w", err)
	}
	return ks, nil
}

// ReadKeystore loads and decrypts the keystore at path.
func ReadKeystore(path string, passphrase []byte) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	return ks.DecryptKey(passphrase)
}
