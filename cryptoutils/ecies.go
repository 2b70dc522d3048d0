package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const gcmNonceSize = 12

// EncryptWithPublicKey encrypts data using ECIES with the given P-256 public key PEM.
// A fresh ephemeral key is generated for each call; the ECDH shared secret is
// hashed with SHA-256 into an AES-256-GCM key.
//
// aad is authenticated as GCM additional data and must be passed unchanged to
// DecryptWithPrivateKey. It may be nil.
//
// Output format: [ephemeral key length (2 bytes)][ephemeral key][iv][ciphertext].
func EncryptWithPublicKey(publicKeyPEM []byte, data []byte, aad []byte) ([]byte, error) {
	pub, err := PublicKeyPEM(publicKeyPEM).ecdhKey()
	if err != nil {
		return nil, err
	}

	ephemeralKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	shared, err := ephemeralKey.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aesGCM, err := newGCM(shared)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	ephemeralPub := ephemeralKey.PublicKey().Bytes()

	out := make([]byte, 2, 2+len(ephemeralPub)+gcmNonceSize+len(data)+aesGCM.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(ephemeralPub)))
	out = append(out, ephemeralPub...)
	out = append(out, iv...)
	return aesGCM.Seal(out, iv, data, aad), nil
}

// DecryptWithPrivateKey decrypts data encrypted with EncryptWithPublicKey using
// the corresponding private key PEM (SEC 1 or PKCS#8) and the same aad.
func DecryptWithPrivateKey(privateKeyPEM []byte, encryptedData []byte, aad []byte) ([]byte, error) {
	priv, err := PrivateKeyPEM(privateKeyPEM).ecdhKey()
	if err != nil {
		return nil, err
	}

	if len(encryptedData) < 2 {
		return nil, errors.New("encrypted data too short")
	}

	keyLen := int(binary.BigEndian.Uint16(encryptedData[0:2]))
	if len(encryptedData) < 2+keyLen+gcmNonceSize {
		return nil, errors.New("encrypted data has invalid format")
	}

	ephemeralPub, err := ecdh.P256().NewPublicKey(encryptedData[2 : 2+keyLen])
	if err != nil {
		return nil, fmt.Errorf("failed to parse ephemeral public key: %w", err)
	}

	shared, err := priv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("key agreement failed: %w", err)
	}

	aesGCM, err := newGCM(shared)
	if err != nil {
		return nil, err
	}

	iv := encryptedData[2+keyLen : 2+keyLen+gcmNonceSize]
	plaintext, err := aesGCM.Open(nil, iv, encryptedData[2+keyLen+gcmNonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

func newGCM(sharedSecret []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(sharedSecret)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
