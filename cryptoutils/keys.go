package cryptoutils

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// PublicKeyPEM is a PKIX-encoded P-256 public key in PEM format. Users hand
// one to the KMS so that decrypted values come back encrypted to them.
type PublicKeyPEM []byte

// NewPublicKeyPEM validates data as a P-256 public key PEM.
func NewPublicKeyPEM(data []byte) (PublicKeyPEM, error) {
	pub := PublicKeyPEM(data)
	if _, err := pub.ECDSA(); err != nil {
		return nil, err
	}
	return pub, nil
}

// Validate checks if the public key is properly formed.
func (pub PublicKeyPEM) Validate() error {
	_, err := pub.ECDSA()
	return err
}

// ECDSA parses the key.
func (pub PublicKeyPEM) ECDSA() (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pub)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("invalid public key: not in PEM format or not a public key")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key structure: %w", err)
	}

	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("invalid public key: not a P-256 key")
	}
	return key, nil
}

func (pub PublicKeyPEM) ecdhKey() (*ecdh.PublicKey, error) {
	key, err := pub.ECDSA()
	if err != nil {
		return nil, err
	}
	return key.ECDH()
}

// PrivateKeyPEM is a P-256 private key in PEM format, SEC 1 ("EC PRIVATE KEY")
// or PKCS#8 ("PRIVATE KEY").
type PrivateKeyPEM []byte

// NewPrivateKeyPEM validates data as a P-256 private key PEM.
func NewPrivateKeyPEM(data []byte) (PrivateKeyPEM, error) {
	priv := PrivateKeyPEM(data)
	if _, err := priv.ECDSA(); err != nil {
		return nil, err
	}
	return priv, nil
}

// ECDSA parses the key.
func (priv PrivateKeyPEM) ECDSA() (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(priv)
	if block == nil {
		return nil, errors.New("failed to decode private key PEM")
	}

	var parsed any
	var err error
	switch block.Type {
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unexpected PEM block type %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, errors.New("invalid private key: not a P-256 key")
	}
	return key, nil
}

// PublicKey returns the matching public key PEM.
func (priv PrivateKeyPEM) PublicKey() (PublicKeyPEM, error) {
	key, err := priv.ECDSA()
	if err != nil {
		return nil, err
	}
	return marshalPublicKey(&key.PublicKey)
}

func (priv PrivateKeyPEM) ecdhKey() (*ecdh.PrivateKey, error) {
	key, err := priv.ECDSA()
	if err != nil {
		return nil, err
	}
	return key.ECDH()
}

// RandomP256Keypair generates an ephemeral keypair for one decryption session.
func RandomP256Keypair() (PublicKeyPEM, PrivateKeyPEM, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	pub, err := marshalPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	return pub, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes}), nil
}

func marshalPublicKey(key *ecdsa.PublicKey) (PublicKeyPEM, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
