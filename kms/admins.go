package kms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/encrypted-db-registry/cryptoutils"
)

// AdminMetadata is one administrator entry of an admins file.
type AdminMetadata struct {
	// ID is the admin fingerprint, see Fingerprint.
	ID     string `json:"id"`
	PubKey string `json:"pubkey"`
}

// AdminsConfig is the admins file shared by kms-admin and the node.
type AdminsConfig struct {
	Threshold int             `json:"threshold"`
	Admins    []AdminMetadata `json:"admins"`
}

// NewAdminsConfig builds an admins file from P-256 public keys in PEM format.
func NewAdminsConfig(threshold int, publicKeyPEMs ...[]byte) (*AdminsConfig, error) {
	config := &AdminsConfig{Threshold: threshold}
	for _, publicKeyPEM := range publicKeyPEMs {
		pub, err := cryptoutils.NewPublicKeyPEM(publicKeyPEM)
		if err != nil {
			return nil, err
		}
		config.Admins = append(config.Admins, AdminMetadata{ID: Fingerprint(pub), PubKey: string(pub)})
	}
	return config, config.validate()
}

// LoadAdminsConfig decodes and validates an admins file.
func LoadAdminsConfig(r io.Reader) (*AdminsConfig, error) {
	var config AdminsConfig
	if err := json.NewDecoder(r).Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode admins JSON: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *AdminsConfig) validate() error {
	if c.Threshold < 2 || c.Threshold > len(c.Admins) {
		return fmt.Errorf("threshold %d is invalid for %d admins", c.Threshold, len(c.Admins))
	}
	for _, admin := range c.Admins {
		if _, err := cryptoutils.NewPublicKeyPEM([]byte(admin.PubKey)); err != nil {
			return fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}
		if admin.ID != Fingerprint([]byte(admin.PubKey)) {
			return fmt.Errorf("admin %s: id does not match public key fingerprint", admin.ID)
		}
	}
	return nil
}

// ShamirConfig returns the config NewShamirKMS and NewShamirKMSRecovery take.
func (c *AdminsConfig) ShamirConfig() ShamirConfig {
	keys := make([][]byte, 0, len(c.Admins))
	for _, admin := range c.Admins {
		keys = append(keys, []byte(admin.PubKey))
	}
	return ShamirConfig{Threshold: c.Threshold, AdminPubKeys: keys}
}

// EncryptedShare is a master key share encrypted to one administrator.
type EncryptedShare struct {
	ShareIndex     int    `json:"share_index"`
	AdminID        string `json:"admin_id"`
	EncryptedShare []byte `json:"encrypted_share"`
}

// EncryptShares encrypts shares[i] to the i-th admin of config. shares must
// come from SplitMasterKey or NewShamirKMS with the same admin order.
func EncryptShares(config *AdminsConfig, shares [][]byte) ([]EncryptedShare, error) {
	if len(shares) != len(config.Admins) {
		return nil, errors.New("share count does not match admin count")
	}

	encrypted := make([]EncryptedShare, 0, len(shares))
	for i, admin := range config.Admins {
		ct, err := cryptoutils.EncryptWithPublicKey([]byte(admin.PubKey), shares[i], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt share for admin %s: %w", admin.ID, err)
		}
		encrypted = append(encrypted, EncryptedShare{ShareIndex: i, AdminID: admin.ID, EncryptedShare: ct})
	}
	return encrypted, nil
}

// DecryptShare opens an EncryptedShare with the admin's private key.
func DecryptShare(share EncryptedShare, privateKeyPEM []byte) ([]byte, error) {
	return cryptoutils.DecryptWithPrivateKey(privateKeyPEM, share.EncryptedShare, nil)
}
