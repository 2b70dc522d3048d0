package kms

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

var (
	ErrAlreadyUnlocked = errors.New("KMS is already unlocked")
	ErrUnknownAdmin    = errors.New("unregistered admin public key")
	ErrInvalidShareSig = errors.New("invalid share signature")
	ErrDuplicateShare  = errors.New("share already submitted by this admin")
)

// ShamirKMS keeps the KMS master key split among administrators with
// Shamir's Secret Sharing. Until a threshold of admin-signed shares has been
// submitted the master key is unknown and every decryption is refused with
// interfaces.ErrKMSLocked.
//
// The master key is never stored in persistent storage. After reconstruction
// it exists only in memory, inside the unlocked KMS.
type ShamirKMS struct {
	mu             sync.RWMutex
	unlocked       *KMS
	threshold      int
	receivedShares map[string][]byte // admin fingerprint -> share

	adminPubKeys map[string]cryptoutils.PublicKeyPEM

	deps Dependencies
	cfg  Config
	log  *slog.Logger
}

// ShamirConfig contains configuration parameters for creating a ShamirKMS instance.
type ShamirConfig struct {
	// Threshold is the minimum number of shares required to reconstruct the master key
	Threshold int
	// AdminPubKeys is the list of authorized administrator P-256 public keys in PEM format
	AdminPubKeys [][]byte
}

// ShamirStatus reports unlock progress.
type ShamirStatus struct {
	Unlocked       bool           `json:"unlocked"`
	Threshold      int            `json:"threshold"`
	ReceivedShares int            `json:"receivedShares"`
	Admins         int            `json:"admins"`
	Signer         common.Address `json:"signer"`
}

func newShamirKMS(config ShamirConfig, deps Dependencies, cfg Config, log *slog.Logger) (*ShamirKMS, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if config.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(config.AdminPubKeys) < config.Threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	k := &ShamirKMS{
		threshold:      config.Threshold,
		receivedShares: make(map[string][]byte),
		adminPubKeys:   make(map[string]cryptoutils.PublicKeyPEM),
		deps:           deps,
		cfg:            cfg,
		log:            log,
	}

	for _, publicKeyPEM := range config.AdminPubKeys {
		pub, err := cryptoutils.NewPublicKeyPEM(publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("invalid admin pubkey %q: %w", publicKeyPEM, err)
		}
		k.adminPubKeys[Fingerprint(pub)] = pub
	}
	if len(k.adminPubKeys) != len(config.AdminPubKeys) {
		return nil, errors.New("duplicate admin public keys")
	}

	return k, nil
}

// NewShamirKMS splits masterKey into one share per admin, in AdminPubKeys
// order, and returns a KMS that is already unlocked. The caller must
// distribute the shares and erase the master key.
func NewShamirKMS(masterKey []byte, config ShamirConfig, deps Dependencies, cfg Config, log *slog.Logger) (*ShamirKMS, [][]byte, error) {
	k, err := newShamirKMS(config, deps, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	shares, err := SplitMasterKey(masterKey, len(config.AdminPubKeys), config.Threshold)
	if err != nil {
		return nil, nil, err
	}

	if k.unlocked, err = NewKMS(deps, masterKey, cfg, log); err != nil {
		return nil, nil, err
	}

	return k, shares, nil
}

// NewShamirKMSRecovery creates a locked ShamirKMS that waits for admin shares.
func NewShamirKMSRecovery(config ShamirConfig, deps Dependencies, cfg Config, log *slog.Logger) (*ShamirKMS, error) {
	return newShamirKMS(config, deps, cfg, log)
}

// SplitMasterKey splits a master key into parts shares, threshold of which reconstruct it.
func SplitMasterKey(masterKey []byte, parts, threshold int) ([][]byte, error) {
	if len(masterKey) < 32 {
		return nil, errors.New("master key must be at least 32 bytes")
	}

	shares, err := shamir.Split(masterKey, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}
	return shares, nil
}

// Fingerprint identifies an administrator by the sha256 of its public key PEM.
func Fingerprint(publicKeyPEM []byte) string {
	sum := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(sum[:])
}

// Admin returns the registered administrator key with the given fingerprint.
func (k *ShamirKMS) Admin(fingerprint string) (cryptoutils.PublicKeyPEM, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, found := k.adminPubKeys[fingerprint]
	return pub, found
}

// ShareDigest is the digest an administrator signs when submitting a share.
func ShareDigest(shareIndex int, share []byte) []byte {
	h := sha256.New()
	h.Write([]byte("kms-share"))
	_ = binary.Write(h, binary.BigEndian, uint32(shareIndex))
	h.Write(share)
	return h.Sum(nil)
}

// SignShare signs a share with an administrator's private key.
func SignShare(shareIndex int, share []byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {
	return ecdsa.SignASN1(rand.Reader, privateKey, ShareDigest(shareIndex, share))
}

// SubmitShare records a share signed by a registered administrator. Once the
// threshold is reached the master key is reconstructed and the KMS unlocks.
func (k *ShamirKMS) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.unlocked != nil {
		return ErrAlreadyUnlocked
	}

	fp := Fingerprint(adminPubKeyPEM)
	admin, found := k.adminPubKeys[fp]
	if !found || !bytes.Equal(admin, adminPubKeyPEM) {
		return ErrUnknownAdmin
	}

	if _, submitted := k.receivedShares[fp]; submitted {
		return ErrDuplicateShare
	}

	pub, err := admin.ECDSA()
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(pub, ShareDigest(shareIndex, share), signature) {
		return ErrInvalidShareSig
	}

	k.receivedShares[fp] = bytes.Clone(share)
	k.log.Info("received master key share",
		slog.Int("received", len(k.receivedShares)),
		slog.Int("threshold", k.threshold))

	return k.tryReconstruct()
}

// tryReconstruct combines the received shares once there are enough of them.
// A failed combination keeps the KMS locked and discards the shares so that
// administrators can start over.
func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}
	defer k.wipeShares()

	masterKey, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct master key: %w", err)
	}
	defer wipeBytes(masterKey)

	unlocked, err := NewKMS(k.deps, masterKey, k.cfg, k.log)
	if err != nil {
		return fmt.Errorf("failed to start KMS with reconstructed key: %w", err)
	}
	k.unlocked = unlocked

	signer, _ := unlocked.SignerAddress()
	k.log.Info("KMS unlocked", "signer", signer)
	return nil
}

func (k *ShamirKMS) wipeShares() {
	for fp := range k.receivedShares {
		wipeBytes(k.receivedShares[fp])
	}
	k.receivedShares = make(map[string][]byte)
}

// IsUnlocked returns whether the master key has been reconstructed.
func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.unlocked != nil
}

// Status reports unlock progress.
func (k *ShamirKMS) Status() ShamirStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()

	status := ShamirStatus{
		Unlocked:       k.unlocked != nil,
		Threshold:      k.threshold,
		ReceivedShares: len(k.receivedShares),
		Admins:         len(k.adminPubKeys),
	}
	if k.unlocked != nil {
		status.Signer, _ = k.unlocked.SignerAddress()
	}
	return status
}

func (k *ShamirKMS) kms() (*KMS, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.unlocked == nil {
		return nil, interfaces.ErrKMSLocked
	}
	return k.unlocked, nil
}

// UserDecrypt delegates to the unlocked KMS.
func (k *ShamirKMS) UserDecrypt(ctx context.Context, req *interfaces.UserDecryptRequest) (*interfaces.UserDecryptResponse, error) {
	unlocked, err := k.kms()
	if err != nil {
		return nil, err
	}
	return unlocked.UserDecrypt(ctx, req)
}

// SignerAddress returns the response signer, once unlocked.
func (k *ShamirKMS) SignerAddress() (common.Address, error) {
	unlocked, err := k.kms()
	if err != nil {
		return common.Address{}, err
	}
	return unlocked.SignerAddress()
}

func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
