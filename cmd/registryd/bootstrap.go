package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/encrypted-db-registry/acl"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/state"
	"github.com/ruteri/encrypted-db-registry/storage"
)

// OpenState opens the configured registry state store.
func OpenState(ctx context.Context, cfg StateConfig) (state.Store, error) {
	switch cfg.Driver {
	case "memory":
		return state.NewMemoryStore(), nil
	case "sqlite":
		return state.OpenSQLite(ctx, cfg.DSN)
	case "postgres":
		return state.OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}
}

// OpenChainACL connects to the ACL contract of the configured chain. It
// returns a nil ACL when no RPC endpoint is configured.
func OpenChainACL(ctx context.Context, cfg *Config) (interfaces.ACL, func(), error) {
	if cfg.Chain.RPCURL == "" {
		return nil, func() {}, nil
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", cfg.Chain.RPCURL, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, nil, fmt.Errorf("rpc serves chain %d, node is configured for %d", chainID.Uint64(), cfg.ChainID)
	}

	onchain, err := registry.NewOnchainACL(client, cfg.Chain.ACLAddress)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return onchain, client.Close, nil
}

// DecryptionACL is the ACL the KMS checks: grants made through this node,
// plus those of the chain when one is configured.
func DecryptionACL(local, chain interfaces.ACL) interfaces.ACL {
	if chain == nil {
		return local
	}
	return acl.Union{local, chain}
}

// OpenStorage builds the ciphertext store. Several locations are combined
// into a multi-backend that writes to all of them.
func OpenStorage(locations []string, log *slog.Logger) (interfaces.StorageBackend, error) {
	factory := storage.NewStorageBackendFactory(log)
	uris := make([]interfaces.StorageBackendLocation, 0, len(locations))
	for _, location := range locations {
		uris = append(uris, interfaces.StorageBackendLocation(location))
	}
	if len(uris) == 1 {
		return factory.StorageBackendFor(uris[0])
	}
	return factory.CreateMultiBackend(uris)
}

// LoadOrGenerateNetworkKey reads the network key, dealing and saving a new
// one when the file does not exist.
func LoadOrGenerateNetworkKey(cfg NetworkConfig, log *slog.Logger) (*fhe.NetworkKey, error) {
	key, err := fhe.LoadNetworkKey(cfg.File)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Warn("Network key not found, dealing a new one", "file", cfg.File, "bits", cfg.Bits)
	key, err = fhe.GenerateNetworkKey(cfg.Bits, cfg.Parties, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if err := key.Save(cfg.File); err != nil {
		return nil, fmt.Errorf("failed to save network key: %w", err)
	}
	return key, nil
}

// LoadOrGenerateCoprocessorKey reads the hex coprocessor key, generating and
// saving one when the file does not exist.
func LoadOrGenerateCoprocessorKey(path string, log *slog.Logger) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load coprocessor key: %w", err)
	}

	if key, err = crypto.GenerateKey(); err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("failed to save coprocessor key: %w", err)
	}
	log.Warn("Generated a new coprocessor key", "file", path, "address", crypto.PubkeyToAddress(key.PublicKey))
	return key, nil
}

// SetupKMS returns the KMS the relayer decrypts with. With an admins file it
// is a locked ShamirKMS, also returned so its admin API can be mounted.
func SetupKMS(cfg KMSConfig, deps kms.Dependencies, kmsCfg kms.Config, log *slog.Logger) (interfaces.KMS, *kms.ShamirKMS, error) {
	if cfg.AdminsFile != "" {
		f, err := os.Open(cfg.AdminsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open admins file: %w", err)
		}
		defer f.Close()

		admins, err := kms.LoadAdminsConfig(f)
		if err != nil {
			return nil, nil, err
		}

		shamirKMS, err := kms.NewShamirKMSRecovery(admins.ShamirConfig(), deps, kmsCfg, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("KMS is locked until admins submit their shares", "threshold", admins.Threshold, "admins", len(admins.Admins))
		return shamirKMS, shamirKMS, nil
	}

	masterKey, err := hex.DecodeString(strings.TrimPrefix(cfg.DevMasterKey, "0x"))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid dev master key: %w", err)
	}
	log.Warn("Using a development master key, the KMS is unlocked")
	k, err := kms.NewKMS(deps, masterKey, kmsCfg, log)
	if err != nil {
		return nil, nil, err
	}
	return k, nil, nil
}
