package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/api/adminhandler"
	"github.com/ruteri/encrypted-db-registry/api/registryhandler"
	"github.com/ruteri/encrypted-db-registry/api/relayerhandler"
	"github.com/ruteri/encrypted-db-registry/cmd/flags"
	"github.com/ruteri/encrypted-db-registry/fhe"
	"github.com/ruteri/encrypted-db-registry/httpserver"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/relayer"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "YAML config file, flags take precedence over it",
	EnvVars: []string{"REGISTRYD_CONFIG"},
}
var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var chainIDFlag = &cli.Uint64Flag{
	Name:  "chain-id",
	Value: 31337,
	Usage: "chain id bound into handles, transactions and decryption requests",
}
var registryAddressFlag = &cli.StringFlag{
	Name:  "registry-address",
	Usage: "address the registry contract answers as",
}
var verifyingContractFlag = &cli.StringFlag{
	Name:  "verifying-contract",
	Usage: "EIP-712 verifying contract of user decryption requests",
}
var stateDriverFlag = &cli.StringFlag{
	Name:  "state-driver",
	Value: "sqlite",
	Usage: "registry state store: memory, sqlite or postgres",
}
var stateDSNFlag = &cli.StringFlag{
	Name:    "state-dsn",
	Value:   "registry.db",
	Usage:   "sqlite file or postgres connection string",
	EnvVars: []string{"REGISTRYD_STATE_DSN"},
}
var storageFlag = &cli.StringSliceFlag{
	Name:  "storage",
	Usage: "ciphertext storage location URI (file://, s3://, ipfs://, vault://, memory://), repeatable",
}
var networkKeyFlag = &cli.StringFlag{
	Name:  "network-key-file",
	Value: "network-key.json",
	Usage: "threshold network key, dealt on first start",
}
var coprocessorKeyFlag = &cli.StringFlag{
	Name:  "coprocessor-key-file",
	Value: "coprocessor.key",
	Usage: "hex input proof signing key, generated on first start",
}
var adminsFileFlag = &cli.StringFlag{
	Name:  "kms-admins-file",
	Usage: "JSON admins file, the KMS stays locked until a threshold of them submit shares",
}
var devMasterKeyFlag = &cli.StringFlag{
	Name:    "kms-dev-master-key",
	Usage:   "hex master key for an unlocked development KMS",
	EnvVars: []string{"KMS_DEV_MASTER_KEY"},
}

var aclAddressFlag = &cli.StringFlag{
	Name:  "acl-address",
	Usage: "ACL contract of the chain given by --rpc-addr, consulted on user decryption",
}

var nodeFlags = []cli.Flag{
	configFlag,
	listenAddrFlag,
	chainIDFlag,
	registryAddressFlag,
	verifyingContractFlag,
	stateDriverFlag,
	stateDSNFlag,
	storageFlag,
	networkKeyFlag,
	coprocessorKeyFlag,
	adminsFileFlag,
	devMasterKeyFlag,
	flags.RpcAddrFlag,
	aclAddressFlag,
	flags.LogServiceFlagFn("registryd"),
}

func main() {
	app := &cli.App{
		Name:  "registryd",
		Usage: "Serve the encrypted database registry, relayer and KMS",
		Flags: append(nodeFlags, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := LoadConfig(cCtx.String(configFlag.Name))
			if err != nil {
				return err
			}
			if err := applyFlags(cCtx, cfg); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cCtx.Context)
			defer cancel()

			store, err := OpenState(ctx, cfg.State)
			if err != nil {
				logger.Error("Failed to open state", "driver", cfg.State.Driver, "err", err)
				return err
			}
			defer store.Close()

			ciphertexts, err := OpenStorage(cfg.Storage, logger)
			if err != nil {
				logger.Error("Failed to open ciphertext storage", "err", err)
				return err
			}

			networkKey, err := LoadOrGenerateNetworkKey(cfg.Network, logger)
			if err != nil {
				logger.Error("Failed to load network key", "err", err)
				return err
			}
			coprocessor, err := LoadOrGenerateCoprocessorKey(cfg.Keys.CoprocessorKeyFile, logger)
			if err != nil {
				return err
			}

			verifier, err := fhe.NewInputVerifier(cfg.ChainID, []common.Address{crypto.PubkeyToAddress(coprocessor.PublicKey)})
			if err != nil {
				return err
			}
			contract, err := registry.NewContract(store, verifier, registry.Config{
				Address: cfg.RegistryAddress,
				ChainID: cfg.ChainID,
			}, logger)
			if err != nil {
				return err
			}

			chainACL, closeChain, err := OpenChainACL(ctx, cfg)
			if err != nil {
				logger.Error("Failed to connect to chain ACL", "rpc", cfg.Chain.RPCURL, "err", err)
				return err
			}
			defer closeChain()

			kmsImpl, shamirKMS, err := SetupKMS(cfg.KMS, kms.Dependencies{
				NetworkKey:  networkKey,
				ACL:         DecryptionACL(contract.ACL(), chainACL),
				Ciphertexts: ciphertexts,
			}, kms.Config{
				ChainID:           cfg.ChainID,
				VerifyingContract: cfg.VerifyingContract,
			}, logger)
			if err != nil {
				logger.Error("Failed to initialize KMS", "err", err)
				return err
			}

			relayerImpl, err := relayer.New(ctx, networkKey.Public(), coprocessor, ciphertexts, kmsImpl, relayer.Config{
				ChainID:           cfg.ChainID,
				VerifyingContract: cfg.VerifyingContract,
				RegistryContract:  cfg.RegistryAddress,
			}, logger)
			if err != nil {
				return err
			}

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cfg.ListenAddr))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.Mount(
				registryhandler.NewHandler(contract, server.Metrics(), logger),
				relayerhandler.NewHandler(relayerImpl, server.Metrics(), logger),
			)

			if shamirKMS != nil {
				admin := adminhandler.NewHandler(shamirKMS, server.Metrics(), logger)
				server.Mount(admin)
				go func() {
					if err := admin.WaitForUnlock(ctx); err == nil {
						logger.Info("KMS unlocked, user decryption is available")
					}
				}()
			}

			server.RunInBackground()
			logger.Info("Registry node started",
				"registry", cfg.RegistryAddress,
				"chainId", cfg.ChainID,
				"coprocessor", relayerImpl.Coprocessor())

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
