package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/cmd/flags"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Config is the node configuration. It is read from an optional YAML file
// and then overridden by any flag given on the command line.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	ChainID    uint64 `yaml:"chain_id"`
	// RegistryAddress is the address the registry contract answers as.
	RegistryAddress common.Address `yaml:"registry_address"`
	// VerifyingContract is the EIP-712 domain of user decryption requests.
	VerifyingContract common.Address `yaml:"verifying_contract"`

	State   StateConfig   `yaml:"state"`
	Storage []string      `yaml:"storage"`
	Keys    KeysConfig    `yaml:"keys"`
	KMS     KMSConfig     `yaml:"kms"`
	Network NetworkConfig `yaml:"network_key"`
	Chain   ChainConfig   `yaml:"chain"`
}

// ChainConfig points the KMS at the ACL of a deployed registry. When RPCURL
// is empty only grants made through this node are honored.
type ChainConfig struct {
	RPCURL     string         `yaml:"rpc_url"`
	ACLAddress common.Address `yaml:"acl_address"`
}

type StateConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type KeysConfig struct {
	// CoprocessorKeyFile holds the hex input proof signing key. It is
	// generated on first start.
	CoprocessorKeyFile string `yaml:"coprocessor_key_file"`
}

type NetworkConfig struct {
	// File holds the threshold network key. It is generated on first start.
	File      string `yaml:"file"`
	Bits      int    `yaml:"bits"`
	Parties   uint8  `yaml:"parties"`
	Threshold uint8  `yaml:"threshold"`
}

type KMSConfig struct {
	// AdminsFile locks the KMS until the admins listed there submit shares.
	AdminsFile string `yaml:"admins_file"`
	// DevMasterKey starts an unlocked KMS from a hex master key. Development only.
	DevMasterKey string `yaml:"dev_master_key"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:8080",
		ChainID:           31337,
		RegistryAddress:   common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		VerifyingContract: common.HexToAddress("0x5ffdaAB0373E62E2ea2944776209aEf29E631A64"),
		State:             StateConfig{Driver: "sqlite", DSN: "registry.db"},
		Storage:           []string{"file://./ciphertexts"},
		Keys:              KeysConfig{CoprocessorKeyFile: "coprocessor.key"},
		Network:           NetworkConfig{File: "network-key.json", Bits: 2048, Parties: 3, Threshold: 2},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields the node cannot start without.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return errors.New("chain_id must be set")
	}
	if c.RegistryAddress == (common.Address{}) || c.VerifyingContract == (common.Address{}) {
		return errors.New("registry_address and verifying_contract must be set")
	}
	switch c.State.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown state driver %q", c.State.Driver)
	}
	if len(c.Storage) == 0 {
		return errors.New("at least one storage location is required")
	}
	if c.KMS.AdminsFile == "" && c.KMS.DevMasterKey == "" {
		return errors.New("kms needs an admins_file or a dev_master_key")
	}
	if c.Chain.RPCURL != "" && c.Chain.ACLAddress == (common.Address{}) {
		return errors.New("chain.acl_address must be set together with chain.rpc_url")
	}
	return nil
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cCtx *cli.Context, cfg *Config) error {
	if cCtx.IsSet(listenAddrFlag.Name) {
		cfg.ListenAddr = cCtx.String(listenAddrFlag.Name)
	}
	if cCtx.IsSet(chainIDFlag.Name) {
		cfg.ChainID = cCtx.Uint64(chainIDFlag.Name)
	}
	for flag, target := range map[string]*common.Address{
		registryAddressFlag.Name:   &cfg.RegistryAddress,
		verifyingContractFlag.Name: &cfg.VerifyingContract,
		aclAddressFlag.Name:        &cfg.Chain.ACLAddress,
	} {
		if !cCtx.IsSet(flag) {
			continue
		}
		value := cCtx.String(flag)
		if !common.IsHexAddress(value) {
			return fmt.Errorf("--%s: invalid address %q", flag, value)
		}
		*target = common.HexToAddress(value)
	}
	if cCtx.IsSet(flags.RpcAddrFlag.Name) {
		cfg.Chain.RPCURL = cCtx.String(flags.RpcAddrFlag.Name)
	}
	if cCtx.IsSet(stateDriverFlag.Name) {
		cfg.State.Driver = cCtx.String(stateDriverFlag.Name)
	}
	if cCtx.IsSet(stateDSNFlag.Name) {
		cfg.State.DSN = cCtx.String(stateDSNFlag.Name)
	}
	if cCtx.IsSet(storageFlag.Name) {
		cfg.Storage = cCtx.StringSlice(storageFlag.Name)
	}
	if cCtx.IsSet(networkKeyFlag.Name) {
		cfg.Network.File = cCtx.String(networkKeyFlag.Name)
	}
	if cCtx.IsSet(coprocessorKeyFlag.Name) {
		cfg.Keys.CoprocessorKeyFile = cCtx.String(coprocessorKeyFlag.Name)
	}
	if cCtx.IsSet(adminsFileFlag.Name) {
		cfg.KMS.AdminsFile = cCtx.String(adminsFileFlag.Name)
	}
	if cCtx.IsSet(devMasterKeyFlag.Name) {
		cfg.KMS.DevMasterKey = cCtx.String(devMasterKeyFlag.Name)
	}
	return cfg.Validate()
}
