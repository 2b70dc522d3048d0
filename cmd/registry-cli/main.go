package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/encrypted-db-registry/api/registryhandler"
	"github.com/ruteri/encrypted-db-registry/api/relayerhandler"
	"github.com/ruteri/encrypted-db-registry/cmd/flags"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/relayer"
	"github.com/ruteri/encrypted-db-registry/state"
	"github.com/ruteri/encrypted-db-registry/tasks"
	"github.com/urfave/cli/v2"
)

var flagOnchain = &cli.BoolFlag{
	Name:  "onchain",
	Usage: "talk to a registry contract deployed at --registry-address over --rpc-addr instead of the node registry",
}
var flagRegistryAddress = &cli.StringFlag{
	Name:    "registry-address",
	Usage:   "registry contract address, defaults to the one the relayer announces",
	EnvVars: []string{"REGISTRY_ADDRESS"},
}

var flagID = &cli.Uint64Flag{Name: "id", Usage: "database identifier", Required: true}
var flagIndex = &cli.Uint64Flag{Name: "index", Usage: "entry index", Required: true}
var flagTo = &cli.StringFlag{Name: "to", Usage: "account to share with", Required: true}

func main() {
	app := &cli.App{
		Name:  "registry-cli",
		Usage: "Create, fill, share and decrypt encrypted databases",
		Flags: append([]cli.Flag{
			flags.NodeAddrFlag,
			flags.RpcAddrFlag,
			flagOnchain,
			flagRegistryAddress,
			flags.OutputFlag,
			flags.TimeoutFlag,
		}, flags.AccountFlags...),
		Commands: []*cli.Command{
			{
				Name:  "address",
				Usage: "print the registry address",
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, "registry", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.Address(), nil
					})
				},
			},
			{
				Name:  "create",
				Usage: "encrypt an address and create a database with it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "database name", Required: true},
					&cli.StringFlag{Name: "address", Usage: "address to encrypt, a random one by default"},
				},
				Action: func(cCtx *cli.Context) error {
					var address *common.Address
					if cCtx.IsSet("address") {
						parsed, err := parseAddress(cCtx.String("address"))
						if err != nil {
							return err
						}
						address = &parsed
					}
					return run(cCtx, "database created", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.Create(ctx, cCtx.String("name"), address)
					})
				},
			},
			{
				Name:  "decrypt-address",
				Usage: "decrypt the address of a database",
				Flags: []cli.Flag{flagID},
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, "address decrypted", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.DecryptAddress(ctx, cCtx.Uint64(flagID.Name))
					})
				},
			},
			{
				Name:  "add-value",
				Usage: "encrypt a value and append it to a database",
				Flags: []cli.Flag{
					flagID,
					&cli.StringFlag{Name: "value", Usage: "uint32 value", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					value, err := strconv.ParseUint(cCtx.String("value"), 10, 32)
					if err != nil {
						return fmt.Errorf("--value must be a uint32: %w", err)
					}
					return run(cCtx, "value stored", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.AddValue(ctx, cCtx.Uint64(flagID.Name), uint32(value))
					})
				},
			},
			{
				Name:  "decrypt-value",
				Usage: "decrypt one entry of a database",
				Flags: []cli.Flag{flagID, flagIndex},
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, "value decrypted", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.DecryptValue(ctx, cCtx.Uint64(flagID.Name), cCtx.Uint64(flagIndex.Name))
					})
				},
			},
			{
				Name:  "share-value",
				Usage: "allow an account to decrypt one entry",
				Flags: []cli.Flag{flagID, flagIndex, flagTo},
				Action: func(cCtx *cli.Context) error {
					target, err := parseAddress(cCtx.String(flagTo.Name))
					if err != nil {
						return err
					}
					return run(cCtx, "value shared", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.ShareValue(ctx, cCtx.Uint64(flagID.Name), cCtx.Uint64(flagIndex.Name), target)
					})
				},
			},
			{
				Name:  "share-address",
				Usage: "allow an account to decrypt and use the database address",
				Flags: []cli.Flag{flagID, flagTo},
				Action: func(cCtx *cli.Context) error {
					target, err := parseAddress(cCtx.String(flagTo.Name))
					if err != nil {
						return err
					}
					return run(cCtx, "address shared", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.ShareAddress(ctx, cCtx.Uint64(flagID.Name), target)
					})
				},
			},
			{
				Name:  "list",
				Usage: "list the databases you own",
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, "owned databases", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.List(ctx)
					})
				},
			},
			{
				Name:  "info",
				Usage: "show a database and its entries",
				Flags: []cli.Flag{flagID},
				Action: func(cCtx *cli.Context) error {
					return run(cCtx, "database", func(ctx context.Context, r *tasks.Runner) (any, error) {
						return r.Info(ctx, cCtx.Uint64(flagID.Name))
					})
				},
			},
			{
				Name:  "events",
				Usage: "print the registry event log of the node",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "from", Usage: "first event sequence number"},
					&cli.Uint64Flag{Name: "database", Usage: "only events of this database"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum number of events"},
				},
				Action: func(cCtx *cli.Context) error {
					filter := state.EventFilter{FromSeq: cCtx.Uint64("from"), Limit: cCtx.Int("limit")}
					if cCtx.IsSet("database") {
						id := cCtx.Uint64("database")
						filter.DatabaseID = &id
					}
					return events(cCtx, filter)
				},
			},
			{
				Name:  "keygen",
				Usage: "create an account key, in a keystore when --keystore is given",
				Action: func(cCtx *cli.Context) error {
					printer, err := flags.Printer(cCtx)
					if err != nil {
						return err
					}

					var passphrase []byte
					path := cCtx.String(flags.KeystoreFlag.Name)
					if path != "" {
						if passphrase, err = flags.Passphrase(cCtx, "New keystore passphrase: "); err != nil {
							return err
						}
					}

					result, err := tasks.Keygen(path, passphrase)
					if err != nil {
						printer.Fail(err)
						return cli.Exit("", 1)
					}
					return printer.Print("account created", result)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// run connects to the node, runs task and prints its result.
func run(cCtx *cli.Context, msg string, task func(ctx context.Context, r *tasks.Runner) (any, error)) error {
	printer, err := flags.Printer(cCtx)
	if err != nil {
		return err
	}

	result, err := func() (any, error) {
		runner, err := newRunner(cCtx)
		if err != nil {
			return nil, err
		}
		return task(cCtx.Context, runner)
	}()
	if err != nil {
		printer.Fail(err)
		return cli.Exit("", 1)
	}
	return printer.Print(msg, result)
}

func newRunner(cCtx *cli.Context) (*tasks.Runner, error) {
	ctx := cCtx.Context
	timeout := cCtx.Duration(flags.TimeoutFlag.Name)

	key, err := flags.AccountKey(cCtx)
	if err != nil {
		return nil, err
	}

	session, err := relayer.NewSession(ctx, relayerhandler.NewClient(cCtx.String(flags.NodeAddrFlag.Name), timeout))
	if err != nil {
		return nil, fmt.Errorf("could not reach relayer: %w", err)
	}

	var registryClient interfaces.EncryptedDBRegistry
	if cCtx.Bool(flagOnchain.Name) {
		registryClient, err = onchainRegistry(cCtx, key, session.Info().RegistryContract)
	} else {
		registryClient, err = registryhandler.NewClient(ctx, cCtx.String(flags.NodeAddrFlag.Name), key, timeout)
	}
	if err != nil {
		return nil, err
	}

	return tasks.NewRunner(registryClient, session, key), nil
}

func onchainRegistry(cCtx *cli.Context, key *ecdsa.PrivateKey, announced common.Address) (*registry.OnchainRegistryClient, error) {
	ctx := cCtx.Context

	address := announced
	if cCtx.IsSet(flagRegistryAddress.Name) {
		parsed, err := parseAddress(cCtx.String(flagRegistryAddress.Name))
		if err != nil {
			return nil, err
		}
		address = parsed
	}

	ethClient, err := ethclient.DialContext(ctx, cCtx.String(flags.RpcAddrFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain id: %w", err)
	}

	client, err := registry.NewOnchainRegistryClient(ethClient, ethClient, address, chainID.Uint64())
	if err != nil {
		return nil, err
	}
	if key != nil {
		auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, err
		}
		client.SetTransactOpts(auth)
	}
	return client, nil
}

func events(cCtx *cli.Context, filter state.EventFilter) error {
	printer, err := flags.Printer(cCtx)
	if err != nil {
		return err
	}
	if cCtx.Bool(flagOnchain.Name) {
		return errors.New("events are only served by a registry node")
	}

	client, err := registryhandler.NewClient(cCtx.Context, cCtx.String(flags.NodeAddrFlag.Name), nil, cCtx.Duration(flags.TimeoutFlag.Name))
	if err != nil {
		printer.Fail(err)
		return cli.Exit("", 1)
	}
	list, err := client.Events(cCtx.Context, filter)
	if err != nil {
		printer.Fail(err)
		return cli.Exit("", 1)
	}
	return printer.Print("events", tasks.EventList(list))
}
