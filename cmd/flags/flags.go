package flags

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/ruteri/encrypted-db-registry/common"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/httpserver"
	"github.com/ruteri/encrypted-db-registry/tasks"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// Passphrase returns the keystore passphrase from --passphrase-file, or
// prompts for it on the terminal.
func Passphrase(cCtx *cli.Context, prompt string) ([]byte, error) {
	if path := cCtx.String(PassphraseFileFlag.Name); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase file: %w", err)
		}
		return []byte(strings.TrimRight(string(raw), "\r\n")), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("no terminal to read the passphrase from, use --passphrase-file")
	}
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}

// AccountKey loads the account key from --private-key or --keystore. It
// returns nil without error when neither is set.
func AccountKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	if hexKey := cCtx.String(PrivateKeyFlag.Name); hexKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		return key, nil
	}

	path := cCtx.String(KeystoreFlag.Name)
	if path == "" {
		return nil, nil
	}
	passphrase, err := Passphrase(cCtx, "Keystore passphrase: ")
	if err != nil {
		return nil, err
	}
	return cryptoutils.ReadKeystore(path, passphrase)
}

// Printer returns a tasks printer for --output writing to stdout.
func Printer(cCtx *cli.Context) (*tasks.Printer, error) {
	format, err := tasks.ParseFormat(cCtx.String(OutputFlag.Name))
	if err != nil {
		return nil, err
	}
	return tasks.NewPrinter(cCtx.App.Writer, format), nil
}

var RpcAddrFlag = &cli.StringFlag{
	Name:    "rpc-addr",
	Value:   "http://127.0.0.1:8545",
	Usage:   "address to connect to RPC",
	EnvVars: []string{"RPC_ADDR"},
}

var NodeAddrFlag = &cli.StringFlag{
	Name:    "node",
	Value:   "http://127.0.0.1:8080",
	Usage:   "registry node base URL",
	EnvVars: []string{"REGISTRY_NODE"},
}

var PrivateKeyFlag = &cli.StringFlag{
	Name:    "private-key",
	Usage:   "hex-encoded secp256k1 account key",
	EnvVars: []string{"PRIVATE_KEY"},
}
var KeystoreFlag = &cli.StringFlag{
	Name:    "keystore",
	Usage:   "path to an encrypted account keystore",
	EnvVars: []string{"REGISTRY_KEYSTORE"},
}
var PassphraseFileFlag = &cli.StringFlag{
	Name:  "passphrase-file",
	Usage: "read the keystore passphrase from a file instead of the terminal",
}

var OutputFlag = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"o"},
	Value:   string(tasks.FormatTable),
	Usage:   "output format: table, json or yaml",
}

var TimeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: 30 * time.Second,
	Usage: "timeout for each request to the node",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var AccountFlags = []cli.Flag{
	PrivateKeyFlag,
	KeystoreFlag,
	PassphraseFileFlag,
}
