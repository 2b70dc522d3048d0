package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/api/adminhandler"
	"github.com/ruteri/encrypted-db-registry/cmd/flags"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/kms"
	"github.com/urfave/cli/v2"
)

var flagAdminPrivkey = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "Path to admin private key",
}
var flagAdminPubkey = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "Path to admin public key",
}
var flagShamirAdmins = &cli.StringFlag{
	Name:  "shamir-admins-file",
	Value: "shamir-admins.json",
	Usage: "Path to the admins file shared with the node",
}
var flagShamirShares = &cli.StringFlag{
	Name:  "shamir-shares-file",
	Value: "shamir-shares.json",
	Usage: "Path to the encrypted shares file",
}
var flagShamirThreshold = &cli.IntFlag{
	Name:  "shamir-threshold",
	Value: 2,
	Usage: "Number of shares needed to unlock",
}
var flagWait = &cli.DurationFlag{
	Name:  "wait",
	Usage: "after submitting, wait this long for the KMS to unlock",
}

func main() {
	app := &cli.App{
		Name:           "kms-admin",
		Usage:          "Manage the master key shares of a registry node KMS",
		DefaultCommand: "status",
		Flags:          []cli.Flag{flags.NodeAddrFlag, flags.OutputFlag, flags.TimeoutFlag},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show KMS unlock progress",
				Action: func(cCtx *cli.Context) error {
					printer, err := flags.Printer(cCtx)
					if err != nil {
						return err
					}
					client := adminhandler.NewClient(cCtx.String(flags.NodeAddrFlag.Name), nil, nil, cCtx.Duration(flags.TimeoutFlag.Name))
					status, err := client.Status(cCtx.Context)
					if err != nil {
						printer.Fail(err)
						return cli.Exit("", 1)
					}
					return printer.Print("kms status", (*statusTable)(status))
				},
			},
			{
				Name:  "generate-admin",
				Usage: "generate an admin P-256 key pair",
				Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey},
				Action: func(cCtx *cli.Context) error {
					pub, priv, err := cryptoutils.RandomP256Keypair()
					if err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPrivkey.Name), priv, 0600); err != nil {
						return err
					}
					if err := os.WriteFile(cCtx.String(flagAdminPubkey.Name), pub, 0644); err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "admin %s\n", kms.Fingerprint(pub))
					return nil
				},
			},
			{
				Name:  "generate-shamir-config",
				Usage: "write the admins file from admin public keys",
				Flags: []cli.Flag{
					flagShamirAdmins,
					flagShamirThreshold,
					&cli.StringSliceFlag{Name: "admin-pubkey-files", Required: true},
				},
				Action: func(cCtx *cli.Context) error {
					var pems [][]byte
					for _, path := range cCtx.StringSlice("admin-pubkey-files") {
						pem, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						pems = append(pems, pem)
					}

					config, err := kms.NewAdminsConfig(cCtx.Int(flagShamirThreshold.Name), pems...)
					if err != nil {
						return err
					}
					return writeJSON(cCtx.String(flagShamirAdmins.Name), config)
				},
			},
			{
				Name:  "split",
				Usage: "generate a master key and encrypt one share of it to each admin",
				Flags: []cli.Flag{flagShamirAdmins, flagShamirShares},
				Action: func(cCtx *cli.Context) error {
					f, err := os.Open(cCtx.String(flagShamirAdmins.Name))
					if err != nil {
						return err
					}
					defer f.Close()
					admins, err := kms.LoadAdminsConfig(f)
					if err != nil {
						return err
					}

					shares, signer, err := splitNewMasterKey(admins)
					if err != nil {
						return err
					}
					if err := writeJSON(cCtx.String(flagShamirShares.Name), shares); err != nil {
						return err
					}
					fmt.Fprintf(cCtx.App.Writer, "KMS signer %s, %d shares, threshold %d\n", signer.Hex(), len(shares), admins.Threshold)
					return nil
				},
			},
			{
				Name:  "submit",
				Usage: "decrypt your share and submit it to the node",
				Flags: []cli.Flag{flagAdminPrivkey, flagAdminPubkey, flagShamirShares, flagWait},
				Action: func(cCtx *cli.Context) error {
					printer, err := flags.Printer(cCtx)
					if err != nil {
						return err
					}

					resp, err := submit(cCtx)
					if err != nil {
						printer.Fail(err)
						return cli.Exit("", 1)
					}
					return printer.Print(resp.Message, (*statusTable)(&resp.ShamirStatus))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// splitNewMasterKey deals a fresh master key to admins and returns the
// encrypted shares with the signer address the unlocked KMS will use.
func splitNewMasterKey(admins *kms.AdminsConfig) ([]kms.EncryptedShare, common.Address, error) {
	masterKey := make([]byte, 32)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, common.Address{}, err
	}
	defer clear(masterKey)

	signer, err := kms.DeriveSignerKey(masterKey)
	if err != nil {
		return nil, common.Address{}, err
	}

	shares, err := kms.SplitMasterKey(masterKey, len(admins.Admins), admins.Threshold)
	if err != nil {
		return nil, common.Address{}, err
	}
	encrypted, err := kms.EncryptShares(admins, shares)
	if err != nil {
		return nil, common.Address{}, err
	}
	return encrypted, crypto.PubkeyToAddress(signer.PublicKey), nil
}

// findShare returns the share encrypted to the admin with publicKeyPEM.
func findShare(shares []kms.EncryptedShare, publicKeyPEM []byte) (kms.EncryptedShare, error) {
	id := kms.Fingerprint(publicKeyPEM)
	for _, share := range shares {
		if share.AdminID == id {
			return share, nil
		}
	}
	return kms.EncryptedShare{}, fmt.Errorf("no share for admin %s", id)
}

func submit(cCtx *cli.Context) (*adminhandler.UnlockResponse, error) {
	publicKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPubkey.Name))
	if err != nil {
		return nil, err
	}
	privateKeyPEM, err := os.ReadFile(cCtx.String(flagAdminPrivkey.Name))
	if err != nil {
		return nil, err
	}
	privateKey, err := cryptoutils.PrivateKeyPEM(privateKeyPEM).ECDSA()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cCtx.String(flagShamirShares.Name))
	if err != nil {
		return nil, err
	}
	var shares []kms.EncryptedShare
	if err := json.Unmarshal(raw, &shares); err != nil {
		return nil, fmt.Errorf("failed to decode shares file: %w", err)
	}

	encrypted, err := findShare(shares, publicKeyPEM)
	if err != nil {
		return nil, err
	}
	share, err := kms.DecryptShare(encrypted, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt share: %w", err)
	}
	defer clear(share)

	client := adminhandler.NewClient(cCtx.String(flags.NodeAddrFlag.Name), publicKeyPEM, privateKey, cCtx.Duration(flags.TimeoutFlag.Name))
	resp, err := client.SubmitShare(cCtx.Context, encrypted.ShareIndex, share)
	if err != nil {
		return nil, err
	}

	if wait := cCtx.Duration(flagWait.Name); wait > 0 && !resp.Unlocked {
		ctx, cancel := context.WithTimeout(cCtx.Context, wait)
		defer cancel()
		if err := client.WaitForUnlock(ctx, time.Second); err != nil {
			return nil, err
		}
		status, err := client.Status(cCtx.Context)
		if err != nil {
			return nil, err
		}
		resp.ShamirStatus = *status
		resp.Message = "KMS unlocked"
	}
	return resp, nil
}

func writeJSON(path string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, encoded, 0600)
}

type statusTable kms.ShamirStatus

func (s *statusTable) Header() []string { return nil }
func (s *statusTable) Rows() [][]string {
	signer := "-"
	if s.Signer != (common.Address{}) {
		signer = s.Signer.Hex()
	}
	return [][]string{
		{"Unlocked", strconv.FormatBool(s.Unlocked)},
		{"Shares", fmt.Sprintf("%d/%d", s.ReceivedShares, s.Threshold)},
		{"Admins", strconv.Itoa(s.Admins)},
		{"Signer", signer},
	}
}
