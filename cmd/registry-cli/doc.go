// Package main (cmd/registry-cli) is the command line client of the
// encrypted database registry.
//
// Values are encrypted locally with the network key announced by the node's
// relayer, and decrypted through the user decryption ceremony: the CLI signs
// an EIP-712 authorization with the account key and opens the KMS answer with
// a throwaway P-256 key. Transactions go to the node as signed requests, or
// with --onchain to a registry contract over JSON-RPC.
//
// Example:
//
//	registry-cli keygen --keystore alice.json
//	registry-cli --keystore alice.json create --name "Vault A"
//	registry-cli --keystore alice.json add-value --id 0 --value 777
//	registry-cli --keystore alice.json decrypt-value --id 0 --index 0
//	registry-cli --keystore alice.json share-value --id 0 --index 0 --to 0xB0b...
//	registry-cli --keystore alice.json -o json list
package main
