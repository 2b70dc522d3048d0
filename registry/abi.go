package registry

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/EncryptedDBRegistry.json
var registryABIJSON string

//go:embed abi/ACL.json
var aclABIJSON string

// ParsedABI is the registry contract ABI.
var ParsedABI = mustParseABI(registryABIJSON)

// ParsedACLABI is the read side of the chain's ACL contract.
var ParsedACLABI = mustParseABI(aclABIJSON)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
