package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HandleContractPair names a ciphertext and the contract it is used by.
type HandleContractPair struct {
	Handle          Handle         `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// UserDecryptRequest asks the KMS to re-encrypt ciphertexts to a user-held key.
// The signature is an EIP-712 signature by UserAddress over PublicKey,
// ContractAddresses, StartTimestamp, DurationDays and ExtraData.
type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	UserAddress         common.Address       `json:"userAddress"`
	PublicKey           string               `json:"publicKey"`
	Signature           hexutil.Bytes        `json:"signature"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	StartTimestamp      uint64               `json:"startTimestamp"`
	DurationDays        uint64               `json:"durationDays"`
	ExtraData           hexutil.Bytes        `json:"extraData"`
}

// UserDecryptResult holds one cleartext encrypted to the requester's public key.
type UserDecryptResult struct {
	Handle         Handle        `json:"handle"`
	EncryptedValue hexutil.Bytes `json:"encryptedValue"`
}

// UserDecryptResponse is signed by the KMS signer over the handles and encrypted values.
type UserDecryptResponse struct {
	Results   []UserDecryptResult `json:"results"`
	Signer    common.Address      `json:"signer"`
	Signature hexutil.Bytes       `json:"signature"`
}

// KMS performs user decryption once a request has been authorized.
type KMS interface {
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (*UserDecryptResponse, error)
	// SignerAddress returns the account that signs decryption responses.
	SignerAddress() (common.Address, error)
}
