package interfaces

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// KeyInfo is published by the relayer for clients that encrypt inputs.
type KeyInfo struct {
	ChainID           uint64           `json:"chainId"`
	PublicKey         json.RawMessage  `json:"publicKey"`
	PublicKeyID       string           `json:"publicKeyId"`
	Coprocessors      []common.Address `json:"coprocessors"`
	KMSSigner         common.Address   `json:"kmsSigner"`
	VerifyingContract common.Address   `json:"verifyingContract"`
	RegistryContract  common.Address   `json:"registryContract"`
}

// InputProofRequest carries client-encrypted values for one contract call.
type InputProofRequest struct {
	ContractAddress common.Address    `json:"contractAddress"`
	UserAddress     common.Address    `json:"userAddress"`
	Ciphertexts     []json.RawMessage `json:"ciphertexts"`
}

// InputProofResponse returns one handle per ciphertext, in request order,
// and the signed input proof covering all of them.
type InputProofResponse struct {
	Handles    []Handle      `json:"handles"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

// Relayer is the boundary between clients and the coprocessor/KMS services.
type Relayer interface {
	KeyInfo(ctx context.Context) (*KeyInfo, error)
	InputProof(ctx context.Context, req *InputProofRequest) (*InputProofResponse, error)
	UserDecrypt(ctx context.Context, req *UserDecryptRequest) (*UserDecryptResponse, error)
}
