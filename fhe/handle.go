package fhe

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

var (
	bytes32Type, _      = abi.NewType("bytes32", "", nil)
	bytes32ArrayType, _ = abi.NewType("bytes32[]", "", nil)
	uint8Type, _        = abi.NewType("uint8", "", nil)
	uint256Type, _      = abi.NewType("uint256", "", nil)
	addressType, _      = abi.NewType("address", "", nil)

	handleArgs = abi.Arguments{
		{Name: "ciphertextDigest", Type: bytes32Type},
		{Name: "index", Type: uint8Type},
		{Name: "contractAddress", Type: addressType},
		{Name: "userAddress", Type: addressType},
		{Name: "chainId", Type: uint256Type},
	}
)

// DeriveHandle computes the handle of the index-th ciphertext of an input
// submitted by user for contract on chainID.
func DeriveHandle(ct *Ciphertext, index uint8, contract, user common.Address, chainID uint64) (interfaces.Handle, error) {
	packed, err := handleArgs.Pack(ct.Digest(), index, contract, user, new(big.Int).SetUint64(chainID))
	if err != nil {
		return interfaces.Handle{}, fmt.Errorf("failed to encode handle preimage: %w", err)
	}

	commitment := crypto.Keccak256(packed)

	var h interfaces.Handle
	copy(h[:21], commitment[:21])
	h[21] = index
	binary.BigEndian.PutUint64(h[22:30], chainID)
	h[30] = byte(ct.Type)
	h[31] = interfaces.HandleVersion
	return h, nil
}
