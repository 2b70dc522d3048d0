package fhe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// EncryptedInput collects plaintexts a client wants to submit in one
// contract call and encrypts them under the network key.
type EncryptedInput struct {
	pk     *PublicKey
	pc     ProofContext
	types  []interfaces.FheType
	values []*big.Int
}

// NewEncryptedInput starts an empty input for user to submit to contract.
func NewEncryptedInput(pk *PublicKey, contract, user common.Address, chainID uint64) *EncryptedInput {
	return &EncryptedInput{
		pk: pk,
		pc: ProofContext{User: user, Contract: contract, ChainID: chainID},
	}
}

// AddUint32 appends a euint32 value.
func (in *EncryptedInput) AddUint32(v uint32) *EncryptedInput {
	in.types = append(in.types, interfaces.FheUint32)
	in.values = append(in.values, EncodeUint32(v))
	return in
}

// AddAddress appends an eaddress value.
func (in *EncryptedInput) AddAddress(addr common.Address) *EncryptedInput {
	in.types = append(in.types, interfaces.FheAddress)
	in.values = append(in.values, EncodeAddress(addr))
	return in
}

// Len returns the number of values added so far.
func (in *EncryptedInput) Len() int {
	return len(in.values)
}

// Context returns the user, contract and chain the input is bound to.
func (in *EncryptedInput) Context() ProofContext {
	return in.pc
}

// Encrypt encrypts every value, in the order they were added.
func (in *EncryptedInput) Encrypt() ([]*Ciphertext, error) {
	if len(in.values) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedInputProof)
	}
	if len(in.values) > MaxInputValues {
		return nil, fmt.Errorf("%w: too many values (%d)", ErrMalformedInputProof, len(in.values))
	}

	out := make([]*Ciphertext, len(in.values))
	for i := range in.values {
		ct, err := in.pk.Encrypt(in.types[i], in.values[i], in.pc)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}
