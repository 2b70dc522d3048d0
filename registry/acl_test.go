package registry

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aclAddr = common.HexToAddress("0x339EcE85B9E11a3A3AA557582784a15d7F82AAf2")

type chainGrant struct {
	handle  [32]byte
	account common.Address
}

// fakeACLChain answers isAllowed calls against a grant set.
type fakeACLChain struct {
	grants map[chainGrant]bool
	calls  []common.Address
	err    error
}

func (f *fakeACLChain) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeACLChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, *call.To)

	method := ParsedACLABI.Methods["isAllowed"]
	if len(call.Data) < 4 || !bytes.Equal(call.Data[:4], method.ID) {
		return nil, errors.New("unexpected selector")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	g := chainGrant{handle: args[0].([32]byte), account: args[1].(common.Address)}
	return method.Outputs.Pack(f.grants[g])
}

func TestOnchainACL(t *testing.T) {
	handle := interfaces.Handle{0xab, 30: byte(interfaces.FheAddress)}
	chain := &fakeACLChain{grants: map[chainGrant]bool{
		{handle, alice}:        true,
		{handle, contractAddr}: true,
	}}

	acl, err := NewOnchainACL(chain, aclAddr)
	require.NoError(t, err)
	assert.Equal(t, aclAddr, acl.Address())

	tests := []struct {
		name    string
		handle  interfaces.Handle
		account common.Address
		want    bool
	}{
		{"owner", handle, alice, true},
		{"contract", handle, contractAddr, true},
		{"not granted", handle, bob, false},
		{"other handle", interfaces.Handle{0xcd}, alice, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := acl.IsAllowed(context.Background(), tc.handle, tc.account)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
	for _, to := range chain.calls {
		assert.Equal(t, aclAddr, to)
	}

	chain.err = errors.New("connection refused")
	_, err = acl.IsAllowed(context.Background(), handle, alice)
	require.ErrorContains(t, err, "connection refused")

	_, err = NewOnchainACL(chain, common.Address{})
	require.ErrorIs(t, err, interfaces.ErrZeroAddress)
}
