package registry

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// OnchainACL implements interfaces.ACL by calling isAllowed on the ACL
// contract of an fhEVM chain. Grants made by a deployed registry are only
// visible there.
type OnchainACL struct {
	contract *bind.BoundContract
	address  common.Address
}

// NewOnchainACL creates an ACL reader for the contract at address.
func NewOnchainACL(caller bind.ContractCaller, address common.Address) (*OnchainACL, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("acl address: %w", interfaces.ErrZeroAddress)
	}

	return &OnchainACL{
		contract: bind.NewBoundContract(address, ParsedACLABI, caller, nil, nil),
		address:  address,
	}, nil
}

// Address returns the ACL contract address.
func (a *OnchainACL) Address() common.Address {
	return a.address
}

// IsAllowed implements interfaces.ACL.
func (a *OnchainACL) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	var out []interface{}
	if err := a.contract.Call(&bind.CallOpts{Context: ctx}, &out, "isAllowed", [32]byte(handle), account); err != nil {
		return false, fmt.Errorf("isAllowed: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("isAllowed: unexpected output %v", out)
	}
	allowed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("isAllowed: unexpected output type %T", out[0])
	}
	return allowed, nil
}
