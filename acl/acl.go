// Package acl records which accounts may decrypt which ciphertext handles.
// Grants are written inside the caller's state transaction and are never revoked.
package acl

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/state"
)

// ACL answers permission queries against committed state.
type ACL struct {
	state state.Reader
}

// New creates an ACL reading from r.
func New(r state.Reader) *ACL {
	return &ACL{state: r}
}

// IsAllowed implements interfaces.ACL.
func (a *ACL) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	return a.state.IsAllowed(ctx, handle, account)
}

// Allow grants each of accounts decryption rights on handle.
func Allow(ctx context.Context, w state.Writer, handle interfaces.Handle, accounts ...common.Address) error {
	if handle.IsZero() {
		return errors.New("cannot grant access to the zero handle")
	}
	for _, account := range accounts {
		if account == (common.Address{}) {
			return interfaces.ErrZeroAddress
		}
		if err := w.Allow(ctx, handle, account); err != nil {
			return fmt.Errorf("failed to grant %s on %s: %w", account.Hex(), handle, err)
		}
	}
	return nil
}

// AllowThis grants the contract itself decryption rights on handle, so it
// can keep operating on the ciphertext in later transactions.
func AllowThis(ctx context.Context, w state.Writer, handle interfaces.Handle, contract common.Address) error {
	return Allow(ctx, w, handle, contract)
}

// AllowedAll reports whether every account may decrypt handle.
func AllowedAll(ctx context.Context, acl interfaces.ACL, handle interfaces.Handle, accounts ...common.Address) (bool, error) {
	for _, account := range accounts {
		ok, err := acl.IsAllowed(ctx, handle, account)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Union allows an account on a handle when any of acls does. Lookup errors
// are returned only if no ACL grants access.
type Union []interfaces.ACL

// IsAllowed implements interfaces.ACL.
func (u Union) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	var errs []error
	for _, a := range u {
		ok, err := a.IsAllowed(ctx, handle, account)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
