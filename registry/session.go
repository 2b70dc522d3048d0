package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// Session binds a Contract to a caller account. It does not use nonces.
type Session struct {
	contract *Contract
	from     common.Address
}

// Session returns a view of the contract as seen by from.
func (c *Contract) Session(from common.Address) *Session {
	return &Session{contract: c, from: from}
}

func (s *Session) ContractAddress() common.Address { return s.contract.address }
func (s *Session) ChainID() uint64                 { return s.contract.chainID }
func (s *Session) Caller() common.Address          { return s.from }

func (s *Session) tx() TxContext {
	return TxContext{From: s.from}
}

func (s *Session) CreateDatabase(ctx context.Context, name string, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	id, _, err := s.contract.CreateDatabase(ctx, s.tx(), name, addressHandle, inputProof)
	return id, err
}

func (s *Session) StoreEncryptedValue(ctx context.Context, databaseID uint64, valueHandle, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	index, _, err := s.contract.StoreEncryptedValue(ctx, s.tx(), databaseID, valueHandle, addressHandle, inputProof)
	return index, err
}

func (s *Session) ShareEncryptedValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) error {
	_, err := s.contract.ShareEncryptedValue(ctx, s.tx(), databaseID, entryIndex, target)
	return err
}

func (s *Session) RefreshAddressAccess(ctx context.Context, databaseID uint64, target common.Address) error {
	_, err := s.contract.RefreshAddressAccess(ctx, s.tx(), databaseID, target)
	return err
}

func (s *Session) GetDatabase(ctx context.Context, databaseID uint64) (*interfaces.DatabaseMetadata, error) {
	return s.contract.GetDatabase(ctx, databaseID)
}

func (s *Session) GetEncryptedAddress(ctx context.Context, databaseID uint64) (interfaces.Handle, error) {
	return s.contract.GetEncryptedAddress(ctx, databaseID)
}

func (s *Session) GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*interfaces.Entry, error) {
	return s.contract.GetEntry(ctx, databaseID, entryIndex)
}

func (s *Session) GetOwnedDatabases(ctx context.Context) ([]uint64, error) {
	return s.contract.GetOwnedDatabases(ctx, s.from)
}

var _ interfaces.EncryptedDBRegistry = (*Session)(nil)
