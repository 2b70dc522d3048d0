package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockRegistry mocks the EncryptedDBRegistry interface
type MockRegistry struct {
	mock.Mock
}

// ContractAddress mocks the ContractAddress method
func (m *MockRegistry) ContractAddress() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// ChainID mocks the ChainID method
func (m *MockRegistry) ChainID() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

// Caller mocks the Caller method
func (m *MockRegistry) Caller() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

// CreateDatabase mocks the CreateDatabase method
func (m *MockRegistry) CreateDatabase(ctx context.Context, name string, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	args := m.Called(ctx, name, addressHandle, inputProof)
	return args.Get(0).(uint64), args.Error(1)
}

// StoreEncryptedValue mocks the StoreEncryptedValue method
func (m *MockRegistry) StoreEncryptedValue(ctx context.Context, databaseID uint64, valueHandle, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	args := m.Called(ctx, databaseID, valueHandle, addressHandle, inputProof)
	return args.Get(0).(uint64), args.Error(1)
}

// ShareEncryptedValue mocks the ShareEncryptedValue method
func (m *MockRegistry) ShareEncryptedValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) error {
	args := m.Called(ctx, databaseID, entryIndex, target)
	return args.Error(0)
}

// RefreshAddressAccess mocks the RefreshAddressAccess method
func (m *MockRegistry) RefreshAddressAccess(ctx context.Context, databaseID uint64, target common.Address) error {
	args := m.Called(ctx, databaseID, target)
	return args.Error(0)
}

// GetDatabase mocks the GetDatabase method
func (m *MockRegistry) GetDatabase(ctx context.Context, databaseID uint64) (*interfaces.DatabaseMetadata, error) {
	args := m.Called(ctx, databaseID)
	metadata, _ := args.Get(0).(*interfaces.DatabaseMetadata)
	return metadata, args.Error(1)
}

// GetEncryptedAddress mocks the GetEncryptedAddress method
func (m *MockRegistry) GetEncryptedAddress(ctx context.Context, databaseID uint64) (interfaces.Handle, error) {
	args := m.Called(ctx, databaseID)
	return args.Get(0).(interfaces.Handle), args.Error(1)
}

// GetEntry mocks the GetEntry method
func (m *MockRegistry) GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*interfaces.Entry, error) {
	args := m.Called(ctx, databaseID, entryIndex)
	entry, _ := args.Get(0).(*interfaces.Entry)
	return entry, args.Error(1)
}

// GetOwnedDatabases mocks the GetOwnedDatabases method
func (m *MockRegistry) GetOwnedDatabases(ctx context.Context) ([]uint64, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]uint64)
	return ids, args.Error(1)
}

var _ interfaces.EncryptedDBRegistry = (*MockRegistry)(nil)
