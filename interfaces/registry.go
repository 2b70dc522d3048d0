package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// DatabaseMetadata is the public view of a database record.
type DatabaseMetadata struct {
	ID         uint64         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Owner      common.Address `json:"owner" yaml:"owner"`
	CreatedAt  uint64         `json:"created_at" yaml:"created_at"`
	UpdatedAt  uint64         `json:"updated_at" yaml:"updated_at"`
	ValueCount uint64         `json:"value_count" yaml:"value_count"`
}

// DatabaseRecord is the stored form of a database, including its encrypted address handle.
type DatabaseRecord struct {
	DatabaseMetadata
	AddressHandle Handle `json:"address_handle" yaml:"address_handle"`
}

// Entry is one append-only encrypted value of a database.
type Entry struct {
	Index     uint64         `json:"index" yaml:"index"`
	Handle    Handle         `json:"handle" yaml:"handle"`
	Timestamp uint64         `json:"timestamp" yaml:"timestamp"`
	Submitter common.Address `json:"submitter" yaml:"submitter"`
}

// EventKind names the events emitted by the registry contract.
type EventKind string

const (
	EventDatabaseCreated       EventKind = "DatabaseCreated"
	EventDatabaseEntryStored   EventKind = "DatabaseEntryStored"
	EventDatabaseAddressShared EventKind = "DatabaseAddressShared"
	EventDatabaseEntryShared   EventKind = "DatabaseEntryShared"
)

// Event is a registry log record. Account is the owner for DatabaseCreated,
// the submitter for DatabaseEntryStored, and the grantee for the sharing events.
type Event struct {
	Seq         uint64         `json:"seq" yaml:"seq"`
	Kind        EventKind      `json:"kind" yaml:"kind"`
	DatabaseID  uint64         `json:"database_id" yaml:"database_id"`
	EntryIndex  uint64         `json:"entry_index" yaml:"entry_index"`
	Account     common.Address `json:"account" yaml:"account"`
	Handle      Handle         `json:"handle" yaml:"handle"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	BlockNumber uint64         `json:"block_number" yaml:"block_number"`
	TxHash      common.Hash    `json:"tx_hash" yaml:"tx_hash"`
	Timestamp   uint64         `json:"timestamp" yaml:"timestamp"`
}

// Receipt describes the outcome of an accepted registry transaction.
type Receipt struct {
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
	Timestamp   uint64         `json:"timestamp"`
	From        common.Address `json:"from"`
	Method      string         `json:"method"`
	Events      []Event        `json:"events"`
}

// EncryptedDBRegistry is the registry surface as seen by one caller account.
// Implementations bind the caller: an in-process session, a signed HTTP
// client, or a transactor on a deployed contract.
type EncryptedDBRegistry interface {
	// ContractAddress returns the address the registry is deployed at.
	ContractAddress() common.Address
	// ChainID returns the chain the registry lives on.
	ChainID() uint64
	// Caller returns the account transactions are sent from.
	Caller() common.Address

	// CreateDatabase stores a new database with the given encrypted address
	// and returns its identifier.
	CreateDatabase(ctx context.Context, name string, addressHandle Handle, inputProof []byte) (uint64, error)
	// StoreEncryptedValue appends an encrypted value and returns its entry index.
	StoreEncryptedValue(ctx context.Context, databaseID uint64, valueHandle, addressHandle Handle, inputProof []byte) (uint64, error)
	// ShareEncryptedValue grants target decryption rights on one entry. Owner only.
	ShareEncryptedValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) error
	// RefreshAddressAccess grants target decryption rights on the encrypted address. Owner only.
	RefreshAddressAccess(ctx context.Context, databaseID uint64, target common.Address) error

	GetDatabase(ctx context.Context, databaseID uint64) (*DatabaseMetadata, error)
	GetEncryptedAddress(ctx context.Context, databaseID uint64) (Handle, error)
	GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*Entry, error)
	// GetOwnedDatabases returns the identifiers created by the caller, in creation order.
	GetOwnedDatabases(ctx context.Context) ([]uint64, error)
}

// ACL answers decryption-permission queries for ciphertext handles.
type ACL interface {
	IsAllowed(ctx context.Context, handle Handle, account common.Address) (bool, error)
}

// InputVerifier validates that a handle was produced by the relayer for the
// given user and contract.
type InputVerifier interface {
	VerifyInput(handle Handle, user, contract common.Address, inputProof []byte) error
}
