package registry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/acl"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/state"
)

// Contract method names, as they appear in the ABI and in signed transactions.
const (
	MethodCreateDatabase       = "createDatabase"
	MethodStoreEncryptedValue  = "storeEncryptedValue"
	MethodShareEncryptedValue  = "shareEncryptedValue"
	MethodRefreshAddressAccess = "refreshAddressAccess"
)

// TxContext identifies the sender of a transaction. When Nonce is set it
// must equal the sender's current nonce, which is incremented if the
// transaction is accepted.
type TxContext struct {
	From  common.Address
	Nonce *uint64
}

// Config holds the deployment parameters of a Contract.
type Config struct {
	Address common.Address
	ChainID uint64
	// Clock returns the block timestamp. Defaults to time.Now.
	Clock func() time.Time
}

// Contract is the registry contract executed in process.
type Contract struct {
	mu sync.RWMutex

	address  common.Address
	chainID  uint64
	now      func() time.Time
	store    state.Store
	acl      *acl.ACL
	verifier interfaces.InputVerifier
	log      *slog.Logger
}

// NewContract creates a registry contract persisting into store and
// checking input proofs with verifier.
func NewContract(store state.Store, verifier interfaces.InputVerifier, cfg Config, log *slog.Logger) (*Contract, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("contract address: %w", interfaces.ErrZeroAddress)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Contract{
		address:  cfg.Address,
		chainID:  cfg.ChainID,
		now:      cfg.Clock,
		store:    store,
		acl:      acl.New(store),
		verifier: verifier,
		log:      log,
	}, nil
}

// Address returns the contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// ChainID returns the chain the contract is deployed on.
func (c *Contract) ChainID() uint64 {
	return c.chainID
}

// ACL returns the permission view the KMS checks before decrypting.
func (c *Contract) ACL() interfaces.ACL {
	return c.acl
}

// execution collects the side effects of one transaction.
type execution struct {
	w         state.Writer
	from      common.Address
	block     uint64
	timestamp uint64
	txHash    common.Hash
	events    []interfaces.Event
}

func (e *execution) emit(ctx context.Context, ev interfaces.Event) error {
	ev.BlockNumber = e.block
	ev.TxHash = e.txHash
	ev.Timestamp = e.timestamp
	if err := e.w.AppendEvent(ctx, &ev); err != nil {
		return err
	}
	e.events = append(e.events, ev)
	return nil
}

func txHash(chainID, block uint64, from common.Address, method string) common.Hash {
	var header [16]byte
	binary.BigEndian.PutUint64(header[:8], chainID)
	binary.BigEndian.PutUint64(header[8:], block)
	return crypto.Keccak256Hash(header[:], from.Bytes(), []byte(method))
}

// execute runs fn as one transaction: a new block, a nonce check and a
// single state update that is discarded if fn fails.
func (c *Contract) execute(ctx context.Context, tx TxContext, method string, fn func(ctx context.Context, e *execution) error) (*interfaces.Receipt, error) {
	if tx.From == (common.Address{}) {
		return nil, fmt.Errorf("sender: %w", interfaces.ErrZeroAddress)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var receipt *interfaces.Receipt
	err := c.store.Update(ctx, func(w state.Writer) error {
		if tx.Nonce != nil {
			current, err := w.Nonce(ctx, tx.From)
			if err != nil {
				return err
			}
			if *tx.Nonce != current {
				return fmt.Errorf("%w: expected %d, got %d", interfaces.ErrInvalidNonce, current, *tx.Nonce)
			}
		}

		parent, err := w.BlockNumber(ctx)
		if err != nil {
			return err
		}

		e := &execution{
			w:         w,
			from:      tx.From,
			block:     parent + 1,
			timestamp: uint64(c.now().Unix()),
		}
		e.txHash = txHash(c.chainID, e.block, tx.From, method)

		if err := fn(ctx, e); err != nil {
			return err
		}
		if err := w.SetBlockNumber(ctx, e.block); err != nil {
			return err
		}
		if tx.Nonce != nil {
			if err := w.SetNonce(ctx, tx.From, *tx.Nonce+1); err != nil {
				return err
			}
		}

		receipt = &interfaces.Receipt{
			TxHash:      e.txHash,
			BlockNumber: e.block,
			Timestamp:   e.timestamp,
			From:        tx.From,
			Method:      method,
			Events:      e.events,
		}
		return nil
	})
	if err != nil {
		c.log.Debug("registry transaction reverted", "method", method, "from", tx.From.Hex(), "err", err)
		return nil, err
	}

	c.log.Info("registry transaction executed", "method", method, "from", tx.From.Hex(), "block", receipt.BlockNumber, "tx", receipt.TxHash.Hex())
	return receipt, nil
}

// CreateDatabase stores a new database owned by the sender with the given
// encrypted address. The sender and the contract are granted access to the
// address handle.
func (c *Contract) CreateDatabase(ctx context.Context, tx TxContext, name string, addressHandle interfaces.Handle, inputProof []byte) (uint64, *interfaces.Receipt, error) {
	if name == "" {
		return 0, nil, interfaces.ErrEmptyName
	}
	if addressHandle.Type() != interfaces.FheAddress {
		return 0, nil, fmt.Errorf("%w: address handle is %s", interfaces.ErrInvalidHandleType, addressHandle.Type())
	}

	var id uint64
	receipt, err := c.execute(ctx, tx, MethodCreateDatabase, func(ctx context.Context, e *execution) error {
		if err := c.verifier.VerifyInput(addressHandle, e.from, c.address, inputProof); err != nil {
			return err
		}

		count, err := e.w.DatabaseCount(ctx)
		if err != nil {
			return err
		}
		id = count

		record := &interfaces.DatabaseRecord{
			DatabaseMetadata: interfaces.DatabaseMetadata{
				ID:        id,
				Name:      name,
				Owner:     e.from,
				CreatedAt: e.timestamp,
				UpdatedAt: e.timestamp,
			},
			AddressHandle: addressHandle,
		}
		if err := e.w.PutDatabase(ctx, record); err != nil {
			return err
		}
		if err := acl.AllowThis(ctx, e.w, addressHandle, c.address); err != nil {
			return err
		}
		if err := acl.Allow(ctx, e.w, addressHandle, e.from); err != nil {
			return err
		}
		if err := e.w.AddOwnedDatabase(ctx, e.from, id); err != nil {
			return err
		}

		return e.emit(ctx, interfaces.Event{
			Kind:       interfaces.EventDatabaseCreated,
			DatabaseID: id,
			Account:    e.from,
			Handle:     addressHandle,
			Name:       name,
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return id, receipt, nil
}

// StoreEncryptedValue appends an encrypted uint32 to a database. The sender
// must present the database's address handle and hold a grant on it.
func (c *Contract) StoreEncryptedValue(ctx context.Context, tx TxContext, databaseID uint64, valueHandle, addressHandle interfaces.Handle, inputProof []byte) (uint64, *interfaces.Receipt, error) {
	if valueHandle.Type() != interfaces.FheUint32 {
		return 0, nil, fmt.Errorf("%w: value handle is %s", interfaces.ErrInvalidHandleType, valueHandle.Type())
	}

	var index uint64
	receipt, err := c.execute(ctx, tx, MethodStoreEncryptedValue, func(ctx context.Context, e *execution) error {
		record, err := loadDatabase(ctx, e.w, databaseID)
		if err != nil {
			return err
		}
		if !record.AddressHandle.Equal(addressHandle) {
			return fmt.Errorf("%w for database %d", interfaces.ErrAddressMismatch, databaseID)
		}

		allowed, err := e.w.IsAllowed(ctx, record.AddressHandle, e.from)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s on address of database %d", interfaces.ErrACLNotAllowed, e.from.Hex(), databaseID)
		}

		if err := c.verifier.VerifyInput(valueHandle, e.from, c.address, inputProof); err != nil {
			return err
		}

		index = record.ValueCount
		entry := &interfaces.Entry{
			Index:     index,
			Handle:    valueHandle,
			Timestamp: e.timestamp,
			Submitter: e.from,
		}
		if err := e.w.AppendEntry(ctx, databaseID, entry); err != nil {
			return err
		}
		if err := acl.AllowThis(ctx, e.w, valueHandle, c.address); err != nil {
			return err
		}
		if err := acl.Allow(ctx, e.w, valueHandle, e.from); err != nil {
			return err
		}

		record.ValueCount++
		record.UpdatedAt = e.timestamp
		if err := e.w.PutDatabase(ctx, record); err != nil {
			return err
		}

		return e.emit(ctx, interfaces.Event{
			Kind:       interfaces.EventDatabaseEntryStored,
			DatabaseID: databaseID,
			EntryIndex: index,
			Account:    e.from,
			Handle:     valueHandle,
		})
	})
	if err != nil {
		return 0, nil, err
	}
	return index, receipt, nil
}

// ShareEncryptedValue grants target access to one entry. Owner only.
func (c *Contract) ShareEncryptedValue(ctx context.Context, tx TxContext, databaseID, entryIndex uint64, target common.Address) (*interfaces.Receipt, error) {
	if target == (common.Address{}) {
		return nil, fmt.Errorf("share target: %w", interfaces.ErrZeroAddress)
	}

	return c.execute(ctx, tx, MethodShareEncryptedValue, func(ctx context.Context, e *execution) error {
		record, err := loadDatabase(ctx, e.w, databaseID)
		if err != nil {
			return err
		}
		if record.Owner != e.from {
			return fmt.Errorf("%w: database %d", interfaces.ErrNotOwner, databaseID)
		}

		entry, err := loadEntry(ctx, e.w, databaseID, entryIndex)
		if err != nil {
			return err
		}
		if err := acl.Allow(ctx, e.w, entry.Handle, target); err != nil {
			return err
		}

		return e.emit(ctx, interfaces.Event{
			Kind:       interfaces.EventDatabaseEntryShared,
			DatabaseID: databaseID,
			EntryIndex: entryIndex,
			Account:    target,
			Handle:     entry.Handle,
		})
	})
}

// RefreshAddressAccess grants target, and again the contract itself, access
// to the database's encrypted address. Owner only.
func (c *Contract) RefreshAddressAccess(ctx context.Context, tx TxContext, databaseID uint64, target common.Address) (*interfaces.Receipt, error) {
	if target == (common.Address{}) {
		return nil, fmt.Errorf("share target: %w", interfaces.ErrZeroAddress)
	}

	return c.execute(ctx, tx, MethodRefreshAddressAccess, func(ctx context.Context, e *execution) error {
		record, err := loadDatabase(ctx, e.w, databaseID)
		if err != nil {
			return err
		}
		if record.Owner != e.from {
			return fmt.Errorf("%w: database %d", interfaces.ErrNotOwner, databaseID)
		}

		if err := acl.AllowThis(ctx, e.w, record.AddressHandle, c.address); err != nil {
			return err
		}
		if err := acl.Allow(ctx, e.w, record.AddressHandle, target); err != nil {
			return err
		}

		return e.emit(ctx, interfaces.Event{
			Kind:       interfaces.EventDatabaseAddressShared,
			DatabaseID: databaseID,
			Account:    target,
			Handle:     record.AddressHandle,
		})
	})
}

func loadDatabase(ctx context.Context, r state.Reader, id uint64) (*interfaces.DatabaseRecord, error) {
	record, err := r.Database(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrUnknownDatabase, id)
	}
	return record, err
}

func loadEntry(ctx context.Context, r state.Reader, databaseID, index uint64) (*interfaces.Entry, error) {
	entry, err := r.Entry(ctx, databaseID, index)
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d of database %d", interfaces.ErrEntryOutOfRange, index, databaseID)
	}
	return entry, err
}

// GetDatabaseRecord returns the full record of a database.
func (c *Contract) GetDatabaseRecord(ctx context.Context, databaseID uint64) (*interfaces.DatabaseRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return loadDatabase(ctx, c.store, databaseID)
}

// GetDatabase returns the public metadata of a database.
func (c *Contract) GetDatabase(ctx context.Context, databaseID uint64) (*interfaces.DatabaseMetadata, error) {
	record, err := c.GetDatabaseRecord(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return &record.DatabaseMetadata, nil
}

// GetEncryptedAddress returns the address handle of a database.
func (c *Contract) GetEncryptedAddress(ctx context.Context, databaseID uint64) (interfaces.Handle, error) {
	record, err := c.GetDatabaseRecord(ctx, databaseID)
	if err != nil {
		return interfaces.Handle{}, err
	}
	return record.AddressHandle, nil
}

// GetEntry returns one entry of a database.
func (c *Contract) GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*interfaces.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := loadDatabase(ctx, c.store, databaseID); err != nil {
		return nil, err
	}
	return loadEntry(ctx, c.store, databaseID, entryIndex)
}

// GetOwnedDatabases returns the ids created by owner in creation order.
func (c *Contract) GetOwnedDatabases(ctx context.Context, owner common.Address) ([]uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.OwnedDatabases(ctx, owner)
}

// DatabaseCount returns the number of databases created so far.
func (c *Contract) DatabaseCount(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.DatabaseCount(ctx)
}

// BlockNumber returns the number of the last executed block.
func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.BlockNumber(ctx)
}

// Nonce returns the next expected nonce of account.
func (c *Contract) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Nonce(ctx, account)
}

// Events returns emitted events matching filter.
func (c *Contract) Events(ctx context.Context, filter state.EventFilter) ([]interfaces.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Events(ctx, filter)
}
