package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

var (
	// ErrNoTransactOpts is returned when a transaction is attempted without first setting transaction options.
	ErrNoTransactOpts = errors.New("no authorized transactor available")
	// ErrTransactionReverted is returned when a mined transaction has a failed status.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrMissingEvent is returned when a receipt lacks the event carrying a call's result.
	ErrMissingEvent = errors.New("expected event not found in receipt")
)

// OnchainRegistryClient implements interfaces.EncryptedDBRegistry for a
// registry contract deployed on an fhEVM chain.
type OnchainRegistryClient struct {
	contract *bind.BoundContract
	backend  bind.DeployBackend
	address  common.Address
	chainID  uint64
	auth     *bind.TransactOpts
}

// NewOnchainRegistryClient creates a client for the contract at address. The
// ContractBackend is used for calls and transactions, the DeployBackend to
// wait for receipts.
func NewOnchainRegistryClient(client bind.ContractBackend, backend bind.DeployBackend, address common.Address, chainID uint64) (*OnchainRegistryClient, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("registry address: %w", interfaces.ErrZeroAddress)
	}

	return &OnchainRegistryClient{
		contract: bind.NewBoundContract(address, ParsedABI, client, client, client),
		backend:  backend,
		address:  address,
		chainID:  chainID,
	}, nil
}

// SetTransactOpts sets the transaction options required for functions that modify state.
// This must be called before using any methods that send transactions to the blockchain.
func (c *OnchainRegistryClient) SetTransactOpts(auth *bind.TransactOpts) {
	c.auth = auth
}

func (c *OnchainRegistryClient) ContractAddress() common.Address { return c.address }
func (c *OnchainRegistryClient) ChainID() uint64                 { return c.chainID }

// Caller returns the transactor account, or the zero address if none is set.
func (c *OnchainRegistryClient) Caller() common.Address {
	if c.auth == nil {
		return common.Address{}
	}
	return c.auth.From
}

func (c *OnchainRegistryClient) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx, From: c.Caller()}
}

// transact sends a transaction and waits for it to be mined successfully.
func (c *OnchainRegistryClient) transact(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	if c.auth == nil {
		return nil, ErrNoTransactOpts
	}

	opts := *c.auth
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s: %w: %s", method, ErrTransactionReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

type databaseCreatedLog struct {
	DatabaseId *big.Int
	Owner      common.Address
	Name       string
}

type databaseEntryStoredLog struct {
	DatabaseId *big.Int
	EntryIndex *big.Int
	Submitter  common.Address
}

// findEvent unpacks the first log of the receipt matching the named event.
func (c *OnchainRegistryClient) findEvent(receipt *types.Receipt, name string, out interface{}) error {
	event, ok := ParsedABI.Events[name]
	if !ok {
		return fmt.Errorf("unknown event %s", name)
	}

	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		return c.contract.UnpackLog(out, name, *log)
	}
	return fmt.Errorf("%w: %s", ErrMissingEvent, name)
}

// CreateDatabase sends createDatabase and returns the id from the DatabaseCreated event.
func (c *OnchainRegistryClient) CreateDatabase(ctx context.Context, name string, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	receipt, err := c.transact(ctx, MethodCreateDatabase, name, [32]byte(addressHandle), inputProof)
	if err != nil {
		return 0, err
	}

	var created databaseCreatedLog
	if err := c.findEvent(receipt, string(interfaces.EventDatabaseCreated), &created); err != nil {
		return 0, err
	}
	return created.DatabaseId.Uint64(), nil
}

// StoreEncryptedValue sends storeEncryptedValue and returns the index from the DatabaseEntryStored event.
func (c *OnchainRegistryClient) StoreEncryptedValue(ctx context.Context, databaseID uint64, valueHandle, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	receipt, err := c.transact(ctx, MethodStoreEncryptedValue,
		new(big.Int).SetUint64(databaseID), [32]byte(valueHandle), [32]byte(addressHandle), inputProof)
	if err != nil {
		return 0, err
	}

	var stored databaseEntryStoredLog
	if err := c.findEvent(receipt, string(interfaces.EventDatabaseEntryStored), &stored); err != nil {
		return 0, err
	}
	return stored.EntryIndex.Uint64(), nil
}

// ShareEncryptedValue sends shareEncryptedValue.
func (c *OnchainRegistryClient) ShareEncryptedValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) error {
	_, err := c.transact(ctx, MethodShareEncryptedValue,
		new(big.Int).SetUint64(databaseID), new(big.Int).SetUint64(entryIndex), target)
	return err
}

// RefreshAddressAccess sends refreshAddressAccess.
func (c *OnchainRegistryClient) RefreshAddressAccess(ctx context.Context, databaseID uint64, target common.Address) error {
	_, err := c.transact(ctx, MethodRefreshAddressAccess, new(big.Int).SetUint64(databaseID), target)
	return err
}

// GetDatabase calls getDatabase.
func (c *OnchainRegistryClient) GetDatabase(ctx context.Context, databaseID uint64) (*interfaces.DatabaseMetadata, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getDatabase", new(big.Int).SetUint64(databaseID)); err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getDatabase: unexpected output length %d", len(out))
	}

	return &interfaces.DatabaseMetadata{
		ID:         (*abi.ConvertType(out[0], new(*big.Int)).(**big.Int)).Uint64(),
		Name:       *abi.ConvertType(out[1], new(string)).(*string),
		Owner:      *abi.ConvertType(out[2], new(common.Address)).(*common.Address),
		CreatedAt:  (*abi.ConvertType(out[3], new(*big.Int)).(**big.Int)).Uint64(),
		UpdatedAt:  (*abi.ConvertType(out[4], new(*big.Int)).(**big.Int)).Uint64(),
		ValueCount: (*abi.ConvertType(out[5], new(*big.Int)).(**big.Int)).Uint64(),
	}, nil
}

// GetEncryptedAddress calls getEncryptedAddress.
func (c *OnchainRegistryClient) GetEncryptedAddress(ctx context.Context, databaseID uint64) (interfaces.Handle, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getEncryptedAddress", new(big.Int).SetUint64(databaseID)); err != nil {
		return interfaces.Handle{}, err
	}
	if len(out) != 1 {
		return interfaces.Handle{}, fmt.Errorf("getEncryptedAddress: unexpected output length %d", len(out))
	}
	return interfaces.Handle(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)), nil
}

// GetEntry calls getEntry.
func (c *OnchainRegistryClient) GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*interfaces.Entry, error) {
	var out []interface{}
	err := c.contract.Call(c.callOpts(ctx), &out, "getEntry",
		new(big.Int).SetUint64(databaseID), new(big.Int).SetUint64(entryIndex))
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("getEntry: unexpected output length %d", len(out))
	}

	return &interfaces.Entry{
		Index:     entryIndex,
		Handle:    interfaces.Handle(*abi.ConvertType(out[0], new([32]byte)).(*[32]byte)),
		Timestamp: (*abi.ConvertType(out[1], new(*big.Int)).(**big.Int)).Uint64(),
		Submitter: *abi.ConvertType(out[2], new(common.Address)).(*common.Address),
	}, nil
}

// GetOwnedDatabases calls getOwnedDatabases from the transactor account.
func (c *OnchainRegistryClient) GetOwnedDatabases(ctx context.Context) ([]uint64, error) {
	var out []interface{}
	if err := c.contract.Call(c.callOpts(ctx), &out, "getOwnedDatabases"); err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("getOwnedDatabases: unexpected output length %d", len(out))
	}

	raw := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

var _ interfaces.EncryptedDBRegistry = (*OnchainRegistryClient)(nil)
