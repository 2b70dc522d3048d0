package registryhandler

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/state"
)

// ErrNoSigner is returned for transactions from a read-only client.
var ErrNoSigner = errors.New("registry client has no signing key")

// Client implements interfaces.EncryptedDBRegistry against a remote node,
// signing transactions with a local key.
type Client struct {
	*api.Client

	key     *ecdsa.PrivateKey
	caller  common.Address
	address common.Address
	chainID uint64

	// serializes nonce lookup and submission
	txMu sync.Mutex
}

// NewClient connects to the registry served at baseURL. key may be nil for
// a read-only client.
func NewClient(ctx context.Context, baseURL string, key *ecdsa.PrivateKey, timeout time.Duration) (*Client, error) {
	c := &Client{
		Client: api.NewClient(baseURL, timeout),
		key:    key,
	}
	if key != nil {
		c.caller = crypto.PubkeyToAddress(key.PublicKey)
	}

	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load registry info: %w", err)
	}
	c.address = info.Address
	c.chainID = info.ChainID
	return c, nil
}

func (c *Client) ContractAddress() common.Address { return c.address }
func (c *Client) ChainID() uint64                 { return c.chainID }
func (c *Client) Caller() common.Address          { return c.caller }

// Info returns the registry deployment and its progress.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var info InfoResponse
	if err := c.Do(ctx, http.MethodGet, InfoPath, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Nonce returns the nonce the next transaction of account must carry.
func (c *Client) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	var resp NonceResponse
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("%s/accounts/%s/nonce", BasePath, account.Hex()), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

// Events returns registry events matching filter.
func (c *Client) Events(ctx context.Context, filter state.EventFilter) ([]interfaces.Event, error) {
	query := url.Values{}
	query.Set("from", strconv.FormatUint(filter.FromSeq, 10))
	if filter.DatabaseID != nil {
		query.Set("database", strconv.FormatUint(*filter.DatabaseID, 10))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var events []interfaces.Event
	if err := c.Do(ctx, http.MethodGet, BasePath+"/events?"+query.Encode(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Transact signs and submits a call of method with params using the
// caller's current nonce.
func (c *Client) Transact(ctx context.Context, method string, params any) (*TxResponse, error) {
	if c.key == nil {
		return nil, ErrNoSigner
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.Nonce(ctx, c.caller)
	if err != nil {
		return nil, fmt.Errorf("could not load nonce: %w", err)
	}

	tx, err := SignTransaction(c.key, c.chainID, c.address, nonce, method, params)
	if err != nil {
		return nil, err
	}

	var resp TxResponse
	if err := c.Do(ctx, http.MethodPost, TxPath, tx, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateDatabase(ctx context.Context, name string, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	resp, err := c.Transact(ctx, registry.MethodCreateDatabase, CreateDatabaseParams{
		Name:             name,
		EncryptedAddress: addressHandle,
		InputProof:       inputProof,
	})
	if err != nil {
		return 0, err
	}
	if resp.DatabaseID == nil {
		return 0, errors.New("node did not return a database id")
	}
	return *resp.DatabaseID, nil
}

func (c *Client) StoreEncryptedValue(ctx context.Context, databaseID uint64, valueHandle, addressHandle interfaces.Handle, inputProof []byte) (uint64, error) {
	resp, err := c.Transact(ctx, registry.MethodStoreEncryptedValue, StoreEncryptedValueParams{
		DatabaseID:       databaseID,
		EncryptedValue:   valueHandle,
		EncryptedAddress: addressHandle,
		InputProof:       inputProof,
	})
	if err != nil {
		return 0, err
	}
	if resp.EntryIndex == nil {
		return 0, errors.New("node did not return an entry index")
	}
	return *resp.EntryIndex, nil
}

func (c *Client) ShareEncryptedValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) error {
	_, err := c.Transact(ctx, registry.MethodShareEncryptedValue, ShareEncryptedValueParams{
		DatabaseID: databaseID,
		EntryIndex: entryIndex,
		Target:     target,
	})
	return err
}

func (c *Client) RefreshAddressAccess(ctx context.Context, databaseID uint64, target common.Address) error {
	_, err := c.Transact(ctx, registry.MethodRefreshAddressAccess, RefreshAddressAccessParams{
		DatabaseID: databaseID,
		Target:     target,
	})
	return err
}

func (c *Client) GetDatabase(ctx context.Context, databaseID uint64) (*interfaces.DatabaseMetadata, error) {
	var metadata interfaces.DatabaseMetadata
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("%s/databases/%d", BasePath, databaseID), nil, &metadata); err != nil {
		return nil, err
	}
	return &metadata, nil
}

func (c *Client) GetEncryptedAddress(ctx context.Context, databaseID uint64) (interfaces.Handle, error) {
	var resp AddressResponse
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("%s/databases/%d/address", BasePath, databaseID), nil, &resp); err != nil {
		return interfaces.Handle{}, err
	}
	return resp.Handle, nil
}

func (c *Client) GetEntry(ctx context.Context, databaseID, entryIndex uint64) (*interfaces.Entry, error) {
	var entry interfaces.Entry
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("%s/databases/%d/entries/%d", BasePath, databaseID, entryIndex), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) GetOwnedDatabases(ctx context.Context) ([]uint64, error) {
	var resp OwnedDatabasesResponse
	if err := c.Do(ctx, http.MethodGet, fmt.Sprintf("%s/owners/%s/databases", BasePath, c.caller.Hex()), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Databases, nil
}
