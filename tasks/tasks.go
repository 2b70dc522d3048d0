// Package tasks implements the registry CLI tasks on top of any
// interfaces.EncryptedDBRegistry and a relayer session. Each task issues one
// or two registry calls plus, where needed, an encryption or a user
// decryption through the relayer.
package tasks

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/relayer"
)

// ErrNoKey is returned by tasks that sign but were given no account key.
var ErrNoKey = errors.New("task requires an account key")

// Runner runs tasks as one account.
type Runner struct {
	registry interfaces.EncryptedDBRegistry
	session  *relayer.Session
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

// NewRunner creates a task runner. key signs decryption authorizations and
// must belong to registry.Caller(); it may be nil for read-only tasks.
func NewRunner(registry interfaces.EncryptedDBRegistry, session *relayer.Session, key *ecdsa.PrivateKey) *Runner {
	return &Runner{
		registry: registry,
		session:  session,
		key:      key,
		now:      time.Now,
	}
}

// WithClock replaces the clock used for decryption authorizations.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func (r *Runner) requireKey() error {
	if r.key == nil {
		return ErrNoKey
	}
	if crypto.PubkeyToAddress(r.key.PublicKey) != r.registry.Caller() {
		return fmt.Errorf("account key does not match registry caller %s", r.registry.Caller().Hex())
	}
	return nil
}

// AddressResult describes the registry deployment.
type AddressResult struct {
	Registry common.Address `json:"registry" yaml:"registry"`
	ChainID  uint64         `json:"chain_id" yaml:"chain_id"`
	Caller   common.Address `json:"caller" yaml:"caller"`
}

// Address reports where the registry is deployed.
func (r *Runner) Address() *AddressResult {
	return &AddressResult{
		Registry: r.registry.ContractAddress(),
		ChainID:  r.registry.ChainID(),
		Caller:   r.registry.Caller(),
	}
}

// CreateResult is returned by Create.
type CreateResult struct {
	DatabaseID    uint64            `json:"database_id" yaml:"database_id"`
	Name          string            `json:"name" yaml:"name"`
	Address       common.Address    `json:"address" yaml:"address"`
	AddressHandle interfaces.Handle `json:"address_handle" yaml:"address_handle"`
}

// Create encrypts address and creates a database with it. A random address
// is generated when address is nil.
func (r *Runner) Create(ctx context.Context, name string, address *common.Address) (*CreateResult, error) {
	if name == "" {
		return nil, interfaces.ErrEmptyName
	}

	var plain common.Address
	if address != nil {
		plain = *address
	} else {
		random, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate address: %w", err)
		}
		plain = crypto.PubkeyToAddress(random.PublicKey)
	}

	input := r.session.NewInput(r.registry.ContractAddress(), r.registry.Caller()).AddAddress(plain)
	encrypted, err := r.session.Encrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt address: %w", err)
	}

	id, err := r.registry.CreateDatabase(ctx, name, encrypted.Handles[0], encrypted.InputProof)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &CreateResult{
		DatabaseID:    id,
		Name:          name,
		Address:       plain,
		AddressHandle: encrypted.Handles[0],
	}, nil
}

// DecryptAddressResult is returned by DecryptAddress.
type DecryptAddressResult struct {
	DatabaseID uint64         `json:"database_id" yaml:"database_id"`
	Address    common.Address `json:"address" yaml:"address"`
}

// DecryptAddress decrypts the address of a database. The caller needs a grant on it.
func (r *Runner) DecryptAddress(ctx context.Context, databaseID uint64) (*DecryptAddressResult, error) {
	if err := r.requireKey(); err != nil {
		return nil, err
	}

	handle, err := r.registry.GetEncryptedAddress(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	address, err := r.session.DecryptAddress(ctx, r.key, r.registry.ContractAddress(), r.now(), handle)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt address: %w", err)
	}
	return &DecryptAddressResult{DatabaseID: databaseID, Address: address}, nil
}

// AddValueResult is returned by AddValue.
type AddValueResult struct {
	DatabaseID uint64            `json:"database_id" yaml:"database_id"`
	EntryIndex uint64            `json:"entry_index" yaml:"entry_index"`
	Value      uint32            `json:"value" yaml:"value"`
	Handle     interfaces.Handle `json:"handle" yaml:"handle"`
	ValueCount uint64            `json:"value_count" yaml:"value_count"`
}

// AddValue encrypts value and appends it to a database.
func (r *Runner) AddValue(ctx context.Context, databaseID uint64, value uint32) (*AddValueResult, error) {
	addressHandle, err := r.registry.GetEncryptedAddress(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	input := r.session.NewInput(r.registry.ContractAddress(), r.registry.Caller()).AddUint32(value)
	encrypted, err := r.session.Encrypt(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt value: %w", err)
	}

	index, err := r.registry.StoreEncryptedValue(ctx, databaseID, encrypted.Handles[0], addressHandle, encrypted.InputProof)
	if err != nil {
		return nil, fmt.Errorf("failed to store value: %w", err)
	}

	metadata, err := r.registry.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	return &AddValueResult{
		DatabaseID: databaseID,
		EntryIndex: index,
		Value:      value,
		Handle:     encrypted.Handles[0],
		ValueCount: metadata.ValueCount,
	}, nil
}

// DecryptValueResult is returned by DecryptValue.
type DecryptValueResult struct {
	DatabaseID uint64 `json:"database_id" yaml:"database_id"`
	EntryIndex uint64 `json:"entry_index" yaml:"entry_index"`
	Value      uint32 `json:"value" yaml:"value"`
}

// DecryptValue decrypts one entry. The caller needs a grant on it.
func (r *Runner) DecryptValue(ctx context.Context, databaseID, entryIndex uint64) (*DecryptValueResult, error) {
	if err := r.requireKey(); err != nil {
		return nil, err
	}

	entry, err := r.registry.GetEntry(ctx, databaseID, entryIndex)
	if err != nil {
		return nil, err
	}

	value, err := r.session.DecryptUint32(ctx, r.key, r.registry.ContractAddress(), r.now(), entry.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	return &DecryptValueResult{DatabaseID: databaseID, EntryIndex: entryIndex, Value: value}, nil
}

// ShareResult is returned by the sharing tasks. EntryIndex is nil when the
// address was shared.
type ShareResult struct {
	DatabaseID uint64         `json:"database_id" yaml:"database_id"`
	EntryIndex *uint64        `json:"entry_index,omitempty" yaml:"entry_index,omitempty"`
	Target     common.Address `json:"target" yaml:"target"`
}

// ShareValue grants target decryption rights on one entry. Owner only.
func (r *Runner) ShareValue(ctx context.Context, databaseID, entryIndex uint64, target common.Address) (*ShareResult, error) {
	if err := r.registry.ShareEncryptedValue(ctx, databaseID, entryIndex, target); err != nil {
		return nil, fmt.Errorf("failed to share value: %w", err)
	}
	return &ShareResult{DatabaseID: databaseID, EntryIndex: &entryIndex, Target: target}, nil
}

// ShareAddress grants target decryption rights on the database address. Owner only.
func (r *Runner) ShareAddress(ctx context.Context, databaseID uint64, target common.Address) (*ShareResult, error) {
	if err := r.registry.RefreshAddressAccess(ctx, databaseID, target); err != nil {
		return nil, fmt.Errorf("failed to share address: %w", err)
	}
	return &ShareResult{DatabaseID: databaseID, Target: target}, nil
}

// ListResult is returned by List.
type ListResult struct {
	Owner     common.Address                `json:"owner" yaml:"owner"`
	Databases []interfaces.DatabaseMetadata `json:"databases" yaml:"databases"`
}

// List returns the databases created by the caller.
func (r *Runner) List(ctx context.Context) (*ListResult, error) {
	ids, err := r.registry.GetOwnedDatabases(ctx)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Owner: r.registry.Caller(), Databases: make([]interfaces.DatabaseMetadata, 0, len(ids))}
	for _, id := range ids {
		metadata, err := r.registry.GetDatabase(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Databases = append(result.Databases, *metadata)
	}
	return result, nil
}

// InfoResult is returned by Info.
type InfoResult struct {
	interfaces.DatabaseMetadata `yaml:",inline"`
	AddressHandle               interfaces.Handle  `json:"address_handle" yaml:"address_handle"`
	Entries                     []interfaces.Entry `json:"entries" yaml:"entries"`
}

// Info returns a database with all of its entries.
func (r *Runner) Info(ctx context.Context, databaseID uint64) (*InfoResult, error) {
	metadata, err := r.registry.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	handle, err := r.registry.GetEncryptedAddress(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	result := &InfoResult{DatabaseMetadata: *metadata, AddressHandle: handle, Entries: make([]interfaces.Entry, 0, metadata.ValueCount)}
	for i := uint64(0); i < metadata.ValueCount; i++ {
		entry, err := r.registry.GetEntry(ctx, databaseID, i)
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, *entry)
	}
	return result, nil
}

// KeygenResult is returned by Keygen.
type KeygenResult struct {
	Address    common.Address `json:"address" yaml:"address"`
	PrivateKey string         `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	Keystore   string         `json:"keystore,omitempty" yaml:"keystore,omitempty"`
}

// Keygen creates a new account key. With a keystore path the key is written
// there encrypted with passphrase and not returned.
func Keygen(keystorePath string, passphrase []byte) (*KeygenResult, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	result := &KeygenResult{Address: crypto.PubkeyToAddress(key.PublicKey)}
	if keystorePath == "" {
		result.PrivateKey = hexutil.Encode(crypto.FromECDSA(key))
		return result, nil
	}

	if _, err := cryptoutils.WriteKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}
	result.Keystore = keystorePath
	return result, nil
}
