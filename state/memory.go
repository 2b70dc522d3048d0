package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

type aclKey struct {
	handle  interfaces.Handle
	account common.Address
}

// MemoryStore keeps state in maps. Update holds the write lock for the
// whole callback and reverts through an undo journal on failure.
type MemoryStore struct {
	mu sync.RWMutex

	blockNumber uint64
	databases   []*interfaces.DatabaseRecord
	entries     map[uint64][]*interfaces.Entry
	owned       map[common.Address][]uint64
	acl         map[aclKey]struct{}
	nonces      map[common.Address]uint64
	events      []interfaces.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uint64][]*interfaces.Entry),
		owned:   make(map[common.Address][]uint64),
		acl:     make(map[aclKey]struct{}),
		nonces:  make(map[common.Address]uint64),
	}
}

func (s *MemoryStore) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blockNumber, nil
}

func (s *MemoryStore) DatabaseCount(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.databases)), nil
}

func (s *MemoryStore) Database(ctx context.Context, id uint64) (*interfaces.DatabaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.database(id)
}

func (s *MemoryStore) Entry(ctx context.Context, databaseID, index uint64) (*interfaces.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entry(databaseID, index)
}

func (s *MemoryStore) OwnedDatabases(ctx context.Context, owner common.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64{}, s.owned[owner]...), nil
}

func (s *MemoryStore) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.acl[aclKey{handle, account}]
	return ok, nil
}

func (s *MemoryStore) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nonces[account], nil
}

func (s *MemoryStore) Events(ctx context.Context, filter EventFilter) ([]interfaces.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterEvents(filter), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, fn func(w Writer) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s}
	defer func() {
		if p := recover(); p != nil {
			tx.revert()
			panic(p)
		}
		if err != nil {
			tx.revert()
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(tx)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) database(id uint64) (*interfaces.DatabaseRecord, error) {
	if id >= uint64(len(s.databases)) {
		return nil, fmt.Errorf("database %d: %w", id, ErrNotFound)
	}
	record := *s.databases[id]
	return &record, nil
}

func (s *MemoryStore) entry(databaseID, index uint64) (*interfaces.Entry, error) {
	entries := s.entries[databaseID]
	if index >= uint64(len(entries)) {
		return nil, fmt.Errorf("entry %d of database %d: %w", index, databaseID, ErrNotFound)
	}
	entry := *entries[index]
	return &entry, nil
}

func (s *MemoryStore) filterEvents(filter EventFilter) []interfaces.Event {
	out := []interfaces.Event{}
	for i := range s.events {
		if !filter.matches(&s.events[i]) {
			continue
		}
		out = append(out, s.events[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// memoryTx reads and writes the store directly; the store's write lock is
// held by Update for its whole lifetime.
type memoryTx struct {
	store *MemoryStore
	undo  []func()
}

func (t *memoryTx) revert() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memoryTx) BlockNumber(ctx context.Context) (uint64, error) {
	return t.store.blockNumber, nil
}

func (t *memoryTx) DatabaseCount(ctx context.Context) (uint64, error) {
	return uint64(len(t.store.databases)), nil
}

func (t *memoryTx) Database(ctx context.Context, id uint64) (*interfaces.DatabaseRecord, error) {
	return t.store.database(id)
}

func (t *memoryTx) Entry(ctx context.Context, databaseID, index uint64) (*interfaces.Entry, error) {
	return t.store.entry(databaseID, index)
}

func (t *memoryTx) OwnedDatabases(ctx context.Context, owner common.Address) ([]uint64, error) {
	return append([]uint64{}, t.store.owned[owner]...), nil
}

func (t *memoryTx) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	_, ok := t.store.acl[aclKey{handle, account}]
	return ok, nil
}

func (t *memoryTx) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	return t.store.nonces[account], nil
}

func (t *memoryTx) Events(ctx context.Context, filter EventFilter) ([]interfaces.Event, error) {
	return t.store.filterEvents(filter), nil
}

func (t *memoryTx) SetBlockNumber(ctx context.Context, number uint64) error {
	prev := t.store.blockNumber
	t.store.blockNumber = number
	t.undo = append(t.undo, func() { t.store.blockNumber = prev })
	return nil
}

func (t *memoryTx) PutDatabase(ctx context.Context, record *interfaces.DatabaseRecord) error {
	s := t.store
	stored := *record

	switch {
	case record.ID < uint64(len(s.databases)):
		prev := s.databases[record.ID]
		s.databases[record.ID] = &stored
		t.undo = append(t.undo, func() { s.databases[record.ID] = prev })
	case record.ID == uint64(len(s.databases)):
		s.databases = append(s.databases, &stored)
		t.undo = append(t.undo, func() { s.databases = s.databases[:len(s.databases)-1] })
	default:
		return fmt.Errorf("database id %d is not sequential (next is %d)", record.ID, len(s.databases))
	}
	return nil
}

func (t *memoryTx) AppendEntry(ctx context.Context, databaseID uint64, entry *interfaces.Entry) error {
	s := t.store
	if entry.Index != uint64(len(s.entries[databaseID])) {
		return fmt.Errorf("entry index %d is not sequential for database %d", entry.Index, databaseID)
	}

	stored := *entry
	s.entries[databaseID] = append(s.entries[databaseID], &stored)
	t.undo = append(t.undo, func() {
		entries := s.entries[databaseID]
		s.entries[databaseID] = entries[:len(entries)-1]
	})
	return nil
}

func (t *memoryTx) AddOwnedDatabase(ctx context.Context, owner common.Address, id uint64) error {
	s := t.store
	s.owned[owner] = append(s.owned[owner], id)
	t.undo = append(t.undo, func() {
		owned := s.owned[owner]
		if len(owned) == 1 {
			delete(s.owned, owner)
			return
		}
		s.owned[owner] = owned[:len(owned)-1]
	})
	return nil
}

func (t *memoryTx) Allow(ctx context.Context, handle interfaces.Handle, account common.Address) error {
	s := t.store
	key := aclKey{handle, account}
	if _, ok := s.acl[key]; ok {
		return nil
	}
	s.acl[key] = struct{}{}
	t.undo = append(t.undo, func() { delete(s.acl, key) })
	return nil
}

func (t *memoryTx) SetNonce(ctx context.Context, account common.Address, nonce uint64) error {
	s := t.store
	prev, existed := s.nonces[account]
	s.nonces[account] = nonce
	t.undo = append(t.undo, func() {
		if existed {
			s.nonces[account] = prev
		} else {
			delete(s.nonces, account)
		}
	})
	return nil
}

func (t *memoryTx) AppendEvent(ctx context.Context, ev *interfaces.Event) error {
	s := t.store
	ev.Seq = uint64(len(s.events))
	s.events = append(s.events, *ev)
	t.undo = append(t.undo, func() { s.events = s.events[:len(s.events)-1] })
	return nil
}
