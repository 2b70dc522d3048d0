package state

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

var ErrNotFound = errors.New("not found")

// EventFilter selects a window of the event log.
type EventFilter struct {
	// FromSeq is the first sequence number returned.
	FromSeq uint64
	// DatabaseID restricts events to one database when set.
	DatabaseID *uint64
	// Limit caps the number of events returned, 0 means no limit.
	Limit int
}

func (f EventFilter) matches(ev *interfaces.Event) bool {
	if ev.Seq < f.FromSeq {
		return false
	}
	return f.DatabaseID == nil || *f.DatabaseID == ev.DatabaseID
}

// Reader is the read side of the registry state.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	DatabaseCount(ctx context.Context) (uint64, error)
	// Database returns ErrNotFound for unknown identifiers.
	Database(ctx context.Context, id uint64) (*interfaces.DatabaseRecord, error)
	// Entry returns ErrNotFound for unknown database or index.
	Entry(ctx context.Context, databaseID, index uint64) (*interfaces.Entry, error)
	OwnedDatabases(ctx context.Context, owner common.Address) ([]uint64, error)
	IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
	Events(ctx context.Context, filter EventFilter) ([]interfaces.Event, error)
}

// Writer is handed to Store.Update callbacks.
type Writer interface {
	Reader

	SetBlockNumber(ctx context.Context, number uint64) error
	// PutDatabase inserts or replaces a record.
	PutDatabase(ctx context.Context, record *interfaces.DatabaseRecord) error
	AppendEntry(ctx context.Context, databaseID uint64, entry *interfaces.Entry) error
	AddOwnedDatabase(ctx context.Context, owner common.Address, id uint64) error
	// Allow is idempotent.
	Allow(ctx context.Context, handle interfaces.Handle, account common.Address) error
	SetNonce(ctx context.Context, account common.Address, nonce uint64) error
	// AppendEvent assigns the next sequence number to ev and stores it.
	AppendEvent(ctx context.Context, ev *interfaces.Event) error
}

// Store is a transactional registry state.
type Store interface {
	Reader
	// Update runs fn atomically. Writes are discarded if fn returns an error.
	Update(ctx context.Context, fn func(w Writer) error) error
	Close() error
}
