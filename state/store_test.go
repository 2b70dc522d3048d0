package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func testHandle(b byte) interfaces.Handle {
	var h interfaces.Handle
	h[0] = b
	h[30] = byte(interfaces.FheUint32)
	return h
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seedDatabase(ctx context.Context, w Writer, id uint64, owner common.Address) error {
	record := &interfaces.DatabaseRecord{
		DatabaseMetadata: interfaces.DatabaseMetadata{
			ID:        id,
			Name:      "Vault A",
			Owner:     owner,
			CreatedAt: 100,
			UpdatedAt: 100,
		},
		AddressHandle: testHandle(byte(0x10 + id)),
	}
	if err := w.PutDatabase(ctx, record); err != nil {
		return err
	}
	return w.AddOwnedDatabase(ctx, owner, id)
}

func TestStoreCommit(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Update(ctx, func(w Writer) error {
				if err := w.SetBlockNumber(ctx, 7); err != nil {
					return err
				}
				if err := seedDatabase(ctx, w, 0, alice); err != nil {
					return err
				}
				if err := w.AppendEntry(ctx, 0, &interfaces.Entry{Index: 0, Handle: testHandle(1), Timestamp: 101, Submitter: bob}); err != nil {
					return err
				}
				if err := w.Allow(ctx, testHandle(1), bob); err != nil {
					return err
				}
				// granting twice is a no-op
				if err := w.Allow(ctx, testHandle(1), bob); err != nil {
					return err
				}
				if err := w.SetNonce(ctx, alice, 3); err != nil {
					return err
				}

				ev := &interfaces.Event{Kind: interfaces.EventDatabaseCreated, Account: alice, Name: "Vault A"}
				if err := w.AppendEvent(ctx, ev); err != nil {
					return err
				}
				require.Equal(t, uint64(0), ev.Seq)

				ev = &interfaces.Event{Kind: interfaces.EventDatabaseEntryStored, Account: bob, Handle: testHandle(1)}
				if err := w.AppendEvent(ctx, ev); err != nil {
					return err
				}
				require.Equal(t, uint64(1), ev.Seq)

				// writes are visible inside the transaction
				count, err := w.DatabaseCount(ctx)
				require.NoError(t, err)
				require.Equal(t, uint64(1), count)
				return nil
			})
			require.NoError(t, err)

			block, err := store.BlockNumber(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(7), block)

			record, err := store.Database(ctx, 0)
			require.NoError(t, err)
			require.Equal(t, "Vault A", record.Name)
			require.Equal(t, alice, record.Owner)
			require.Equal(t, testHandle(0x10), record.AddressHandle)

			entry, err := store.Entry(ctx, 0, 0)
			require.NoError(t, err)
			require.Equal(t, testHandle(1), entry.Handle)
			require.Equal(t, bob, entry.Submitter)
			require.Equal(t, uint64(101), entry.Timestamp)

			_, err = store.Entry(ctx, 0, 1)
			require.ErrorIs(t, err, ErrNotFound)
			_, err = store.Database(ctx, 1)
			require.ErrorIs(t, err, ErrNotFound)

			owned, err := store.OwnedDatabases(ctx, alice)
			require.NoError(t, err)
			require.Equal(t, []uint64{0}, owned)

			owned, err = store.OwnedDatabases(ctx, bob)
			require.NoError(t, err)
			require.Empty(t, owned)

			allowed, err := store.IsAllowed(ctx, testHandle(1), bob)
			require.NoError(t, err)
			require.True(t, allowed)

			allowed, err = store.IsAllowed(ctx, testHandle(1), alice)
			require.NoError(t, err)
			require.False(t, allowed)

			nonce, err := store.Nonce(ctx, alice)
			require.NoError(t, err)
			require.Equal(t, uint64(3), nonce)

			nonce, err = store.Nonce(ctx, bob)
			require.NoError(t, err)
			require.Equal(t, uint64(0), nonce)

			events, err := store.Events(ctx, EventFilter{})
			require.NoError(t, err)
			require.Len(t, events, 2)
			require.Equal(t, interfaces.EventDatabaseCreated, events[0].Kind)
			require.Equal(t, "Vault A", events[0].Name)

			events, err = store.Events(ctx, EventFilter{FromSeq: 1})
			require.NoError(t, err)
			require.Len(t, events, 1)
			require.Equal(t, testHandle(1), events[0].Handle)

			events, err = store.Events(ctx, EventFilter{Limit: 1})
			require.NoError(t, err)
			require.Len(t, events, 1)
		})
	}
}

func TestStoreRollback(t *testing.T) {
	ctx := context.Background()
	errBoom := errors.New("boom")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Update(ctx, func(w Writer) error {
				if err := w.SetNonce(ctx, alice, 1); err != nil {
					return err
				}
				return seedDatabase(ctx, w, 0, alice)
			}))

			err := store.Update(ctx, func(w Writer) error {
				if err := w.SetBlockNumber(ctx, 9); err != nil {
					return err
				}
				if err := seedDatabase(ctx, w, 1, bob); err != nil {
					return err
				}
				record, err := w.Database(ctx, 0)
				if err != nil {
					return err
				}
				record.ValueCount = 1
				record.UpdatedAt = 200
				if err := w.PutDatabase(ctx, record); err != nil {
					return err
				}
				if err := w.AppendEntry(ctx, 0, &interfaces.Entry{Index: 0, Handle: testHandle(2), Submitter: alice}); err != nil {
					return err
				}
				if err := w.Allow(ctx, testHandle(2), alice); err != nil {
					return err
				}
				if err := w.SetNonce(ctx, alice, 2); err != nil {
					return err
				}
				if err := w.SetNonce(ctx, bob, 1); err != nil {
					return err
				}
				if err := w.AppendEvent(ctx, &interfaces.Event{Kind: interfaces.EventDatabaseCreated}); err != nil {
					return err
				}
				return errBoom
			})
			require.ErrorIs(t, err, errBoom)

			block, err := store.BlockNumber(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(0), block)

			count, err := store.DatabaseCount(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(1), count)

			record, err := store.Database(ctx, 0)
			require.NoError(t, err)
			require.Equal(t, uint64(0), record.ValueCount)
			require.Equal(t, uint64(100), record.UpdatedAt)

			_, err = store.Entry(ctx, 0, 0)
			require.ErrorIs(t, err, ErrNotFound)

			allowed, err := store.IsAllowed(ctx, testHandle(2), alice)
			require.NoError(t, err)
			require.False(t, allowed)

			nonce, err := store.Nonce(ctx, alice)
			require.NoError(t, err)
			require.Equal(t, uint64(1), nonce)
			nonce, err = store.Nonce(ctx, bob)
			require.NoError(t, err)
			require.Equal(t, uint64(0), nonce)

			owned, err := store.OwnedDatabases(ctx, bob)
			require.NoError(t, err)
			require.Empty(t, owned)

			events, err := store.Events(ctx, EventFilter{})
			require.NoError(t, err)
			require.Empty(t, events)
		})
	}
}

func TestEventFilterByDatabase(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Update(ctx, func(w Writer) error {
				for i := uint64(0); i < 4; i++ {
					if err := w.AppendEvent(ctx, &interfaces.Event{Kind: interfaces.EventDatabaseEntryStored, DatabaseID: i % 2}); err != nil {
						return err
					}
				}
				return nil
			}))

			one := uint64(1)
			events, err := store.Events(ctx, EventFilter{DatabaseID: &one})
			require.NoError(t, err)
			require.Len(t, events, 2)
			require.Equal(t, uint64(1), events[0].Seq)
			require.Equal(t, uint64(3), events[1].Seq)
		})
	}
}

func TestMemoryStoreSequentialIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Update(ctx, func(w Writer) error {
		return w.PutDatabase(ctx, &interfaces.DatabaseRecord{DatabaseMetadata: interfaces.DatabaseMetadata{ID: 5}})
	})
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	require.Equal(t, "SELECT a FROM t WHERE x = ? AND y = ?", rebind(DialectSQLite, "SELECT a FROM t WHERE x = ? AND y = ?"))
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", rebind(DialectPostgres, "SELECT a FROM t WHERE x = ? AND y = ?"))
}
