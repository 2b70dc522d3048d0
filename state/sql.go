package state

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const blockNumberKey = "block_number"

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore keeps state in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	sqlReader
}

// OpenSQLite opens (creating if needed) a sqlite database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite serializes writers anyway; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return newSQLStore(ctx, db, DialectSQLite)
}

// OpenPostgres connects to postgres with the pgx driver and migrates it.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newSQLStore(ctx, db, DialectPostgres)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := RunMigrations(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{
		db:        db,
		dialect:   dialect,
		sqlReader: sqlReader{q: db, dialect: dialect},
	}, nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(migrations)
	gooseDialect := "sqlite3"
	if dialect == DialectPostgres {
		gooseDialect = "pgx"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	return nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, fn func(w Writer) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(&sqlWriter{sqlReader{q: tx, dialect: s.dialect}})
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type sqlReader struct {
	q       dbtx
	dialect Dialect
}

func (r sqlReader) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.q.ExecContext(ctx, rebind(r.dialect, query), args...)
	return err
}

func (r sqlReader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, rebind(r.dialect, query), args...)
}

func (r sqlReader) BlockNumber(ctx context.Context) (uint64, error) {
	var number int64
	err := r.queryRow(ctx, `SELECT value FROM chain_meta WHERE key = ?`, blockNumberKey).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(number), err
}

func (r sqlReader) DatabaseCount(ctx context.Context) (uint64, error) {
	var count int64
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM databases`).Scan(&count)
	return uint64(count), err
}

func (r sqlReader) Database(ctx context.Context, id uint64) (*interfaces.DatabaseRecord, error) {
	var (
		record                             interfaces.DatabaseRecord
		owner                              string
		handle                             []byte
		dbID, createdAt, updatedAt, values int64
	)

	err := r.queryRow(ctx,
		`SELECT id, name, owner, created_at, updated_at, value_count, address_handle FROM databases WHERE id = ?`,
		int64(id),
	).Scan(&dbID, &record.Name, &owner, &createdAt, &updatedAt, &values, &handle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("database %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	record.ID = uint64(dbID)
	record.Owner = common.HexToAddress(owner)
	record.CreatedAt = uint64(createdAt)
	record.UpdatedAt = uint64(updatedAt)
	record.ValueCount = uint64(values)
	if record.AddressHandle, err = interfaces.NewHandleFromBytes(handle); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r sqlReader) Entry(ctx context.Context, databaseID, index uint64) (*interfaces.Entry, error) {
	var (
		submitter string
		handle    []byte
		timestamp int64
	)

	err := r.queryRow(ctx,
		`SELECT handle, timestamp, submitter FROM entries WHERE database_id = ? AND idx = ?`,
		int64(databaseID), int64(index),
	).Scan(&handle, &timestamp, &submitter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %d of database %d: %w", index, databaseID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	h, err := interfaces.NewHandleFromBytes(handle)
	if err != nil {
		return nil, err
	}
	return &interfaces.Entry{
		Index:     index,
		Handle:    h,
		Timestamp: uint64(timestamp),
		Submitter: common.HexToAddress(submitter),
	}, nil
}

func (r sqlReader) OwnedDatabases(ctx context.Context, owner common.Address) ([]uint64, error) {
	rows, err := r.q.QueryContext(ctx,
		rebind(r.dialect, `SELECT database_id FROM owned_databases WHERE owner = ? ORDER BY database_id`),
		owner.Hex(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (r sqlReader) IsAllowed(ctx context.Context, handle interfaces.Handle, account common.Address) (bool, error) {
	var one int
	err := r.queryRow(ctx, `SELECT 1 FROM acl WHERE handle = ? AND account = ?`, handle.Bytes(), account.Hex()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r sqlReader) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce int64
	err := r.queryRow(ctx, `SELECT nonce FROM nonces WHERE account = ?`, account.Hex()).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(nonce), err
}

func (r sqlReader) Events(ctx context.Context, filter EventFilter) ([]interfaces.Event, error) {
	query := `SELECT seq, kind, database_id, entry_index, account, handle, name, block_number, tx_hash, timestamp FROM events WHERE seq >= ?`
	args := []any{int64(filter.FromSeq)}
	if filter.DatabaseID != nil {
		query += ` AND database_id = ?`
		args = append(args, int64(*filter.DatabaseID))
	}
	query += ` ORDER BY seq`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []interfaces.Event{}
	for rows.Next() {
		var (
			ev                                      interfaces.Event
			kind, account                           string
			handle, txHash                          []byte
			seq, dbID, entryIndex, block, timestamp int64
		)
		if err := rows.Scan(&seq, &kind, &dbID, &entryIndex, &account, &handle, &ev.Name, &block, &txHash, &timestamp); err != nil {
			return nil, err
		}

		ev.Seq = uint64(seq)
		ev.Kind = interfaces.EventKind(kind)
		ev.DatabaseID = uint64(dbID)
		ev.EntryIndex = uint64(entryIndex)
		ev.Account = common.HexToAddress(account)
		ev.BlockNumber = uint64(block)
		ev.TxHash = common.BytesToHash(txHash)
		ev.Timestamp = uint64(timestamp)
		if ev.Handle, err = interfaces.NewHandleFromBytes(handle); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type sqlWriter struct {
	sqlReader
}

func (w *sqlWriter) SetBlockNumber(ctx context.Context, number uint64) error {
	return w.exec(ctx,
		`INSERT INTO chain_meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		blockNumberKey, int64(number),
	)
}

func (w *sqlWriter) PutDatabase(ctx context.Context, record *interfaces.DatabaseRecord) error {
	return w.exec(ctx,
		`INSERT INTO databases (id, name, owner, created_at, updated_at, value_count, address_handle)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			owner = excluded.owner,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			value_count = excluded.value_count,
			address_handle = excluded.address_handle`,
		int64(record.ID), record.Name, record.Owner.Hex(), int64(record.CreatedAt),
		int64(record.UpdatedAt), int64(record.ValueCount), record.AddressHandle.Bytes(),
	)
}

func (w *sqlWriter) AppendEntry(ctx context.Context, databaseID uint64, entry *interfaces.Entry) error {
	return w.exec(ctx,
		`INSERT INTO entries (database_id, idx, handle, timestamp, submitter) VALUES (?, ?, ?, ?, ?)`,
		int64(databaseID), int64(entry.Index), entry.Handle.Bytes(), int64(entry.Timestamp), entry.Submitter.Hex(),
	)
}

func (w *sqlWriter) AddOwnedDatabase(ctx context.Context, owner common.Address, id uint64) error {
	return w.exec(ctx,
		`INSERT INTO owned_databases (owner, database_id) VALUES (?, ?)`,
		owner.Hex(), int64(id),
	)
}

func (w *sqlWriter) Allow(ctx context.Context, handle interfaces.Handle, account common.Address) error {
	return w.exec(ctx,
		`INSERT INTO acl (handle, account) VALUES (?, ?) ON CONFLICT (handle, account) DO NOTHING`,
		handle.Bytes(), account.Hex(),
	)
}

func (w *sqlWriter) SetNonce(ctx context.Context, account common.Address, nonce uint64) error {
	return w.exec(ctx,
		`INSERT INTO nonces (account, nonce) VALUES (?, ?) ON CONFLICT (account) DO UPDATE SET nonce = excluded.nonce`,
		account.Hex(), int64(nonce),
	)
}

func (w *sqlWriter) AppendEvent(ctx context.Context, ev *interfaces.Event) error {
	var next int64
	if err := w.queryRow(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM events`).Scan(&next); err != nil {
		return err
	}

	ev.Seq = uint64(next)
	return w.exec(ctx,
		`INSERT INTO events (seq, kind, database_id, entry_index, account, handle, name, block_number, tx_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next, string(ev.Kind), int64(ev.DatabaseID), int64(ev.EntryIndex), ev.Account.Hex(),
		ev.Handle.Bytes(), ev.Name, int64(ev.BlockNumber), ev.TxHash.Bytes(), int64(ev.Timestamp),
	)
}
