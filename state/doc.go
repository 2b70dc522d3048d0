// Package state persists registry contract state: database records and
// their entries, the ownership index, ACL grants, account nonces, the event
// log and the current block number.
//
// All mutations happen inside Store.Update, which applies them atomically:
// if the callback fails nothing it wrote remains visible. Two implementations
// are provided, MemoryStore (undo journal) and SQLStore (sqlite or postgres
// through database/sql, schema managed by goose migrations).
package state
