// Package db defines the key-value storage abstraction used by the request
// cache. Implementations are swappable: an embedded LSM engine for
// production (pebble, goleveldb) or an in-memory map for tests.
package db

import "errors"

// Available backend type identifiers, passed to a driver factory.
const (
	TypePebble  = "pebble"
	TypeLevelDB = "leveldb"
)

// ErrKeyNotFound is returned by Get and WriteTx.Get when the key does not
// exist.
var ErrKeyNotFound = errors.New("db: key not found")

// ErrConflict is returned by WriteTx.Commit when a key read during the
// transaction was modified by another writer before commit.
var ErrConflict = errors.New("db: write conflict")

// Options configures a backend driver. Path is a filesystem directory for
// on-disk engines; it is ignored by the in-memory driver.
type Options struct {
	Path string
}

// Database is a namespaced key-value store. Implementations must be safe
// for concurrent use.
type Database interface {
	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key under prefix, in ascending key
	// order, until callback returns false. The prefix is stripped from the
	// key passed to callback.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	// WriteTx opens a new read/write transaction.
	WriteTx() WriteTx
	// Compact requests the backend to reclaim space from deleted/overwritten
	// keys. A no-op on backends without a compaction step.
	Compact() error
	// Close releases the backend's resources.
	Close() error
}

// WriteTx is a read/write transaction returned by Database.WriteTx. Changes
// are only visible to other readers once Commit succeeds.
type WriteTx interface {
	Get(key []byte) ([]byte, error)
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
	Set(key, value []byte) error
	Delete(key []byte) error
	// Apply merges the writes recorded in another transaction into this one.
	Apply(other WriteTx) error
	Commit() error
	// Discard abandons the transaction. Safe to call after Commit or
	// multiple times; intended to be deferred.
	Discard()
}

// UnwrapWriteTx returns tx itself. It exists so that driver packages which
// wrap WriteTx in their own concrete type (see pebbledb.WriteTx.Apply) have a
// single documented way to recover the concrete type of a transaction that
// arrived through the db.WriteTx interface.
func UnwrapWriteTx(tx WriteTx) WriteTx {
	return tx
}
