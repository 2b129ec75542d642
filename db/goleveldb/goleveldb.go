// Package goleveldb implements db.Database on top of syndtr/goleveldb, kept
// as a secondary on-disk backend alongside pebbledb.
package goleveldb

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/dexproxy/dexproxy/db"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB implements db.Database using a syndtr/goleveldb store.
type LevelDB struct {
	db *leveldb.DB
}

var _ db.Database = (*LevelDB)(nil)

// New opens (or creates) a LevelDB database at opts.Path.
func New(opts db.Options) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(opts.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: ldb}, nil
}

// Get implements db.Database.
func (d *LevelDB) Get(k []byte) ([]byte, error) {
	v, err := d.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

// Iterate implements db.Database.
func (d *LevelDB) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	iter := d.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	return iterateRange(iter, prefix, callback)
}

func iterateRange(iter iterator.Iterator, prefix []byte, callback func(k, v []byte) bool) error {
	for iter.Next() {
		localKey := bytes.Clone(iter.Key())[len(prefix):]
		if cont := callback(localKey, bytes.Clone(iter.Value())); !cont {
			break
		}
	}
	return iter.Error()
}

// WriteTx implements db.Database, returning a batched write transaction.
func (d *LevelDB) WriteTx() db.WriteTx {
	return &WriteTx{db: d.db, batch: new(leveldb.Batch), pending: map[string]*[]byte{}}
}

// Compact implements db.Database by compacting the full key range.
func (d *LevelDB) Compact() error {
	return d.db.CompactRange(util.Range{Start: nil, Limit: nil})
}

// Close implements db.Database.
func (d *LevelDB) Close() error {
	return d.db.Close()
}

// WriteTx implements db.WriteTx over a leveldb.Batch. Since leveldb.Batch
// does not support reading back its own pending writes, this tracks them in
// an in-memory overlay (pending) that Get/Iterate consult before falling
// back to the underlying database, and that Apply/Commit replay into the
// batch.
type WriteTx struct {
	db      *leveldb.DB
	batch   *leveldb.Batch
	pending map[string]*[]byte // nil value = pending delete
}

var _ db.WriteTx = (*WriteTx)(nil)

// Get implements db.WriteTx.
func (tx *WriteTx) Get(k []byte) ([]byte, error) {
	if v, ok := tx.pending[string(k)]; ok {
		if v == nil {
			return nil, db.ErrKeyNotFound
		}
		return bytes.Clone(*v), nil
	}
	v, err := tx.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v), nil
}

// Iterate implements db.WriteTx, overlaying pending writes on top of the
// committed keyspace.
func (tx *WriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	merged := map[string][]byte{}
	iter := tx.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		k := bytes.Clone(iter.Key())
		merged[string(k[len(prefix):])] = bytes.Clone(iter.Value())
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for k, v := range tx.pending {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		local := k[len(prefix):]
		if v == nil {
			delete(merged, local)
			continue
		}
		merged[local] = bytes.Clone(*v)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !callback([]byte(k), merged[k]) {
			break
		}
	}
	return nil
}

// Set implements db.WriteTx.
func (tx *WriteTx) Set(k, v []byte) error {
	vc := bytes.Clone(v)
	tx.pending[string(k)] = &vc
	tx.batch.Put(k, v)
	return nil
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(k []byte) error {
	tx.pending[string(k)] = nil
	tx.batch.Delete(k)
	return nil
}

// Apply implements db.WriteTx by setting every key-value pair visible through
// the other transaction (its committed keys plus its pending sets) in this
// one. Pending deletes in the other transaction are not carried over.
func (tx *WriteTx) Apply(other db.WriteTx) error {
	return other.Iterate(nil, func(k, v []byte) bool {
		if err := tx.Set(k, v); err != nil {
			return false
		}
		return true
	})
}

// Commit implements db.WriteTx.
func (tx *WriteTx) Commit() error {
	if tx.batch == nil {
		return fmt.Errorf("cannot commit leveldb tx: already committed or discarded")
	}
	err := tx.db.Write(tx.batch, nil)
	tx.batch = nil
	tx.pending = nil
	return err
}

// Discard implements db.WriteTx.
func (tx *WriteTx) Discard() {
	tx.batch = nil
	tx.pending = nil
}
