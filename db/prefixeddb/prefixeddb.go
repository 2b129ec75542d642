// Package prefixeddb wraps a db.Database so that every key it sees is
// transparently namespaced under a fixed prefix, letting unrelated
// subsystems share one physical backend without key collisions.
package prefixeddb

import (
	"bytes"

	"github.com/dexproxy/dexproxy/db"
)

// PrefixedDatabase is a db.Database view over another db.Database, scoped to
// keys under prefix.
type PrefixedDatabase struct {
	parent db.Database
	prefix []byte
}

var _ db.Database = (*PrefixedDatabase)(nil)

// NewPrefixedDatabase returns a view of parent restricted to prefix.
func NewPrefixedDatabase(parent db.Database, prefix []byte) *PrefixedDatabase {
	return &PrefixedDatabase{parent: parent, prefix: bytes.Clone(prefix)}
}

func (d *PrefixedDatabase) full(k []byte) []byte {
	return append(append([]byte{}, d.prefix...), k...)
}

// Get implements db.Database.
func (d *PrefixedDatabase) Get(k []byte) ([]byte, error) {
	return d.parent.Get(d.full(k))
}

// Iterate implements db.Database.
func (d *PrefixedDatabase) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return d.parent.Iterate(d.full(prefix), callback)
}

// WriteTx implements db.Database.
func (d *PrefixedDatabase) WriteTx() db.WriteTx {
	return &prefixedWriteTx{parent: d.parent.WriteTx(), prefix: d.prefix}
}

// Compact implements db.Database.
func (d *PrefixedDatabase) Compact() error {
	return d.parent.Compact()
}

// Close implements db.Database. The parent database is not closed, since
// ownership remains with whoever constructed it.
func (d *PrefixedDatabase) Close() error {
	return nil
}

type prefixedWriteTx struct {
	parent db.WriteTx
	prefix []byte
}

var _ db.WriteTx = (*prefixedWriteTx)(nil)

func (tx *prefixedWriteTx) full(k []byte) []byte {
	return append(append([]byte{}, tx.prefix...), k...)
}

func (tx *prefixedWriteTx) Get(k []byte) ([]byte, error) {
	return tx.parent.Get(tx.full(k))
}

func (tx *prefixedWriteTx) Iterate(prefix []byte, callback func(k, v []byte) bool) error {
	return tx.parent.Iterate(tx.full(prefix), callback)
}

func (tx *prefixedWriteTx) Set(k, v []byte) error {
	return tx.parent.Set(tx.full(k), v)
}

func (tx *prefixedWriteTx) Delete(k []byte) error {
	return tx.parent.Delete(tx.full(k))
}

func (tx *prefixedWriteTx) Apply(other db.WriteTx) error {
	return tx.parent.Apply(other)
}

func (tx *prefixedWriteTx) Commit() error {
	return tx.parent.Commit()
}

func (tx *prefixedWriteTx) Discard() {
	tx.parent.Discard()
}
