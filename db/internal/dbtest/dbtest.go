// Package dbtest holds a shared conformance suite exercised by every
// db.Database driver package against its own backend.
package dbtest

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/dexproxy/dexproxy/db"
)

// TestWriteTx exercises basic Get/Set/Delete/Commit semantics.
func TestWriteTx(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("a"), []byte("1")), qt.IsNil)
	c.Assert(tx.Set([]byte("b"), []byte("2")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	v, err := database.Get([]byte("a"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "1")

	tx2 := database.WriteTx()
	c.Assert(tx2.Delete([]byte("a")), qt.IsNil)
	c.Assert(tx2.Commit(), qt.IsNil)

	_, err = database.Get([]byte("a"))
	c.Assert(err, qt.Equals, db.ErrKeyNotFound)
}

// TestIterate exercises prefix iteration ordering and prefix-stripping.
func TestIterate(t *testing.T, database db.Database) {
	c := qt.New(t)

	tx := database.WriteTx()
	c.Assert(tx.Set([]byte("p/1"), []byte("one")), qt.IsNil)
	c.Assert(tx.Set([]byte("p/2"), []byte("two")), qt.IsNil)
	c.Assert(tx.Set([]byte("q/1"), []byte("other")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	var got []string
	c.Assert(database.Iterate([]byte("p/"), func(k, v []byte) bool {
		got = append(got, string(k)+"="+string(v))
		return true
	}), qt.IsNil)
	c.Assert(got, qt.DeepEquals, []string{"1=one", "2=two"})
}

// TestWriteTxApply exercises merging one transaction's writes into another.
func TestWriteTxApply(t *testing.T, database db.Database) {
	c := qt.New(t)

	base := database.WriteTx()
	c.Assert(base.Set([]byte("x"), []byte("old")), qt.IsNil)

	other := database.WriteTx()
	c.Assert(other.Set([]byte("x"), []byte("new")), qt.IsNil)
	c.Assert(other.Set([]byte("y"), []byte("fresh")), qt.IsNil)

	c.Assert(base.Apply(other), qt.IsNil)
	c.Assert(base.Commit(), qt.IsNil)

	v, err := database.Get([]byte("x"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "new")

	v, err = database.Get([]byte("y"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "fresh")
}

// TestWriteTxApplyPrefixed checks that writes applied through a prefixed
// view land under the expected prefix in the underlying database.
func TestWriteTxApplyPrefixed(t *testing.T, database db.Database, prefixed db.Database) {
	c := qt.New(t)

	tx := prefixed.WriteTx()
	c.Assert(tx.Set([]byte("k"), []byte("v")), qt.IsNil)
	c.Assert(tx.Commit(), qt.IsNil)

	var found bool
	c.Assert(database.Iterate(nil, func(k, v []byte) bool {
		if string(v) == "v" {
			found = true
		}
		return true
	}), qt.IsNil)
	c.Assert(found, qt.IsTrue)
}
