// Package metadb selects a db.Database backend driver by name.
package metadb

import (
	"cmp"
	"fmt"
	"os"
	"testing"

	"github.com/dexproxy/dexproxy/db"
	"github.com/dexproxy/dexproxy/db/goleveldb"
	"github.com/dexproxy/dexproxy/db/pebbledb"
)

// New opens a db.Database of the given type rooted at dir.
func New(typ, dir string) (db.Database, error) {
	opts := db.Options{Path: dir}
	switch typ {
	case db.TypePebble:
		return pebbledb.New(opts)
	case db.TypeLevelDB:
		return goleveldb.New(opts)
	default:
		return nil, fmt.Errorf("invalid dbType: %q. Available types: %q %q",
			typ, db.TypePebble, db.TypeLevelDB)
	}
}

// ForTest returns the db type to use in tests, overridable via DEXPROXY_DB_TYPE.
func ForTest() (typ string) {
	return cmp.Or(os.Getenv("DEXPROXY_DB_TYPE"), "pebble")
}

// NewTest opens a temporary-directory database that is cleaned up when tb ends.
func NewTest(tb testing.TB) db.Database {
	database, err := New(ForTest(), tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := database.Close(); err != nil {
			tb.Error(err)
		}
	})
	return database
}
