package whitelist

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestAllowedUnknownSymbol(t *testing.T) {
	c := qt.New(t)
	w := &Whitelist{base: map[string]map[string]bool{}, external: map[string]map[string]bool{}}

	ok, reason := w.Allowed("ETH", "0xabc")
	c.Assert(ok, qt.IsFalse)
	c.Assert(reason, qt.Contains, "no withdrawal whitelist configured")
}

func TestAllowedUnknownAddressForKnownSymbol(t *testing.T) {
	c := qt.New(t)
	w := &Whitelist{
		base:     map[string]map[string]bool{"ETH": {"0xaaa": true}},
		external: map[string]map[string]bool{},
	}

	ok, reason := w.Allowed("ETH", "0xbbb")
	c.Assert(ok, qt.IsFalse)
	c.Assert(reason, qt.Contains, "is not whitelisted")
}

func TestAllowedBaseMatch(t *testing.T) {
	c := qt.New(t)
	w := &Whitelist{
		base:     map[string]map[string]bool{"ETH": {"0xaaa": true}},
		external: map[string]map[string]bool{},
	}

	ok, _ := w.Allowed("eth", "0xAAA")
	c.Assert(ok, qt.IsTrue)
}

func TestRefreshReplacesExternalNotBase(t *testing.T) {
	c := qt.New(t)
	w := &Whitelist{
		base:     map[string]map[string]bool{"ETH": {"0xaaa": true}},
		external: map[string]map[string]bool{"ETH": {"0xccc": true}},
	}

	w.Refresh(Set{"ETH": {"0xddd"}})

	ok, _ := w.Allowed("ETH", "0xaaa")
	c.Assert(ok, qt.IsTrue, qt.Commentf("base entry must survive a Refresh"))

	ok, _ = w.Allowed("ETH", "0xccc")
	c.Assert(ok, qt.IsFalse, qt.Commentf("stale external entry must be gone after Refresh"))

	ok, _ = w.Allowed("ETH", "0xddd")
	c.Assert(ok, qt.IsTrue)
}

func TestNewLoadsEmbeddedBase(t *testing.T) {
	c := qt.New(t)
	w, err := New()
	c.Assert(err, qt.IsNil)
	c.Assert(w, qt.IsNotNil)
}
