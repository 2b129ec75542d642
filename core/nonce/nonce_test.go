package nonce

import (
	"fmt"
	"math/big"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/dexproxy/dexproxy/core/request"
)

func TestReserveReleaseAdvancesOnlyOnSuccess(t *testing.T) {
	c := qt.New(t)
	d := New(7)

	n := d.Reserve()
	c.Assert(n, qt.Equals, uint64(7))
	d.Release(false) // simulated "nonce too low" failure
	c.Assert(d.Current(), qt.Equals, uint64(7))

	n = d.Reserve()
	c.Assert(n, qt.Equals, uint64(7))
	d.Release(true)
	c.Assert(d.Current(), qt.Equals, uint64(8))
}

func TestIsNonceError(t *testing.T) {
	c := qt.New(t)
	c.Assert(IsNonceError(fmt.Errorf("nonce too low")), qt.IsTrue)
	c.Assert(IsNonceError(fmt.Errorf("replacement transaction underpriced")), qt.IsFalse)
	c.Assert(IsNonceError(nil), qt.IsFalse)
}

func TestMinReplacementGasPrice(t *testing.T) {
	c := qt.New(t)
	// scenario S2: last used 1_000_000_000, floor is ceil(1.1x) = 1_100_000_000.
	floor := MinReplacementGasPrice(big.NewInt(1_000_000_000))
	c.Assert(floor.String(), qt.Equals, "1100000000")
}

func TestResolveGasPriceUsesFloorWhenRequestedIsLower(t *testing.T) {
	c := qt.New(t)
	price, err := ResolveGasPrice(big.NewInt(500_000_000), big.NewInt(1_000_000_000), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(price.String(), qt.Equals, "1100000000")
}

func TestResolveGasPriceRejectsAboveCap(t *testing.T) {
	c := qt.New(t)
	_, err := ResolveGasPrice(big.NewInt(2_000_000_000), big.NewInt(1_000_000_000), big.NewInt(1_500_000_000))
	c.Assert(err, qt.ErrorMatches, ".*exceeds max_allowed_gas_price_wei.*")
}

func TestCancelMemberRenumbersHigherNonces(t *testing.T) {
	c := qt.New(t)
	d := New(10)
	b := d.OpenBundle("venue-1", 1000, "bundle-uuid-1")
	b.Members = []*BundleMember{
		{ClientRequestID: "r10", Nonce: 10, RawTx: []byte("tx10")},
		{ClientRequestID: "r11", Nonce: 11, RawTx: []byte("tx11")},
		{ClientRequestID: "r12", Nonce: 12, RawTx: []byte("tx12")},
	}

	var resigned []uint64
	removed, renumbered, err := d.CancelMember(b, "r11", func(m *BundleMember) ([]byte, string, error) {
		resigned = append(resigned, m.Nonce)
		return []byte(fmt.Sprintf("tx%d-resigned", m.Nonce)), fmt.Sprintf("0x%d", m.Nonce), nil
	})
	c.Assert(err, qt.IsNil)
	c.Assert(removed.ClientRequestID, qt.Equals, "r11")
	c.Assert(renumbered, qt.HasLen, 1)
	c.Assert(renumbered[0].ClientRequestID, qt.Equals, "r12")
	c.Assert(renumbered[0].Nonce, qt.Equals, uint64(11))
	c.Assert(resigned, qt.DeepEquals, []uint64{11})

	c.Assert(b.Members, qt.HasLen, 2)
	remaining, _, ok := b.MemberByRequest("r12")
	c.Assert(ok, qt.IsTrue)
	c.Assert(remaining.Nonce, qt.Equals, uint64(11))
}

func TestIsRepeatedCancel(t *testing.T) {
	c := qt.New(t)
	c.Assert(IsRepeatedCancel(request.ActionCancel, big.NewInt(1_100_000_000), big.NewInt(1_100_000_000)), qt.IsTrue)
	c.Assert(IsRepeatedCancel(request.ActionOrder, big.NewInt(1_100_000_000), big.NewInt(1_100_000_000)), qt.IsFalse)
}
