package adaptor

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	qt "github.com/frankban/quicktest"

	"github.com/dexproxy/dexproxy/core/request"
	"github.com/dexproxy/dexproxy/core/signer"
	"github.com/dexproxy/dexproxy/crypto/ethsigner"
)

func testRequest(action request.ActionTag, calldata string) *request.Request {
	return &request.Request{
		ClientRequestID: "r1",
		RequestType:     request.TypeOrder,
		Order:           &request.OrderFields{Symbol: "ETH-USDC"},
		DexSpecific:     map[string]any{"calldata_" + string(action): calldata},
	}
}

func TestCalldataForMissingAttempt(t *testing.T) {
	c := qt.New(t)
	r := testRequest(request.ActionOrder, "aabb")
	_, err := calldataFor(r, request.ActionCancel)
	c.Assert(err, qt.ErrorMatches, ".*no calldata stashed.*")
}

func TestCalldataForDecodesHex(t *testing.T) {
	c := qt.New(t)
	r := testRequest(request.ActionOrder, "deadbeef")
	data, err := calldataFor(r, request.ActionOrder)
	c.Assert(err, qt.IsNil)
	c.Assert(hex.EncodeToString(data), qt.Equals, "deadbeef")
}

func TestMempoolAdaptorSuggestGasPriceWeiUsesOracleTier(t *testing.T) {
	c := qt.New(t)

	key, err := ethsigner.NewSigner()
	c.Assert(err, qt.IsNil)

	pool := signer.New(2, 0)
	pool.Start(context.Background())
	defer pool.Stop()

	a := NewMempoolAdaptor("uniswap_v3", nil, key, pool, nil, common.HexToAddress("0x1111111111111111111111111111111111111111"), 300000)
	// BuildTransaction dereferences m.chain for ChainID and no Chain Client
	// is wired here, so this test only exercises SuggestGasPriceWei through
	// an explicit GasOracle.
	oracle := StaticGasOracle{BaseWei: big.NewInt(10_000_000_000)}
	a.gas = oracle

	price, err := a.SuggestGasPriceWei(context.Background(), PriorityFeeFast)
	c.Assert(err, qt.IsNil)
	c.Assert(price.Cmp(big.NewInt(12_500_000_000)), qt.Equals, 0)
}
