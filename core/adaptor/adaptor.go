// Package adaptor defines the venue adaptor interface that insulates the
// core request lifecycle from venue-specific submission mechanics (plain
// mempool broadcast vs. builder bundles, per-venue gas oracles, and so on),
// plus a direct-mempool reference implementation.
package adaptor

import (
	"context"
	"math/big"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/dexproxy/dexproxy/core/request"
)

// SubmitResult is what a venue adaptor reports back after attempting to
// submit a transaction (or bundle) for a request.
type SubmitResult struct {
	TxHash       string
	GasPriceWei  *big.Int
	BundleUUID   string // non-empty for builder-targeted venues
	TargetBlock  uint64 // non-zero for builder-targeted venues
}

// PriorityFee selects how urgently a gas price should be quoted: a cancel
// resubmission asks for Fast, a first-time order defaults to Standard.
type PriorityFee int

const (
	PriorityFeeSlow PriorityFee = iota
	PriorityFeeStandard
	PriorityFeeFast
)

// Adaptor is implemented once per execution venue (a DEX contract, a
// builder relay, ...). It owns everything venue-specific: how a Request is
// turned into calldata, which gas price oracle to consult, and whether
// submission goes to the public mempool or a private bundle relay.
type Adaptor interface {
	// Name identifies the venue, e.g. for routing and logging.
	Name() string

	// SuggestGasPriceWei returns the venue's currently recommended gas
	// price for the given urgency tier, used as the floor for a
	// submission attempt.
	SuggestGasPriceWei(ctx context.Context, tier PriorityFee) (*big.Int, error)

	// BuildTransaction constructs and signs the transaction for r at the
	// given nonce and gas price, without submitting it.
	BuildTransaction(ctx context.Context, r *request.Request, action request.ActionTag, nonce uint64, gasPriceWei *big.Int) (*gethtypes.Transaction, error)

	// Submit sends a previously built transaction to the venue.
	Submit(ctx context.Context, tx *gethtypes.Transaction) (SubmitResult, error)

	// IsBuilderTargeted reports whether this venue submits via
	// block-targeted private bundles rather than the public mempool.
	IsBuilderTargeted() bool
}

// GasOracle abstracts venue-specific gas price suggestions (e.g. an AMM's
// own priority-fee heuristic vs. eth_gasPrice), matching the source design's
// per-dex gas oracle abstraction.
type GasOracle interface {
	SuggestGasPriceWei(ctx context.Context, tier PriorityFee) (*big.Int, error)
}

// StaticGasOracle returns BaseWei bumped by a fixed per-tier multiplier,
// useful for venues without a bespoke oracle and in tests.
type StaticGasOracle struct {
	BaseWei *big.Int
}

// tierMultiplier scales BaseWei by tier, as a num/den fraction (Slow=0.8x, Standard=1x,
// Fast=1.25x), matching the cancel path's preference for a faster quote.
func tierMultiplier(tier PriorityFee) (num, den int64) {
	switch tier {
	case PriorityFeeSlow:
		return 8, 10
	case PriorityFeeFast:
		return 125, 100
	default:
		return 1, 1
	}
}

// SuggestGasPriceWei implements GasOracle.
func (s StaticGasOracle) SuggestGasPriceWei(_ context.Context, tier PriorityFee) (*big.Int, error) {
	num, den := tierMultiplier(tier)
	price := new(big.Int).Mul(s.BaseWei, big.NewInt(num))
	return price.Div(price, big.NewInt(den)), nil
}
