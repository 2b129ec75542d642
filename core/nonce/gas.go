package nonce

import (
	"fmt"
	"math/big"

	"github.com/dexproxy/dexproxy/core/request"
)

var (
	bumpNumerator   = big.NewInt(11)
	bumpDenominator = big.NewInt(10)
)

// MinReplacementGasPrice returns the minimum gas price (in wei) a
// replacement transaction must carry to clear the "replacement
// underpriced" check: ceil(1.1 * lastUsedGasPriceWei).
func MinReplacementGasPrice(lastUsedGasPriceWei *big.Int) *big.Int {
	num := new(big.Int).Mul(lastUsedGasPriceWei, bumpNumerator)
	min := new(big.Int).Div(num, bumpDenominator)
	if new(big.Int).Mod(num, bumpDenominator).Sign() != 0 {
		min.Add(min, big.NewInt(1))
	}
	return min
}

// ResolveGasPrice picks the gas price to use for a (re)submission: the
// caller's requested price if it already clears the replacement-underpriced
// floor, otherwise the floor itself, capped at maxAllowedGasPriceWei. It
// returns an error if even the floor would exceed the cap.
func ResolveGasPrice(requestedGasPriceWei, lastUsedGasPriceWei, maxAllowedGasPriceWei *big.Int) (*big.Int, error) {
	price := new(big.Int).Set(requestedGasPriceWei)
	if lastUsedGasPriceWei != nil && lastUsedGasPriceWei.Sign() > 0 {
		floor := MinReplacementGasPrice(lastUsedGasPriceWei)
		if price.Cmp(floor) < 0 {
			price = floor
		}
	}
	if maxAllowedGasPriceWei != nil && maxAllowedGasPriceWei.Sign() > 0 && price.Cmp(maxAllowedGasPriceWei) > 0 {
		return nil, fmt.Errorf("gas price %s wei exceeds max_allowed_gas_price_wei %s", price, maxAllowedGasPriceWei)
	}
	return price, nil
}

// IsRepeatedCancel reports whether the last attempt was a cancel submitted at
// a gas price at or above candidateGasPriceWei, so the lifecycle manager can
// treat a repeated cancel as idempotent instead of bumping gas a second time.
func IsRepeatedCancel(lastAction request.ActionTag, lastGasPriceWei, candidateGasPriceWei *big.Int) bool {
	return lastAction == request.ActionCancel && candidateGasPriceWei.Cmp(lastGasPriceWei) <= 0
}
