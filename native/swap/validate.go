package swap

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ValidatePool diagnoses a pool snapshot. It never fails; each check is
// reported separately together with a human-readable issue list.
func ValidatePool(pool PoolState) Verdict {
	var v Verdict
	issue := func(format string, args ...interface{}) {
		v.Issues = append(v.Issues, fmt.Sprintf(format, args...))
	}

	v.Exists = pool.Address != (common.Address{})
	if !v.Exists {
		issue("pool address is zero")
	}

	switch {
	case pool.Token0 == (common.Address{}) || pool.Token1 == (common.Address{}):
		issue("pool asset address is zero")
	case pool.Token0 == pool.Token1:
		issue("pool assets are identical")
	case bytes.Compare(pool.Token0.Bytes(), pool.Token1.Bytes()) > 0:
		issue("token0 %s must sort before token1 %s", pool.Token0.Hex(), pool.Token1.Hex())
	default:
		v.OrderedAssets = true
	}

	v.FeeInRange = pool.Fee < FeeDenominator
	if !v.FeeInRange {
		issue("fee %d exceeds %d", pool.Fee, FeeDenominator-1)
	}

	v.TickSpacingValid = pool.TickSpacing > 0 && pool.TickSpacing <= MaxTickSpacing
	if !v.TickSpacingValid {
		issue("tick spacing %d outside [1, %d]", pool.TickSpacing, MaxTickSpacing)
	}

	if !InSqrtRange(pool.SqrtPriceX96) {
		issue("sqrt price not initialized or out of range")
	} else if tick, err := TickAtSqrtRatio(pool.SqrtPriceX96); err != nil {
		issue("sqrt price: %v", err)
	} else if diff := int64(tick) - int64(pool.Tick); diff < -1 || diff > 1 {
		issue("tick %d inconsistent with sqrt price (tick %d)", pool.Tick, tick)
	} else {
		v.Initialized = true
	}

	v.HasLiquidity = pool.Liquidity != nil && !pool.Liquidity.IsZero()
	if !v.HasLiquidity {
		issue("pool has no in-range liquidity")
	}
	return v
}
