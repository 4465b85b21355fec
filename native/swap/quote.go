package swap

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	coreerrors "inferpay/core/errors"
)

// priceDecimals is the number of fractional digits kept in Quote.PriceAfter.
const priceDecimals = 38

// QuoteExactInputSingle simulates selling amountIn of one pool asset. The fee
// is taken from the input first, then the sqrt price moves linearly by
// amountLessFee/liquidity and is clamped to the representable range. The
// output is the input valued at the geometric mean of the prices before and
// after, rounded down.
func QuoteExactInputSingle(pool PoolState, amountIn *big.Int, direction Direction) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: amountIn must be greater than zero", coreerrors.ErrInvalidAmount)
	}
	if _, overflow := uint256.FromBig(amountIn); overflow {
		return Quote{}, fmt.Errorf("%w: amountIn exceeds 256 bits", coreerrors.ErrInvalidAmount)
	}
	if direction != ZeroForOne && direction != OneForZero {
		return Quote{}, fmt.Errorf("%w: unknown direction %d", coreerrors.ErrInvalidArgument, direction)
	}
	if err := checkQuotable(pool); err != nil {
		return Quote{}, err
	}

	feeAmount := mulDivRoundingUp(amountIn, big.NewInt(int64(pool.Fee)), big.NewInt(FeeDenominator))
	amountLessFee := new(big.Int).Sub(amountIn, feeAmount)

	sqrtBefore := pool.SqrtPriceX96.ToBig()
	liquidity := pool.Liquidity.ToBig()
	delta := new(big.Int).Mul(amountLessFee, q96)
	delta.Quo(delta, liquidity)

	sqrtAfter := new(big.Int)
	if direction == ZeroForOne {
		sqrtAfter.Sub(sqrtBefore, delta)
		if lower := MinSqrtRatio.ToBig(); sqrtAfter.Cmp(lower) < 0 {
			sqrtAfter.Set(lower)
		}
	} else {
		sqrtAfter.Add(sqrtBefore, delta)
		if upper := new(big.Int).Sub(MaxSqrtRatio.ToBig(), big.NewInt(1)); sqrtAfter.Cmp(upper) > 0 {
			sqrtAfter.Set(upper)
		}
	}

	amountOut := new(big.Int)
	if direction == ZeroForOne {
		amountOut.Mul(amountLessFee, sqrtBefore)
		amountOut.Mul(amountOut, sqrtAfter)
		amountOut.Quo(amountOut, q192)
	} else {
		den := new(big.Int).Mul(sqrtBefore, sqrtAfter)
		amountOut.Mul(amountLessFee, q192)
		amountOut.Quo(amountOut, den)
	}

	sqrtAfterU, _ := uint256.FromBig(sqrtAfter)
	tickAfter, err := TickAtSqrtRatio(sqrtAfterU)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		AmountIn:          new(big.Int).Set(amountIn),
		FeeAmount:         feeAmount,
		AmountOut:         amountOut,
		SqrtPriceX96After: sqrtAfter,
		PriceAfter:        PriceFromSqrt(sqrtAfter),
		TickAfter:         tickAfter,
		PriceImpactBps:    priceImpactBps(sqrtBefore, sqrtAfter, direction),
		Approximate:       true,
	}, nil
}

// QuoteBatch quotes every amount independently against the same starting
// state. The result at index i equals QuoteExactInputSingle(pool, amounts[i],
// direction); an invalid amount fails the whole batch.
func QuoteBatch(pool PoolState, amounts []*big.Int, direction Direction) ([]Quote, error) {
	if len(amounts) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", coreerrors.ErrInvalidArgument)
	}
	if len(amounts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", coreerrors.ErrInvalidArgument, len(amounts), MaxBatchSize)
	}
	quotes := make([]Quote, len(amounts))
	for i, amount := range amounts {
		q, err := QuoteExactInputSingle(pool, amount, direction)
		if err != nil {
			return nil, fmt.Errorf("swap: batch element %d: %w", i, err)
		}
		quotes[i] = q
	}
	return quotes, nil
}

// PriceFromSqrt converts a Q64.96 sqrt price into token1 per token0.
func PriceFromSqrt(sqrtPriceX96 *big.Int) decimal.Decimal {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return decimal.Zero
	}
	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	return decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(q192, 0), priceDecimals)
}

func checkQuotable(pool PoolState) error {
	if !InSqrtRange(pool.SqrtPriceX96) {
		return fmt.Errorf("%w: sqrt price not initialized", ErrInvalidPool)
	}
	if pool.Liquidity == nil || pool.Liquidity.IsZero() {
		return fmt.Errorf("%w: no liquidity", ErrInvalidPool)
	}
	if pool.Fee >= FeeDenominator {
		return fmt.Errorf("%w: fee %d out of range", ErrInvalidPool, pool.Fee)
	}
	return nil
}

// priceImpactBps measures the adverse move of the price token1/token0 for the
// seller: a fall for zeroForOne, a rise for oneForZero. Favourable or zero
// moves report 0. Values beyond uint64 saturate.
func priceImpactBps(sqrtBefore, sqrtAfter *big.Int, direction Direction) uint64 {
	before := new(big.Int).Mul(sqrtBefore, sqrtBefore)
	after := new(big.Int).Mul(sqrtAfter, sqrtAfter)
	move := new(big.Int)
	switch direction {
	case ZeroForOne:
		if after.Cmp(before) >= 0 {
			return 0
		}
		move.Sub(before, after)
	default:
		if after.Cmp(before) <= 0 {
			return 0
		}
		move.Sub(after, before)
	}
	move.Mul(move, big.NewInt(10_000))
	move.Quo(move, before)
	if !move.IsUint64() {
		return math.MaxUint64
	}
	return move.Uint64()
}

func mulDivRoundingUp(a, b, den *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(prod, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
