package swap

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	coreerrors "inferpay/core/errors"
)

const (
	// FeeDenominator expresses pool fees in hundredths of a basis point.
	FeeDenominator = 1_000_000
	// MaxTickSpacing is the widest spacing a pool may be configured with.
	MaxTickSpacing = 16384
	// MaxBatchSize bounds the number of amounts accepted by QuoteBatch.
	MaxBatchSize = 256
)

// ErrInvalidPool is returned when a quote is requested against a pool that
// cannot be priced.
var ErrInvalidPool = fmt.Errorf("swap: invalid pool: %w", coreerrors.ErrInvalidArgument)

// Direction selects which asset is sold.
type Direction uint8

const (
	// ZeroForOne sells token0 for token1; the pool price falls.
	ZeroForOne Direction = iota
	// OneForZero sells token1 for token0; the pool price rises.
	OneForZero
)

func (d Direction) String() string {
	if d == OneForZero {
		return "oneForZero"
	}
	return "zeroForOne"
}

// ParseDirection accepts "zeroForOne"/"oneForZero" in any case.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "zeroforone", "0for1", "":
		return ZeroForOne, nil
	case "oneforzero", "1for0":
		return OneForZero, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", coreerrors.ErrInvalidArgument, raw)
	}
}

// PoolState is a snapshot of a concentrated liquidity pool as reported by its
// post-trade notification.
type PoolState struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	TickSpacing  int32
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
}

// Clone returns a deep copy of the pool state.
func (p PoolState) Clone() PoolState {
	clone := p
	if p.SqrtPriceX96 != nil {
		clone.SqrtPriceX96 = new(uint256.Int).Set(p.SqrtPriceX96)
	}
	if p.Liquidity != nil {
		clone.Liquidity = new(uint256.Int).Set(p.Liquidity)
	}
	return clone
}

// Has reports whether token is one of the pool's two assets.
func (p PoolState) Has(token common.Address) bool {
	return token == p.Token0 || token == p.Token1
}

// Quote is the result of a simulated exact-input swap. Approximate is always
// true: the simulator moves the price along a single linear segment and does
// not integrate across initialized ticks, so AmountOut is an estimate and not
// what the pool would actually pay.
type Quote struct {
	AmountIn          *big.Int        `json:"amountIn"`
	FeeAmount         *big.Int        `json:"feeAmount"`
	AmountOut         *big.Int        `json:"amountOut"`
	SqrtPriceX96After *big.Int        `json:"sqrtPriceX96After"`
	PriceAfter        decimal.Decimal `json:"priceAfter"`
	TickAfter         int32           `json:"tickAfter"`
	PriceImpactBps    uint64          `json:"priceImpactBps"`
	Approximate       bool            `json:"approximate"`
}

// Verdict is the structured outcome of ValidatePool. It never carries an
// error; callers branch on the individual checks.
type Verdict struct {
	Exists           bool     `json:"exists"`
	OrderedAssets    bool     `json:"orderedAssets"`
	FeeInRange       bool     `json:"feeInRange"`
	TickSpacingValid bool     `json:"tickSpacingValid"`
	Initialized      bool     `json:"initialized"`
	HasLiquidity     bool     `json:"hasLiquidity"`
	Issues           []string `json:"issues,omitempty"`
}

// Valid reports whether every check passed.
func (v Verdict) Valid() bool {
	return v.Exists && v.OrderedAssets && v.FeeInRange && v.TickSpacingValid && v.Initialized && v.HasLiquidity
}
