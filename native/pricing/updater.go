package pricing

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
	"inferpay/native/fees"
	"inferpay/native/swap"
)

// Activity is the post-trade notification delivered by a pool. SqrtPriceX96
// may be omitted, in which case it is derived from Tick.
type Activity struct {
	Pool          common.Address
	Token0        common.Address
	Token1        common.Address
	Fee           uint32
	TickSpacing   int32
	SqrtPriceX96  *uint256.Int
	Tick          int32
	Liquidity     *uint256.Int
	VolatilityBps uint32
}

// PoolState returns the pool snapshot carried by the notification.
func (a Activity) PoolState() swap.PoolState {
	return swap.PoolState{
		Address:      a.Pool,
		Token0:       a.Token0,
		Token1:       a.Token1,
		Fee:          a.Fee,
		TickSpacing:  a.TickSpacing,
		SqrtPriceX96: a.SqrtPriceX96,
		Tick:         a.Tick,
		Liquidity:    a.Liquidity,
	}.Clone()
}

// Update describes what HandlePoolActivity did.
type Update struct {
	Params   Params
	Repriced bool
	Clamped  bool
}

// Updater is the single mutator of the pricing record.
type Updater struct {
	store   *Store
	cfg     UpdaterConfig
	emitter events.Emitter
	height  uint64
}

// NewUpdater binds the updater to a store.
func NewUpdater(store *Store, cfg UpdaterConfig) *Updater {
	return &Updater{store: store, cfg: cfg, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the updater. Passing nil
// resets the emitter to a no-op implementation.
func (u *Updater) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		u.emitter = events.NoopEmitter{}
		return
	}
	u.emitter = emitter
}

// SetHeight records the unit-of-work height stamped onto new versions.
func (u *Updater) SetHeight(h uint64) { u.height = h }

func (u *Updater) isConversionPool(addr common.Address) bool {
	for _, p := range u.cfg.ConversionPools {
		if p == addr {
			return true
		}
	}
	return false
}

// HandlePoolActivity validates the notification, records the pool snapshot
// and, for the reference pool, recomputes prices under the step and band
// rules. Any error leaves the stored record untouched once the caller discards
// the unit of work.
func (u *Updater) HandlePoolActivity(caller common.Address, act Activity) (Update, error) {
	if u == nil || u.store == nil {
		return Update{}, errNilState
	}
	if caller != u.cfg.Notifier {
		return Update{}, fmt.Errorf("%w: %s is not the pool notifier", coreerrors.ErrUnauthorized, caller.Hex())
	}
	reference := act.Pool == u.cfg.ReferencePool
	if !reference && !u.isConversionPool(act.Pool) {
		return Update{}, fmt.Errorf("%w: pool %s is not tracked", coreerrors.ErrUnauthorized, act.Pool.Hex())
	}
	sqrtPrice, err := signalPrice(act)
	if err != nil {
		return Update{}, err
	}
	if act.VolatilityBps > fees.MaxBps {
		return Update{}, fmt.Errorf("%w: volatility %d bps exceeds %d", coreerrors.ErrInvalidPricing, act.VolatilityBps, fees.MaxBps)
	}
	act.SqrtPriceX96 = sqrtPrice

	prev, err := u.store.Current()
	if err != nil {
		return Update{}, err
	}
	if err := u.store.putPool(act.PoolState()); err != nil {
		return Update{}, err
	}
	if !reference {
		return Update{Params: prev}, nil
	}

	candIn, candOut, err := u.candidates(sqrtPrice, act.VolatilityBps)
	if err != nil {
		return Update{}, err
	}
	nextIn := bound(prev.PricePerInputUnit, candIn, u.cfg.MaxStepBps, u.cfg.InputBand)
	nextOut := bound(prev.PricePerOutputUnit, candOut, u.cfg.MaxStepBps, u.cfg.OutputBand)
	if !u.cfg.InputBand.Contains(nextIn) || !u.cfg.OutputBand.Contains(nextOut) {
		return Update{}, fmt.Errorf("%w: bounded price outside configured band", coreerrors.ErrInvalidPricing)
	}

	next := prev.Clone()
	next.PricePerInputUnit = nextIn
	next.PricePerOutputUnit = nextOut
	next.UpdatedAt = u.height
	committed, err := u.store.commit(next)
	if err != nil {
		return Update{}, err
	}
	clamped := nextIn.Cmp(candIn) != 0 || nextOut.Cmp(candOut) != 0
	u.emitter.Emit(events.PricingUpdated{
		Version:            committed.Version,
		Pool:               act.Pool,
		Tick:               act.Tick,
		VolatilityBps:      act.VolatilityBps,
		PrevInputPrice:     prev.PricePerInputUnit,
		PrevOutputPrice:    prev.PricePerOutputUnit,
		InputPrice:         committed.PricePerInputUnit,
		OutputPrice:        committed.PricePerOutputUnit,
		CandidateInput:     candIn,
		CandidateOutput:    candOut,
		Clamped:            clamped,
		ProtocolFeeBps:     committed.ProtocolFeeBps,
		GasMarkupPerCall:   committed.GasMarkupPerCall,
		DenominationSymbol: committed.Denomination,
	})
	return Update{Params: committed, Repriced: true, Clamped: clamped}, nil
}

func signalPrice(act Activity) (*uint256.Int, error) {
	if act.SqrtPriceX96 == nil || act.SqrtPriceX96.IsZero() {
		derived, err := swap.SqrtRatioAtTick(act.Tick)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", coreerrors.ErrInvalidPricing, err)
		}
		return derived, nil
	}
	if !swap.InSqrtRange(act.SqrtPriceX96) {
		return nil, fmt.Errorf("%w: sqrt price outside representable range", coreerrors.ErrInvalidPricing)
	}
	return new(uint256.Int).Set(act.SqrtPriceX96), nil
}

// candidates maps the pool price onto the base prices:
//
//	base * P/P(anchor) * (10000 + vol*weight/10000) / 10000
//
// with P = sqrtPriceX96^2. The mapping is monotone in both price and
// volatility.
func (u *Updater) candidates(sqrtPrice *uint256.Int, volatilityBps uint32) (*big.Int, *big.Int, error) {
	anchor, err := swap.SqrtRatioAtTick(u.cfg.AnchorTick)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: anchor tick: %v", coreerrors.ErrInvalidPricing, err)
	}
	s := sqrtPrice.ToBig()
	a := anchor.ToBig()
	num := new(big.Int).Mul(s, s)
	volBoost := uint64(volatilityBps) * uint64(u.cfg.VolatilityWeightBps) / fees.MaxBps
	num.Mul(num, new(big.Int).SetUint64(fees.MaxBps+volBoost))
	den := new(big.Int).Mul(a, a)
	den.Mul(den, big.NewInt(fees.MaxBps))

	scale := func(base *big.Int) *big.Int {
		if base == nil {
			return big.NewInt(0)
		}
		out := new(big.Int).Mul(base, num)
		return out.Quo(out, den)
	}
	return scale(u.cfg.BaseInputPrice), scale(u.cfg.BaseOutputPrice), nil
}

// bound limits the move from prev to at most floor(prev*stepBps/10000) and
// then clamps into band. When prev lies inside band the result satisfies
// both limits.
func bound(prev, candidate *big.Int, stepBps uint32, band Band) *big.Int {
	out := new(big.Int).Set(candidate)
	if prev != nil {
		step := new(big.Int).Mul(prev, big.NewInt(int64(stepBps)))
		step.Quo(step, big.NewInt(fees.MaxBps))
		lo := new(big.Int).Sub(prev, step)
		hi := new(big.Int).Add(prev, step)
		if out.Cmp(lo) < 0 {
			out.Set(lo)
		}
		if out.Cmp(hi) > 0 {
			out.Set(hi)
		}
	}
	if band.Min != nil && out.Cmp(band.Min) < 0 {
		out.Set(band.Min)
	}
	if band.Max != nil && out.Cmp(band.Max) > 0 {
		out.Set(band.Max)
	}
	return out
}
