package pricing

import (
	"errors"
	"math/big"
	"math/rand"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
	"inferpay/core/state"
	"inferpay/native/swap"
	"inferpay/storage"
)

var (
	notifier = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	refPool  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	convPool = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	token0   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	token1   = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(e events.Event) { r.events = append(r.events, e) }

func testConfig() UpdaterConfig {
	return UpdaterConfig{
		Notifier:            notifier,
		ReferencePool:       refPool,
		ConversionPools:     []common.Address{convPool},
		AnchorTick:          0,
		BaseInputPrice:      big.NewInt(100),
		BaseOutputPrice:     big.NewInt(200),
		InputBand:           Band{Min: big.NewInt(50), Max: big.NewInt(400)},
		OutputBand:          Band{Min: big.NewInt(100), Max: big.NewInt(800)},
		MaxStepBps:          1_000,
		VolatilityWeightBps: 5_000,
	}
}

func genesisParams() Params {
	return Params{
		PricePerInputUnit:  big.NewInt(100),
		PricePerOutputUnit: big.NewInt(200),
		ProtocolFeeBps:     100,
		GasMarkupPerCall:   big.NewInt(10_000),
		Denomination:       "USDC",
	}
}

func newTestUpdater(t *testing.T) (*Updater, *Store) {
	t.Helper()
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	store := NewStore(state.NewManager(storage.NewMemDB()))
	if _, err := store.Initialize(genesisParams(), 0); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return NewUpdater(store, testConfig()), store
}

func activityAtTick(t *testing.T, pool common.Address, tick int32, vol uint32) Activity {
	t.Helper()
	sqrt, err := swap.SqrtRatioAtTick(tick)
	if err != nil {
		t.Fatalf("sqrt ratio: %v", err)
	}
	return Activity{
		Pool:          pool,
		Token0:        token0,
		Token1:        token1,
		Fee:           3000,
		TickSpacing:   60,
		SqrtPriceX96:  sqrt,
		Tick:          tick,
		Liquidity:     uint256.NewInt(1_000_000),
		VolatilityBps: vol,
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	store := NewStore(state.NewManager(storage.NewMemDB()))
	if _, err := store.Current(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	first, err := store.Initialize(genesisParams(), 4)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if first.Version != 1 || first.UpdatedAt != 4 {
		t.Fatalf("unexpected seed %+v", first)
	}
	other := genesisParams()
	other.PricePerInputUnit = big.NewInt(999)
	again, err := store.Initialize(other, 9)
	if err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if again.PricePerInputUnit.Int64() != 100 || again.Version != 1 {
		t.Fatalf("initialize overwrote record: %+v", again)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	_, store := newTestUpdater(t)
	snap, _ := store.Current()
	snap.PricePerInputUnit.SetInt64(1)
	again, _ := store.Current()
	if again.PricePerInputUnit.Int64() != 100 {
		t.Fatalf("snapshot aliases stored record")
	}
}

func TestAnchorPriceKeepsBase(t *testing.T) {
	u, _ := newTestUpdater(t)
	rec := &recordingEmitter{}
	u.SetEmitter(rec)
	u.SetHeight(2)
	upd, err := u.HandlePoolActivity(notifier, activityAtTick(t, refPool, 0, 0))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !upd.Repriced || upd.Clamped || upd.Params.Version != 2 || upd.Params.UpdatedAt != 2 {
		t.Fatalf("unexpected update %+v", upd)
	}
	if upd.Params.PricePerInputUnit.Int64() != 100 || upd.Params.PricePerOutputUnit.Int64() != 200 {
		t.Fatalf("anchor price changed base prices: %+v", upd.Params)
	}
	if len(rec.events) != 1 || rec.events[0].Event().Attr("version") != "2" {
		t.Fatalf("expected pricing event with version 2")
	}
}

func TestHigherPriceAndVolatilityRaisePrices(t *testing.T) {
	u, _ := newTestUpdater(t)
	upd, err := u.HandlePoolActivity(notifier, activityAtTick(t, refPool, 6932, 0))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !upd.Clamped || upd.Params.PricePerInputUnit.Int64() != 110 || upd.Params.PricePerOutputUnit.Int64() != 220 {
		t.Fatalf("expected step-clamped rise, got %+v", upd)
	}

	u2, _ := newTestUpdater(t)
	upd, err = u2.HandlePoolActivity(notifier, activityAtTick(t, refPool, 0, 10_000))
	if err != nil {
		t.Fatalf("volatility update: %v", err)
	}
	if upd.Params.PricePerInputUnit.Int64() != 110 {
		t.Fatalf("volatility did not raise price: %+v", upd.Params)
	}
}

func TestPricingStaysBounded(t *testing.T) {
	u, store := newTestUpdater(t)
	cfg := testConfig()
	rng := rand.New(rand.NewSource(7))
	prev, _ := store.Current()
	for i := 0; i < 200; i++ {
		tick := int32(rng.Intn(40_000) - 20_000)
		vol := uint32(rng.Intn(10_001))
		upd, err := u.HandlePoolActivity(notifier, activityAtTick(t, refPool, tick, vol))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		next := upd.Params
		if next.Version != prev.Version+1 {
			t.Fatalf("version not incremented: %d -> %d", prev.Version, next.Version)
		}
		checkStep(t, prev.PricePerInputUnit, next.PricePerInputUnit, cfg.MaxStepBps)
		checkStep(t, prev.PricePerOutputUnit, next.PricePerOutputUnit, cfg.MaxStepBps)
		if !cfg.InputBand.Contains(next.PricePerInputUnit) || !cfg.OutputBand.Contains(next.PricePerOutputUnit) {
			t.Fatalf("update %d left band: %+v", i, next)
		}
		prev = next
	}
}

func checkStep(t *testing.T, prev, next *big.Int, stepBps uint32) {
	t.Helper()
	limit := new(big.Int).Mul(prev, big.NewInt(int64(stepBps)))
	limit.Quo(limit, big.NewInt(10_000))
	diff := new(big.Int).Sub(next, prev)
	if diff.Abs(diff).Cmp(limit) > 0 {
		t.Fatalf("step %s -> %s exceeds %s", prev, next, limit)
	}
}

func TestConfigRejectsBandsTooSmallToStep(t *testing.T) {
	cfg := testConfig()
	cfg.InputBand = Band{Min: big.NewInt(9), Max: big.NewInt(400)}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "input band minimum") {
		t.Fatalf("expected input band error, got %v", err)
	}
	cfg = testConfig()
	cfg.MaxStepBps = 50
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "input band minimum") {
		t.Fatalf("expected step-limited band error, got %v", err)
	}

	cfg = testConfig()
	cfg.InputBand = Band{Min: big.NewInt(10), Max: big.NewInt(1_000)}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("smallest movable band rejected: %v", err)
	}
	prev := big.NewInt(10)
	for i := 0; i < 5; i++ {
		next := bound(prev, big.NewInt(900), cfg.MaxStepBps, cfg.InputBand)
		if next.Cmp(prev) <= 0 {
			t.Fatalf("price stalled at %s", prev)
		}
		prev = next
	}
}

func TestRejectsUnauthorizedNotifications(t *testing.T) {
	u, store := newTestUpdater(t)
	stranger := common.HexToAddress("0xdead")
	if _, err := u.HandlePoolActivity(stranger, activityAtTick(t, refPool, 100, 0)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized caller, got %v", err)
	}
	if _, err := u.HandlePoolActivity(notifier, activityAtTick(t, stranger, 100, 0)); !errors.Is(err, coreerrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized pool, got %v", err)
	}
	current, _ := store.Current()
	if current.Version != 1 {
		t.Fatalf("rejected notification changed version to %d", current.Version)
	}
}

func TestRejectsInvalidSignals(t *testing.T) {
	u, _ := newTestUpdater(t)
	act := activityAtTick(t, refPool, 0, 10_001)
	if _, err := u.HandlePoolActivity(notifier, act); !errors.Is(err, coreerrors.ErrInvalidPricing) {
		t.Fatalf("expected invalid pricing for volatility, got %v", err)
	}
	act = activityAtTick(t, refPool, 0, 0)
	act.SqrtPriceX96 = uint256.NewInt(1)
	if _, err := u.HandlePoolActivity(notifier, act); !errors.Is(err, coreerrors.ErrInvalidPricing) {
		t.Fatalf("expected invalid pricing for sqrt price, got %v", err)
	}
	act = activityAtTick(t, refPool, 0, 0)
	act.SqrtPriceX96 = nil
	act.Tick = swap.MaxTick + 1
	if _, err := u.HandlePoolActivity(notifier, act); !errors.Is(err, coreerrors.ErrInvalidPricing) {
		t.Fatalf("expected invalid pricing for tick, got %v", err)
	}
}

func TestDerivesSqrtPriceFromTick(t *testing.T) {
	u, store := newTestUpdater(t)
	act := activityAtTick(t, refPool, 0, 0)
	act.SqrtPriceX96 = nil
	if _, err := u.HandlePoolActivity(notifier, act); err != nil {
		t.Fatalf("update: %v", err)
	}
	pool, ok, err := store.PoolSnapshot(refPool)
	if err != nil || !ok {
		t.Fatalf("snapshot missing: %v", err)
	}
	if pool.SqrtPriceX96.Dec() != "79228162514264337593543950336" {
		t.Fatalf("unexpected derived sqrt price %s", pool.SqrtPriceX96.Dec())
	}
}

func TestConversionPoolOnlyRecordsSnapshot(t *testing.T) {
	u, store := newTestUpdater(t)
	upd, err := u.HandlePoolActivity(notifier, activityAtTick(t, convPool, -120, 0))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Repriced || upd.Params.Version != 1 {
		t.Fatalf("conversion pool repriced: %+v", upd)
	}
	pools, err := store.PoolSnapshots()
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(pools) != 1 || pools[0].Address != convPool || pools[0].Tick != -120 || pools[0].TickSpacing != 60 {
		t.Fatalf("unexpected snapshots %+v", pools)
	}
}
