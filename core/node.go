package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
	"inferpay/core/state"
	nativecommon "inferpay/native/common"
	"inferpay/native/escrow"
	"inferpay/native/fees"
	"inferpay/native/pricing"
	"inferpay/native/settlement"
	"inferpay/native/swap"
	"inferpay/observability"
	"inferpay/observability/logging"
	"inferpay/storage"
)

var quotaPrefix = []byte("quota/deposits/")

// GenesisBalance seeds an account on first start.
type GenesisBalance struct {
	Address common.Address
	Token   string
	Amount  *big.Int
}

// Options wires the node to its trusted identities and initial state.
type Options struct {
	Custody         common.Address
	Settlement      settlement.Config
	Updater         pricing.UpdaterConfig
	Genesis         pricing.Params
	Tokens          map[string]common.Address
	GenesisBalances []GenesisBalance
	AllowCredit     bool
	Pauses          nativecommon.PauseView
	DepositQuota    nativecommon.Quota
	Logger          *slog.Logger
	Now             func() time.Time
}

// Node is the central controller. Every mutating operation runs as one unit of
// work under mu: a fresh state.Manager journals the writes, which are
// committed atomically or discarded as a whole. Events raised inside the unit
// reach the sink only after commit.
type Node struct {
	db      storage.Database
	opts    Options
	mu      sync.Mutex
	sink    events.Emitter
	logger  *slog.Logger
	metrics *observability.NodeMetrics
	now     func() time.Time
}

// unit bundles the native modules bound to one state.Manager.
type unit struct {
	height  uint64
	state   *state.Manager
	events  *events.Buffer
	ledger  *escrow.Ledger
	prices  *pricing.Store
	updater *pricing.Updater
	engine  *settlement.Engine
}

// NewNode opens the node over db. On first start the genesis pricing record
// and balances are written in a single unit of work.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if opts.Custody == (common.Address{}) {
		return nil, fmt.Errorf("node: custody address required")
	}
	if opts.Settlement.Custody == (common.Address{}) {
		opts.Settlement.Custody = opts.Custody
	}
	if opts.Settlement.Custody != opts.Custody {
		return nil, fmt.Errorf("node: settlement custody %s differs from %s", opts.Settlement.Custody.Hex(), opts.Custody.Hex())
	}
	if err := opts.Settlement.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Updater.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	n := &Node{
		db:      db,
		opts:    opts,
		sink:    events.NoopEmitter{},
		logger:  logger.With(slog.String("component", "node")),
		metrics: observability.Node(),
		now:     now,
	}
	if err := n.seed(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) seed() error {
	probe := state.NewManager(n.db)
	initialized, err := pricing.NewStore(probe).Initialized()
	probe.Discard()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	return n.execute("genesis", func(u *unit) error {
		params, err := u.prices.Initialize(n.opts.Genesis, u.height)
		if err != nil {
			return err
		}
		for _, bal := range n.opts.GenesisBalances {
			if err := u.state.Credit(bal.Address, bal.Token, bal.Amount); err != nil {
				return fmt.Errorf("genesis balance %s: %w", bal.Address.Hex(), err)
			}
		}
		n.logger.Info("genesis state written",
			slog.Uint64("version", params.Version),
			slog.Int("balances", len(n.opts.GenesisBalances)))
		return nil
	})
}

// SetEventSink replaces the destination for committed events. Passing nil
// discards them.
func (n *Node) SetEventSink(sink events.Emitter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sink == nil {
		n.sink = events.NoopEmitter{}
		return
	}
	n.sink = sink
}

func (n *Node) tokenSymbols() []string {
	symbols := make([]string, 0, len(n.opts.Tokens))
	for symbol := range n.opts.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (n *Node) newUnit(mgr *state.Manager, height uint64) *unit {
	buf := &events.Buffer{}
	u := &unit{height: height, state: mgr, events: buf}

	u.ledger = escrow.NewLedger(mgr, n.opts.Custody)
	u.ledger.SetEmitter(buf)
	u.ledger.SetHeight(height)
	u.ledger.SetNowFunc(func() int64 { return n.now().Unix() })
	if len(n.opts.Tokens) > 0 {
		u.ledger.SetTokens(n.tokenSymbols())
	}

	u.prices = pricing.NewStore(mgr)
	u.updater = pricing.NewUpdater(u.prices, n.opts.Updater)
	u.updater.SetEmitter(buf)
	u.updater.SetHeight(height)

	u.engine = settlement.NewEngine(mgr, u.ledger, u.prices, mgr, n.opts.Settlement)
	u.engine.SetEmitter(buf)
	if len(n.opts.Tokens) > 0 {
		u.engine.SetConverter(swap.NewPoolConverter(n.opts.Tokens, u.prices))
	}
	return u
}

// execute runs fn as one unit of work. The unit commits with height+1 when fn
// succeeds; any error discards every write and every buffered event.
func (n *Node) execute(op string, fn func(*unit) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := n.now()
	mgr := state.NewManager(n.db)
	err := n.run(mgr, fn)
	n.metrics.ObserveUnit(op, coreerrors.Reason(err), n.now().Sub(start))
	if err != nil {
		n.logger.Debug("unit discarded",
			slog.String("operation", op),
			slog.String("reason", coreerrors.Reason(err)),
			slog.String("error", err.Error()))
	}
	return err
}

func (n *Node) run(mgr *state.Manager, fn func(*unit) error) error {
	prev, err := mgr.Height()
	if err != nil {
		mgr.Discard()
		return err
	}
	u := n.newUnit(mgr, prev+1)
	if err := fn(u); err != nil {
		mgr.Discard()
		return err
	}
	if err := mgr.SetHeight(u.height); err != nil {
		mgr.Discard()
		return err
	}
	if err := mgr.Commit(); err != nil {
		return err
	}
	n.metrics.SetHeight(u.height)
	u.events.Flush(publisher{sink: n.sink, metrics: n.metrics}, u.height)
	return nil
}

// view runs fn against the committed state. Nothing it writes is kept.
func (n *Node) view(fn func(*unit) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	mgr := state.NewManager(n.db)
	defer mgr.Discard()
	height, err := mgr.Height()
	if err != nil {
		return err
	}
	return fn(n.newUnit(mgr, height))
}

type publisher struct {
	sink    events.Emitter
	metrics *observability.NodeMetrics
}

func (p publisher) Emit(e events.Event) {
	p.metrics.RecordEvent(e.EventType())
	p.sink.Emit(e)
}

// FundDeposit moves amount from payer into custody and records the deposit in
// the same unit of work.
func (n *Node) FundDeposit(payer common.Address, id escrow.RequestID, owner common.Address, token string, amount *big.Int) (*escrow.Deposit, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", coreerrors.ErrInvalidAmount)
	}
	return n.createDeposit("fund_deposit", id, owner, token, amount, func(u *unit) error {
		err := u.state.Transfer(payer, n.opts.Custody, token, amount)
		if errors.Is(err, state.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", coreerrors.ErrInsufficientFunds, err)
		}
		return err
	})
}

// CreateDeposit records a deposit whose funds already sit in custody.
func (n *Node) CreateDeposit(id escrow.RequestID, owner common.Address, token string, amount *big.Int) (*escrow.Deposit, error) {
	return n.createDeposit("create_deposit", id, owner, token, amount, nil)
}

func (n *Node) createDeposit(op string, id escrow.RequestID, owner common.Address, token string, amount *big.Int, fund func(*unit) error) (*escrow.Deposit, error) {
	var (
		dep    *escrow.Deposit
		locked *big.Int
	)
	err := n.execute(op, func(u *unit) error {
		if err := nativecommon.Guard(n.opts.Pauses, nativecommon.ModuleDeposits); err != nil {
			return err
		}
		if err := n.chargeQuota(u, owner, amount); err != nil {
			return err
		}
		if fund != nil {
			if err := fund(u); err != nil {
				return err
			}
		}
		var err error
		if dep, err = u.ledger.Create(id, owner, token, amount); err != nil {
			return err
		}
		locked, err = u.ledger.Locked(dep.Token)
		return err
	})
	if err != nil {
		return nil, err
	}
	n.metrics.RecordDeposit(dep.Token, locked)
	n.logger.Info("deposit created",
		slog.String("requestId", dep.RequestID.Hex()),
		logOwner(dep.Owner),
		slog.String("token", dep.Token),
		slog.String("amount", dep.Amount.String()))
	return dep, nil
}

func (n *Node) chargeQuota(u *unit, owner common.Address, amount *big.Int) error {
	q := n.opts.DepositQuota
	if !q.Enabled() {
		return nil
	}
	key := append(append([]byte{}, quotaPrefix...), owner.Bytes()...)
	var prev nativecommon.QuotaNow
	if _, err := u.state.KVGet(key, &prev); err != nil {
		return err
	}
	var add uint64
	if q.MaxAmountPerEpoch > 0 && amount != nil {
		if !amount.IsUint64() || amount.Uint64() > q.MaxAmountPerEpoch {
			return nativecommon.ErrQuotaAmountExceeded
		}
		add = amount.Uint64()
	}
	next, err := nativecommon.CheckQuota(q, q.EpochAt(n.now().Unix()), prev, 1, add)
	if err != nil {
		return err
	}
	return u.state.KVPut(key, &next)
}

// HandlePoolActivity applies a pool notification. The pool does not act on the
// result; failures are logged, counted and returned for observability.
func (n *Node) HandlePoolActivity(caller common.Address, act pricing.Activity) (pricing.Update, error) {
	var upd pricing.Update
	err := n.execute("pool_activity", func(u *unit) error {
		if err := nativecommon.Guard(n.opts.Pauses, nativecommon.ModulePricing); err != nil {
			return err
		}
		var err error
		upd, err = u.updater.HandlePoolActivity(caller, act)
		return err
	})
	if err != nil {
		reason := coreerrors.Reason(err)
		n.metrics.RecordPricingRejected(reason)
		n.logger.Warn("pool activity skipped",
			slog.String("pool", act.Pool.Hex()),
			slog.Int64("tick", int64(act.Tick)),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return pricing.Update{}, err
	}
	if upd.Repriced {
		p := upd.Params
		n.metrics.RecordPricing(p.Version, p.PricePerInputUnit, p.PricePerOutputUnit, p.ProtocolFeeBps)
		n.logger.Info("pricing updated",
			slog.Uint64("version", p.Version),
			slog.String("pool", act.Pool.Hex()),
			slog.Int64("tick", int64(act.Tick)),
			slog.Bool("clamped", upd.Clamped))
	}
	return upd, nil
}

// SettleRequest charges the deposit for the reported usage and pays out. A
// failed payout leg discards the whole unit, leaving the deposit unsettled.
func (n *Node) SettleRequest(caller common.Address, id escrow.RequestID, inputUnits, outputUnits uint64) (settlement.Outcome, error) {
	var (
		out    settlement.Outcome
		locked *big.Int
	)
	err := n.execute("settle", func(u *unit) error {
		if err := nativecommon.Guard(n.opts.Pauses, nativecommon.ModuleSettlement); err != nil {
			return err
		}
		var err error
		if out, err = u.engine.Settle(caller, id, inputUnits, outputUnits); err != nil {
			return err
		}
		locked, err = u.ledger.Locked(out.Token)
		return err
	})
	if err != nil {
		if errors.Is(err, coreerrors.ErrTransferFailed) {
			n.logger.Error("settlement payout failed",
				slog.String("requestId", id.Hex()),
				slog.String("error", err.Error()))
		}
		return settlement.Outcome{}, err
	}
	n.metrics.RecordPayout(out.Token, "revenue", out.BaseCost)
	n.metrics.RecordPayout(out.Token, "relay_compensation", out.GasComp)
	n.metrics.RecordPayout(out.Token, "protocol_fee", out.Fee)
	n.metrics.RecordPayout(out.Token, "refund", out.Refund)
	n.metrics.SetLocked(out.Token, locked)
	n.logger.Info("request settled",
		slog.String("requestId", out.RequestID.Hex()),
		slog.String("token", out.Token),
		slog.String("charge", out.TotalCharge.String()),
		slog.String("refund", out.Refund.String()),
		slog.Uint64("version", out.PricingVersion))
	return out, nil
}

// QuoteSettlement previews SettleRequest against the committed state.
func (n *Node) QuoteSettlement(id escrow.RequestID, inputUnits, outputUnits uint64) (settlement.Outcome, error) {
	var out settlement.Outcome
	err := n.view(func(u *unit) error {
		var err error
		out, err = u.engine.Quote(id, inputUnits, outputUnits)
		return err
	})
	return out, err
}

// Credit mints balance for development setups. It is refused unless the node
// was configured with AllowCredit.
func (n *Node) Credit(addr common.Address, token string, amount *big.Int) error {
	if !n.opts.AllowCredit {
		return fmt.Errorf("%w: credit disabled", coreerrors.ErrUnauthorized)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", coreerrors.ErrInvalidAmount)
	}
	return n.execute("credit", func(u *unit) error {
		return u.state.Credit(addr, token, amount)
	})
}

// GetDeposit returns a snapshot of the deposit.
func (n *Node) GetDeposit(id escrow.RequestID) (*escrow.Deposit, error) {
	var dep *escrow.Deposit
	err := n.view(func(u *unit) error {
		var err error
		dep, err = u.ledger.Get(id)
		return err
	})
	return dep, err
}

// Pricing returns the current pricing snapshot.
func (n *Node) Pricing() (pricing.Params, error) {
	var p pricing.Params
	err := n.view(func(u *unit) error {
		var err error
		p, err = u.prices.Current()
		return err
	})
	return p, err
}

// PoolSnapshots returns the last recorded state of every notified pool.
func (n *Node) PoolSnapshots() ([]swap.PoolState, error) {
	var pools []swap.PoolState
	err := n.view(func(u *unit) error {
		var err error
		pools, err = u.prices.PoolSnapshots()
		return err
	})
	return pools, err
}

// Balance returns the token balance of addr.
func (n *Node) Balance(addr common.Address, token string) (*big.Int, error) {
	var bal *big.Int
	err := n.view(func(u *unit) error {
		var err error
		bal, err = u.state.Balance(addr, token)
		return err
	})
	return bal, err
}

// Locked returns the custody amount reserved for unsettled deposits of token.
func (n *Node) Locked(token string) (*big.Int, error) {
	var locked *big.Int
	err := n.view(func(u *unit) error {
		var err error
		locked, err = u.ledger.Locked(token)
		return err
	})
	return locked, err
}

// SettlementTotals returns the accumulated payouts for token.
func (n *Node) SettlementTotals(token string) (fees.Totals, error) {
	var totals fees.Totals
	err := n.view(func(u *unit) error {
		var err error
		totals, err = u.engine.Totals(token)
		return err
	})
	return totals, err
}

// Height returns the number of committed units of work.
func (n *Node) Height() (uint64, error) {
	var h uint64
	err := n.view(func(u *unit) error {
		h = u.height
		return nil
	})
	return h, err
}

func logOwner(addr common.Address) slog.Attr {
	return logging.MaskField("owner", addr.Hex())
}
