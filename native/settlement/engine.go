package settlement

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
	"inferpay/native/escrow"
	"inferpay/native/fees"
	"inferpay/native/pricing"
)

var (
	errNilEngine = errors.New("settlement engine: not configured")

	totalsPrefix = []byte("settlement/totals/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Transferer moves value out of the custody vault.
type Transferer interface {
	Transfer(from, to common.Address, token string, amount *big.Int) error
}

// Converter prices an amount of one token in another.
type Converter interface {
	Convert(amount *big.Int, from, to string) (*big.Int, error)
}

// PricingSource yields the current pricing snapshot.
type PricingSource interface {
	Current() (pricing.Params, error)
}

// Payees are the recipients of the charged portion of a deposit.
type Payees struct {
	Revenue           common.Address
	RelayCompensation common.Address
	ProtocolFee       common.Address
}

// Config binds the engine to its trusted relay and payout accounts.
type Config struct {
	Relay   common.Address
	Custody common.Address
	Payees  Payees
}

// Validate reports missing identities.
func (c Config) Validate() error {
	zero := common.Address{}
	switch {
	case c.Relay == zero:
		return fmt.Errorf("settlement: relay address required")
	case c.Custody == zero:
		return fmt.Errorf("settlement: custody address required")
	case c.Payees.Revenue == zero, c.Payees.RelayCompensation == zero, c.Payees.ProtocolFee == zero:
		return fmt.Errorf("settlement: payee addresses required")
	}
	return nil
}

// Outcome is the cost breakdown of one settlement. BaseCost, Fee, GasComp and
// Refund always sum to Amount.
type Outcome struct {
	RequestID      escrow.RequestID `json:"requestId"`
	Owner          common.Address   `json:"owner"`
	Token          string           `json:"token"`
	Amount         *big.Int         `json:"amountPaid"`
	InputUnits     uint64           `json:"inputUnits"`
	OutputUnits    uint64           `json:"outputUnits"`
	BaseCost       *big.Int         `json:"baseCost"`
	Fee            *big.Int         `json:"fee"`
	GasComp        *big.Int         `json:"gasComp"`
	TotalCharge    *big.Int         `json:"totalCharge"`
	Refund         *big.Int         `json:"refund"`
	PricingVersion uint64           `json:"pricingVersion"`
	Converted      bool             `json:"converted"`
}

// Engine resolves deposits. Reported usage is taken at face value: the relay
// is a trusted reporter and nothing here can verify the unit counts.
type Engine struct {
	state     engineState
	ledger    *escrow.Ledger
	pricing   PricingSource
	transfers Transferer
	converter Converter
	cfg       Config
	emitter   events.Emitter
}

// NewEngine wires the engine to the unit-of-work collaborators.
func NewEngine(state engineState, ledger *escrow.Ledger, prices PricingSource, transfers Transferer, cfg Config) *Engine {
	return &Engine{
		state:     state,
		ledger:    ledger,
		pricing:   prices,
		transfers: transfers,
		cfg:       cfg,
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetConverter enables settlement of deposits whose token differs from the
// pricing denomination.
func (e *Engine) SetConverter(c Converter) { e.converter = c }

// Quote computes the outcome a settlement would produce without touching any
// state. It performs the same checks as Settle apart from the caller check.
func (e *Engine) Quote(id escrow.RequestID, inputUnits, outputUnits uint64) (Outcome, error) {
	if e == nil || e.ledger == nil || e.pricing == nil {
		return Outcome{}, errNilEngine
	}
	dep, err := e.ledger.Get(id)
	if err != nil {
		return Outcome{}, err
	}
	if dep.Settled {
		return Outcome{}, fmt.Errorf("%w: %s", coreerrors.ErrAlreadySettled, id.Hex())
	}
	params, err := e.pricing.Current()
	if err != nil {
		return Outcome{}, err
	}
	return e.compute(dep, params, inputUnits, outputUnits)
}

// Settle charges the deposit for the reported usage and pays out. The deposit
// is flipped to settled before any value leaves custody, so a payee that
// re-enters within the same unit of work observes ErrAlreadySettled. Any
// transfer failure is returned as ErrTransferFailed; the caller must then
// discard the unit of work so that neither the flag nor earlier legs persist.
func (e *Engine) Settle(caller common.Address, id escrow.RequestID, inputUnits, outputUnits uint64) (Outcome, error) {
	if e == nil || e.state == nil || e.transfers == nil {
		return Outcome{}, errNilEngine
	}
	if caller != e.cfg.Relay {
		return Outcome{}, fmt.Errorf("%w: %s is not the settlement relay", coreerrors.ErrUnauthorized, caller.Hex())
	}
	outcome, err := e.Quote(id, inputUnits, outputUnits)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := e.ledger.MarkSettled(id); err != nil {
		return Outcome{}, err
	}

	legs := []struct {
		name   string
		to     common.Address
		amount *big.Int
	}{
		{"revenue", e.cfg.Payees.Revenue, outcome.BaseCost},
		{"relay compensation", e.cfg.Payees.RelayCompensation, outcome.GasComp},
		{"protocol fee", e.cfg.Payees.ProtocolFee, outcome.Fee},
		{"refund", outcome.Owner, outcome.Refund},
	}
	for _, leg := range legs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := e.transfers.Transfer(e.cfg.Custody, leg.to, outcome.Token, leg.amount); err != nil {
			return Outcome{}, fmt.Errorf("%w: %s leg: %v", coreerrors.ErrTransferFailed, leg.name, err)
		}
	}

	if err := e.addTotals(outcome); err != nil {
		return Outcome{}, err
	}
	e.emitter.Emit(events.SettlementCompleted{
		RequestID:      outcome.RequestID,
		Owner:          outcome.Owner,
		Relay:          caller,
		Token:          outcome.Token,
		Amount:         outcome.Amount,
		InputUnits:     outcome.InputUnits,
		OutputUnits:    outcome.OutputUnits,
		BaseCost:       outcome.BaseCost,
		Fee:            outcome.Fee,
		GasComp:        outcome.GasComp,
		Refund:         outcome.Refund,
		PricingVersion: outcome.PricingVersion,
		Converted:      outcome.Converted,
	})
	return outcome, nil
}

func (e *Engine) compute(dep *escrow.Deposit, params pricing.Params, inputUnits, outputUnits uint64) (Outcome, error) {
	baseCost := new(big.Int).Mul(new(big.Int).SetUint64(inputUnits), params.PricePerInputUnit)
	baseCost.Add(baseCost, new(big.Int).Mul(new(big.Int).SetUint64(outputUnits), params.PricePerOutputUnit))
	gasComp := new(big.Int).Set(params.GasMarkupPerCall)

	converted := false
	denom, _ := escrow.NormalizeToken(params.Denomination)
	if denom != dep.Token {
		if e.converter == nil {
			return Outcome{}, fmt.Errorf("%w: %s -> %s", coreerrors.ErrConversionUnavailable, denom, dep.Token)
		}
		var err error
		if baseCost, err = e.converter.Convert(baseCost, denom, dep.Token); err != nil {
			return Outcome{}, err
		}
		if gasComp, err = e.converter.Convert(gasComp, denom, dep.Token); err != nil {
			return Outcome{}, err
		}
		converted = true
	}

	fee, err := fees.Apply(fees.ApplyInput{Gross: baseCost, Bps: params.ProtocolFeeBps})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", coreerrors.ErrInvalidPricing, err)
	}
	total := new(big.Int).Add(baseCost, fee.Fee)
	total.Add(total, gasComp)
	if total.Cmp(dep.Amount) > 0 {
		return Outcome{}, fmt.Errorf("%w: charge %s exceeds deposit %s", coreerrors.ErrUnderfunded, total, dep.Amount)
	}
	return Outcome{
		RequestID:      dep.RequestID,
		Owner:          dep.Owner,
		Token:          dep.Token,
		Amount:         new(big.Int).Set(dep.Amount),
		InputUnits:     inputUnits,
		OutputUnits:    outputUnits,
		BaseCost:       baseCost,
		Fee:            fee.Fee,
		GasComp:        gasComp,
		TotalCharge:    total,
		Refund:         new(big.Int).Sub(dep.Amount, total),
		PricingVersion: params.Version,
		Converted:      converted,
	}, nil
}

type storedTotals struct {
	BaseCost    *big.Int
	Fee         *big.Int
	GasComp     *big.Int
	Refund      *big.Int
	Settlements uint64
}

func totalsKey(token string) []byte {
	buf := make([]byte, 0, len(totalsPrefix)+len(token))
	buf = append(buf, totalsPrefix...)
	return append(buf, token...)
}

// Totals returns the accumulated settlement amounts for token.
func (e *Engine) Totals(token string) (fees.Totals, error) {
	if e == nil || e.state == nil {
		return fees.Totals{}, errNilEngine
	}
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return fees.Totals{}, err
	}
	totals := fees.NewTotals(normalized)
	var stored storedTotals
	ok, err := e.state.KVGet(totalsKey(normalized), &stored)
	if err != nil || !ok {
		return totals, err
	}
	totals.Add(stored.BaseCost, stored.Fee, stored.GasComp, stored.Refund)
	totals.Settlements = stored.Settlements
	return totals, nil
}

func (e *Engine) addTotals(o Outcome) error {
	totals, err := e.Totals(o.Token)
	if err != nil {
		return err
	}
	totals.Add(o.BaseCost, o.Fee, o.GasComp, o.Refund)
	return e.state.KVPut(totalsKey(totals.Token), &storedTotals{
		BaseCost:    totals.BaseCost,
		Fee:         totals.Fee,
		GasComp:     totals.GasComp,
		Refund:      totals.Refund,
		Settlements: totals.Settlements,
	})
}
