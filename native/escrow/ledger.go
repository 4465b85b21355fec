package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
	"inferpay/core/events"
)

var (
	errNilState = errors.New("escrow ledger: state not configured")

	depositPrefix = []byte("escrow/deposit/")
	lockedPrefix  = []byte("escrow/locked/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Balance(addr common.Address, token string) (*big.Int, error)
}

// Ledger owns the Deposit records. It never moves value itself: Create checks
// that custody already holds the funds and MarkSettled is only invoked by the
// settlement engine inside the same unit of work as the payout transfers.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
	custody common.Address
	tokens  map[string]struct{}
	height  uint64
	nowFn   func() int64
}

// NewLedger binds a ledger to a unit-of-work state and the custody account
// that holds escrowed funds.
func NewLedger(state ledgerState, custody common.Address) *Ledger {
	return &Ledger{
		state:   state,
		custody: custody,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the wall clock recorded on new deposits.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetHeight records the unit-of-work height stamped onto new deposits.
func (l *Ledger) SetHeight(h uint64) { l.height = h }

// SetTokens restricts deposits to the supplied symbols. An empty list accepts
// any symbol.
func (l *Ledger) SetTokens(symbols []string) {
	l.tokens = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if normalized, err := NormalizeToken(s); err == nil {
			l.tokens[normalized] = struct{}{}
		}
	}
}

func depositKey(id RequestID) []byte {
	buf := make([]byte, 0, len(depositPrefix)+len(id))
	buf = append(buf, depositPrefix...)
	return append(buf, id[:]...)
}

func lockedKey(token string) []byte {
	buf := make([]byte, 0, len(lockedPrefix)+len(token))
	buf = append(buf, lockedPrefix...)
	return append(buf, token...)
}

func (l *Ledger) normalizeToken(token string) (string, error) {
	normalized, err := NormalizeToken(token)
	if err != nil {
		return "", err
	}
	if len(l.tokens) > 0 {
		if _, ok := l.tokens[normalized]; !ok {
			return "", fmt.Errorf("%w: %s", coreerrors.ErrUnsupportedToken, normalized)
		}
	}
	return normalized, nil
}

func (l *Ledger) load(id RequestID) (*Deposit, bool, error) {
	if l == nil || l.state == nil {
		return nil, false, errNilState
	}
	var stored storedDeposit
	ok, err := l.state.KVGet(depositKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toDeposit(id), true, nil
}

func (l *Ledger) store(d *Deposit) error {
	return l.state.KVPut(depositKey(d.RequestID), newStoredDeposit(d))
}

// Locked returns the total amount of token held for unsettled deposits.
func (l *Ledger) Locked(token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	locked := new(big.Int)
	ok, err := l.state.KVGet(lockedKey(normalized), locked)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return locked, nil
}

func (l *Ledger) setLocked(token string, amount *big.Int) error {
	return l.state.KVPut(lockedKey(token), amount)
}

// Create records a new unsettled deposit. The funds must already sit in
// custody: the custody balance has to cover every unsettled deposit of the
// token including this one.
func (l *Ledger) Create(id RequestID, owner common.Address, token string, amount *big.Int) (*Deposit, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: owner required", coreerrors.ErrInvalidArgument)
	}
	normalized, err := l.normalizeToken(token)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", coreerrors.ErrInvalidAmount)
	}
	if _, exists, err := l.load(id); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrDuplicateRequest, id.Hex())
	}
	locked, err := l.Locked(normalized)
	if err != nil {
		return nil, err
	}
	held, err := l.state.Balance(l.custody, normalized)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(locked, amount)
	if held.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: custody holds %s %s, needs %s", coreerrors.ErrCustodyShortfall, held, normalized, required)
	}
	dep := &Deposit{
		RequestID:   id,
		Owner:       owner,
		Token:       normalized,
		Amount:      new(big.Int).Set(amount),
		CreatedAt:   l.height,
		CreatedUnix: l.nowFn(),
	}
	if err := l.store(dep); err != nil {
		return nil, err
	}
	if err := l.setLocked(normalized, required); err != nil {
		return nil, err
	}
	l.emitter.Emit(events.DepositCreated{
		RequestID: id,
		Owner:     owner,
		Token:     normalized,
		Amount:    dep.Amount,
		CreatedAt: dep.CreatedAt,
	})
	return dep.Clone(), nil
}

// Get returns a snapshot of the deposit.
func (l *Ledger) Get(id RequestID) (*Deposit, error) {
	dep, ok, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrNotFound, id.Hex())
	}
	return dep, nil
}

// MarkSettled flips the deposit to settled and releases its custody lock. The
// check and the write happen against the same unit-of-work state, so a second
// call in a later unit observes the committed flag.
func (l *Ledger) MarkSettled(id RequestID) (*Deposit, error) {
	dep, err := l.Get(id)
	if err != nil {
		return nil, err
	}
	if dep.Settled {
		return nil, fmt.Errorf("%w: %s", coreerrors.ErrAlreadySettled, id.Hex())
	}
	locked, err := l.Locked(dep.Token)
	if err != nil {
		return nil, err
	}
	if locked.Cmp(dep.Amount) < 0 {
		return nil, fmt.Errorf("escrow: locked %s %s below deposit amount %s", locked, dep.Token, dep.Amount)
	}
	dep.Settled = true
	dep.SettledAt = l.height
	if err := l.store(dep); err != nil {
		return nil, err
	}
	if err := l.setLocked(dep.Token, locked.Sub(locked, dep.Amount)); err != nil {
		return nil, err
	}
	return dep.Clone(), nil
}
