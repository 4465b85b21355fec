package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "inferpay/core/errors"
	"inferpay/native/swap"
)

var (
	// ErrNotInitialized is returned when no pricing record has been seeded.
	ErrNotInitialized = fmt.Errorf("%w: pricing not initialized", coreerrors.ErrInvalidPricing)

	errNilState = errors.New("pricing store: state not configured")

	paramsKey    = []byte("pricing/params")
	poolIndexKey = []byte("pricing/pools")
	poolPrefix   = []byte("pricing/pool/")
)

type storeState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store persists the current pricing record and the latest snapshot of every
// notified pool. Writes other than Initialize are only reachable through the
// Updater.
type Store struct {
	state storeState
}

// NewStore binds the store to a unit-of-work state.
func NewStore(state storeState) *Store {
	return &Store{state: state}
}

type storedParams struct {
	PricePerInputUnit  *big.Int
	PricePerOutputUnit *big.Int
	ProtocolFeeBps     uint32
	GasMarkupPerCall   *big.Int
	Denomination       string
	Version            uint64
	UpdatedAt          uint64
}

type storedPool struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	TickSpacing  uint32
	SqrtPriceX96 *big.Int
	Tick         uint32
	Liquidity    *big.Int
}

// Current returns a snapshot of the pricing record.
func (s *Store) Current() (Params, error) {
	if s == nil || s.state == nil {
		return Params{}, errNilState
	}
	var stored storedParams
	ok, err := s.state.KVGet(paramsKey, &stored)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return Params{}, ErrNotInitialized
	}
	return Params{
		PricePerInputUnit:  stored.PricePerInputUnit,
		PricePerOutputUnit: stored.PricePerOutputUnit,
		ProtocolFeeBps:     stored.ProtocolFeeBps,
		GasMarkupPerCall:   stored.GasMarkupPerCall,
		Denomination:       stored.Denomination,
		Version:            stored.Version,
		UpdatedAt:          stored.UpdatedAt,
	}.Clone(), nil
}

// Initialized reports whether a pricing record exists.
func (s *Store) Initialized() (bool, error) {
	if s == nil || s.state == nil {
		return false, errNilState
	}
	return s.state.KVGet(paramsKey, nil)
}

// Initialize seeds version 1 from configuration. It is a no-op when a record
// already exists and returns the stored record.
func (s *Store) Initialize(p Params, height uint64) (Params, error) {
	current, err := s.Current()
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, ErrNotInitialized) {
		return Params{}, err
	}
	seed := p.Clone()
	seed.Version = 1
	seed.UpdatedAt = height
	if err := seed.Validate(); err != nil {
		return Params{}, err
	}
	if err := s.put(seed); err != nil {
		return Params{}, err
	}
	return seed.Clone(), nil
}

func (s *Store) put(p Params) error {
	return s.state.KVPut(paramsKey, &storedParams{
		PricePerInputUnit:  copyInt(p.PricePerInputUnit),
		PricePerOutputUnit: copyInt(p.PricePerOutputUnit),
		ProtocolFeeBps:     p.ProtocolFeeBps,
		GasMarkupPerCall:   copyInt(p.GasMarkupPerCall),
		Denomination:       p.Denomination,
		Version:            p.Version,
		UpdatedAt:          p.UpdatedAt,
	})
}

// commit stores next as the new current record with the version following
// the stored one.
func (s *Store) commit(next Params) (Params, error) {
	prev, err := s.Current()
	if err != nil {
		return Params{}, err
	}
	next = next.Clone()
	next.Version = prev.Version + 1
	if err := next.Validate(); err != nil {
		return Params{}, err
	}
	if err := s.put(next); err != nil {
		return Params{}, err
	}
	return next, nil
}

func poolKey(addr common.Address) []byte {
	buf := make([]byte, 0, len(poolPrefix)+common.AddressLength)
	buf = append(buf, poolPrefix...)
	return append(buf, addr.Bytes()...)
}

func (s *Store) poolIndex() ([]common.Address, error) {
	var index []common.Address
	if _, err := s.state.KVGet(poolIndexKey, &index); err != nil {
		return nil, err
	}
	return index, nil
}

// putPool records the latest snapshot of a pool.
func (s *Store) putPool(pool swap.PoolState) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	index, err := s.poolIndex()
	if err != nil {
		return err
	}
	known := false
	for _, addr := range index {
		if addr == pool.Address {
			known = true
			break
		}
	}
	if !known {
		index = append(index, pool.Address)
		if err := s.state.KVPut(poolIndexKey, index); err != nil {
			return err
		}
	}
	stored := &storedPool{
		Address:      pool.Address,
		Token0:       pool.Token0,
		Token1:       pool.Token1,
		Fee:          pool.Fee,
		TickSpacing:  uint32(pool.TickSpacing),
		SqrtPriceX96: uint256ToBig(pool.SqrtPriceX96),
		Tick:         uint32(pool.Tick),
		Liquidity:    uint256ToBig(pool.Liquidity),
	}
	return s.state.KVPut(poolKey(pool.Address), stored)
}

// PoolSnapshot returns the last recorded state of a pool.
func (s *Store) PoolSnapshot(addr common.Address) (swap.PoolState, bool, error) {
	if s == nil || s.state == nil {
		return swap.PoolState{}, false, errNilState
	}
	var stored storedPool
	ok, err := s.state.KVGet(poolKey(addr), &stored)
	if err != nil || !ok {
		return swap.PoolState{}, false, err
	}
	sqrt, _ := uint256.FromBig(stored.SqrtPriceX96)
	liquidity, _ := uint256.FromBig(stored.Liquidity)
	return swap.PoolState{
		Address:      stored.Address,
		Token0:       stored.Token0,
		Token1:       stored.Token1,
		Fee:          stored.Fee,
		TickSpacing:  int32(stored.TickSpacing),
		SqrtPriceX96: sqrt,
		Tick:         int32(stored.Tick),
		Liquidity:    liquidity,
	}, true, nil
}

// PoolSnapshots returns every recorded pool in first-seen order. It satisfies
// swap.PoolSource.
func (s *Store) PoolSnapshots() ([]swap.PoolState, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	index, err := s.poolIndex()
	if err != nil {
		return nil, err
	}
	pools := make([]swap.PoolState, 0, len(index))
	for _, addr := range index {
		pool, ok, err := s.PoolSnapshot(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			pools = append(pools, pool)
		}
	}
	return pools, nil
}

func uint256ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}
