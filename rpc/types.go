package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	coreerrors "inferpay/core/errors"
	"inferpay/native/escrow"
	"inferpay/native/pricing"
	"inferpay/native/settlement"
	"inferpay/native/swap"
	"inferpay/services/auditlog"
)

// Amounts travel as decimal strings so clients never lose precision.

type fundDepositRequest struct {
	RequestID string `json:"requestId"`
	Owner     string `json:"owner"`
	Token     string `json:"token"`
	Amount    string `json:"amount"`
}

type depositResult struct {
	RequestID   string `json:"requestId"`
	Owner       string `json:"owner"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Settled     bool   `json:"settled"`
	CreatedAt   uint64 `json:"createdAt"`
	CreatedUnix int64  `json:"createdUnix"`
	SettledAt   uint64 `json:"settledAt,omitempty"`
}

func formatDeposit(d *escrow.Deposit) depositResult {
	return depositResult{
		RequestID:   d.RequestID.Hex(),
		Owner:       d.Owner.Hex(),
		Token:       d.Token,
		Amount:      formatAmount(d.Amount),
		Settled:     d.Settled,
		CreatedAt:   d.CreatedAt,
		CreatedUnix: d.CreatedUnix,
		SettledAt:   d.SettledAt,
	}
}

type settleRequest struct {
	RequestID   string `json:"requestId"`
	InputUnits  uint64 `json:"inputUnits"`
	OutputUnits uint64 `json:"outputUnits"`
}

type outcomeResult struct {
	RequestID      string `json:"requestId"`
	Owner          string `json:"owner"`
	Token          string `json:"token"`
	AmountPaid     string `json:"amountPaid"`
	InputUnits     uint64 `json:"inputUnits"`
	OutputUnits    uint64 `json:"outputUnits"`
	BaseCost       string `json:"baseCost"`
	Fee            string `json:"fee"`
	GasComp        string `json:"gasComp"`
	TotalCharge    string `json:"totalCharge"`
	Refund         string `json:"refund"`
	PricingVersion uint64 `json:"pricingVersion"`
	Converted      bool   `json:"converted"`
}

func formatOutcome(o settlement.Outcome) outcomeResult {
	return outcomeResult{
		RequestID:      o.RequestID.Hex(),
		Owner:          o.Owner.Hex(),
		Token:          o.Token,
		AmountPaid:     formatAmount(o.Amount),
		InputUnits:     o.InputUnits,
		OutputUnits:    o.OutputUnits,
		BaseCost:       formatAmount(o.BaseCost),
		Fee:            formatAmount(o.Fee),
		GasComp:        formatAmount(o.GasComp),
		TotalCharge:    formatAmount(o.TotalCharge),
		Refund:         formatAmount(o.Refund),
		PricingVersion: o.PricingVersion,
		Converted:      o.Converted,
	}
}

type pricingResult struct {
	PricePerInputUnit  string `json:"pricePerInputUnit"`
	PricePerOutputUnit string `json:"pricePerOutputUnit"`
	ProtocolFeeBps     uint32 `json:"protocolFeeBps"`
	GasMarkupPerCall   string `json:"gasMarkupPerCall"`
	Denomination       string `json:"denomination"`
	Version            uint64 `json:"version"`
	UpdatedAt          uint64 `json:"updatedAt"`
}

func formatPricing(p pricing.Params) pricingResult {
	return pricingResult{
		PricePerInputUnit:  formatAmount(p.PricePerInputUnit),
		PricePerOutputUnit: formatAmount(p.PricePerOutputUnit),
		ProtocolFeeBps:     p.ProtocolFeeBps,
		GasMarkupPerCall:   formatAmount(p.GasMarkupPerCall),
		Denomination:       p.Denomination,
		Version:            p.Version,
		UpdatedAt:          p.UpdatedAt,
	}
}

// poolJSON is the wire form of a pool snapshot.
type poolJSON struct {
	Address      string `json:"address"`
	Token0       string `json:"token0"`
	Token1       string `json:"token1"`
	Fee          uint32 `json:"fee"`
	TickSpacing  int32  `json:"tickSpacing"`
	SqrtPriceX96 string `json:"sqrtPriceX96,omitempty"`
	Tick         int32  `json:"tick"`
	Liquidity    string `json:"liquidity"`
}

func formatPool(p swap.PoolState) poolJSON {
	out := poolJSON{
		Address:     p.Address.Hex(),
		Token0:      p.Token0.Hex(),
		Token1:      p.Token1.Hex(),
		Fee:         p.Fee,
		TickSpacing: p.TickSpacing,
		Tick:        p.Tick,
	}
	if p.SqrtPriceX96 != nil {
		out.SqrtPriceX96 = p.SqrtPriceX96.Dec()
	}
	if p.Liquidity != nil {
		out.Liquidity = p.Liquidity.Dec()
	}
	return out
}

func (p poolJSON) toPoolState() (swap.PoolState, error) {
	var (
		pool swap.PoolState
		err  error
	)
	if pool.Address, err = parseAddress("address", p.Address, true); err != nil {
		return pool, err
	}
	if pool.Token0, err = parseAddress("token0", p.Token0, false); err != nil {
		return pool, err
	}
	if pool.Token1, err = parseAddress("token1", p.Token1, false); err != nil {
		return pool, err
	}
	if pool.SqrtPriceX96, err = parseUint256("sqrtPriceX96", p.SqrtPriceX96); err != nil {
		return pool, err
	}
	if pool.Liquidity, err = parseUint256("liquidity", p.Liquidity); err != nil {
		return pool, err
	}
	pool.Fee = p.Fee
	pool.TickSpacing = p.TickSpacing
	pool.Tick = p.Tick
	return pool, nil
}

type poolActivityRequest struct {
	poolJSON
	VolatilityBps uint32 `json:"volatilityBps"`
}

func (r poolActivityRequest) toActivity() (pricing.Activity, error) {
	pool, err := r.poolJSON.toPoolState()
	if err != nil {
		return pricing.Activity{}, err
	}
	if pool.Address == (common.Address{}) {
		return pricing.Activity{}, fmt.Errorf("%w: pool address required", coreerrors.ErrInvalidArgument)
	}
	return pricing.Activity{
		Pool:          pool.Address,
		Token0:        pool.Token0,
		Token1:        pool.Token1,
		Fee:           pool.Fee,
		TickSpacing:   pool.TickSpacing,
		SqrtPriceX96:  pool.SqrtPriceX96,
		Tick:          pool.Tick,
		Liquidity:     pool.Liquidity,
		VolatilityBps: r.VolatilityBps,
	}, nil
}

type poolActivityResult struct {
	Applied  bool   `json:"applied"`
	Repriced bool   `json:"repriced"`
	Clamped  bool   `json:"clamped"`
	Version  uint64 `json:"version,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// quoteRequest names the pool either inline or by the address of a recorded
// snapshot.
type quoteRequest struct {
	Pool        *poolJSON `json:"pool,omitempty"`
	PoolAddress string    `json:"poolAddress,omitempty"`
	Direction   string    `json:"direction"`
	AmountIn    string    `json:"amountIn,omitempty"`
	Amounts     []string  `json:"amounts,omitempty"`
}

type quoteResult struct {
	AmountIn          string          `json:"amountIn"`
	FeeAmount         string          `json:"feeAmount"`
	AmountOut         string          `json:"amountOut"`
	SqrtPriceX96After string          `json:"sqrtPriceX96After"`
	PriceAfter        decimal.Decimal `json:"priceAfter"`
	TickAfter         int32           `json:"tickAfter"`
	PriceImpactBps    uint64          `json:"priceImpactBps"`
	Approximate       bool            `json:"approximate"`
}

func formatQuote(q swap.Quote) quoteResult {
	return quoteResult{
		AmountIn:          formatAmount(q.AmountIn),
		FeeAmount:         formatAmount(q.FeeAmount),
		AmountOut:         formatAmount(q.AmountOut),
		SqrtPriceX96After: formatAmount(q.SqrtPriceX96After),
		PriceAfter:        q.PriceAfter,
		TickAfter:         q.TickAfter,
		PriceImpactBps:    q.PriceImpactBps,
		Approximate:       q.Approximate,
	}
}

type validateResult struct {
	Valid bool `json:"valid"`
	swap.Verdict
}

type auditRecord struct {
	ID         string            `json:"id"`
	Height     uint64            `json:"height"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  string            `json:"createdAt"`
}

func formatRecord(r auditlog.Record) auditRecord {
	evt := r.Event()
	return auditRecord{
		ID:         r.ID.String(),
		Height:     r.Height,
		Type:       r.Type,
		Attributes: evt.Attributes,
		CreatedAt:  r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s required", coreerrors.ErrInvalidAmount, field)
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a base-10 integer", coreerrors.ErrInvalidAmount, field)
	}
	return v, nil
}

func parseAddress(field, raw string, optional bool) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" && optional {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", coreerrors.ErrInvalidArgument, field)
	}
	return common.HexToAddress(trimmed), nil
}

// parseUint256 accepts decimal or 0x-prefixed hex. Empty input yields nil.
func parseUint256(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed, base = trimmed[2:], 16
	}
	v, ok := new(big.Int).SetString(trimmed, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must be a non-negative integer", coreerrors.ErrInvalidArgument, field)
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", coreerrors.ErrInvalidArgument, field)
	}
	return out, nil
}
