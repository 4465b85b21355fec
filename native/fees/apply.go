package fees

import (
	"fmt"
	"math/big"
	"strings"
)

// MaxBps is the denominator of every basis-point rate.
const MaxBps = 10_000

// ApplyInput captures the amount a fee is levied on and the rate in basis
// points.
type ApplyInput struct {
	Gross *big.Int
	Bps   uint32
}

// ApplyResult summarises the computed fee and the untouched gross amount.
type ApplyResult struct {
	Gross *big.Int
	Fee   *big.Int
}

// Apply computes gross*bps/10000 rounded down. The fee is never overstated, so
// truncation always favours the payer.
func Apply(input ApplyInput) (ApplyResult, error) {
	if input.Bps > MaxBps {
		return ApplyResult{}, fmt.Errorf("fees: rate %d bps exceeds %d", input.Bps, MaxBps)
	}
	result := ApplyResult{Gross: big.NewInt(0), Fee: big.NewInt(0)}
	if input.Gross == nil {
		return result, nil
	}
	if input.Gross.Sign() < 0 {
		return ApplyResult{}, fmt.Errorf("fees: negative gross amount")
	}
	result.Gross = new(big.Int).Set(input.Gross)
	if input.Bps == 0 || input.Gross.Sign() == 0 {
		return result, nil
	}
	fee := new(big.Int).Mul(input.Gross, big.NewInt(int64(input.Bps)))
	result.Fee = fee.Quo(fee, big.NewInt(MaxBps))
	return result, nil
}

// Totals aggregates settlement accounting per token.
type Totals struct {
	Token       string
	BaseCost    *big.Int
	Fee         *big.Int
	GasComp     *big.Int
	Refund      *big.Int
	Settlements uint64
}

// NewTotals returns zeroed totals for token.
func NewTotals(token string) Totals {
	return Totals{
		Token:    strings.ToUpper(strings.TrimSpace(token)),
		BaseCost: big.NewInt(0),
		Fee:      big.NewInt(0),
		GasComp:  big.NewInt(0),
		Refund:   big.NewInt(0),
	}
}

// Add folds one settlement into the totals.
func (t *Totals) Add(baseCost, fee, gasComp, refund *big.Int) {
	t.BaseCost = addOrZero(t.BaseCost, baseCost)
	t.Fee = addOrZero(t.Fee, fee)
	t.GasComp = addOrZero(t.GasComp, gasComp)
	t.Refund = addOrZero(t.Refund, refund)
	t.Settlements++
}

// Clone returns a copy of the totals structure with duplicated big.Int values.
func (t Totals) Clone() Totals {
	clone := Totals{Token: t.Token, Settlements: t.Settlements}
	clone.BaseCost = copyOrZero(t.BaseCost)
	clone.Fee = copyOrZero(t.Fee)
	clone.GasComp = copyOrZero(t.GasComp)
	clone.Refund = copyOrZero(t.Refund)
	return clone
}

func addOrZero(acc, v *big.Int) *big.Int {
	out := copyOrZero(acc)
	if v != nil {
		out.Add(out, v)
	}
	return out
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
