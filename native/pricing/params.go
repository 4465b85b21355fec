package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "inferpay/core/errors"
	"inferpay/native/fees"
)

// Params is the current pricing record consumed by settlement. Prices are in
// minor units of Denomination per consumption unit.
type Params struct {
	PricePerInputUnit  *big.Int `json:"pricePerInputUnit"`
	PricePerOutputUnit *big.Int `json:"pricePerOutputUnit"`
	ProtocolFeeBps     uint32   `json:"protocolFeeBps"`
	GasMarkupPerCall   *big.Int `json:"gasMarkupPerCall"`
	Denomination       string   `json:"denomination"`
	Version            uint64   `json:"version"`
	UpdatedAt          uint64   `json:"updatedAt"`
}

// Clone returns a deep copy so snapshots cannot alias the stored record.
func (p Params) Clone() Params {
	clone := p
	clone.PricePerInputUnit = copyInt(p.PricePerInputUnit)
	clone.PricePerOutputUnit = copyInt(p.PricePerOutputUnit)
	clone.GasMarkupPerCall = copyInt(p.GasMarkupPerCall)
	return clone
}

// Validate checks the record invariants: every amount non-negative, the fee
// rate within [0, 10000] and a denomination present.
func (p Params) Validate() error {
	if p.PricePerInputUnit == nil || p.PricePerInputUnit.Sign() < 0 {
		return fmt.Errorf("%w: price per input unit must be non-negative", coreerrors.ErrInvalidPricing)
	}
	if p.PricePerOutputUnit == nil || p.PricePerOutputUnit.Sign() < 0 {
		return fmt.Errorf("%w: price per output unit must be non-negative", coreerrors.ErrInvalidPricing)
	}
	if p.GasMarkupPerCall == nil || p.GasMarkupPerCall.Sign() < 0 {
		return fmt.Errorf("%w: gas markup must be non-negative", coreerrors.ErrInvalidPricing)
	}
	if p.ProtocolFeeBps > fees.MaxBps {
		return fmt.Errorf("%w: protocol fee %d bps exceeds %d", coreerrors.ErrInvalidPricing, p.ProtocolFeeBps, fees.MaxBps)
	}
	if strings.TrimSpace(p.Denomination) == "" {
		return fmt.Errorf("%w: denomination required", coreerrors.ErrInvalidPricing)
	}
	return nil
}

// Band bounds the absolute value of one price field.
type Band struct {
	Min *big.Int
	Max *big.Int
}

// Contains reports whether v lies inside the band.
func (b Band) Contains(v *big.Int) bool {
	return v != nil && b.Min != nil && b.Max != nil && v.Cmp(b.Min) >= 0 && v.Cmp(b.Max) <= 0
}

func (b Band) validate(field string, stepBps uint32) error {
	if b.Min == nil || b.Max == nil {
		return fmt.Errorf("pricing: %s band incomplete", field)
	}
	if b.Min.Sign() <= 0 {
		return fmt.Errorf("pricing: %s band minimum must be at least 1", field)
	}
	if b.Min.Cmp(b.Max) > 0 {
		return fmt.Errorf("pricing: %s band minimum %s above maximum %s", field, b.Min, b.Max)
	}
	// Below MaxBps/stepBps the floored step is zero and the price stalls.
	floor := new(big.Int).Mul(b.Min, new(big.Int).SetUint64(uint64(stepBps)))
	if floor.Cmp(big.NewInt(fees.MaxBps)) < 0 {
		return fmt.Errorf("pricing: %s band minimum %s too small to move under a %d bps step", field, b.Min, stepBps)
	}
	return nil
}

// UpdaterConfig captures the trust and bounding rules of the updater.
type UpdaterConfig struct {
	// Notifier is the only identity allowed to deliver pool activity.
	Notifier common.Address
	// ReferencePool drives repricing.
	ReferencePool common.Address
	// ConversionPools are recorded for cost conversion but never reprice.
	ConversionPools []common.Address
	// AnchorTick is the pool tick at which prices equal the base prices.
	AnchorTick          int32
	BaseInputPrice      *big.Int
	BaseOutputPrice     *big.Int
	InputBand           Band
	OutputBand          Band
	MaxStepBps          uint32
	VolatilityWeightBps uint32
}

// Validate reports configuration errors before the updater is used.
func (c UpdaterConfig) Validate() error {
	if c.Notifier == (common.Address{}) {
		return fmt.Errorf("pricing: notifier address required")
	}
	if c.ReferencePool == (common.Address{}) {
		return fmt.Errorf("pricing: reference pool required")
	}
	if c.BaseInputPrice == nil || c.BaseInputPrice.Sign() < 0 || c.BaseOutputPrice == nil || c.BaseOutputPrice.Sign() < 0 {
		return fmt.Errorf("pricing: base prices must be non-negative")
	}
	if c.MaxStepBps == 0 || c.MaxStepBps > fees.MaxBps {
		return fmt.Errorf("pricing: max step must be within (0, %d] bps", fees.MaxBps)
	}
	if err := c.InputBand.validate("input", c.MaxStepBps); err != nil {
		return err
	}
	if err := c.OutputBand.validate("output", c.MaxStepBps); err != nil {
		return err
	}
	if c.VolatilityWeightBps > fees.MaxBps {
		return fmt.Errorf("pricing: volatility weight exceeds %d bps", fees.MaxBps)
	}
	return nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
