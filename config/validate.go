package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/native/fees"
	"inferpay/native/swap"
)

// Validate checks the file before any state is opened. Semantic checks owned
// by the native modules run again when the node is built.
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"Custody":                  c.Custody,
		"Relay":                    c.Relay,
		"Notifier":                 c.Notifier,
		"Payees.Revenue":           c.Payees.Revenue,
		"Payees.RelayCompensation": c.Payees.RelayCompensation,
		"Payees.ProtocolFee":       c.Payees.ProtocolFee,
		"Pricing.ReferencePool":    c.Pricing.ReferencePool,
	} {
		if _, err := parseAddress(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for i, addr := range c.Pricing.ConversionPools {
		if _, err := parseAddress(addr); err != nil {
			return fmt.Errorf("Pricing.ConversionPools[%d]: %w", i, err)
		}
	}
	for symbol, addr := range c.Tokens {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("Tokens: empty symbol")
		}
		if _, err := parseAddress(addr); err != nil {
			return fmt.Errorf("Tokens.%s: %w", symbol, err)
		}
	}

	if c.Pricing.ProtocolFeeBps > fees.MaxBps {
		return fmt.Errorf("Pricing.ProtocolFeeBps: %d exceeds %d", c.Pricing.ProtocolFeeBps, fees.MaxBps)
	}
	if c.Pricing.MaxStepBps == 0 || c.Pricing.MaxStepBps > fees.MaxBps {
		return fmt.Errorf("Pricing.MaxStepBps: must be within (0, %d]", fees.MaxBps)
	}
	if c.Pricing.VolatilityWeightBps > fees.MaxBps {
		return fmt.Errorf("Pricing.VolatilityWeightBps: %d exceeds %d", c.Pricing.VolatilityWeightBps, fees.MaxBps)
	}
	if c.Pricing.AnchorTick < swap.MinTick || c.Pricing.AnchorTick > swap.MaxTick {
		return fmt.Errorf("Pricing.AnchorTick: %d outside [%d, %d]", c.Pricing.AnchorTick, swap.MinTick, swap.MaxTick)
	}
	if strings.TrimSpace(c.Pricing.Denomination) == "" {
		return fmt.Errorf("Pricing.Denomination: required")
	}
	for name, raw := range map[string]string{
		"Pricing.PricePerInputUnit":  c.Pricing.PricePerInputUnit,
		"Pricing.PricePerOutputUnit": c.Pricing.PricePerOutputUnit,
		"Pricing.GasMarkupPerCall":   c.Pricing.GasMarkupPerCall,
		"Pricing.BaseInputPrice":     c.Pricing.BaseInputPrice,
		"Pricing.BaseOutputPrice":    c.Pricing.BaseOutputPrice,
	} {
		if _, err := parseAmount(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := validateBand("Pricing.InputBand", c.Pricing.InputBand, c.Pricing.PricePerInputUnit, c.Pricing.MaxStepBps); err != nil {
		return err
	}
	if err := validateBand("Pricing.OutputBand", c.Pricing.OutputBand, c.Pricing.PricePerOutputUnit, c.Pricing.MaxStepBps); err != nil {
		return err
	}

	for i, bal := range c.Genesis.Balances {
		if _, err := parseAddress(bal.Address); err != nil {
			return fmt.Errorf("Genesis.Balances[%d].Address: %w", i, err)
		}
		if strings.TrimSpace(bal.Token) == "" {
			return fmt.Errorf("Genesis.Balances[%d].Token: required", i)
		}
		if _, err := parseAmount(bal.Amount); err != nil {
			return fmt.Errorf("Genesis.Balances[%d].Amount: %w", i, err)
		}
	}

	if c.DepositQuota.Enabled() && c.DepositQuota.EpochSeconds == 0 {
		return fmt.Errorf("DepositQuota.EpochSeconds: required when limits are set")
	}
	switch c.StorageBackend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("StorageBackend: unknown backend %q", c.StorageBackend)
	}
	switch strings.ToLower(strings.TrimSpace(c.Audit.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("Audit.Driver: unknown driver %q", c.Audit.Driver)
	}
	if strings.TrimSpace(c.RPC.JWTSecret) == "" {
		return fmt.Errorf("RPC.JWTSecret: required")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("Telemetry.SampleRatio: must be within [0, 1]")
	}
	return nil
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxRequestsPerEpoch > 0 || q.MaxAmountPerEpoch > 0
}

func validateBand(name string, band Band, genesis string, stepBps uint32) error {
	lo, err := parseAmount(band.Min)
	if err != nil {
		return fmt.Errorf("%s.Min: %w", name, err)
	}
	hi, err := parseAmount(band.Max)
	if err != nil {
		return fmt.Errorf("%s.Max: %w", name, err)
	}
	if lo.Sign() <= 0 {
		return fmt.Errorf("%s.Min: must be positive", name)
	}
	if lo.Cmp(hi) > 0 {
		return fmt.Errorf("%s: min %s above max %s", name, lo, hi)
	}
	if new(big.Int).Mul(lo, new(big.Int).SetUint64(uint64(stepBps))).Cmp(big.NewInt(fees.MaxBps)) < 0 {
		return fmt.Errorf("%s.Min: %s cannot move under a %d bps step", name, lo, stepBps)
	}
	start, err := parseAmount(genesis)
	if err != nil {
		return err
	}
	if start.Cmp(lo) < 0 || start.Cmp(hi) > 0 {
		return fmt.Errorf("%s: genesis price %s outside band", name, start)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must be non-negative", raw)
	}
	return v, nil
}
