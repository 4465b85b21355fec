package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"inferpay/core"
	nativecommon "inferpay/native/common"
	"inferpay/native/pricing"
	"inferpay/native/settlement"
)

// NodeOptions converts the validated file into node options.
func (c *Config) NodeOptions(logger *slog.Logger) (core.Options, error) {
	var (
		opts core.Options
		err  error
	)
	if opts.Custody, err = parseAddress(c.Custody); err != nil {
		return opts, fmt.Errorf("Custody: %w", err)
	}
	if opts.Settlement, err = c.settlementConfig(opts.Custody); err != nil {
		return opts, err
	}
	if opts.Updater, err = c.updaterConfig(); err != nil {
		return opts, err
	}
	if opts.Genesis, err = c.genesisParams(); err != nil {
		return opts, err
	}
	opts.Tokens = make(map[string]common.Address, len(c.Tokens))
	for symbol, raw := range c.Tokens {
		addr, err := parseAddress(raw)
		if err != nil {
			return opts, fmt.Errorf("Tokens.%s: %w", symbol, err)
		}
		opts.Tokens[strings.ToUpper(strings.TrimSpace(symbol))] = addr
	}
	for i, bal := range c.Genesis.Balances {
		addr, err := parseAddress(bal.Address)
		if err != nil {
			return opts, fmt.Errorf("Genesis.Balances[%d].Address: %w", i, err)
		}
		amount, err := parseAmount(bal.Amount)
		if err != nil {
			return opts, fmt.Errorf("Genesis.Balances[%d].Amount: %w", i, err)
		}
		opts.GenesisBalances = append(opts.GenesisBalances, core.GenesisBalance{Address: addr, Token: bal.Token, Amount: amount})
	}
	opts.AllowCredit = c.Genesis.AllowCredit
	opts.Pauses = c.Pauses
	opts.DepositQuota = nativecommon.Quota{
		MaxRequestsPerEpoch: c.DepositQuota.MaxRequestsPerEpoch,
		MaxAmountPerEpoch:   c.DepositQuota.MaxAmountPerEpoch,
		EpochSeconds:        c.DepositQuota.EpochSeconds,
	}
	opts.Logger = logger
	return opts, nil
}

func (c *Config) settlementConfig(custody common.Address) (settlement.Config, error) {
	cfg := settlement.Config{Custody: custody}
	var err error
	if cfg.Relay, err = parseAddress(c.Relay); err != nil {
		return cfg, fmt.Errorf("Relay: %w", err)
	}
	if cfg.Payees.Revenue, err = parseAddress(c.Payees.Revenue); err != nil {
		return cfg, fmt.Errorf("Payees.Revenue: %w", err)
	}
	if cfg.Payees.RelayCompensation, err = parseAddress(c.Payees.RelayCompensation); err != nil {
		return cfg, fmt.Errorf("Payees.RelayCompensation: %w", err)
	}
	if cfg.Payees.ProtocolFee, err = parseAddress(c.Payees.ProtocolFee); err != nil {
		return cfg, fmt.Errorf("Payees.ProtocolFee: %w", err)
	}
	return cfg, nil
}

func (c *Config) updaterConfig() (pricing.UpdaterConfig, error) {
	p := c.Pricing
	cfg := pricing.UpdaterConfig{
		AnchorTick:          p.AnchorTick,
		MaxStepBps:          p.MaxStepBps,
		VolatilityWeightBps: p.VolatilityWeightBps,
	}
	var err error
	if cfg.Notifier, err = parseAddress(c.Notifier); err != nil {
		return cfg, fmt.Errorf("Notifier: %w", err)
	}
	if cfg.ReferencePool, err = parseAddress(p.ReferencePool); err != nil {
		return cfg, fmt.Errorf("Pricing.ReferencePool: %w", err)
	}
	for i, raw := range p.ConversionPools {
		addr, err := parseAddress(raw)
		if err != nil {
			return cfg, fmt.Errorf("Pricing.ConversionPools[%d]: %w", i, err)
		}
		cfg.ConversionPools = append(cfg.ConversionPools, addr)
	}
	if cfg.BaseInputPrice, err = parseAmount(p.BaseInputPrice); err != nil {
		return cfg, fmt.Errorf("Pricing.BaseInputPrice: %w", err)
	}
	if cfg.BaseOutputPrice, err = parseAmount(p.BaseOutputPrice); err != nil {
		return cfg, fmt.Errorf("Pricing.BaseOutputPrice: %w", err)
	}
	if cfg.InputBand, err = parseBand(p.InputBand); err != nil {
		return cfg, fmt.Errorf("Pricing.InputBand: %w", err)
	}
	if cfg.OutputBand, err = parseBand(p.OutputBand); err != nil {
		return cfg, fmt.Errorf("Pricing.OutputBand: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) genesisParams() (pricing.Params, error) {
	p := pricing.Params{
		ProtocolFeeBps: c.Pricing.ProtocolFeeBps,
		Denomination:   strings.ToUpper(strings.TrimSpace(c.Pricing.Denomination)),
	}
	var err error
	if p.PricePerInputUnit, err = parseAmount(c.Pricing.PricePerInputUnit); err != nil {
		return p, fmt.Errorf("Pricing.PricePerInputUnit: %w", err)
	}
	if p.PricePerOutputUnit, err = parseAmount(c.Pricing.PricePerOutputUnit); err != nil {
		return p, fmt.Errorf("Pricing.PricePerOutputUnit: %w", err)
	}
	if p.GasMarkupPerCall, err = parseAmount(c.Pricing.GasMarkupPerCall); err != nil {
		return p, fmt.Errorf("Pricing.GasMarkupPerCall: %w", err)
	}
	return p, p.Validate()
}

func parseBand(b Band) (pricing.Band, error) {
	lo, err := parseAmount(b.Min)
	if err != nil {
		return pricing.Band{}, err
	}
	hi, err := parseAmount(b.Max)
	if err != nil {
		return pricing.Band{}, err
	}
	return pricing.Band{Min: lo, Max: hi}, nil
}
