package config

import (
	"strings"

	nativecommon "inferpay/native/common"
)

// Payees lists the accounts receiving the charged portion of a deposit.
type Payees struct {
	Revenue           string `toml:"Revenue" yaml:"revenue" env:"INFERPAY_PAYEE_REVENUE"`
	RelayCompensation string `toml:"RelayCompensation" yaml:"relay_compensation" env:"INFERPAY_PAYEE_RELAY_COMPENSATION"`
	ProtocolFee       string `toml:"ProtocolFee" yaml:"protocol_fee" env:"INFERPAY_PAYEE_PROTOCOL_FEE"`
}

// Band is a decimal [Min, Max] range for one price field.
type Band struct {
	Min string `toml:"Min" yaml:"min"`
	Max string `toml:"Max" yaml:"max"`
}

// Pricing holds the genesis pricing record and the updater policy. Amounts
// are decimal strings so they survive TOML's int64 limit.
type Pricing struct {
	PricePerInputUnit   string   `toml:"PricePerInputUnit" yaml:"price_per_input_unit"`
	PricePerOutputUnit  string   `toml:"PricePerOutputUnit" yaml:"price_per_output_unit"`
	ProtocolFeeBps      uint32   `toml:"ProtocolFeeBps" yaml:"protocol_fee_bps" env:"INFERPAY_PROTOCOL_FEE_BPS"`
	GasMarkupPerCall    string   `toml:"GasMarkupPerCall" yaml:"gas_markup_per_call"`
	Denomination        string   `toml:"Denomination" yaml:"denomination"`
	ReferencePool       string   `toml:"ReferencePool" yaml:"reference_pool" env:"INFERPAY_REFERENCE_POOL"`
	ConversionPools     []string `toml:"ConversionPools" yaml:"conversion_pools" env:"INFERPAY_CONVERSION_POOLS" envSeparator:","`
	AnchorTick          int32    `toml:"AnchorTick" yaml:"anchor_tick"`
	BaseInputPrice      string   `toml:"BaseInputPrice" yaml:"base_input_price"`
	BaseOutputPrice     string   `toml:"BaseOutputPrice" yaml:"base_output_price"`
	InputBand           Band     `toml:"InputBand" yaml:"input_band"`
	OutputBand          Band     `toml:"OutputBand" yaml:"output_band"`
	MaxStepBps          uint32   `toml:"MaxStepBps" yaml:"max_step_bps"`
	VolatilityWeightBps uint32   `toml:"VolatilityWeightBps" yaml:"volatility_weight_bps"`
}

// Balance seeds one account at genesis.
type Balance struct {
	Address string `toml:"Address" yaml:"address"`
	Token   string `toml:"Token" yaml:"token"`
	Amount  string `toml:"Amount" yaml:"amount"`
}

// Genesis controls first-start state and the development faucet.
type Genesis struct {
	AllowCredit bool      `toml:"AllowCredit" yaml:"allow_credit" env:"INFERPAY_ALLOW_CREDIT"`
	Balances    []Balance `toml:"Balances" yaml:"balances"`
}

// Pauses switches individual modules off without a restart of the stack.
type Pauses struct {
	Deposits   bool `toml:"Deposits" yaml:"deposits" env:"INFERPAY_PAUSE_DEPOSITS"`
	Settlement bool `toml:"Settlement" yaml:"settlement" env:"INFERPAY_PAUSE_SETTLEMENT"`
	Pricing    bool `toml:"Pricing" yaml:"pricing" env:"INFERPAY_PAUSE_PRICING"`
}

// IsPaused implements the module guard view.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case nativecommon.ModuleDeposits:
		return p.Deposits
	case nativecommon.ModuleSettlement:
		return p.Settlement
	case nativecommon.ModulePricing:
		return p.Pricing
	default:
		return false
	}
}

// Quota defines deposit limits per owner and epoch. Zero disables a limit.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch" yaml:"max_requests_per_epoch"`
	MaxAmountPerEpoch   uint64 `toml:"MaxAmountPerEpoch" yaml:"max_amount_per_epoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds" yaml:"epoch_seconds"`
}

// RPC configures the HTTP surface.
type RPC struct {
	JWTSecret          string  `toml:"JWTSecret" yaml:"jwt_secret" env:"INFERPAY_JWT_SECRET"`
	JWTIssuer          string  `toml:"JWTIssuer" yaml:"jwt_issuer" env:"INFERPAY_JWT_ISSUER"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"rate_limit_burst"`
	ReadHeaderTimeout  int     `toml:"ReadHeaderTimeout" yaml:"read_header_timeout"`
	WriteTimeout       int     `toml:"WriteTimeout" yaml:"write_timeout"`
	StreamBuffer       int     `toml:"StreamBuffer" yaml:"stream_buffer"`
}

// Audit selects the durable audit log backend. An empty driver disables it.
type Audit struct {
	Driver string `toml:"Driver" yaml:"driver" env:"INFERPAY_AUDIT_DRIVER"`
	DSN    string `toml:"DSN" yaml:"dsn" env:"INFERPAY_AUDIT_DSN"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers     string  `toml:"Headers" yaml:"headers" env:"OTEL_EXPORTER_OTLP_HEADERS"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure" env:"INFERPAY_OTEL_INSECURE"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics" env:"INFERPAY_OTEL_METRICS"`
	Traces      bool    `toml:"Traces" yaml:"traces" env:"INFERPAY_OTEL_TRACES"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}
