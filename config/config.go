package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServiceName    string            `toml:"ServiceName" yaml:"service_name" env:"INFERPAY_SERVICE_NAME"`
	Environment    string            `toml:"Environment" yaml:"environment" env:"INFERPAY_ENV"`
	LogLevel       string            `toml:"LogLevel" yaml:"log_level" env:"INFERPAY_LOG_LEVEL"`
	RPCAddress     string            `toml:"RPCAddress" yaml:"rpc_address" env:"INFERPAY_RPC_ADDRESS"`
	DataDir        string            `toml:"DataDir" yaml:"data_dir" env:"INFERPAY_DATA_DIR"`
	StorageBackend string            `toml:"StorageBackend" yaml:"storage_backend" env:"INFERPAY_STORAGE_BACKEND"`
	Custody        string            `toml:"Custody" yaml:"custody" env:"INFERPAY_CUSTODY"`
	Relay          string            `toml:"Relay" yaml:"relay" env:"INFERPAY_RELAY"`
	Notifier       string            `toml:"Notifier" yaml:"notifier" env:"INFERPAY_NOTIFIER"`
	Payees         Payees            `toml:"Payees" yaml:"payees"`
	Pricing        Pricing           `toml:"Pricing" yaml:"pricing"`
	Tokens         map[string]string `toml:"Tokens" yaml:"tokens"`
	Genesis        Genesis           `toml:"Genesis" yaml:"genesis"`
	Pauses         Pauses            `toml:"Pauses" yaml:"pauses"`
	DepositQuota   Quota             `toml:"DepositQuota" yaml:"deposit_quota"`
	RPC            RPC               `toml:"RPC" yaml:"rpc"`
	Audit          Audit             `toml:"Audit" yaml:"audit"`
	Telemetry      Telemetry         `toml:"Telemetry" yaml:"telemetry"`
}

// Storage backends accepted by StorageBackend.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

// Load loads the configuration from the given path. A missing file is
// replaced by a development default. Environment variables override file
// values before validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if cfg, err = createDefault(path); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeFile(path string, cfg *Config) error {
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "inferpayd"
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./inferpay-data"
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = BackendLevelDB
	}
	if c.RPC.RateLimitPerSecond <= 0 {
		c.RPC.RateLimitPerSecond = 20
	}
	if c.RPC.RateLimitBurst <= 0 {
		c.RPC.RateLimitBurst = 40
	}
	if c.RPC.ReadHeaderTimeout <= 0 {
		c.RPC.ReadHeaderTimeout = 5
	}
	if c.RPC.WriteTimeout <= 0 {
		c.RPC.WriteTimeout = 15
	}
	if c.RPC.StreamBuffer <= 0 {
		c.RPC.StreamBuffer = 64
	}
	if c.Tokens == nil {
		c.Tokens = map[string]string{}
	}
	if c.Pricing.ConversionPools == nil {
		c.Pricing.ConversionPools = []string{}
	}
}

// createDefault creates and saves a development configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ServiceName:    "inferpayd",
		Environment:    "dev",
		LogLevel:       "info",
		RPCAddress:     ":8080",
		DataDir:        "./inferpay-data",
		StorageBackend: BackendLevelDB,
		Custody:        "0x00000000000000000000000000000000000c0570",
		Relay:          "0x0000000000000000000000000000000000000e1a",
		Notifier:       "0x000000000000000000000000000000000000b0b0",
		Payees: Payees{
			Revenue:           "0x0000000000000000000000000000000000000a11",
			RelayCompensation: "0x0000000000000000000000000000000000000a12",
			ProtocolFee:       "0x0000000000000000000000000000000000000a13",
		},
		Pricing: Pricing{
			PricePerInputUnit:   "100",
			PricePerOutputUnit:  "200",
			ProtocolFeeBps:      100,
			GasMarkupPerCall:    "10000",
			Denomination:        "USDC",
			ReferencePool:       "0x00000000000000000000000000000000000000c0",
			ConversionPools:     []string{},
			BaseInputPrice:      "100",
			BaseOutputPrice:     "200",
			InputBand:           Band{Min: "10", Max: "1000"},
			OutputBand:          Band{Min: "20", Max: "2000"},
			MaxStepBps:          1000,
			VolatilityWeightBps: 5000,
		},
		Tokens:  map[string]string{},
		Genesis: Genesis{AllowCredit: true},
		RPC: RPC{
			JWTSecret:          "change-me",
			JWTIssuer:          "inferpay",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			ReadHeaderTimeout:  5,
			WriteTimeout:       15,
			StreamBuffer:       64,
		},
		Audit: Audit{Driver: "sqlite", DSN: "inferpay-audit.db"},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
