package signer

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trustora/chains"
)

// Duration wraps time.Duration for YAML decoding of values like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("signer: parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Decimal wraps decimal.Decimal for YAML decoding of quoted amounts.
type Decimal struct {
	decimal.Decimal
}

// UnmarshalYAML parses a decimal string.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("signer: parse decimal %q: %w", raw, err)
	}
	d.Decimal = parsed
	return nil
}

// ChainConfig is the per-chain node and settlement configuration.
type ChainConfig struct {
	NodeURL       string `yaml:"node_url"`
	APIKey        string `yaml:"api_key"`
	Contract      string `yaml:"contract"`
	TokenDecimals int32  `yaml:"token_decimals"`
	FeeAddress    string `yaml:"fee_address"`
}

// LimitConfig caps what the signer will move without human involvement.
// AutoPayoutMax mirrors the coordinator's auto-approval ceiling; the signer
// enforces it independently.
type LimitConfig struct {
	MaxPayout     Decimal `yaml:"max_payout"`
	AutoPayoutMax Decimal `yaml:"auto_payout_max"`
	DailyCap      Decimal `yaml:"daily_cap"`
	HourlyCount   int64   `yaml:"hourly_count"`
}

// Config is the signer's file configuration. Secrets never live here; they
// come from the environment.
type Config struct {
	Listen        string                       `yaml:"listen"`
	Environment   string                       `yaml:"environment"`
	KeyFile       string                       `yaml:"key_file"`
	ShutdownGrace Duration                     `yaml:"shutdown_grace"`
	Chains        map[chains.Chain]ChainConfig `yaml:"chains"`
	Limits        LimitConfig                  `yaml:"limits"`

	// Populated from the environment by Load.
	HMACSecret  string `yaml:"-"`
	KeyPass     string `yaml:"-"`
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`
}

// Load reads the YAML file and overlays the environment secrets.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("signer: read config: %w", err)
	}
	cfg := Config{Listen: ":8091", Environment: "dev", ShutdownGrace: Duration{10 * time.Second}}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("signer: parse config: %w", err)
	}

	cfg.HMACSecret = os.Getenv("SIGNER_HMAC_SECRET")
	cfg.KeyPass = os.Getenv("KEY_ENCRYPTION_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the signer cannot run with.
func (c Config) Validate() error {
	if c.HMACSecret == "" {
		return errors.New("signer: SIGNER_HMAC_SECRET is required")
	}
	if c.KeyPass == "" {
		return errors.New("signer: KEY_ENCRYPTION_KEY is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("signer: DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("signer: REDIS_URL is required")
	}
	if c.KeyFile == "" {
		return errors.New("signer: key_file is required")
	}
	if len(c.Chains) == 0 {
		return errors.New("signer: at least one chain is required")
	}
	for chain, cc := range c.Chains {
		if _, err := chains.Parse(string(chain)); err != nil {
			return err
		}
		if cc.NodeURL == "" || cc.Contract == "" {
			return fmt.Errorf("signer: chain %s needs node_url and contract", chain)
		}
		if cc.FeeAddress != "" && !chains.ValidateAddress(chain, cc.FeeAddress) {
			return fmt.Errorf("signer: chain %s fee_address is invalid", chain)
		}
	}
	if c.Limits.MaxPayout.IsZero() || c.Limits.AutoPayoutMax.IsZero() ||
		c.Limits.DailyCap.IsZero() || c.Limits.HourlyCount == 0 {
		return errors.New("signer: limits must all be set")
	}
	return nil
}
