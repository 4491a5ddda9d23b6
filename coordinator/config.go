package coordinator

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config is the coordinator's environment configuration.
type Config struct {
	Listen           string
	Environment      string
	DatabaseURL      string
	RedisURL         string
	SignerBaseURL    string
	SignerHMACSecret string
	AutoPayoutMax    decimal.Decimal
	AdminIDs         map[int64]bool
	PublicHashSalt   string
}

// FromEnv builds the configuration from the process environment.
func FromEnv() (Config, error) {
	cfg := Config{
		Listen:           envDefault("COORDINATOR_LISTEN", ":8090"),
		Environment:      envDefault("COORDINATOR_ENV", "dev"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SignerBaseURL:    os.Getenv("SIGNER_BASE_URL"),
		SignerHMACSecret: os.Getenv("SIGNER_HMAC_SECRET"),
		PublicHashSalt:   os.Getenv("PUBLIC_HASH_SALT"),
		AdminIDs:         make(map[int64]bool),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("coordinator: DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return Config{}, errors.New("coordinator: REDIS_URL is required")
	}
	if cfg.SignerBaseURL == "" {
		return Config{}, errors.New("coordinator: SIGNER_BASE_URL is required")
	}
	if cfg.SignerHMACSecret == "" {
		return Config{}, errors.New("coordinator: SIGNER_HMAC_SECRET is required")
	}
	if cfg.PublicHashSalt == "" {
		return Config{}, errors.New("coordinator: PUBLIC_HASH_SALT is required")
	}

	rawMax := envDefault("AUTO_PAYOUT_MAX", "200")
	autoMax, err := decimal.NewFromString(rawMax)
	if err != nil {
		return Config{}, fmt.Errorf("coordinator: parse AUTO_PAYOUT_MAX: %w", err)
	}
	cfg.AutoPayoutMax = autoMax

	for _, part := range strings.Split(os.Getenv("ADMIN_IDS"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("coordinator: parse ADMIN_IDS entry %q: %w", part, err)
		}
		cfg.AdminIDs[id] = true
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
