// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/bitmint/exchange-core/internal/amount"
)

type Config struct {
	HTTPAddr     string
	DatabaseURL  string
	KafkaBrokers []string

	// MaxFeeRate bounds every market's fee rate; reserves are sized
	// against it.
	MaxFeeRate amount.Amount
	// SlippageBuffer pads market-buy reserves.
	SlippageBuffer  amount.Amount
	MaxFillsPerPass int
}

// Load reads the environment, after merging in a .env file when present.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MaxFillsPerPass: 100,
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.MaxFeeRate, err = amount.Parse(getenv("MAX_FEE_RATE", "0.002")); err != nil {
		return nil, fmt.Errorf("MAX_FEE_RATE: %w", err)
	}
	if cfg.SlippageBuffer, err = amount.Parse(getenv("MARKET_SLIPPAGE_BUFFER", "0.01")); err != nil {
		return nil, fmt.Errorf("MARKET_SLIPPAGE_BUFFER: %w", err)
	}
	if raw := os.Getenv("MAX_FILLS_PER_PASS"); raw != "" {
		if cfg.MaxFillsPerPass, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("MAX_FILLS_PER_PASS: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.MaxFeeRate.IsNegative() {
		return fmt.Errorf("MAX_FEE_RATE must not be negative")
	}
	if c.SlippageBuffer.IsNegative() {
		return fmt.Errorf("MARKET_SLIPPAGE_BUFFER must not be negative")
	}
	if c.MaxFillsPerPass <= 0 {
		return fmt.Errorf("MAX_FILLS_PER_PASS must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
