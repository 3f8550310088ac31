package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("MAX_FEE_RATE", "")
	t.Setenv("MARKET_SLIPPAGE_BUFFER", "")
	t.Setenv("MAX_FILLS_PER_PASS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "0.002", cfg.MaxFeeRate.String())
	assert.Equal(t, "0.01", cfg.SlippageBuffer.String())
	assert.Equal(t, 100, cfg.MaxFillsPerPass)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9092")
	t.Setenv("MAX_FEE_RATE", "0.005")
	t.Setenv("MAX_FILLS_PER_PASS", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"broker-a:9092", "broker-b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "0.005", cfg.MaxFeeRate.String())
	assert.Equal(t, 25, cfg.MaxFillsPerPass)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad_fee_rate", "MAX_FEE_RATE", "lots"},
		{"exponent_fee_rate", "MAX_FEE_RATE", "1e-3"},
		{"bad_fill_cap", "MAX_FILLS_PER_PASS", "many"},
		{"zero_fill_cap", "MAX_FILLS_PER_PASS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
