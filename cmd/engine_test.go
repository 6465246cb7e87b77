package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-ranker/internal/config"
)

func TestInitStore_SQLite(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "engine.db"),
		},
		Ranking: config.RankingConfig{InsertBatchSize: 25},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "oracle"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestPricingRates_DefaultsWhenUnset(t *testing.T) {
	cfg = &config.Config{}

	rates := pricingRates()
	require.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	assert.Equal(t, 0.80, rates.Anthropic["claude-haiku-4-5-20251001"].Input)
}

func TestPricingRates_FromConfig(t *testing.T) {
	cfg = &config.Config{
		Pricing: config.PricingConfig{
			Anthropic: map[string]config.ModelPricing{
				"custom-model": {Input: 1.0, Output: 2.0, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			},
		},
	}

	rates := pricingRates()
	require.Len(t, rates.Anthropic, 1)
	assert.Equal(t, 2.0, rates.Anthropic["custom-model"].Output)
}
