package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 0.05, cfg.Safety.PriceDeviation)
	assert.Equal(t, 2, cfg.Safety.MinSources)
	assert.Equal(t, time.Hour, cfg.Safety.HolderCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Safety.SimulationCacheTTL)
	assert.Equal(t, 5*time.Minute, cfg.Quote.TTL)
	assert.Equal(t, 0.005, cfg.Quote.FeeRate)
	assert.Equal(t, int64(100), cfg.Credits.MinDepositCents)
	assert.Equal(t, int64(1000000), cfg.Credits.MaxBalanceCents)
	assert.Equal(t, 90*24*time.Hour, cfg.Credits.Expiry)
	assert.Equal(t, int64(5), cfg.Credits.Pricing["post /api/quote"])
	assert.Equal(t, uint64(2000), cfg.EVM.BackfillMaxRange)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
safety:
  min_sources: 3
  blocked_tokens:
    - "0xdead000000000000000000000000000000000000"
  price_sources:
    - name: dexscreener
      url: https://example.test/price
      verified: true
quote:
  ttl: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Safety.MinSources)
	assert.Equal(t, []string{"0xdead000000000000000000000000000000000000"}, cfg.Safety.BlockedTokens)
	require.Len(t, cfg.Safety.PriceSources, 1)
	assert.Equal(t, "dexscreener", cfg.Safety.PriceSources[0].Name)
	assert.True(t, cfg.Safety.PriceSources[0].Verified)
	assert.True(t, cfg.Safety.StablePeg)
	assert.Equal(t, 10, cfg.Credits.FreeTierDaily)
	assert.Equal(t, 24*time.Hour, cfg.Credits.FreeTierWindow)
	assert.Equal(t, 2*time.Minute, cfg.Quote.TTL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QUOTE_DEFAULT_SLIPPAGE_BPS", "250")

	cfg, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Quote.DefaultSlippageBps)
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")

	_, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.Error(t, err)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
