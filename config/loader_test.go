package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
exchanges: [binance]
default_exchange: binance
dry_run: true
iceberg_threshold: 5.0
min_order_amount: 15.0
quote_currencies: [USDT, USDC]
scan_interval: 5
max_new_positions: 2
max_risk_per_trade: 2.0
max_total_risk: 10.0
max_sector_allocation: 0.4
account_balance: 25000
strategies:
  ma_cross:
    enabled: true
    parameters:
      short_window: 5
      long_window: 20
    symbols: [BTC/USDT, ETH/USDT]
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"binance"}, cfg.Exchanges)
	assert.Equal(t, "binance", cfg.DefaultExchange)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 5.0, cfg.IcebergThreshold)
	assert.Equal(t, 15.0, cfg.MinOrderAmount)
	assert.Equal(t, []string{"USDT", "USDC"}, cfg.QuoteCurrencies)
	assert.Equal(t, 25000.0, cfg.AccountBalance)

	assert.True(t, cfg.StrategyEnabled("ma_cross"))
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.StrategySymbols("ma_cross"))
	assert.EqualValues(t, 5, cfg.StrategyParameters("ma_cross")["short_window"])
}

func TestLoadJSON(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.json", `{
		"exchanges": ["binance"],
		"default_exchange": "binance",
		"dry_run": true,
		"account_balance": 5000
	}`))
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cfg.AccountBalance)
	assert.True(t, cfg.DryRun)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", "exchanges: [binance]\ndefault_exchange: binance\n"))
	require.NoError(t, err)

	assert.Equal(t, "logs", cfg.LogDir)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 1.0, cfg.IcebergThreshold)
	assert.Equal(t, 10.0, cfg.MinOrderAmount)
	assert.Equal(t, []string{"USDT"}, cfg.QuoteCurrencies)
	assert.Equal(t, 5, cfg.ScanInterval)
	assert.Equal(t, 10, cfg.MonitorInterval)
	assert.Equal(t, 0.4, cfg.MaxSectorAllocation)
	assert.Contains(t, cfg.Sectors, "DeFi")
	assert.Contains(t, cfg.Sectors, "Meme")
}

func TestLoadUnknownFormat(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "x = 1"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestUpdateStrategyParameterRoundTrip(t *testing.T) {
	path := writeConfig(t, "config.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.UpdateStrategyParameter("ma_cross", "short_window", 9))

	// Reloading the persisted file sees the new value.
	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 9, reloaded.StrategyParameters("ma_cross")["short_window"])
}

func TestUpdateStrategyParameterCreatesStrategy(t *testing.T) {
	path := writeConfig(t, "config.yaml", "exchanges: [binance]\ndefault_exchange: binance\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.UpdateStrategyParameter("scalper", "window", 3))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.StrategyEnabled("scalper"))
	assert.EqualValues(t, 3, reloaded.StrategyParameters("scalper")["window"])
}
