package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidSymbol(t *testing.T) {
	f := newFakeExchange()
	m := newTestDataService(f)

	tests := []struct {
		symbol string
		valid  bool
	}{
		{"SOL/USDT", true},
		{"BTC/USDT", true},
		{"USDC/USDT", false}, // stable-to-stable
		{"SOL/EUR", false},   // quote not configured
		{"SOLUSDT", false},   // not a unified pair
		{"BTC/USDT:USDT", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, m.isValidSymbol(tt.symbol), tt.symbol)
	}
}

func TestGetCandlesCachedWithinTTL(t *testing.T) {
	f := newFakeExchange()
	f.setCandles("SOL/USDT", "1h", dailyCandles([]float64{1, 2, 3}))
	m := newTestDataService(f)

	first, err := m.GetCandles("SOL/USDT", "1h", 3, "")
	require.NoError(t, err)

	second, err := m.GetCandles("SOL/USDT", "1h", 3, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.fetches("SOL/USDT_1h"), "second call must be served from cache")
}

func TestGetCandlesEmptyResultNotCached(t *testing.T) {
	f := newFakeExchange()
	m := newTestDataService(f)

	candles, err := m.GetCandles("SOL/USDT", "1h", 3, "")
	require.NoError(t, err)
	assert.Empty(t, candles)

	// A later call goes back to the adapter instead of a cached empty.
	f.setCandles("SOL/USDT", "1h", dailyCandles([]float64{1}))
	candles, err = m.GetCandles("SOL/USDT", "1h", 3, "")
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}

func TestGetTickerNoDataAfterRetries(t *testing.T) {
	f := newFakeExchange()
	f.failAll = true
	m := newTestDataService(f)

	_, err := m.GetTicker("SOL/USDT", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoData)
	assert.Equal(t, fetchRetries, f.fetches("SOL/USDT_ticker"))
}

func TestGetTickerRecoversAfterTransientFailure(t *testing.T) {
	f := newFakeExchange()
	f.setTicker("SOL/USDT", 100, 5_000_000, 4.2)
	f.failOnce["SOL/USDT_ticker"] = 1
	m := newTestDataService(f)

	ticker, err := m.GetTicker("SOL/USDT", "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, ticker.Last)
	assert.Equal(t, 2, f.fetches("SOL/USDT_ticker"))
}

func TestSectorSymbols(t *testing.T) {
	f := newFakeExchange()
	f.addMarket("UNI/USDT", 0.01, 0.0001, 10)
	f.addMarket("DOGE/USDT", 1, 0.00001, 10)
	f.addMarket("SOL/USDT", 0.01, 0.01, 10)
	m := newTestDataService(f)
	require.NoError(t, m.Init())

	assert.Equal(t, []string{"UNI/USDT"}, m.SectorSymbols("DeFi"))
	assert.Equal(t, []string{"DOGE/USDT"}, m.SectorSymbols("Meme"))
	assert.Empty(t, m.SectorSymbols("GameFi"))
}

func TestTimeframeForWindow(t *testing.T) {
	tf, _ := timeframeForWindow(5)
	assert.Equal(t, "1m", tf)
	tf, _ = timeframeForWindow(10)
	assert.Equal(t, "5m", tf)
	tf, _ = timeframeForWindow(45)
	assert.Equal(t, "15m", tf)
	tf, _ = timeframeForWindow(120)
	assert.Equal(t, "1h", tf)
}

func TestKeyedCachePerKeyIndependence(t *testing.T) {
	c := newKeyedCache()
	c.put("a", 1)
	time.Sleep(5 * time.Millisecond)
	c.put("b", 2)

	v, ok := c.get("a", time.Minute)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.get("a", time.Nanosecond)
	assert.False(t, ok, "expired entry must miss")
}
