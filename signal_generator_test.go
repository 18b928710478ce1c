package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreSignal(t *testing.T) {
	// momentum 6% -> 24, volume ratio 2.0 -> 12.5, top sector -> 15,
	// RSI 55 -> 10. Total 61.5.
	assert.InDelta(t, 61.5, scoreSignal(6, 2.0, 55, true), 1e-9)
}

func TestScoreSignalComponents(t *testing.T) {
	tests := []struct {
		name        string
		momentum    float64
		volumeRatio float64
		rsi         float64
		inSector    bool
		expected    float64
	}{
		{"momentum capped at 40", 50, 1, 80, false, 40},
		{"volume capped at 25", 0, 10, 80, false, 25},
		{"rsi edge band", 2, 1, 65, false, 8 + 5},
		{"rsi outside bands", 2, 1, 80, false, 8},
		{"max score", 20, 10, 50, true, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, scoreSignal(tt.momentum, tt.volumeRatio, tt.rsi, tt.inSector), 1e-9)
		})
	}
}

// setupSignalFixture builds a fake exchange where SOL/USDT passes the whole
// funnel: strong momentum, 3x volume, mid RSI, ATR 4%.
func setupSignalFixture(f *fakeExchange) {
	f.addMarket("SOL/USDT", 0.01, 0.01, 10)

	// 5m candles: +5% over the 15-minute window the low-ATR regime selects.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-2] = 104
	closes[len(closes)-1] = 105
	f.setCandles("SOL/USDT", "5m", dailyCandles(closes))

	// Daily: steady closes, last-day volume spike.
	daily := dailyCandles(make([]float64, 28))
	for i := range daily {
		daily[i].Open = 100
		daily[i].Close = 100
		daily[i].High = 102
		daily[i].Low = 98
		daily[i].Volume = 1000
	}
	daily[len(daily)-1].Volume = 3000
	f.setCandles("SOL/USDT", "1d", daily)

	// Hourly: alternating bars keep RSI near 50.
	hourly := make([]float64, 43)
	hourly[0] = 100
	for i := 1; i < len(hourly); i++ {
		if i%2 == 1 {
			hourly[i] = hourly[i-1] + 1
		} else {
			hourly[i] = hourly[i-1] - 1
		}
	}
	f.setCandles("SOL/USDT", "1h", dailyCandles(hourly))

	f.setTicker("SOL/USDT", 105, 8_000_000, 5)

	// BTC low volatility -> 15m window, threshold 1.5.
	setBTCATR(f, 2.0)
}

func newTestGenerator(f *fakeExchange) *SignalGenerator {
	data := newTestDataService(f)
	ind := NewIndicatorService(data, 60*time.Second)
	analyzer := NewMarketAnalyzer(data, ind, 5*time.Minute)
	analyzer.now = func() time.Time { return time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC) }
	return NewSignalGenerator(data, ind, analyzer, 1)
}

func TestGenerateProducesSignal(t *testing.T) {
	f := newFakeExchange()
	setupSignalFixture(f)
	g := newTestGenerator(f)
	require.NoError(t, g.data.Init())

	signals := g.Generate([]string{"SOL/USDT"})
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "SOL/USDT", sig.Symbol)
	assert.Greater(t, sig.Momentum, 1.5)
	assert.InDelta(t, 3.0, sig.VolumeRatio, 1e-9)
	assert.Equal(t, 105.0, sig.EntryPrice)
	assert.InDelta(t, 4.0, sig.ATR, 1e-9) // daily range 4 on close 100
	assert.InDelta(t, 0.06, sig.ProfitTarget, 1e-9)
	assert.Greater(t, sig.Score, 0.0)
}

func TestGenerateDropsWeakMomentum(t *testing.T) {
	f := newFakeExchange()
	setupSignalFixture(f)
	// Flatten the momentum candles below the threshold.
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	f.setCandles("SOL/USDT", "5m", dailyCandles(flat))

	g := newTestGenerator(f)
	require.NoError(t, g.data.Init())

	assert.Empty(t, g.Generate([]string{"SOL/USDT"}))
}

func TestGenerateDropsLowVolumeRatio(t *testing.T) {
	f := newFakeExchange()
	setupSignalFixture(f)
	daily := dailyCandles(make([]float64, 28))
	for i := range daily {
		daily[i].Close = 100
		daily[i].High = 102
		daily[i].Low = 98
		daily[i].Volume = 1000 // no spike: ratio 1.0
	}
	f.setCandles("SOL/USDT", "1d", daily)

	g := newTestGenerator(f)
	require.NoError(t, g.data.Init())

	assert.Empty(t, g.Generate([]string{"SOL/USDT"}))
}

func TestGenerateSortsByScore(t *testing.T) {
	f := newFakeExchange()
	setupSignalFixture(f)

	// Second symbol with weaker momentum but otherwise identical data.
	f.addMarket("ETH/USDT", 0.001, 0.01, 10)
	for _, tf := range []string{"1d", "1h"} {
		f.setCandles("ETH/USDT", tf, f.candles["SOL/USDT_"+tf])
	}
	weaker := make([]float64, 20)
	for i := range weaker {
		weaker[i] = 100
	}
	weaker[len(weaker)-1] = 102
	f.setCandles("ETH/USDT", "5m", dailyCandles(weaker))
	f.setTicker("ETH/USDT", 102, 9_000_000, 2)

	g := newTestGenerator(f)
	require.NoError(t, g.data.Init())

	signals := g.Generate([]string{"ETH/USDT", "SOL/USDT"})
	require.Len(t, signals, 2)
	assert.Equal(t, "SOL/USDT", signals[0].Symbol, "stronger momentum must rank first")
	assert.GreaterOrEqual(t, signals[0].Score, signals[1].Score)
}
