package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndicators(f *fakeExchange) *IndicatorService {
	return NewIndicatorService(newTestDataService(f), 60*time.Second)
}

func TestMomentum(t *testing.T) {
	f := newFakeExchange()
	// 1m candles: close climbs 100 -> 106 over the last 5 bars.
	closes := []float64{100, 100, 100, 100, 100, 100, 101, 103, 104, 105, 106}
	f.setCandles("SOL/USDT", "1m", dailyCandles(closes))
	ind := newTestIndicators(f)

	momentum, err := ind.Momentum("SOL/USDT", 5)
	require.NoError(t, err)
	// 5 bars back from the last close (106) is 100.
	assert.InDelta(t, (106.0/100.0-1)*100, momentum, 1e-9)
}

func TestMomentumInsufficientData(t *testing.T) {
	f := newFakeExchange()
	f.setCandles("SOL/USDT", "1m", dailyCandles([]float64{100}))
	ind := newTestIndicators(f)

	_, err := ind.Momentum("SOL/USDT", 5)
	assert.ErrorIs(t, err, errNoData)
}

func TestVolumeRatio(t *testing.T) {
	f := newFakeExchange()
	candles := dailyCandles(make([]float64, 21))
	for i := range candles {
		candles[i].Close = 100
		candles[i].Volume = 1000
	}
	candles[len(candles)-1].Volume = 3000
	f.setCandles("SOL/USDT", "1d", candles)
	ind := newTestIndicators(f)

	ratio, err := ind.VolumeRatio("SOL/USDT", 20)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, ratio, 1e-9)
}

func TestVolumeRatioShortHistory(t *testing.T) {
	f := newFakeExchange()
	f.setCandles("SOL/USDT", "1d", dailyCandles([]float64{100, 100, 100}))
	ind := newTestIndicators(f)

	_, err := ind.VolumeRatio("SOL/USDT", 20)
	assert.ErrorIs(t, err, errNoData)
}

func TestVolumeRatioZeroMean(t *testing.T) {
	f := newFakeExchange()
	candles := dailyCandles(make([]float64, 21))
	for i := range candles {
		candles[i].Close = 100
		candles[i].Volume = 0
	}
	candles[len(candles)-1].Volume = 500
	f.setCandles("SOL/USDT", "1d", candles)
	ind := newTestIndicators(f)

	_, err := ind.VolumeRatio("SOL/USDT", 20)
	assert.ErrorIs(t, err, errNoData)
}

func TestATRPct(t *testing.T) {
	f := newFakeExchange()
	// Constant 6-point daily range on a 100 close: ATR% = 6.
	candles := make([]Candle, 28)
	for i := range candles {
		candles[i] = Candle{
			Timestamp: int64(i) * 86_400_000,
			Open:      100, High: 106, Low: 100, Close: 100, Volume: 1000,
		}
	}
	f.setCandles("BTC/USDT", "1d", candles)
	ind := newTestIndicators(f)

	atr, err := ind.ATRPct("BTC/USDT", 14)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, atr, 1e-9)
}

func TestRSIAllGains(t *testing.T) {
	f := newFakeExchange()
	closes := make([]float64, 42)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	f.setCandles("SOL/USDT", "1h", dailyCandles(closes))
	ind := newTestIndicators(f)

	rsi, err := ind.RSI("SOL/USDT", 14, "1h")
	require.NoError(t, err)
	assert.Greater(t, rsi, 99.0, "monotonic rise should max out RSI")
	assert.LessOrEqual(t, rsi, 100.0)
}

func TestRSIBalanced(t *testing.T) {
	f := newFakeExchange()
	// Alternate +1/-1: gains equal losses, RSI = 50.
	closes := make([]float64, 43)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 1
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	f.setCandles("SOL/USDT", "1h", dailyCandles(closes))
	ind := newTestIndicators(f)

	rsi, err := ind.RSI("SOL/USDT", 14, "1h")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rsi, 1.0)
}

func TestMaxDrawdown(t *testing.T) {
	f := newFakeExchange()
	// Peak 200, trough 140: drawdown 30%.
	f.setCandles("SOL/USDT", "1d", dailyCandles([]float64{100, 200, 180, 140, 160, 170, 175}))
	ind := newTestIndicators(f)

	dd, err := ind.MaxDrawdown("SOL/USDT", 7)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, dd, 1e-9)
}

func TestTradingVolumeUSD(t *testing.T) {
	f := newFakeExchange()
	candles := dailyCandles([]float64{10, 10, 10})
	for i := range candles {
		candles[i].Volume = 100
	}
	f.setCandles("SOL/USDT", "1d", candles)
	ind := newTestIndicators(f)

	vol, err := ind.TradingVolumeUSD("SOL/USDT", 30)
	require.NoError(t, err)
	assert.InDelta(t, 3000.0, vol, 1e-9)
}

func TestPreviousHigh(t *testing.T) {
	f := newFakeExchange()
	candles := dailyCandles([]float64{100, 120, 110})
	candles[1].High = 125
	f.setCandles("SOL/USDT", "1d", candles)
	ind := newTestIndicators(f)

	high, err := ind.PreviousHigh("SOL/USDT", 7)
	require.NoError(t, err)
	assert.Equal(t, 125.0, high)
}

func TestIndicatorMemoization(t *testing.T) {
	f := newFakeExchange()
	f.setCandles("SOL/USDT", "1d", dailyCandles([]float64{100, 110, 120, 130, 140, 150, 160}))
	ind := newTestIndicators(f)

	first, err := ind.PreviousHigh("SOL/USDT", 7)
	require.NoError(t, err)
	second, err := ind.PreviousHigh("SOL/USDT", 7)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.fetches("SOL/USDT_1d"), "memoized call must not refetch")
}
