package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(f *fakeExchange) *MarketAnalyzer {
	data := newTestDataService(f)
	ind := NewIndicatorService(data, 60*time.Second)
	return NewMarketAnalyzer(data, ind, 5*time.Minute)
}

// setBTCDaily installs 20 daily BTC closes with the given mean, last close
// and five-day-ago close.
func setBTCDaily(f *fakeExchange, mean, last, fiveAgo float64) {
	closes := make([]float64, 20)
	total := mean * 20
	rest := (total - last - fiveAgo) / 18
	for i := range closes {
		closes[i] = rest
	}
	closes[15] = fiveAgo // len-5
	closes[19] = last
	f.setCandles("BTC/USDT", "1d", dailyCandles(closes))
}

func TestAssessMarketStateStrongBull(t *testing.T) {
	f := newFakeExchange()
	// Last 45000 vs MA20 40000 with a +8% five-day change.
	setBTCDaily(f, 40000, 45000, 45000/1.08)
	a := newTestAnalyzer(f)

	assert.Equal(t, StateStrongBull, a.AssessMarketState())
}

func TestAssessMarketStateTable(t *testing.T) {
	tests := []struct {
		name     string
		mean     float64
		last     float64
		fiveAgo  float64
		expected MarketState
	}{
		{"bull", 40000, 41000, 40900, StateBull},
		{"bear", 40000, 39500, 39600, StateBear},
		{"strong_bear", 40000, 36000, 40000, StateStrongBear},
		{"neutral", 40000, 40100, 40200, StateNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeExchange()
			setBTCDaily(f, tt.mean, tt.last, tt.fiveAgo)
			a := newTestAnalyzer(f)
			assert.Equal(t, tt.expected, a.AssessMarketState())
		})
	}
}

func TestAssessMarketStateCached(t *testing.T) {
	f := newFakeExchange()
	setBTCDaily(f, 40000, 45000, 45000/1.08)
	a := newTestAnalyzer(f)

	require.Equal(t, StateStrongBull, a.AssessMarketState())
	// Flip the data; the cached state must hold within the TTL.
	setBTCDaily(f, 40000, 36000, 40000)
	assert.Equal(t, StateStrongBull, a.AssessMarketState())
}

func TestAssessMarketStateNoData(t *testing.T) {
	f := newFakeExchange()
	f.failAll = true
	a := newTestAnalyzer(f)
	assert.Equal(t, StateNeutral, a.AssessMarketState())
}

func setBTCATR(f *fakeExchange, atrPct float64) {
	candles := make([]Candle, 28)
	for i := range candles {
		candles[i] = Candle{
			Timestamp: int64(i) * 86_400_000,
			Open:      100, High: 100 + atrPct, Low: 100, Close: 100, Volume: 1000,
		}
	}
	f.setCandles("BTC/USDT", "1d", candles)
}

func TestDetermineMomentumWindow(t *testing.T) {
	tests := []struct {
		atr      float64
		expected MomentumWindow
	}{
		{6.0, MomentumWindow{Minutes: 5, ThresholdMin: 3.0, ThresholdMax: 5.0}},
		{4.0, MomentumWindow{Minutes: 10, ThresholdMin: 2.0, ThresholdMax: 3.0}},
		{2.0, MomentumWindow{Minutes: 15, ThresholdMin: 1.5, ThresholdMax: 2.5}},
	}
	for _, tt := range tests {
		f := newFakeExchange()
		setBTCATR(f, tt.atr)
		a := newTestAnalyzer(f)
		assert.Equal(t, tt.expected, a.DetermineMomentumWindow(), "ATR %.1f", tt.atr)
	}
}

func TestMarketATRDefault(t *testing.T) {
	f := newFakeExchange()
	f.failAll = true
	a := newTestAnalyzer(f)
	assert.Equal(t, 4.0, a.MarketATR())
}

func TestAdjustThreshold(t *testing.T) {
	f := newFakeExchange()
	a := newTestAnalyzer(f)

	// Weekday midday UTC, outside the Asian session: unchanged.
	a.now = func() time.Time { return time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC) }
	assert.Equal(t, 3.0, a.AdjustThreshold(3.0))

	// Asian session: +0.5.
	a.now = func() time.Time { return time.Date(2025, 6, 4, 4, 0, 0, 0, time.UTC) }
	assert.Equal(t, 3.5, a.AdjustThreshold(3.0))

	// Weekend outside the Asian session: -0.3.
	a.now = func() time.Time { return time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC) }
	assert.InDelta(t, 2.7, a.AdjustThreshold(3.0), 1e-9)
}

func TestRankSectors(t *testing.T) {
	f := newFakeExchange()
	f.addMarket("UNI/USDT", 0.01, 0.0001, 10)
	f.addMarket("DOGE/USDT", 1, 0.00001, 10)

	// DeFi: +10% change, volume ratio 2. Meme: +2% change, ratio 1.
	f.setTicker("UNI/USDT", 8.0, 5_000_000, 10)
	f.setTicker("DOGE/USDT", 0.1, 9_000_000, 2)

	volCandles := func(lastVol float64) []Candle {
		candles := dailyCandles(make([]float64, 21))
		for i := range candles {
			candles[i].Close = 100
			candles[i].Volume = 1000
		}
		candles[len(candles)-1].Volume = lastVol
		return candles
	}
	f.setCandles("UNI/USDT", "1d", volCandles(2000))
	f.setCandles("DOGE/USDT", "1d", volCandles(1000))

	a := newTestAnalyzer(f)
	require.NoError(t, a.data.Init())

	ranking := a.RankSectors()
	require.Len(t, ranking, 2)

	// DeFi: 10*0.4 + 10*0.3 + (2-1)*30*0.3 = 16
	assert.Equal(t, "DeFi", ranking[0].Name)
	assert.InDelta(t, 16.0, ranking[0].Score, 1e-9)
	// Meme: 2*0.4 + 2*0.3 + 0 = 1.4
	assert.Equal(t, "Meme", ranking[1].Name)
	assert.InDelta(t, 1.4, ranking[1].Score, 1e-9)

	assert.Equal(t, []string{"DeFi"}, a.TopSectors(1))
}
