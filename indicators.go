package main

import (
	"fmt"
	"math"
	"time"
)

const (
	momentumMemoTTL    = 60 * time.Second
	volumeRatioMemoTTL = 5 * time.Minute
)

// IndicatorService computes derived metrics over cached candles. Every
// metric is memoized keyed by (symbol, timeframe, period) so repeated calls
// inside one scan stay cheap.
type IndicatorService struct {
	data *MarketDataService
	memo *keyedCache
	ttl  time.Duration // default memo TTL, matching the candle TTL
}

func NewIndicatorService(data *MarketDataService, candleTTL time.Duration) *IndicatorService {
	return &IndicatorService{
		data: data,
		memo: newKeyedCache(),
		ttl:  candleTTL,
	}
}

func (s *IndicatorService) memoized(key string, ttl time.Duration, compute func() (float64, error)) (float64, error) {
	v, err := s.memo.getOrFetch(key, ttl, func() (interface{}, error) {
		val, err := compute()
		if err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Momentum is the percent change of the close over the given minute window.
func (s *IndicatorService) Momentum(symbol string, minutes int) (float64, error) {
	key := fmt.Sprintf("%s_%d_momentum", symbol, minutes)
	return s.memoized(key, momentumMemoTTL, func() (float64, error) {
		timeframe, limit := timeframeForWindow(minutes)
		candles, err := s.data.GetCandles(symbol, timeframe, limit, "")
		if err != nil {
			return 0, err
		}
		if len(candles) < 2 {
			return 0, errNoData
		}

		var histIdx int
		switch timeframe {
		case "1m":
			histIdx = minutes
		case "5m":
			histIdx = minutes / 5
		case "15m":
			histIdx = minutes / 15
		default:
			histIdx = minutes / 60
		}
		if histIdx > len(candles)-1 {
			histIdx = len(candles) - 1
		}
		if histIdx <= 0 {
			histIdx = 1
		}

		current := candles[len(candles)-1].Close
		historical := candles[len(candles)-1-histIdx].Close
		if historical <= 0 {
			return 0, nil
		}
		return (current/historical - 1) * 100, nil
	})
}

// VolumeRatio is the latest daily volume over the mean of the preceding
// days. Undefined when history is shorter than days/2 or the mean is zero.
func (s *IndicatorService) VolumeRatio(symbol string, days int) (float64, error) {
	key := fmt.Sprintf("%s_%d_volume_ratio", symbol, days)
	return s.memoized(key, volumeRatioMemoTTL, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, "1d", days+1, "")
		if err != nil {
			return 0, err
		}
		if len(candles) < days/2 {
			return 0, errNoData
		}

		current := candles[len(candles)-1].Volume
		var sum float64
		historical := candles[:len(candles)-1]
		if len(historical) == 0 {
			return 0, errNoData
		}
		for _, c := range historical {
			sum += c.Volume
		}
		mean := sum / float64(len(historical))
		if mean == 0 {
			return 0, errNoData
		}
		return current / mean, nil
	})
}

// ATRPct is the mean true range over the last period daily bars, as a
// percentage of the latest close.
func (s *IndicatorService) ATRPct(symbol string, period int) (float64, error) {
	key := fmt.Sprintf("%s_%d_atr", symbol, period)
	return s.memoized(key, s.ttl, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, "1d", period*2, "")
		if err != nil {
			return 0, err
		}
		if len(candles) < period+1 {
			return 0, errNoData
		}

		trs := make([]float64, 0, len(candles)-1)
		for i := 1; i < len(candles); i++ {
			highLow := candles[i].High - candles[i].Low
			highClose := math.Abs(candles[i].High - candles[i-1].Close)
			lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
			trs = append(trs, math.Max(highLow, math.Max(highClose, lowClose)))
		}
		if len(trs) < period {
			return 0, errNoData
		}

		var sum float64
		for _, tr := range trs[len(trs)-period:] {
			sum += tr
		}
		atr := sum / float64(period)

		latestClose := candles[len(candles)-1].Close
		if latestClose == 0 {
			return 0, errNoData
		}
		return atr / latestClose * 100, nil
	})
}

// RSI over the last period bars of the given timeframe. Average gain and
// loss are simple means over the window; the zero-loss case is protected by
// a small epsilon.
func (s *IndicatorService) RSI(symbol string, period int, timeframe string) (float64, error) {
	key := fmt.Sprintf("%s_%s_%d_rsi", symbol, timeframe, period)
	return s.memoized(key, s.ttl, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, timeframe, period*3, "")
		if err != nil {
			return 0, err
		}
		if len(candles) < period+1 {
			return 0, errNoData
		}

		var avgGain, avgLoss float64
		start := len(candles) - period
		for i := start; i < len(candles); i++ {
			change := candles[i].Close - candles[i-1].Close
			if change > 0 {
				avgGain += change
			} else {
				avgLoss -= change
			}
		}
		avgGain /= float64(period)
		avgLoss /= float64(period)

		if avgLoss == 0 {
			avgLoss = 1e-10
		}
		rs := avgGain / avgLoss
		return 100 - 100/(1+rs), nil
	})
}

// MaxDrawdown is the largest peak-to-close decline in percent over the
// daily window.
func (s *IndicatorService) MaxDrawdown(symbol string, days int) (float64, error) {
	key := fmt.Sprintf("%s_%d_drawdown", symbol, days)
	return s.memoized(key, s.ttl, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, "1d", days, "")
		if err != nil {
			return 0, err
		}
		if len(candles) == 0 {
			return 0, errNoData
		}

		var maxDrawdown, runningMax float64
		for _, c := range candles {
			if c.Close > runningMax {
				runningMax = c.Close
			}
			if runningMax > 0 {
				dd := (runningMax - c.Close) / runningMax * 100
				if dd > maxDrawdown {
					maxDrawdown = dd
				}
			}
		}
		return maxDrawdown, nil
	})
}

// TradingVolumeUSD is the summed close·volume over the daily window.
func (s *IndicatorService) TradingVolumeUSD(symbol string, days int) (float64, error) {
	key := fmt.Sprintf("%s_%d_volume_usd", symbol, days)
	return s.memoized(key, s.ttl, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, "1d", days, "")
		if err != nil {
			return 0, err
		}
		if len(candles) == 0 {
			return 0, errNoData
		}

		var total float64
		for _, c := range candles {
			total += c.Close * c.Volume
		}
		return total, nil
	})
}

// PreviousHigh is the highest high over the daily window.
func (s *IndicatorService) PreviousHigh(symbol string, days int) (float64, error) {
	key := fmt.Sprintf("%s_%d_prev_high", symbol, days)
	return s.memoized(key, s.ttl, func() (float64, error) {
		candles, err := s.data.GetCandles(symbol, "1d", days, "")
		if err != nil {
			return 0, err
		}
		if len(candles) == 0 {
			return 0, errNoData
		}

		high := candles[0].High
		for _, c := range candles[1:] {
			if c.High > high {
				high = c.High
			}
		}
		return high, nil
	})
}
