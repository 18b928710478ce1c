package main

import (
	"log"
	"sort"
	"sync"
	"time"
)

// MarketState labels the current BTC-derived market regime.
type MarketState string

const (
	StateStrongBull MarketState = "strong_bull"
	StateBull       MarketState = "bull"
	StateNeutral    MarketState = "neutral"
	StateBear       MarketState = "bear"
	StateStrongBear MarketState = "strong_bear"
)

const btcSymbol = "BTC/USDT"

// MomentumWindow pairs a minutes horizon with its momentum thresholds.
type MomentumWindow struct {
	Minutes      int
	ThresholdMin float64
	ThresholdMax float64
}

// SectorScore is one entry of the sector ranking.
type SectorScore struct {
	Name         string  `json:"name"`
	AvgChange    float64 `json:"avg_change"`
	MaxChange    float64 `json:"max_change"`
	VolumeGrowth float64 `json:"volume_growth"`
	Score        float64 `json:"score"`
}

const (
	sectorRankTTL       = time.Hour
	sectorRankBudget    = 60 * time.Second
	sectorSymbolBudget  = 15 * time.Second
	sectorSampleSymbols = 10
)

// MarketAnalyzer derives the market regime from BTC, picks the momentum
// window from market volatility and ranks the configured sectors.
type MarketAnalyzer struct {
	data       *MarketDataService
	indicators *IndicatorService
	stateTTL   time.Duration

	now func() time.Time // injectable clock for session tests

	mu               sync.Mutex
	state            MarketState
	stateUpdatedAt   time.Time
	sectorRanking    []SectorScore
	sectorsUpdatedAt time.Time
}

func NewMarketAnalyzer(data *MarketDataService, indicators *IndicatorService, stateTTL time.Duration) *MarketAnalyzer {
	return &MarketAnalyzer{
		data:       data,
		indicators: indicators,
		stateTTL:   stateTTL,
		now:        time.Now,
	}
}

// AssessMarketState classifies the regime from BTC's close against its
// 20-day SMA and the 5-day change. Neutral on any data failure.
func (a *MarketAnalyzer) AssessMarketState() MarketState {
	a.mu.Lock()
	if a.state != "" && time.Since(a.stateUpdatedAt) < a.stateTTL {
		state := a.state
		a.mu.Unlock()
		return state
	}
	a.mu.Unlock()

	candles, err := a.data.GetCandles(btcSymbol, "1d", 20, "")
	if err != nil || len(candles) == 0 {
		log.Printf("⚠️ MarketAnalyzer: no BTC data, defaulting to neutral (%v)", err)
		return StateNeutral
	}

	var sum float64
	for _, c := range candles {
		sum += c.Close
	}
	ma20 := sum / float64(len(candles))

	latest := candles[len(candles)-1].Close

	fiveDayChange := 0.0
	if len(candles) >= 5 {
		fiveDayChange = (latest/candles[len(candles)-5].Close - 1) * 100
	}

	var state MarketState
	switch {
	case latest > ma20*1.05 && fiveDayChange > 5:
		state = StateStrongBull
	case latest > ma20 && fiveDayChange > 0:
		state = StateBull
	case latest < ma20*0.95 && fiveDayChange < -5:
		state = StateStrongBear
	case latest < ma20 && fiveDayChange < 0:
		state = StateBear
	default:
		state = StateNeutral
	}

	a.mu.Lock()
	a.state = state
	a.stateUpdatedAt = time.Now()
	a.mu.Unlock()

	log.Printf("📊 Market state: %s (BTC %.2f vs MA20 %.2f, 5d %+.2f%%)", state, latest, ma20, fiveDayChange)
	return state
}

// MarketATR is BTC's daily ATR percent; 4.0 when unavailable.
func (a *MarketAnalyzer) MarketATR() float64 {
	atr, err := a.indicators.ATRPct(btcSymbol, 14)
	if err != nil {
		log.Println("⚠️ MarketAnalyzer: BTC ATR unavailable, using default 4.0%")
		return 4.0
	}
	return atr
}

// DetermineMomentumWindow picks the scan window and thresholds from the
// current market volatility.
func (a *MarketAnalyzer) DetermineMomentumWindow() MomentumWindow {
	atr := a.MarketATR()
	switch {
	case atr > 5.0:
		return MomentumWindow{Minutes: 5, ThresholdMin: 3.0, ThresholdMax: 5.0}
	case atr >= 3.0:
		return MomentumWindow{Minutes: 10, ThresholdMin: 2.0, ThresholdMax: 3.0}
	default:
		return MomentumWindow{Minutes: 15, ThresholdMin: 1.5, ThresholdMax: 2.5}
	}
}

func (a *MarketAnalyzer) isAsianTradingHour() bool {
	h := a.now().UTC().Hour()
	return h >= 3 && h <= 5
}

func (a *MarketAnalyzer) isWeekend() bool {
	wd := a.now().Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// AdjustThreshold applies the session delta to a base momentum threshold:
// stricter in the thin Asian session, looser on weekends.
func (a *MarketAnalyzer) AdjustThreshold(base float64) float64 {
	if a.isAsianTradingHour() {
		return base + 0.5
	}
	if a.isWeekend() {
		return base - 0.3
	}
	return base
}

// RankSectors scores every configured sector from up to ten representative
// symbols each. Bounded by a total and a per-sector wall-clock budget;
// whatever completed within budget is returned and cached for an hour.
func (a *MarketAnalyzer) RankSectors() []SectorScore {
	a.mu.Lock()
	if len(a.sectorRanking) > 0 && time.Since(a.sectorsUpdatedAt) < sectorRankTTL {
		ranking := a.sectorRanking
		a.mu.Unlock()
		return ranking
	}
	a.mu.Unlock()

	log.Println("🏆 Ranking sectors...")
	start := time.Now()
	var scores []SectorScore

	for _, sector := range a.data.SectorNames() {
		if time.Since(start) > sectorRankBudget {
			log.Printf("⚠️ Sector ranking budget exhausted after %d sectors", len(scores))
			break
		}

		symbols := a.data.SectorSymbols(sector)
		if len(symbols) == 0 {
			log.Printf("⚠️ Sector %s has no tradable symbols", sector)
			continue
		}
		if len(symbols) > sectorSampleSymbols {
			symbols = symbols[:sectorSampleSymbols]
		}

		sectorStart := time.Now()
		var avgChange, maxChange, volumeGrowth float64
		validCount := 0

		for _, symbol := range symbols {
			if time.Since(sectorStart) > sectorSymbolBudget {
				log.Printf("⚠️ Sector %s budget exhausted after %d symbols", sector, validCount)
				break
			}

			ticker, err := a.data.GetTicker(symbol, "")
			if err == nil {
				avgChange += ticker.Percentage
				if ticker.Percentage > maxChange {
					maxChange = ticker.Percentage
				}
				validCount++
			}

			if vr, err := a.indicators.VolumeRatio(symbol, 20); err == nil {
				volumeGrowth += vr
			}
		}

		if validCount == 0 {
			continue
		}
		avgChange /= float64(validCount)
		volumeGrowth /= float64(validCount)

		score := avgChange*0.4 + maxChange*0.3 + (volumeGrowth-1)*30*0.3
		scores = append(scores, SectorScore{
			Name:         sector,
			AvgChange:    avgChange,
			MaxChange:    maxChange,
			VolumeGrowth: volumeGrowth,
			Score:        score,
		})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	a.mu.Lock()
	a.sectorRanking = scores
	a.sectorsUpdatedAt = time.Now()
	a.mu.Unlock()

	names := make([]string, len(scores))
	for i, s := range scores {
		names[i] = s.Name
	}
	log.Printf("🏆 Sector ranking complete: %v (%.1fs)", names, time.Since(start).Seconds())
	return scores
}

// TopSectors returns the first n sector names of the ranking.
func (a *MarketAnalyzer) TopSectors(n int) []string {
	ranking := a.RankSectors()
	if len(ranking) > n {
		ranking = ranking[:n]
	}
	names := make([]string, len(ranking))
	for i, s := range ranking {
		names[i] = s.Name
	}
	return names
}

// InvalidateSectorCache forces the next RankSectors call to recompute.
func (a *MarketAnalyzer) InvalidateSectorCache() {
	a.mu.Lock()
	a.sectorsUpdatedAt = time.Time{}
	a.mu.Unlock()
}
