package main

import (
	"log"
	"sort"
	"sync"
	"time"
)

// Signal is one scored entry candidate produced by a scan.
type Signal struct {
	Symbol       string      `json:"symbol"`
	Momentum     float64     `json:"momentum"`
	VolumeRatio  float64     `json:"volume_ratio"`
	RSI          float64     `json:"rsi"`
	EntryPrice   float64     `json:"entry_price"`
	ATR          float64     `json:"atr"`
	ProfitTarget float64     `json:"profit_target"`
	Sector       string      `json:"sector,omitempty"`
	Score        float64     `json:"score"`
	MarketState  MarketState `json:"market_state"`
	Timestamp    time.Time   `json:"timestamp"`
}

const signalBatchSize = 50

// ScanContext is the per-scan snapshot of market conditions every symbol is
// evaluated against.
type ScanContext struct {
	MarketState       MarketState
	TopSectors        []string
	Window            MomentumWindow
	AdjustedThreshold float64
}

// SignalGenerator walks the symbol universe through a cheapest-first filter
// funnel and scores the survivors.
type SignalGenerator struct {
	data       *MarketDataService
	indicators *IndicatorService
	analyzer   *MarketAnalyzer
	poolSize   int
}

func NewSignalGenerator(data *MarketDataService, indicators *IndicatorService,
	analyzer *MarketAnalyzer, poolSize int) *SignalGenerator {
	if poolSize < 1 {
		poolSize = 1
	}
	return &SignalGenerator{
		data:       data,
		indicators: indicators,
		analyzer:   analyzer,
		poolSize:   poolSize,
	}
}

// Generate evaluates every symbol and returns signals sorted by score
// descending.
func (g *SignalGenerator) Generate(symbols []string) []Signal {
	sctx := ScanContext{
		MarketState: g.analyzer.AssessMarketState(),
		TopSectors:  g.analyzer.TopSectors(3),
		Window:      g.analyzer.DetermineMomentumWindow(),
	}
	sctx.AdjustedThreshold = g.analyzer.AdjustThreshold(sctx.Window.ThresholdMin)

	log.Printf("🔍 Generating signals for %d symbols | state=%s sectors=%v window=%dm threshold=%.1f%%",
		len(symbols), sctx.MarketState, sctx.TopSectors, sctx.Window.Minutes, sctx.AdjustedThreshold)

	start := time.Now()
	var (
		mu        sync.Mutex
		signals   []Signal
		processed int
	)

	totalBatches := (len(symbols) + signalBatchSize - 1) / signalBatchSize
	for batchIdx := 0; batchIdx < totalBatches; batchIdx++ {
		batchStart := batchIdx * signalBatchSize
		batchEnd := batchStart + signalBatchSize
		if batchEnd > len(symbols) {
			batchEnd = len(symbols)
		}
		batch := symbols[batchStart:batchEnd]

		sem := make(chan struct{}, g.poolSize)
		var wg sync.WaitGroup
		for _, symbol := range batch {
			wg.Add(1)
			sem <- struct{}{}
			go func(symbol string) {
				defer wg.Done()
				defer func() { <-sem }()

				sig, ok := g.evaluate(symbol, sctx)

				mu.Lock()
				processed++
				if ok {
					signals = append(signals, sig)
				}
				if processed%signalBatchSize == 0 {
					elapsed := time.Since(start).Seconds()
					progress := float64(processed) / float64(len(symbols))
					remaining := elapsed/progress - elapsed
					log.Printf("🔍 Signal progress: %d/%d (%.1f%%) | found: %d | ~%.0fs remaining",
						processed, len(symbols), progress*100, len(signals), remaining)
				}
				mu.Unlock()
			}(symbol)
		}
		wg.Wait()
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].Score > signals[j].Score })

	log.Printf("✅ Signal generation done: %d symbols, %d signals, %.1fs",
		len(symbols), len(signals), time.Since(start).Seconds())
	return signals
}

// evaluate runs the funnel for one symbol, dropping at the first failed
// filter. Filters are ordered cheapest first.
func (g *SignalGenerator) evaluate(symbol string, sctx ScanContext) (Signal, bool) {
	momentum, err := g.indicators.Momentum(symbol, sctx.Window.Minutes)
	if err != nil || momentum < sctx.AdjustedThreshold {
		return Signal{}, false
	}

	volumeRatio, err := g.indicators.VolumeRatio(symbol, 20)
	if err != nil || volumeRatio < 1.5 {
		return Signal{}, false
	}

	rsi, err := g.indicators.RSI(symbol, 14, "1h")
	if err != nil || rsi > 75 {
		return Signal{}, false
	}

	price, err := g.data.GetCurrentPrice(symbol, "")
	if err != nil {
		return Signal{}, false
	}

	atr, err := g.indicators.ATRPct(symbol, 14)
	if err != nil {
		atr = 4.0
	}
	profitTarget := atr * 1.5 / 100
	if profitTarget > 0.10 {
		profitTarget = 0.10
	}

	sector := g.detectSector(symbol, sctx.TopSectors)

	return Signal{
		Symbol:       symbol,
		Momentum:     momentum,
		VolumeRatio:  volumeRatio,
		RSI:          rsi,
		EntryPrice:   price,
		ATR:          atr,
		ProfitTarget: profitTarget,
		Sector:       sector,
		Score:        scoreSignal(momentum, volumeRatio, rsi, sector != ""),
		MarketState:  sctx.MarketState,
		Timestamp:    time.Now(),
	}, true
}

func (g *SignalGenerator) detectSector(symbol string, topSectors []string) string {
	for _, sector := range topSectors {
		for _, s := range g.data.SectorSymbols(sector) {
			if s == symbol {
				return sector
			}
		}
	}
	return ""
}

// scoreSignal combines momentum (0-40), volume (0-25), sector membership
// (0/15) and RSI band (0/5/10) into a 0-90 score.
func scoreSignal(momentum, volumeRatio, rsi float64, inTopSector bool) float64 {
	score := 0.0

	momentumScore := momentum / 10 * 40
	if momentumScore > 40 {
		momentumScore = 40
	}
	score += momentumScore

	volumeScore := (volumeRatio - 1) * 12.5
	if volumeScore > 25 {
		volumeScore = 25
	}
	score += volumeScore

	if inTopSector {
		score += 15
	}

	switch {
	case rsi >= 40 && rsi <= 60:
		score += 10
	case (rsi >= 30 && rsi < 40) || (rsi > 60 && rsi <= 70):
		score += 5
	}

	return score
}
