package main

import (
	"log"
	"sync"
	"time"
)

const (
	blacklistBatchSize   = 20
	blacklistMaxBatches  = 5
	blacklistBudget      = 120 * time.Second
	blacklistDrawdownMax = 25.0      // percent over 7 days
	blacklistMinVolume   = 1_000_000 // USD over 30 days
	marketATRRiskLimit   = 7.0       // BTC ATR% above which no new entries
	bearMinScore         = 70.0
	impliedStopPct       = 0.02
)

// RiskManager owns the blacklist and the exposure accounting, and decides
// whether and how large a signal may be traded.
type RiskManager struct {
	indicators *IndicatorService
	data       *MarketDataService

	maxRiskPerTrade     float64
	maxTotalRisk        float64
	maxSectorAllocation float64
	accountBalance      float64

	mu               sync.Mutex
	blacklist        map[string]bool // replaced wholesale on refresh
	currentPositions map[string]bool
	positionSectors  map[string]string  // sector recorded at open, debited on close
	positionSizes    map[string]float64 // sized amount recorded at open
	totalRiskPct     float64
	sectorAllocation map[string]float64
}

func NewRiskManager(indicators *IndicatorService, data *MarketDataService,
	maxRiskPerTrade, maxTotalRisk, maxSectorAllocation, accountBalance float64) *RiskManager {
	return &RiskManager{
		indicators:          indicators,
		data:                data,
		maxRiskPerTrade:     maxRiskPerTrade,
		maxTotalRisk:        maxTotalRisk,
		maxSectorAllocation: maxSectorAllocation,
		accountBalance:      accountBalance,
		blacklist:           make(map[string]bool),
		currentPositions:    make(map[string]bool),
		positionSectors:     make(map[string]string),
		positionSizes:       make(map[string]float64),
		sectorAllocation:    make(map[string]float64),
	}
}

// CheckMarketRisk blocks new entries when BTC volatility is extreme.
// Allows by default when the indicator is unavailable.
func (r *RiskManager) CheckMarketRisk() bool {
	atr, err := r.indicators.ATRPct(btcSymbol, 14)
	if err != nil {
		return true
	}
	if atr > marketATRRiskLimit {
		log.Printf("⚠️ Market ATR %.2f%% above risk limit %.0f%%, pausing new entries", atr, marketATRRiskLimit)
		return false
	}
	return true
}

// FilterSignals drops blacklisted, overbought and already-held symbols.
func (r *RiskManager) FilterSignals(signals []Signal) []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()

	filtered := make([]Signal, 0, len(signals))
	for _, sig := range signals {
		if r.blacklist[sig.Symbol] {
			continue
		}
		if sig.RSI > 75 {
			continue
		}
		if r.currentPositions[sig.Symbol] {
			continue
		}
		filtered = append(filtered, sig)
	}

	log.Printf("🛡️ Signal filter: %d in, %d out", len(signals), len(filtered))
	return filtered
}

// RankSignals preserves the generator's score ordering. Kept as a hook for
// future reweighting.
func (r *RiskManager) RankSignals(signals []Signal) []Signal {
	return signals
}

// CanOpenPosition enforces the total and per-sector exposure caps and the
// stricter bear-market quality bar.
func (r *RiskManager) CanOpenPosition(sig Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.totalRiskPct+r.maxRiskPerTrade > r.maxTotalRisk {
		log.Printf("🛡️ Rejecting %s: total risk %.2f%% near cap %.2f%%", sig.Symbol, r.totalRiskPct, r.maxTotalRisk)
		return false
	}

	if sig.Sector != "" {
		sectorCap := r.maxSectorAllocation * r.maxTotalRisk
		if r.sectorAllocation[sig.Sector]+r.maxRiskPerTrade > sectorCap {
			log.Printf("🛡️ Rejecting %s: sector %s allocation %.2f%% near cap %.2f%%",
				sig.Symbol, sig.Sector, r.sectorAllocation[sig.Sector], sectorCap)
			return false
		}
	}

	if sig.MarketState == StateBear || sig.MarketState == StateStrongBear {
		if sig.Score < bearMinScore {
			log.Printf("🛡️ Rejecting %s: score %.1f below bear-market bar %.0f", sig.Symbol, sig.Score, bearMinScore)
			return false
		}
	}

	return true
}

// CalculatePositionSize converts a signal into a base-asset amount from the
// per-trade risk budget, the signal quality and the regime, against the
// implied 2% stop. Bumps the exposure counters and records the position's
// sector for exact debiting on close.
func (r *RiskManager) CalculatePositionSize(sig Signal) float64 {
	riskAmount := r.accountBalance * r.maxRiskPerTrade / 100

	scoreFactor := sig.Score / 60
	if scoreFactor > 1 {
		scoreFactor = 1
	}
	adjustedRisk := riskAmount * scoreFactor

	switch sig.MarketState {
	case StateStrongBull:
		adjustedRisk *= 1.2
	case StateBear:
		adjustedRisk *= 0.7
	case StateStrongBear:
		adjustedRisk *= 0.5
	}

	positionValue := adjustedRisk / impliedStopPct
	size := positionValue / sig.EntryPrice

	log.Printf("💰 %s sizing: risk $%.2f, notional $%.2f, size %.6f",
		sig.Symbol, adjustedRisk, positionValue, size)

	r.mu.Lock()
	r.totalRiskPct += r.maxRiskPerTrade
	if sig.Sector != "" {
		r.sectorAllocation[sig.Sector] += r.maxRiskPerTrade
	}
	r.positionSectors[sig.Symbol] = sig.Sector
	r.positionSizes[sig.Symbol] = size
	r.mu.Unlock()

	return size
}

// UpdatePosition keeps the exposure counters in sync with the engine's
// position lifecycle. Close debits exactly the sector recorded at open;
// partial close debits proportionally to the sold fraction.
func (r *RiskManager) UpdatePosition(symbol, action string, size float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch action {
	case "open":
		r.currentPositions[symbol] = true

	case "close":
		delete(r.currentPositions, symbol)
		// Only positions that reserved risk via CalculatePositionSize have
		// anything to release; a close for an unknown symbol is a no-op.
		if _, reserved := r.positionSizes[symbol]; !reserved {
			return
		}

		r.totalRiskPct -= r.maxRiskPerTrade
		if r.totalRiskPct < 0 {
			r.totalRiskPct = 0
		}
		if sector := r.positionSectors[symbol]; sector != "" {
			r.sectorAllocation[sector] -= r.maxRiskPerTrade
			if r.sectorAllocation[sector] < 0 {
				r.sectorAllocation[sector] = 0
			}
		}
		delete(r.positionSectors, symbol)
		delete(r.positionSizes, symbol)

	case "partial_close":
		opened := r.positionSizes[symbol]
		if opened <= 0 {
			return
		}
		ratio := size / opened
		if ratio > 1 {
			ratio = 1
		}

		r.totalRiskPct -= r.maxRiskPerTrade * ratio
		if r.totalRiskPct < 0 {
			r.totalRiskPct = 0
		}
		if sector := r.positionSectors[symbol]; sector != "" {
			r.sectorAllocation[sector] -= r.maxRiskPerTrade * ratio
			if r.sectorAllocation[sector] < 0 {
				r.sectorAllocation[sector] = 0
			}
		}
	}
}

// HasPosition reports whether the symbol is currently held.
func (r *RiskManager) HasPosition(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPositions[symbol]
}

// Exposure returns the current total and per-sector risk counters.
func (r *RiskManager) Exposure() (float64, map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sectors := make(map[string]float64, len(r.sectorAllocation))
	for k, v := range r.sectorAllocation {
		sectors[k] = v
	}
	return r.totalRiskPct, sectors
}

// Blacklisted reports whether the symbol is currently blacklisted.
func (r *RiskManager) Blacklisted(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blacklist[symbol]
}

// BlacklistSize returns the current blacklist size.
func (r *RiskManager) BlacklistSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blacklist)
}

// UpdateBlacklist rebuilds the blacklist by rule, in batches of 20 under a
// 120s wall-clock budget with a short pause between batches. Only the first
// blacklistMaxBatches batches (100 symbols) of the universe are checked;
// symbols past them are not blacklisted by this refresh. The new set
// replaces the old atomically.
func (r *RiskManager) UpdateBlacklist() int {
	log.Println("🚫 Rebuilding symbol blacklist...")
	start := time.Now()

	symbols := r.data.TradableSymbols("")
	limit := blacklistMaxBatches * blacklistBatchSize
	if limit > len(symbols) {
		limit = len(symbols)
	}
	log.Printf("🚫 Checking first %d of %d symbols", limit, len(symbols))

	newBlacklist := make(map[string]bool)
	for i := 0; i < limit; i += blacklistBatchSize {
		if time.Since(start) > blacklistBudget {
			log.Printf("⚠️ Blacklist budget exhausted after %d symbols", i)
			break
		}

		end := i + blacklistBatchSize
		if end > limit {
			end = limit
		}
		for _, symbol := range symbols[i:end] {
			if r.shouldBlacklist(symbol) {
				newBlacklist[symbol] = true
			}
		}

		if end < limit {
			time.Sleep(time.Second)
		}
	}

	r.mu.Lock()
	r.blacklist = newBlacklist
	r.mu.Unlock()

	log.Printf("🚫 Blacklist rebuilt: %d symbols (%.1fs)", len(newBlacklist), time.Since(start).Seconds())
	return len(newBlacklist)
}

// shouldBlacklist applies the drawdown and liquidity rules for one symbol.
func (r *RiskManager) shouldBlacklist(symbol string) bool {
	if dd, err := r.indicators.MaxDrawdown(symbol, 7); err == nil && dd > blacklistDrawdownMax {
		log.Printf("🚫 %s blacklisted: 7d drawdown %.1f%% > %.0f%%", symbol, dd, blacklistDrawdownMax)
		return true
	}
	if vol, err := r.indicators.TradingVolumeUSD(symbol, 30); err == nil && vol < blacklistMinVolume {
		log.Printf("🚫 %s blacklisted: 30d volume $%.0f < $%d", symbol, vol, blacklistMinVolume)
		return true
	}
	return false
}
