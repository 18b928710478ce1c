package main

import (
	"fmt"
	"log"
	"time"

	"momentum-radar/config"
)

// MACrossStrategy is an independent moving-average crossover strategy. It
// shares nothing with the momentum core except the order executor and the
// persisted order journals, which it reads to recover its own positions.
type MACrossStrategy struct {
	executor *OrderExecutor
	adapter  ExchangeAdapter
	exchange string

	symbols []string

	shortWindow   int
	longWindow    int
	timeframe     string
	positionSize  float64 // quote notional per entry
	maxPositions  int
	stopLossPct   float64
	takeProfitPct float64
	checkInterval time.Duration
	minVolumeUSD  float64
	maxTradesDay  int

	tradesToday int
	tradesDate  string

	stop chan struct{}
}

// NewMACrossStrategy builds the strategy from its `strategies.ma_cross`
// config block. Errors when the block is disabled or incomplete.
func NewMACrossStrategy(cfg *config.AppConfig, executor *OrderExecutor, adapter ExchangeAdapter) (*MACrossStrategy, error) {
	const name = "ma_cross"
	if !cfg.StrategyEnabled(name) {
		return nil, fmt.Errorf("strategy %s is not enabled", name)
	}

	symbols := cfg.StrategySymbols(name)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("strategy %s has no symbols configured", name)
	}

	params := cfg.StrategyParameters(name)
	s := &MACrossStrategy{
		executor:      executor,
		adapter:       adapter,
		exchange:      cfg.DefaultExchange,
		symbols:       symbols,
		shortWindow:   paramInt(params, "short_window", 5),
		longWindow:    paramInt(params, "long_window", 20),
		timeframe:     paramString(params, "timeframe", "1h"),
		positionSize:  paramFloat(params, "position_size", 100),
		maxPositions:  paramInt(params, "max_positions", 3),
		stopLossPct:   paramFloat(params, "stop_loss_pct", 3.0),
		takeProfitPct: paramFloat(params, "take_profit_pct", 5.0),
		checkInterval: time.Duration(paramInt(params, "check_interval", 60)) * time.Second,
		minVolumeUSD:  paramFloat(params, "min_volume_usd", 1_000_000),
		maxTradesDay:  paramInt(params, "max_trades_per_day", 3),
		stop:          make(chan struct{}),
	}

	log.Printf("📉 MA cross strategy: %v, SMA %d/%d on %s", s.symbols, s.shortWindow, s.longWindow, s.timeframe)
	return s, nil
}

func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func paramString(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return def
}

// Run checks every symbol on the configured interval until Stop.
func (s *MACrossStrategy) Run() {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			log.Println("📉 MA cross strategy stopped")
			return
		case <-ticker.C:
			for _, symbol := range s.symbols {
				if err := s.checkSymbol(symbol); err != nil {
					log.Printf("⚠️ MA cross %s: %v", symbol, err)
				}
			}
		}
	}
}

func (s *MACrossStrategy) Stop() { close(s.stop) }

// activePositions recovers this strategy's holdings from the shared
// journals: entries tagged with the ma_cross stage and not yet exited.
func (s *MACrossStrategy) activePositions() []EntryRecord {
	history := s.executor.GetTradingHistory("", s.exchange, time.Time{}, time.Time{})
	var mine []EntryRecord
	for _, en := range history.Stats.ActivePositions {
		if en.Stage == "ma_cross" {
			mine = append(mine, en)
		}
	}
	return mine
}

func (s *MACrossStrategy) heldEntry(symbol string) *EntryRecord {
	for _, en := range s.activePositions() {
		if en.Symbol == symbol {
			return &en
		}
	}
	return nil
}

func (s *MACrossStrategy) resetDailyCounter() {
	today := time.Now().Format("2006-01-02")
	if s.tradesDate != today {
		s.tradesDate = today
		s.tradesToday = 0
	}
}

func (s *MACrossStrategy) checkSymbol(symbol string) error {
	s.resetDailyCounter()

	limit := s.longWindow + 2
	ctx, cancel := newAdapterContext()
	candles, err := s.adapter.FetchOHLCV(ctx, symbol, s.timeframe, limit)
	cancel()
	if err != nil {
		return err
	}
	if len(candles) < s.longWindow+1 {
		return errNoData
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	price := closes[len(closes)-1]

	shortNow := sma(closes, s.shortWindow)
	longNow := sma(closes, s.longWindow)
	shortPrev := sma(closes[:len(closes)-1], s.shortWindow)
	longPrev := sma(closes[:len(closes)-1], s.longWindow)

	held := s.heldEntry(symbol)

	if held == nil {
		// Golden cross: short SMA crosses above long SMA.
		if !(shortPrev <= longPrev && shortNow > longNow) {
			return nil
		}
		if len(s.activePositions()) >= s.maxPositions {
			return nil
		}
		if s.tradesToday >= s.maxTradesDay {
			return nil
		}
		if !s.volumeOK(candles, price) {
			return nil
		}

		size := s.positionSize / price
		log.Printf("📉 MA cross golden cross on %s: buying %.6f at %.6f", symbol, size, price)
		result := s.executor.ExecuteEntry(symbol, size, price, "ma_cross", s.exchange)
		if !result.Success {
			return fmt.Errorf("entry failed: %s", result.Error)
		}
		s.tradesToday++
		return nil
	}

	// Exit rules: death cross, stop loss, or take profit.
	reason := ""
	switch {
	case shortPrev >= longPrev && shortNow < longNow:
		reason = "death_cross"
	case price <= held.AvgPrice*(1-s.stopLossPct/100):
		reason = "stop_loss"
	case price >= held.AvgPrice*(1+s.takeProfitPct/100):
		reason = "take_profit"
	}
	if reason == "" {
		return nil
	}

	log.Printf("📉 MA cross exit on %s (%s): selling %.6f at %.6f", symbol, reason, held.Size, price)
	result := s.executor.ExecuteExit(symbol, held.Size, price, reason, s.exchange)
	if !result.Success {
		return fmt.Errorf("exit failed: %s", result.Error)
	}
	s.tradesToday++
	return nil
}

// volumeOK estimates 24h dollar volume from the fetched candles.
func (s *MACrossStrategy) volumeOK(candles []Candle, price float64) bool {
	var vol float64
	for _, c := range candles {
		vol += c.Volume
	}
	return vol*price >= s.minVolumeUSD
}

func sma(values []float64, period int) float64 {
	if len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
