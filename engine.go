package main

import (
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"
)

const (
	trailingActivation    = 1.03 // raise the stop once price is 3% above entry
	trailingStopStep      = 1.01
	timeStopAge           = 4 * time.Hour
	timeStopMinProfitPct  = 1.0
	softConditionalExpiry = 24 * time.Hour
	slowJobWarning        = 30 * time.Second
	outerErrorBackoffMin  = 30 * time.Second
	outerErrorBackoffMax  = 60 * time.Second
)

// Position is the engine-owned record of one open holding.
type Position struct {
	Symbol       string    `json:"symbol"`
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"`
	PositionSize float64   `json:"position_size"`
	StopLoss     float64   `json:"stop_loss"`
	TargetProfit float64   `json:"target_profit"`
	Stage        int       `json:"stage"`
	Sector       string    `json:"sector,omitempty"`
	TP1Done      bool      `json:"tp1_done"`
	TP2Done      bool      `json:"tp2_done"`
	TP3Done      bool      `json:"tp3_done"`

	Orders []OrderResult `json:"orders"`

	// softStop is true when the stop is enforced client-side.
	softStop bool
	// softConditional holds the second-stage trigger when the exchange
	// could not take it; nil once filled, expired or the position closed.
	softConditional *ConditionalOrderResult
	conditionalSet  time.Time
}

// Broadcaster receives engine events for delivery to connected clients.
type Broadcaster interface {
	Broadcast(eventType string, payload interface{})
}

type jobStat struct {
	count int
	total time.Duration
	max   time.Duration
}

// TradingEngine owns the active positions, drives the periodic jobs and
// advances every position through its state machine.
type TradingEngine struct {
	data       *MarketDataService
	indicators *IndicatorService
	analyzer   *MarketAnalyzer
	signals    *SignalGenerator
	risk       *RiskManager
	executor   *OrderExecutor
	tracker    *PerformanceTracker
	notifier   *NotificationService
	sinks      []Broadcaster

	scanInterval    time.Duration
	monitorInterval time.Duration
	maxNewPositions int
	skipBlacklist   bool
	skipSectors     bool

	mu        sync.Mutex
	positions map[string]*Position

	statsMu sync.Mutex
	stats   map[string]*jobStat
	scans   int

	stop chan struct{}
}

func NewTradingEngine(data *MarketDataService, indicators *IndicatorService, analyzer *MarketAnalyzer,
	signals *SignalGenerator, risk *RiskManager, executor *OrderExecutor, tracker *PerformanceTracker,
	notifier *NotificationService, scanInterval, monitorInterval time.Duration, maxNewPositions int) *TradingEngine {

	return &TradingEngine{
		data:            data,
		indicators:      indicators,
		analyzer:        analyzer,
		signals:         signals,
		risk:            risk,
		executor:        executor,
		tracker:         tracker,
		notifier:        notifier,
		scanInterval:    scanInterval,
		monitorInterval: monitorInterval,
		maxNewPositions: maxNewPositions,
		positions:       make(map[string]*Position),
		stats:           make(map[string]*jobStat),
		stop:            make(chan struct{}),
	}
}

// AddSink registers an event broadcaster (websocket hub, Firestore feed).
func (t *TradingEngine) AddSink(s Broadcaster) {
	t.sinks = append(t.sinks, s)
}

func (t *TradingEngine) publish(eventType string, payload interface{}) {
	for _, s := range t.sinks {
		s.Broadcast(eventType, payload)
	}
}

// SetFastStart disables the blacklist and/or sector jobs.
func (t *TradingEngine) SetFastStart(skipBlacklist, skipSectors bool) {
	t.skipBlacklist = skipBlacklist
	t.skipSectors = skipSectors
}

// trackJob runs a job with timing, slow-job warnings and panic containment.
func (t *TradingEngine) trackJob(name string, fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			backoff := outerErrorBackoffMin +
				time.Duration(rand.Int63n(int64(outerErrorBackoffMax-outerErrorBackoffMin)))
			log.Printf("💥 Job %s panicked: %v, backing off %v", name, r, backoff)
			time.Sleep(backoff)
		}

		elapsed := time.Since(start)
		if elapsed > slowJobWarning {
			log.Printf("⏱️ Job %s ran long: %.1fs", name, elapsed.Seconds())
		}

		t.statsMu.Lock()
		s, ok := t.stats[name]
		if !ok {
			s = &jobStat{}
			t.stats[name] = s
		}
		s.count++
		s.total += elapsed
		if elapsed > s.max {
			s.max = elapsed
		}
		t.statsMu.Unlock()
	}()

	fn()
}

// PrintJobStats logs the per-job timing summary.
func (t *TradingEngine) PrintJobStats() {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	type row struct {
		name string
		s    *jobStat
	}
	rows := make([]row, 0, len(t.stats))
	for name, s := range t.stats {
		rows = append(rows, row{name, s})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].s.total > rows[j].s.total })

	log.Println("=== Job timing report ===")
	for _, r := range rows {
		avg := time.Duration(0)
		if r.s.count > 0 {
			avg = r.s.total / time.Duration(r.s.count)
		}
		log.Printf("  %s: runs=%d total=%.1fs avg=%.1fs max=%.1fs",
			r.name, r.s.count, r.s.total.Seconds(), avg.Seconds(), r.s.max.Seconds())
	}
}

// Run starts the scheduler and blocks until Stop is called.
func (t *TradingEngine) Run() {
	log.Printf("🚀 Trading engine started (scan %v, monitor %v, max %d new positions per scan)",
		t.scanInterval, t.monitorInterval, t.maxNewPositions)
	if t.notifier != nil {
		t.notifier.NotifyStart()
	}

	// Warm up the universe and caches before the first scan.
	t.trackJob("init_data", func() {
		if err := t.data.Init(); err != nil {
			log.Printf("⚠️ Market data init: %v", err)
		}
	})
	if !t.skipSectors {
		t.trackJob("sector_refresh", func() { t.analyzer.RankSectors() })
	}
	if !t.skipBlacklist {
		t.trackJob("blacklist_refresh", func() { t.risk.UpdateBlacklist() })
	}

	scanTicker := time.NewTicker(t.scanInterval)
	sectorTicker := time.NewTicker(time.Hour)
	blacklistTicker := time.NewTicker(24 * time.Hour)
	monitorTicker := time.NewTicker(t.monitorInterval)
	defer scanTicker.Stop()
	defer sectorTicker.Stop()
	defer blacklistTicker.Stop()
	defer monitorTicker.Stop()

	reportTimer := time.NewTimer(untilNextMidnight())
	defer reportTimer.Stop()

	for {
		select {
		case <-t.stop:
			log.Println("🛑 Trading engine stopped")
			return

		case <-scanTicker.C:
			t.trackJob("scan", t.ScanMarket)
			t.scans++
			if t.scans%10 == 0 {
				t.PrintJobStats()
			}

		case <-sectorTicker.C:
			if !t.skipSectors {
				t.trackJob("sector_refresh", func() {
					t.analyzer.InvalidateSectorCache()
					t.analyzer.RankSectors()
				})
			}

		case <-blacklistTicker.C:
			if !t.skipBlacklist {
				t.trackJob("blacklist_refresh", func() { t.risk.UpdateBlacklist() })
			}

		case <-reportTimer.C:
			t.trackJob("daily_report", t.tracker.GenerateDailyReport)
			if t.notifier != nil {
				t.notifier.NotifyDailyReport(t.tracker.CalculateMetrics(), t.PositionCount())
			}
			reportTimer.Reset(untilNextMidnight())

		case <-monitorTicker.C:
			t.trackJob("monitor", t.MonitorPositions)
		}
	}
}

// Stop shuts the scheduler down.
func (t *TradingEngine) Stop() {
	close(t.stop)
}

func untilNextMidnight() time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	return next.Sub(now)
}

// PositionCount returns the number of open positions.
func (t *TradingEngine) PositionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

// Positions returns a snapshot of the open positions.
func (t *TradingEngine) Positions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// ============================================================================
// SCAN
// ============================================================================

// ScanMarket runs one full scan: regime, risk gate, signal funnel, risk
// filter, and up to maxNewPositions entries.
func (t *TradingEngine) ScanMarket() {
	log.Println("🔭 Scanning market...")
	start := time.Now()

	symbols := t.data.TradableSymbols("")
	if len(symbols) == 0 {
		log.Println("⚠️ No tradable symbols, skipping scan")
		return
	}

	state := t.analyzer.AssessMarketState()
	log.Printf("🔭 Market state: %s", state)

	if !t.risk.CheckMarketRisk() {
		log.Println("⚠️ Market risk too high, no new entries this scan")
		return
	}

	signals := t.signals.Generate(symbols)
	if len(signals) == 0 {
		log.Printf("🔭 Scan done, no signals (%.1fs)", time.Since(start).Seconds())
		return
	}

	filtered := t.risk.FilterSignals(signals)
	ranked := t.risk.RankSignals(filtered)

	executed := 0
	for _, sig := range ranked {
		if executed >= t.maxNewPositions {
			break
		}
		if !t.risk.CanOpenPosition(sig) {
			continue
		}
		if err := t.ExecuteEntry(sig); err != nil {
			log.Printf("❌ Entry for %s failed: %v", sig.Symbol, err)
			continue
		}
		executed++
	}

	log.Printf("🔭 Scan done: %d signals, %d entries (%.1fs)", len(signals), executed, time.Since(start).Seconds())
}

// ============================================================================
// ENTRY FLOW
// ============================================================================

// ExecuteEntry opens the first 50% stage of a position, arms the
// second-stage conditional above the previous high, and places the initial
// stop.
func (t *TradingEngine) ExecuteEntry(sig Signal) error {
	t.mu.Lock()
	if _, exists := t.positions[sig.Symbol]; exists {
		t.mu.Unlock()
		return fmt.Errorf("position already open for %s", sig.Symbol)
	}
	t.mu.Unlock()

	log.Printf("⚡ Entering %s (score %.1f, momentum %.2f%%)", sig.Symbol, sig.Score, sig.Momentum)
	t.publish("signal", sig)

	size := t.risk.CalculatePositionSize(sig)
	firstStage := size * 0.5

	result := t.executor.ExecuteEntry(sig.Symbol, firstStage, sig.EntryPrice, "first_stage", "")
	if !result.Success {
		t.risk.UpdatePosition(sig.Symbol, "close", 0) // release the reserved risk
		return fmt.Errorf("first stage order failed: %s", result.Error)
	}

	pos := &Position{
		Symbol:       sig.Symbol,
		EntryTime:    time.Now(),
		EntryPrice:   result.AvgPrice,
		PositionSize: result.Size,
		StopLoss:     result.AvgPrice * 0.98,
		TargetProfit: result.AvgPrice * (1 + sig.ProfitTarget),
		Stage:        1,
		Sector:       sig.Sector,
		Orders:       []OrderResult{result},
	}

	t.risk.UpdatePosition(sig.Symbol, "open", 0)

	t.setupSecondStage(pos, size*0.5)

	stop := t.executor.SetStopLoss(sig.Symbol, pos.StopLoss, pos.PositionSize, "")
	pos.softStop = stop.Type == "soft_stop_loss" || !stop.Success

	t.mu.Lock()
	t.positions[sig.Symbol] = pos
	t.mu.Unlock()

	t.tracker.RecordTrade(sig.Symbol, "entry", result.AvgPrice, result.AvgPrice, result.Size, 0)
	t.publish("entry", pos)
	if t.notifier != nil {
		t.notifier.NotifyEntry(sig.Symbol, result.AvgPrice, pos.StopLoss, pos.TargetProfit, result.Size)
	}

	log.Printf("✅ %s first stage complete at %.6f (stop %.6f, target %.6f)",
		sig.Symbol, result.AvgPrice, pos.StopLoss, pos.TargetProfit)
	return nil
}

// setupSecondStage arms the breakout conditional above the 7-day high.
func (t *TradingEngine) setupSecondStage(pos *Position, size float64) {
	prevHigh, err := t.indicators.PreviousHigh(pos.Symbol, 7)
	if err != nil {
		log.Printf("⚠️ %s: no previous high, skipping second stage (%v)", pos.Symbol, err)
		return
	}

	cond := Condition{Type: "price_above", Price: prevHigh, RSIBelow: 70}
	result := t.executor.SetConditionalOrder(pos.Symbol, size, prevHigh*1.005, "second_stage", cond, "")

	if result.Type == "soft_conditional" || (!result.Success && result.Type != "conditional") {
		// The engine watches the trigger itself; it lapses after a day.
		r := result
		r.Size = size
		pos.softConditional = &r
		pos.conditionalSet = time.Now()
		log.Printf("📋 %s second stage armed as soft conditional above %.6f", pos.Symbol, prevHigh)
		return
	}
	log.Printf("📋 %s second stage conditional placed above %.6f", pos.Symbol, prevHigh)
}

// ============================================================================
// MONITOR / POSITION STATE MACHINE
// ============================================================================

// MonitorPositions advances every open position. A failure on one symbol
// never reaches its siblings.
func (t *TradingEngine) MonitorPositions() {
	t.mu.Lock()
	snapshot := make([]*Position, 0, len(t.positions))
	for _, p := range t.positions {
		snapshot = append(snapshot, p)
	}
	t.mu.Unlock()

	for _, pos := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("💥 Monitor %s panicked: %v", pos.Symbol, r)
				}
			}()
			if err := t.monitorOne(pos); err != nil {
				log.Printf("⚠️ Monitor %s: %v", pos.Symbol, err)
			}
		}()
	}
}

func (t *TradingEngine) monitorOne(pos *Position) error {
	price, err := t.data.GetCurrentPrice(pos.Symbol, "")
	if err != nil {
		return err
	}

	t.checkSoftConditional(pos, price)

	// Trailing stop: once up 3%, ratchet the stop and never lower it.
	if price/pos.EntryPrice > trailingActivation {
		newStop := pos.EntryPrice
		if s := pos.StopLoss * trailingStopStep; s > newStop {
			newStop = s
		}
		if newStop > pos.StopLoss {
			result := t.executor.UpdateStopLoss(pos.Symbol, newStop, pos.PositionSize, "")
			pos.StopLoss = newStop
			pos.softStop = result.Type == "soft_stop_loss" || !result.Success
			log.Printf("🎯 %s trailing stop raised to %.6f", pos.Symbol, newStop)
			t.publish("stop_update", pos)
		}
	}

	// Soft stop enforcement for exchanges without native stops.
	if pos.softStop && price <= pos.StopLoss {
		log.Printf("🛑 %s soft stop hit at %.6f", pos.Symbol, price)
		return t.closePosition(pos, price, "stop_loss")
	}

	profitPct := (price/pos.EntryPrice - 1) * 100
	targetPct := (pos.TargetProfit/pos.EntryPrice - 1) * 100

	// TP ladder: each rung fires at most once and sells a fraction of the
	// remaining size. Rungs are checked highest-first, so a jump past several
	// rungs fires only the highest one on this tick.
	switch {
	case profitPct >= targetPct*1.2 && !pos.TP3Done:
		if err := t.takeProfit(pos, 0.3, price, 3); err != nil {
			return err
		}
		pos.TP3Done = true
		return t.removePosition(pos, "take_profit_complete")

	case profitPct >= targetPct && !pos.TP2Done:
		if err := t.takeProfit(pos, 0.4, price, 2); err != nil {
			return err
		}
		pos.TP2Done = true

	case profitPct >= targetPct*0.8 && !pos.TP1Done:
		if err := t.takeProfit(pos, 0.3, price, 1); err != nil {
			return err
		}
		pos.TP1Done = true
	}

	// Time stop: stale positions with no follow-through get cut.
	if time.Since(pos.EntryTime) > timeStopAge && profitPct < timeStopMinProfitPct {
		log.Printf("⏰ %s time stop: %.1fh old with %.2f%% profit", pos.Symbol,
			time.Since(pos.EntryTime).Hours(), profitPct)
		return t.closePosition(pos, price, "time_stop")
	}

	return nil
}

// checkSoftConditional fires or expires the client-side second-stage entry.
func (t *TradingEngine) checkSoftConditional(pos *Position, price float64) {
	cond := pos.softConditional
	if cond == nil {
		return
	}

	if time.Since(pos.conditionalSet) > softConditionalExpiry {
		log.Printf("📋 %s second-stage conditional expired", pos.Symbol)
		pos.softConditional = nil
		return
	}

	triggered := false
	switch cond.Condition.Type {
	case "price_above":
		triggered = price > cond.Condition.Price
	case "price_below":
		triggered = price < cond.Condition.Price
	}
	if !triggered {
		return
	}

	if cond.Condition.RSIBelow > 0 {
		rsi, err := t.indicators.RSI(pos.Symbol, 14, "1h")
		if err != nil || rsi >= cond.Condition.RSIBelow {
			return // overbought breakout, keep waiting
		}
	}

	log.Printf("🚀 %s second-stage trigger hit at %.6f", pos.Symbol, price)
	result := t.executor.ExecuteEntry(pos.Symbol, cond.Size, price, "second_stage", "")
	pos.softConditional = nil
	if !result.Success {
		log.Printf("❌ %s second stage failed: %s", pos.Symbol, result.Error)
		return
	}

	pos.PositionSize += result.Size
	pos.Stage = 2
	pos.Orders = append(pos.Orders, result)
	t.publish("entry", pos)
	log.Printf("✅ %s second stage filled: +%.6f (total %.6f)", pos.Symbol, result.Size, pos.PositionSize)
}

// takeProfit sells a fraction of the remaining size for one TP rung.
func (t *TradingEngine) takeProfit(pos *Position, fraction, price float64, rung int) error {
	sizeToSell := pos.PositionSize * fraction

	result := t.executor.ExecuteExit(pos.Symbol, sizeToSell, price, "take_profit", "")
	if !result.Success {
		return fmt.Errorf("TP%d order failed: %s", rung, result.Error)
	}

	pos.PositionSize -= result.Size
	pos.Orders = append(pos.Orders, result)

	t.risk.UpdatePosition(pos.Symbol, "partial_close", result.Size)
	t.tracker.RecordTrade(pos.Symbol, "take_profit", pos.EntryPrice, result.AvgPrice, result.Size, 0)
	t.publish("exit", result)
	if t.notifier != nil {
		t.notifier.NotifyExit(pos.Symbol, result.AvgPrice, pos.EntryPrice, result.Size, fmt.Sprintf("take_profit_%d", rung))
	}

	log.Printf("💰 %s TP%d: sold %.6f at %.6f (remaining %.6f)",
		pos.Symbol, rung, result.Size, result.AvgPrice, pos.PositionSize)
	return nil
}

// closePosition fully exits and removes the position.
func (t *TradingEngine) closePosition(pos *Position, price float64, reason string) error {
	result := t.executor.ExecuteExit(pos.Symbol, pos.PositionSize, price, reason, "")
	if !result.Success {
		return fmt.Errorf("exit failed: %s", result.Error)
	}

	t.tracker.RecordTrade(pos.Symbol, exitAction(reason), pos.EntryPrice, result.AvgPrice, result.Size, 0)
	t.publish("exit", result)
	if t.notifier != nil {
		t.notifier.NotifyExit(pos.Symbol, result.AvgPrice, pos.EntryPrice, result.Size, reason)
	}

	return t.removePosition(pos, reason)
}

func exitAction(reason string) string {
	if reason == "stop_loss" {
		return "stop_loss"
	}
	return "exit"
}

// removePosition drops the record and releases its risk budget.
func (t *TradingEngine) removePosition(pos *Position, reason string) error {
	t.mu.Lock()
	delete(t.positions, pos.Symbol)
	t.mu.Unlock()

	pos.softConditional = nil
	t.risk.UpdatePosition(pos.Symbol, "close", 0)
	log.Printf("🏁 %s position closed (%s)", pos.Symbol, reason)
	return nil
}
