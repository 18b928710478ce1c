package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TradeRecord is one tracked trade event.
type TradeRecord struct {
	Symbol       string    `json:"symbol"`
	Action       string    `json:"action"` // "entry", "exit", "take_profit", "stop_loss"
	EntryPrice   float64   `json:"entry_price"`
	ExitPrice    float64   `json:"exit_price"`
	Size         float64   `json:"size"`
	ProfitPct    float64   `json:"profit_pct"`
	ProfitAmount float64   `json:"profit_amount"`
	Fees         float64   `json:"fees"`
	Timestamp    time.Time `json:"timestamp"`
}

// PerformanceMetrics is the aggregate strategy scorecard.
type PerformanceMetrics struct {
	TotalTrades     int       `json:"total_trades"`
	WinningTrades   int       `json:"winning_trades"`
	LosingTrades    int       `json:"losing_trades"`
	WinRate         float64   `json:"win_rate"`
	AvgWin          float64   `json:"avg_win"`
	AvgLoss         float64   `json:"avg_loss"`
	ProfitLossRatio float64   `json:"profit_loss_ratio"`
	Expectancy      float64   `json:"expectancy"`
	TotalProfit     float64   `json:"total_profit"`
	TotalLoss       float64   `json:"total_loss"`
	TotalFees       float64   `json:"total_fees"`
	NetProfit       float64   `json:"net_profit"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Timestamp       time.Time `json:"timestamp"`
}

// DailyMetrics summarizes one day's trading for the daily report.
type DailyMetrics struct {
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"win_rate"`
	Profit    float64 `json:"profit"`
	Fees      float64 `json:"fees"`
	NetProfit float64 `json:"net_profit"`
}

// DailyReport is the persisted report document.
type DailyReport struct {
	Date           string             `json:"date"`
	DailyMetrics   DailyMetrics       `json:"daily_metrics"`
	OverallMetrics PerformanceMetrics `json:"overall_metrics"`
	Timestamp      time.Time          `json:"timestamp"`
}

var closingActions = map[string]bool{"exit": true, "take_profit": true, "stop_loss": true}

// PerformanceTracker records trade outcomes and persists the running
// scorecard under the data directory.
type PerformanceTracker struct {
	dataDir         string
	tradesFile      string
	performanceFile string
	accountBalance  float64

	mu            sync.Mutex
	trades        []TradeRecord
	totalTrades   int
	winningTrades int
	losingTrades  int
	totalProfit   float64
	totalLoss     float64
	totalFees     float64
	maxDrawdown   float64
}

func NewPerformanceTracker(dataDir string, accountBalance float64) *PerformanceTracker {
	t := &PerformanceTracker{
		dataDir:         dataDir,
		tradesFile:      filepath.Join(dataDir, "trades.json"),
		performanceFile: filepath.Join(dataDir, "performance.json"),
		accountBalance:  accountBalance,
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Printf("❌ Failed to create data dir %s: %v", dataDir, err)
	}
	t.load()
	return t
}

// RecordTrade appends a trade event and updates the running totals for
// closing actions.
func (t *PerformanceTracker) RecordTrade(symbol, action string, entryPrice, exitPrice, size, fees float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	trade := TradeRecord{
		Symbol:     symbol,
		Action:     action,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		Size:       size,
		Fees:       fees,
		Timestamp:  time.Now(),
	}
	if closingActions[action] && entryPrice > 0 {
		trade.ProfitPct = (exitPrice/entryPrice - 1) * 100
		trade.ProfitAmount = (exitPrice - entryPrice) * size
	}

	t.trades = append(t.trades, trade)

	if closingActions[action] {
		t.totalTrades++
		if trade.ProfitAmount > 0 {
			t.winningTrades++
			t.totalProfit += trade.ProfitAmount
		} else {
			t.losingTrades++
			t.totalLoss += -trade.ProfitAmount
		}
		t.totalFees += fees

		sign := ""
		if trade.ProfitAmount > 0 {
			sign = "+"
		}
		log.Printf("📈 Trade recorded: %s %s: %s%.2f USD (%s%.2f%%)",
			symbol, action, sign, trade.ProfitAmount, sign, trade.ProfitPct)
	}

	t.saveLocked()
}

// CalculateMetrics computes the aggregate scorecard.
func (t *PerformanceTracker) CalculateMetrics() PerformanceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked()
}

func (t *PerformanceTracker) metricsLocked() PerformanceMetrics {
	m := PerformanceMetrics{
		TotalTrades:   t.totalTrades,
		WinningTrades: t.winningTrades,
		LosingTrades:  t.losingTrades,
		TotalProfit:   t.totalProfit,
		TotalLoss:     t.totalLoss,
		TotalFees:     t.totalFees,
		NetProfit:     t.totalProfit - t.totalLoss - t.totalFees,
		Timestamp:     time.Now(),
	}
	if t.totalTrades > 0 {
		m.WinRate = float64(t.winningTrades) / float64(t.totalTrades) * 100
	}
	if t.winningTrades > 0 {
		m.AvgWin = t.totalProfit / float64(t.winningTrades)
	}
	if t.losingTrades > 0 {
		m.AvgLoss = t.totalLoss / float64(t.losingTrades)
	}
	if m.AvgLoss > 0 {
		m.ProfitLossRatio = m.AvgWin / m.AvgLoss
	}
	m.Expectancy = m.WinRate/100*m.AvgWin - (100-m.WinRate)/100*m.AvgLoss

	m.MaxDrawdown = t.maxDrawdownLocked()
	if t.accountBalance > 0 {
		m.MaxDrawdownPct = m.MaxDrawdown / t.accountBalance * 100
	}
	return m
}

// maxDrawdownLocked walks the balance curve implied by the closing trades.
func (t *PerformanceTracker) maxDrawdownLocked() float64 {
	if len(t.trades) == 0 {
		return 0
	}

	sorted := make([]TradeRecord, len(t.trades))
	copy(sorted, t.trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	balance := t.accountBalance
	peak := balance
	drawdown := 0.0
	for _, trade := range sorted {
		if !closingActions[trade.Action] {
			continue
		}
		balance += trade.ProfitAmount - trade.Fees
		if balance > peak {
			peak = balance
		}
		if dd := peak - balance; dd > drawdown {
			drawdown = dd
		}
	}
	t.maxDrawdown = drawdown
	return drawdown
}

// GenerateDailyReport prints today's summary and writes the report document.
// On a day without closing trades it only logs that and writes no file.
func (t *PerformanceTracker) GenerateDailyReport() {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	var daily DailyMetrics
	for _, trade := range t.trades {
		if trade.Timestamp.Format("2006-01-02") != today || !closingActions[trade.Action] {
			continue
		}
		daily.Trades++
		if trade.ProfitAmount > 0 {
			daily.Wins++
		} else {
			daily.Losses++
		}
		daily.Profit += trade.ProfitAmount
		daily.Fees += trade.Fees
	}
	daily.NetProfit = daily.Profit - daily.Fees
	if daily.Trades > 0 {
		daily.WinRate = float64(daily.Wins) / float64(daily.Trades) * 100
	}

	if daily.Trades == 0 {
		log.Println("📊 Daily report: no trades today")
		return
	}

	log.Printf("📊 Daily report (%s): %d trades, %d wins, %d losses, win rate %.1f%%, net $%.2f",
		today, daily.Trades, daily.Wins, daily.Losses, daily.WinRate, daily.NetProfit)

	report := DailyReport{
		Date:           today,
		DailyMetrics:   daily,
		OverallMetrics: t.metricsLocked(),
		Timestamp:      time.Now(),
	}

	path := filepath.Join(t.dataDir, fmt.Sprintf("report_%s.json", today))
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		log.Printf("❌ Failed to write daily report: %v", err)
		return
	}
	log.Printf("📊 Daily report saved to %s", path)
}

// RecentTrades returns the most recent count trades, newest first.
func (t *PerformanceTracker) RecentTrades(count int) []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := make([]TradeRecord, len(t.trades))
	copy(sorted, t.trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if len(sorted) > count {
		sorted = sorted[:count]
	}
	return sorted
}

func (t *PerformanceTracker) load() {
	if data, err := os.ReadFile(t.tradesFile); err == nil {
		if err := json.Unmarshal(data, &t.trades); err == nil {
			log.Printf("📈 Loaded %d historical trades", len(t.trades))
		}
	}
	if data, err := os.ReadFile(t.performanceFile); err == nil {
		var m PerformanceMetrics
		if err := json.Unmarshal(data, &m); err == nil {
			t.totalTrades = m.TotalTrades
			t.winningTrades = m.WinningTrades
			t.losingTrades = m.LosingTrades
			t.totalProfit = m.TotalProfit
			t.totalLoss = m.TotalLoss
			t.totalFees = m.TotalFees
			t.maxDrawdown = m.MaxDrawdown
		}
	}
}

func (t *PerformanceTracker) saveLocked() {
	if data, err := json.MarshalIndent(t.trades, "", "  "); err == nil {
		if err := os.WriteFile(t.tradesFile, data, 0o644); err != nil {
			log.Printf("❌ Failed to save trades: %v", err)
		}
	}
	metrics := t.metricsLocked()
	if data, err := json.MarshalIndent(metrics, "", "  "); err == nil {
		if err := os.WriteFile(t.performanceFile, data, 0o644); err != nil {
			log.Printf("❌ Failed to save performance metrics: %v", err)
		}
	}
}
