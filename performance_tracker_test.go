package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTradeAndMetrics(t *testing.T) {
	tracker := NewPerformanceTracker(t.TempDir(), 10000)

	tracker.RecordTrade("SOL/USDT", "entry", 100, 100, 10, 0)
	tracker.RecordTrade("SOL/USDT", "take_profit", 100, 110, 3, 1)
	tracker.RecordTrade("SOL/USDT", "exit", 100, 95, 7, 1)

	m := tracker.CalculateMetrics()
	assert.Equal(t, 2, m.TotalTrades, "entries don't count as closed trades")
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 30.0, m.TotalProfit, 1e-9) // (110-100)*3
	assert.InDelta(t, 35.0, m.TotalLoss, 1e-9)   // (100-95)*7
	assert.InDelta(t, 2.0, m.TotalFees, 1e-9)
	assert.InDelta(t, -7.0, m.NetProfit, 1e-9)
}

func TestTrackerPersistence(t *testing.T) {
	dir := t.TempDir()

	tracker := NewPerformanceTracker(dir, 10000)
	tracker.RecordTrade("SOL/USDT", "take_profit", 100, 120, 5, 0)

	// A fresh tracker over the same directory restores the history.
	reloaded := NewPerformanceTracker(dir, 10000)
	m := reloaded.CalculateMetrics()
	assert.Equal(t, 1, m.TotalTrades)
	assert.InDelta(t, 100.0, m.TotalProfit, 1e-9)

	recent := reloaded.RecentTrades(5)
	require.Len(t, recent, 1)
	assert.Equal(t, "SOL/USDT", recent[0].Symbol)
}

func TestMaxDrawdownOverBalanceCurve(t *testing.T) {
	tracker := NewPerformanceTracker(t.TempDir(), 10000)

	// +500, then -800: the trough is 800 below the 10500 peak.
	tracker.RecordTrade("A/USDT", "exit", 100, 150, 10, 0)
	time.Sleep(5 * time.Millisecond)
	tracker.RecordTrade("B/USDT", "exit", 100, 20, 10, 0)

	m := tracker.CalculateMetrics()
	assert.InDelta(t, 800.0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 8.0, m.MaxDrawdownPct, 1e-9)
}

func TestDailyReportWritten(t *testing.T) {
	dir := t.TempDir()
	tracker := NewPerformanceTracker(dir, 10000)
	tracker.RecordTrade("SOL/USDT", "take_profit", 100, 110, 5, 0)

	tracker.GenerateDailyReport()

	today := time.Now().Format("2006-01-02")
	path := filepath.Join(dir, "report_"+today+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"wins": 1`)
}
