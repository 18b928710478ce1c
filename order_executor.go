package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	entryFillTimeout = 60 * time.Second
	exitFillTimeout  = 30 * time.Second
	fillPollInterval = 3 * time.Second
	icebergMaxBatch  = 5
	orderBookDepth   = 20
)

// OrderResult is the structured outcome of an entry or exit.
type OrderResult struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	OrderID   string        `json:"order_id,omitempty"`
	Symbol    string        `json:"symbol"`
	Size      float64       `json:"size"`
	AvgPrice  float64       `json:"avg_price"`
	Stage     string        `json:"stage,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	IsIceberg bool          `json:"is_iceberg,omitempty"`
	SubOrders []OrderResult `json:"orders,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// StopOrderResult is the outcome of placing or updating a stop.
// Type "soft_stop_loss" means the engine must enforce the stop itself.
type StopOrderResult struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	StopPrice float64   `json:"stop_price"`
	Size      float64   `json:"size"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Condition is the trigger of a conditional order.
type Condition struct {
	Type     string  `json:"type"` // "price_above" or "price_below"
	Price    float64 `json:"price"`
	RSIBelow float64 `json:"rsi_below,omitempty"`
}

// ConditionalOrderResult is the outcome of placing a conditional order.
// Type "soft_conditional" means the engine watches the trigger itself.
type ConditionalOrderResult struct {
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	TriggerPrice float64   `json:"trigger_price"`
	Price        float64   `json:"price"`
	Size         float64   `json:"size"`
	Stage        string    `json:"stage"`
	Type         string    `json:"type"`
	Condition    Condition `json:"condition"`
	Timestamp    time.Time `json:"timestamp"`
}

// SubOrderRecord is one iceberg batch inside an entry journal record.
type SubOrderRecord struct {
	OrderID   string    `json:"order_id"`
	Size      float64   `json:"size"`
	AvgPrice  float64   `json:"avg_price"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryRecord is one element of the entry journal's JSON array.
type EntryRecord struct {
	Timestamp  time.Time        `json:"timestamp"`
	Symbol     string           `json:"symbol"`
	ExchangeID string           `json:"exchange_id"`
	OrderID    string           `json:"order_id"`
	Size       float64          `json:"size"`
	AvgPrice   float64          `json:"avg_price"`
	Stage      string           `json:"stage"`
	IsIceberg  bool             `json:"is_iceberg"`
	Cost       float64          `json:"cost"`
	SubOrders  []SubOrderRecord `json:"sub_orders,omitempty"`
}

// ExitRecord is one element of the exit journal's JSON array. The entry linkage fields are
// present only when a matching entry was found.
type ExitRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Symbol           string    `json:"symbol"`
	ExchangeID       string    `json:"exchange_id"`
	OrderID          string    `json:"order_id"`
	Size             float64   `json:"size"`
	AvgPrice         float64   `json:"avg_price"`
	Reason           string    `json:"reason"`
	Revenue          float64   `json:"revenue"`
	EntryOrderID     string    `json:"entry_order_id,omitempty"`
	EntryPrice       *float64  `json:"entry_price,omitempty"`
	ProfitPercentage *float64  `json:"profit_percentage,omitempty"`
	ProfitAmount     *float64  `json:"profit_amount,omitempty"`
}

// TradingStats is the summary derived from the two journals.
type TradingStats struct {
	TotalEntries        int           `json:"total_entries"`
	TotalExits          int           `json:"total_exits"`
	TotalProfit         float64       `json:"total_profit"`
	WinCount            int           `json:"win_count"`
	LossCount           int           `json:"loss_count"`
	WinRate             float64       `json:"win_rate"`
	AvgProfitPercentage float64       `json:"avg_profit_percentage"`
	MaxProfitPercentage float64       `json:"max_profit_percentage"`
	MaxLossPercentage   float64       `json:"max_loss_percentage"`
	TotalVolume         float64       `json:"total_volume"`
	ActivePositions     []EntryRecord `json:"active_positions"`
}

// TradingHistory bundles the raw journals with their derived stats.
type TradingHistory struct {
	EntryOrders []EntryRecord `json:"entry_orders"`
	ExitOrders  []ExitRecord  `json:"exit_orders"`
	Stats       TradingStats  `json:"stats"`
}

// ============================================================================
// ORDER EXECUTOR
// ============================================================================

// OrderExecutor places entries, exits, stops and conditional orders and
// appends every successful fill to the durable order journals.
type OrderExecutor struct {
	adapters        map[string]ExchangeAdapter
	defaultExchange string

	dryRun           bool
	icebergThreshold float64
	minOrderAmount   float64

	entryLogFile string
	exitLogFile  string
	entryMu      sync.Mutex
	exitMu       sync.Mutex

	// sleep is swapped out in tests so iceberg pacing doesn't stall them.
	sleep func(time.Duration)
	rng   *rand.Rand
}

func NewOrderExecutor(adapters map[string]ExchangeAdapter, defaultExchange, logDir string,
	dryRun bool, icebergThreshold, minOrderAmount float64) *OrderExecutor {
	return &OrderExecutor{
		adapters:         adapters,
		defaultExchange:  defaultExchange,
		dryRun:           dryRun,
		icebergThreshold: icebergThreshold,
		minOrderAmount:   minOrderAmount,
		entryLogFile:     filepath.Join(logDir, "entry_orders.json"),
		exitLogFile:      filepath.Join(logDir, "exit_orders.json"),
		sleep:            time.Sleep,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *OrderExecutor) adapter(exchangeID string) (ExchangeAdapter, string, error) {
	if exchangeID == "" {
		exchangeID = e.defaultExchange
	}
	a, ok := e.adapters[exchangeID]
	if !ok {
		return nil, exchangeID, fmt.Errorf("exchange %s not configured", exchangeID)
	}
	return a, exchangeID, nil
}

func failure(symbol string, err error) OrderResult {
	return OrderResult{Success: false, Symbol: symbol, Error: err.Error(), Timestamp: time.Now()}
}

// ExecuteEntry buys size at the best executable price. Sizes above the
// iceberg threshold are split into sequential batches; one journal record
// is written either way.
func (e *OrderExecutor) ExecuteEntry(symbol string, size, price float64, stage, exchangeID string) OrderResult {
	a, exchangeID, err := e.adapter(exchangeID)
	if err != nil {
		log.Printf("❌ Entry %s failed: %v", symbol, err)
		return failure(symbol, err)
	}

	ctx, cancel := newAdapterContext()
	err = a.LoadMarkets(ctx)
	cancel()
	if err != nil {
		return failure(symbol, fmt.Errorf("load markets: %w", err))
	}
	if _, err := a.Market(symbol); err != nil {
		return failure(symbol, err)
	}

	var result OrderResult
	if size > e.icebergThreshold {
		result = e.executeIcebergEntry(a, symbol, size, price, stage)
	} else {
		result = e.executeSingleEntry(a, symbol, size, price, stage)
	}

	if result.Success {
		e.logEntryOrder(result, exchangeID)
	}
	return result
}

func (e *OrderExecutor) executeSingleEntry(a ExchangeAdapter, symbol string, size, price float64, stage string) OrderResult {
	log.Printf("🛒 Entry %s: size=%.6f price=%.6f stage=%s", symbol, size, price, stage)

	market, err := a.Market(symbol)
	if err != nil {
		return failure(symbol, err)
	}

	ctx, cancel := newAdapterContext()
	book, err := a.FetchOrderBook(ctx, symbol, orderBookDepth)
	cancel()
	if err != nil {
		return failure(symbol, fmt.Errorf("order book: %w", err))
	}

	actualPrice := calculateBuyPrice(price, book, market)
	adjustedSize := adjustAmountPrecision(size, market)

	if adjustedSize*actualPrice < e.minNotional(market) {
		return failure(symbol, fmt.Errorf("notional %.2f below minimum %.2f",
			adjustedSize*actualPrice, e.minNotional(market)))
	}

	var (
		orderID  string
		avgPrice float64
	)
	if e.dryRun {
		orderID = dryRunID("")
		avgPrice = actualPrice
		log.Printf("🟢 [DRY RUN] Buy %s: size=%.6f price=%.6f", symbol, adjustedSize, actualPrice)
	} else {
		ctx, cancel := newAdapterContext()
		order, err := a.CreateLimitBuyOrder(ctx, symbol, adjustedSize, actualPrice)
		cancel()
		if err != nil {
			return failure(symbol, fmt.Errorf("limit buy: %w", err))
		}
		orderID = order.ID

		if !e.waitForOrderFill(a, orderID, symbol, entryFillTimeout) {
			e.cancelAndFillRemainder(a, orderID, symbol, true)
		}

		ctx, cancel = newAdapterContext()
		final, err := a.FetchOrder(ctx, orderID, symbol)
		cancel()
		if err != nil {
			return failure(symbol, fmt.Errorf("fetch order: %w", err))
		}
		avgPrice = final.Average
		if avgPrice == 0 {
			avgPrice = final.Price
		}
	}

	log.Printf("✅ Entry %s filled: id=%s avg=%.6f", symbol, orderID, avgPrice)
	return OrderResult{
		Success:   true,
		OrderID:   orderID,
		Symbol:    symbol,
		Size:      adjustedSize,
		AvgPrice:  avgPrice,
		Stage:     stage,
		Timestamp: time.Now(),
	}
}

func (e *OrderExecutor) executeIcebergEntry(a ExchangeAdapter, symbol string, size, price float64, stage string) OrderResult {
	batchCount := int(math.Ceil(size / e.icebergThreshold))
	if batchCount > icebergMaxBatch {
		batchCount = icebergMaxBatch
	}
	batchSize := size / float64(batchCount)

	log.Printf("🧊 Iceberg entry %s: total=%.6f in %d batches of ~%.6f", symbol, size, batchCount, batchSize)

	var (
		subOrders   []OrderResult
		totalFilled float64
		totalCost   float64
	)
	for i := 0; i < batchCount; i++ {
		remaining := size - totalFilled
		current := math.Min(batchSize, remaining)

		sub := e.executeSingleEntry(a, symbol, current, price, fmt.Sprintf("%s_iceberg_%d", stage, i+1))
		if !sub.Success {
			log.Printf("⚠️ Iceberg batch %d/%d failed: %s", i+1, batchCount, sub.Error)
			break
		}

		subOrders = append(subOrders, sub)
		totalFilled += sub.Size
		totalCost += sub.Size * sub.AvgPrice

		if i < batchCount-1 {
			// Randomized gap so the batches don't read as one bot.
			e.sleep(3*time.Second + time.Duration(e.rng.Float64()*4*float64(time.Second)))
		}
	}

	avgPrice := price
	if totalFilled > 0 {
		avgPrice = totalCost / totalFilled
	}

	return OrderResult{
		Success:   totalFilled > 0,
		Symbol:    symbol,
		Size:      totalFilled,
		AvgPrice:  avgPrice,
		Stage:     stage,
		IsIceberg: true,
		SubOrders: subOrders,
		Timestamp: time.Now(),
	}
}

// ExecuteExit sells size at the best executable price; an unfilled limit is
// cancelled after 30s and the remainder sold at market.
func (e *OrderExecutor) ExecuteExit(symbol string, size, price float64, reason, exchangeID string) OrderResult {
	a, exchangeID, err := e.adapter(exchangeID)
	if err != nil {
		log.Printf("❌ Exit %s failed: %v", symbol, err)
		return failure(symbol, err)
	}

	log.Printf("💸 Exit %s: size=%.6f price=%.6f reason=%s", symbol, size, price, reason)

	market, err := a.Market(symbol)
	if err != nil {
		return failure(symbol, err)
	}

	ctx, cancel := newAdapterContext()
	book, err := a.FetchOrderBook(ctx, symbol, orderBookDepth)
	cancel()
	if err != nil {
		return failure(symbol, fmt.Errorf("order book: %w", err))
	}

	actualPrice := calculateSellPrice(price, book, market)
	adjustedSize := adjustAmountPrecision(size, market)

	var (
		orderID  string
		avgPrice float64
	)
	if e.dryRun {
		orderID = dryRunID("")
		avgPrice = actualPrice
		log.Printf("🟢 [DRY RUN] Sell %s: size=%.6f price=%.6f", symbol, adjustedSize, actualPrice)
	} else {
		ctx, cancel := newAdapterContext()
		order, err := a.CreateLimitSellOrder(ctx, symbol, adjustedSize, actualPrice)
		cancel()
		if err != nil {
			return failure(symbol, fmt.Errorf("limit sell: %w", err))
		}
		orderID = order.ID

		if !e.waitForOrderFill(a, orderID, symbol, exitFillTimeout) {
			e.cancelAndFillRemainder(a, orderID, symbol, false)
		}

		ctx, cancel = newAdapterContext()
		final, err := a.FetchOrder(ctx, orderID, symbol)
		cancel()
		if err != nil {
			return failure(symbol, fmt.Errorf("fetch order: %w", err))
		}
		avgPrice = final.Average
		if avgPrice == 0 {
			avgPrice = final.Price
		}
	}

	result := OrderResult{
		Success:   true,
		OrderID:   orderID,
		Symbol:    symbol,
		Size:      adjustedSize,
		AvgPrice:  avgPrice,
		Reason:    reason,
		Timestamp: time.Now(),
	}

	log.Printf("✅ Exit %s filled: id=%s avg=%.6f", symbol, orderID, avgPrice)
	e.logExitOrder(result, exchangeID)
	return result
}

// cancelAndFillRemainder cancels an unfilled limit order and converts the
// remainder to a market order.
func (e *OrderExecutor) cancelAndFillRemainder(a ExchangeAdapter, orderID, symbol string, buy bool) {
	ctx, cancel := newAdapterContext()
	defer cancel()

	if err := a.CancelOrder(ctx, orderID, symbol); err != nil {
		log.Printf("⚠️ Cancel %s failed: %v", orderID, err)
	}

	order, err := a.FetchOrder(ctx, orderID, symbol)
	if err != nil || order.Remaining <= 0 {
		return
	}

	log.Printf("🌉 Converting remaining %.6f %s to market", order.Remaining, symbol)
	if buy {
		_, err = a.CreateMarketBuyOrder(ctx, symbol, order.Remaining)
	} else {
		_, err = a.CreateMarketSellOrder(ctx, symbol, order.Remaining)
	}
	if err != nil {
		log.Printf("❌ Market remainder for %s failed: %v", symbol, err)
	}
}

// waitForOrderFill polls the order every 3s until it closes, is cancelled,
// or the timeout passes.
func (e *OrderExecutor) waitForOrderFill(a ExchangeAdapter, orderID, symbol string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := newAdapterContext()
		order, err := a.FetchOrder(ctx, orderID, symbol)
		cancel()
		if err != nil {
			log.Printf("⚠️ Order %s status check failed: %v", orderID, err)
			e.sleep(5 * time.Second)
			continue
		}

		switch order.Status {
		case OrderStatusClosed:
			return true
		case OrderStatusCanceled:
			log.Printf("⚠️ Order %s was cancelled", orderID)
			return false
		}
		if order.Filled > 0 {
			log.Printf("🧩 Order %s partial fill: %.6f/%.6f", orderID, order.Filled, order.Amount)
		}

		e.sleep(fillPollInterval)
	}
	log.Printf("⏳ Order %s fill wait timed out", orderID)
	return false
}

// SetStopLoss places an exchange-native stop when supported; otherwise it
// returns a soft-stop marker the engine enforces by watching price.
func (e *OrderExecutor) SetStopLoss(symbol string, stopPrice, size float64, exchangeID string) StopOrderResult {
	a, _, err := e.adapter(exchangeID)
	if err != nil {
		return StopOrderResult{Success: false, Error: err.Error(), StopPrice: stopPrice, Size: size, Timestamp: time.Now()}
	}

	market, err := a.Market(symbol)
	if err != nil {
		return StopOrderResult{Success: false, Error: err.Error(), StopPrice: stopPrice, Size: size, Timestamp: time.Now()}
	}
	adjustedSize := adjustAmountPrecision(size, market)

	if !a.Supports(CapStopLoss) {
		log.Printf("⚠️ %s lacks native stop orders, falling back to soft stop for %s", a.ID(), symbol)
		return StopOrderResult{
			Success:   false,
			Error:     "exchange does not support stop orders, using soft stop",
			StopPrice: stopPrice,
			Size:      adjustedSize,
			Type:      "soft_stop_loss",
			Timestamp: time.Now(),
		}
	}

	var orderID string
	if e.dryRun {
		orderID = dryRunID("sl")
		log.Printf("🟢 [DRY RUN] Stop loss %s: trigger=%.6f size=%.6f", symbol, stopPrice, adjustedSize)
	} else {
		ctx, cancel := newAdapterContext()
		order, err := a.CreateStopLossOrder(ctx, symbol, adjustedSize, stopPrice)
		cancel()
		if err != nil {
			return StopOrderResult{Success: false, Error: err.Error(), StopPrice: stopPrice, Size: adjustedSize, Timestamp: time.Now()}
		}
		orderID = order.ID
	}

	log.Printf("🛡️ Stop loss set for %s at %.6f (id=%s)", symbol, stopPrice, orderID)
	return StopOrderResult{
		Success:   true,
		OrderID:   orderID,
		StopPrice: stopPrice,
		Size:      adjustedSize,
		Type:      "stop_loss",
		Timestamp: time.Now(),
	}
}

// UpdateStopLoss cancels any open stop orders for the symbol and places a
// new one at the given price.
func (e *OrderExecutor) UpdateStopLoss(symbol string, newStopPrice, size float64, exchangeID string) StopOrderResult {
	a, _, err := e.adapter(exchangeID)
	if err != nil {
		return StopOrderResult{Success: false, Error: err.Error(), StopPrice: newStopPrice, Size: size, Timestamp: time.Now()}
	}

	log.Printf("🎯 Updating stop loss %s → %.6f", symbol, newStopPrice)

	if !e.dryRun {
		ctx, cancel := newAdapterContext()
		open, err := a.FetchOpenOrders(ctx, symbol)
		cancel()
		if err == nil {
			for _, o := range open {
				if o.Type == "stop_loss" {
					ctx, cancel := newAdapterContext()
					if err := a.CancelOrder(ctx, o.ID, symbol); err != nil {
						log.Printf("⚠️ Cancel old stop %s failed: %v", o.ID, err)
					}
					cancel()
				}
			}
		}
	}

	return e.SetStopLoss(symbol, newStopPrice, size, exchangeID)
}

// SetConditionalOrder places a trigger order when the exchange supports
// them; otherwise it returns a soft-conditional marker for the engine.
func (e *OrderExecutor) SetConditionalOrder(symbol string, size, price float64, stage string,
	cond Condition, exchangeID string) ConditionalOrderResult {

	a, _, err := e.adapter(exchangeID)
	if err != nil {
		return ConditionalOrderResult{Success: false, Error: err.Error(), Condition: cond, Timestamp: time.Now()}
	}

	market, err := a.Market(symbol)
	if err != nil {
		return ConditionalOrderResult{Success: false, Error: err.Error(), Condition: cond, Timestamp: time.Now()}
	}
	adjustedSize := adjustAmountPrecision(size, market)

	log.Printf("📋 Conditional order %s: %s %.6f, buy %.6f @ %.6f stage=%s",
		symbol, cond.Type, cond.Price, adjustedSize, price, stage)

	if e.dryRun {
		return ConditionalOrderResult{
			Success:      true,
			OrderID:      dryRunID("cond"),
			TriggerPrice: cond.Price,
			Price:        price,
			Size:         adjustedSize,
			Stage:        stage,
			Type:         "conditional",
			Condition:    cond,
			Timestamp:    time.Now(),
		}
	}

	if !a.Supports(CapTriggerOrder) {
		log.Printf("⚠️ %s lacks trigger orders, falling back to soft conditional for %s", a.ID(), symbol)
		return ConditionalOrderResult{
			Success:      false,
			Error:        "exchange does not support trigger orders, using soft conditional",
			TriggerPrice: cond.Price,
			Price:        price,
			Size:         adjustedSize,
			Stage:        stage,
			Type:         "soft_conditional",
			Condition:    cond,
			Timestamp:    time.Now(),
		}
	}

	ctx, cancel := newAdapterContext()
	order, err := a.CreateTriggerOrder(ctx, symbol, "buy", adjustedSize, price, cond.Price)
	cancel()
	if err != nil {
		return ConditionalOrderResult{Success: false, Error: err.Error(), Condition: cond, Timestamp: time.Now()}
	}

	return ConditionalOrderResult{
		Success:      true,
		OrderID:      order.ID,
		TriggerPrice: cond.Price,
		Price:        price,
		Size:         adjustedSize,
		Stage:        stage,
		Type:         "conditional",
		Condition:    cond,
		Timestamp:    time.Now(),
	}
}

// ============================================================================
// PRICING & PRECISION
// ============================================================================

// tickSize derives the smallest price increment: the quoted step when the
// market states one, else 10^-precision.
func tickSize(m Market) float64 {
	if m.PriceStep > 0 {
		return m.PriceStep
	}
	if m.PricePrecision >= 0 {
		return math.Pow(10, -float64(m.PricePrecision))
	}
	return 0.00000001
}

// calculateBuyPrice pays the best ask when the target is at or above it (so
// the price can be below the target), else the target plus one tick.
func calculateBuyPrice(target float64, book OrderBook, m Market) float64 {
	if len(book.Asks) == 0 {
		return target
	}
	lowestAsk := book.Asks[0].Price
	if target >= lowestAsk {
		return lowestAsk
	}
	return decimal.NewFromFloat(target).
		Add(decimal.NewFromFloat(tickSize(m))).
		InexactFloat64()
}

// calculateSellPrice mirrors calculateBuyPrice on the bid side.
func calculateSellPrice(target float64, book OrderBook, m Market) float64 {
	if len(book.Bids) == 0 {
		return target
	}
	highestBid := book.Bids[0].Price
	if target <= highestBid {
		return highestBid
	}
	return decimal.NewFromFloat(target).
		Sub(decimal.NewFromFloat(tickSize(m))).
		InexactFloat64()
}

// adjustAmountPrecision floors an amount to the market's lot rules, so the
// adjusted size is never above the requested one.
func adjustAmountPrecision(amount float64, m Market) float64 {
	d := decimal.NewFromFloat(amount)
	if m.AmountStep > 0 {
		step := decimal.NewFromFloat(m.AmountStep)
		return d.Div(step).Floor().Mul(step).InexactFloat64()
	}
	if m.AmountPrecision >= 0 {
		return d.RoundFloor(int32(m.AmountPrecision)).InexactFloat64()
	}
	return amount
}

func (e *OrderExecutor) minNotional(m Market) float64 {
	if m.MinCost > 0 {
		return m.MinCost
	}
	return e.minOrderAmount
}

func dryRunID(kind string) string {
	if kind != "" {
		return fmt.Sprintf("dry_run_%s_%s", kind, uuid.NewString()[:8])
	}
	return fmt.Sprintf("dry_run_%s", uuid.NewString()[:8])
}

// ============================================================================
// JOURNALS
// ============================================================================

// readJournal loads a JSON-array journal, treating a missing or malformed
// file as empty.
func readJournal[T any](path string) []T {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var records []T
	if err := json.Unmarshal(data, &records); err != nil {
		log.Printf("⚠️ Journal %s unparseable, treating as empty", path)
		return nil
	}
	return records
}

// writeJournal re-serializes the whole array and swaps it in atomically via
// a temp file and rename, so a crash mid-write never loses the journal.
func writeJournal[T any](path string, records []T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (e *OrderExecutor) logEntryOrder(result OrderResult, exchangeID string) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()

	record := EntryRecord{
		Timestamp:  result.Timestamp,
		Symbol:     result.Symbol,
		ExchangeID: exchangeID,
		OrderID:    result.OrderID,
		Size:       result.Size,
		AvgPrice:   result.AvgPrice,
		Stage:      result.Stage,
		IsIceberg:  result.IsIceberg,
		Cost:       result.Size * result.AvgPrice,
	}
	if record.OrderID == "" && len(result.SubOrders) > 0 {
		record.OrderID = "multiple_orders"
	}
	for _, sub := range result.SubOrders {
		record.SubOrders = append(record.SubOrders, SubOrderRecord{
			OrderID:   sub.OrderID,
			Size:      sub.Size,
			AvgPrice:  sub.AvgPrice,
			Stage:     sub.Stage,
			Timestamp: sub.Timestamp,
		})
	}

	records := readJournal[EntryRecord](e.entryLogFile)
	records = append(records, record)
	if err := writeJournal(e.entryLogFile, records); err != nil {
		log.Printf("❌ Failed to write entry journal: %v", err)
		return
	}
	log.Printf("📒 Entry recorded to %s", e.entryLogFile)
}

func (e *OrderExecutor) logExitOrder(result OrderResult, exchangeID string) {
	e.exitMu.Lock()
	defer e.exitMu.Unlock()

	record := ExitRecord{
		Timestamp:  result.Timestamp,
		Symbol:     result.Symbol,
		ExchangeID: exchangeID,
		OrderID:    result.OrderID,
		Size:       result.Size,
		AvgPrice:   result.AvgPrice,
		Reason:     result.Reason,
		Revenue:    result.Size * result.AvgPrice,
	}

	// Annotate with the latest matching entry so realized P&L is derivable
	// from the journals alone.
	entries := e.GetEntryOrders(result.Symbol, exchangeID, time.Time{}, time.Time{})
	if len(entries) > 0 {
		latest := entries[0]
		for _, en := range entries[1:] {
			if en.Timestamp.After(latest.Timestamp) {
				latest = en
			}
		}
		entryPrice := latest.AvgPrice
		profitPct := (result.AvgPrice - entryPrice) / entryPrice * 100
		profitAmt := (result.AvgPrice - entryPrice) * result.Size

		record.EntryOrderID = latest.OrderID
		record.EntryPrice = &entryPrice
		record.ProfitPercentage = &profitPct
		record.ProfitAmount = &profitAmt
	}

	records := readJournal[ExitRecord](e.exitLogFile)
	records = append(records, record)
	if err := writeJournal(e.exitLogFile, records); err != nil {
		log.Printf("❌ Failed to write exit journal: %v", err)
		return
	}
	log.Printf("📒 Exit recorded to %s", e.exitLogFile)
}

// GetEntryOrders returns entry records filtered by symbol, exchange and
// time range; zero values mean no filter.
func (e *OrderExecutor) GetEntryOrders(symbol, exchangeID string, start, end time.Time) []EntryRecord {
	records := readJournal[EntryRecord](e.entryLogFile)
	var out []EntryRecord
	for _, r := range records {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		if exchangeID != "" && r.ExchangeID != exchangeID {
			continue
		}
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetExitOrders mirrors GetEntryOrders for the exit journal.
func (e *OrderExecutor) GetExitOrders(symbol, exchangeID string, start, end time.Time) []ExitRecord {
	records := readJournal[ExitRecord](e.exitLogFile)
	var out []ExitRecord
	for _, r := range records {
		if symbol != "" && r.Symbol != symbol {
			continue
		}
		if exchangeID != "" && r.ExchangeID != exchangeID {
			continue
		}
		if !start.IsZero() && r.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && r.Timestamp.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetTradingHistory combines both journals with their derived statistics.
func (e *OrderExecutor) GetTradingHistory(symbol, exchangeID string, start, end time.Time) TradingHistory {
	entries := e.GetEntryOrders(symbol, exchangeID, start, end)
	exits := e.GetExitOrders(symbol, exchangeID, start, end)
	return TradingHistory{
		EntryOrders: entries,
		ExitOrders:  exits,
		Stats:       CalculateTradingStats(entries, exits),
	}
}

// CalculateTradingStats derives realized P&L, win/loss counts and the set
// of active positions (entries never referenced by an exit) from the
// journals.
func CalculateTradingStats(entries []EntryRecord, exits []ExitRecord) TradingStats {
	stats := TradingStats{
		TotalEntries: len(entries),
		TotalExits:   len(exits),
	}

	var profitPcts []float64
	for _, ex := range exits {
		if ex.ProfitPercentage == nil {
			continue
		}
		p := *ex.ProfitPercentage
		profitPcts = append(profitPcts, p)
		if ex.ProfitAmount != nil {
			stats.TotalProfit += *ex.ProfitAmount
		}
		if p > 0 {
			stats.WinCount++
			if p > stats.MaxProfitPercentage {
				stats.MaxProfitPercentage = p
			}
		} else {
			stats.LossCount++
			if p < stats.MaxLossPercentage {
				stats.MaxLossPercentage = p
			}
		}
		stats.TotalVolume += ex.Revenue
	}

	if len(profitPcts) > 0 {
		var sum float64
		for _, p := range profitPcts {
			sum += p
		}
		stats.AvgProfitPercentage = sum / float64(len(profitPcts))
	}
	if stats.WinCount+stats.LossCount > 0 {
		stats.WinRate = float64(stats.WinCount) / float64(stats.WinCount+stats.LossCount) * 100
	}

	exited := make(map[string]bool)
	for _, ex := range exits {
		if ex.EntryOrderID != "" {
			exited[ex.EntryOrderID] = true
		}
	}
	for _, en := range entries {
		if en.OrderID != "" && !exited[en.OrderID] {
			stats.ActivePositions = append(stats.ActivePositions, en)
		}
	}

	return stats
}
