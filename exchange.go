package main

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// ============================================================================
// MARKET DATA TYPES
// ============================================================================

// Candle is one OHLCV bar. Timestamp is the bar open time in milliseconds.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Ticker is a 24h rolling snapshot for one symbol.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	Last        float64 `json:"last"`
	QuoteVolume float64 `json:"quoteVolume"`
	Percentage  float64 `json:"percentage"` // 24h change percent
}

// PriceLevel is one order book entry.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook holds asks ascending and bids descending by price.
type OrderBook struct {
	Asks []PriceLevel `json:"asks"`
	Bids []PriceLevel `json:"bids"`
}

// Market describes one spot market's trading rules.
type Market struct {
	Symbol          string
	Base            string
	Quote           string
	Spot            bool
	AmountPrecision int     // decimal digits; -1 when only a step is known
	AmountStep      float64 // lot step size; 0 when only digits are known
	PricePrecision  int
	PriceStep       float64
	MinCost         float64 // minimum notional; 0 when the exchange doesn't state one
}

// Order is the unified view of an exchange order.
type Order struct {
	ID        string
	Symbol    string
	Status    string // "open", "closed", "canceled"
	Side      string
	Type      string // "limit", "market", "stop_loss"
	Amount    float64
	Filled    float64
	Remaining float64
	Price     float64
	Average   float64
}

const (
	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
)

// Capability flags what optional order types an adapter supports.
type Capability int

const (
	CapStopLoss Capability = iota
	CapTriggerOrder
)

// ============================================================================
// EXCHANGE ADAPTER
// ============================================================================

// ExchangeAdapter is the uniform exchange surface the engine consumes.
// Symbols are unified "BASE/QUOTE" strings everywhere above the adapter.
type ExchangeAdapter interface {
	ID() string
	LoadMarkets(ctx context.Context) error
	Symbols() []string
	Market(symbol string) (Market, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	FetchTickers(ctx context.Context) ([]Ticker, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (Order, error)
	CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (Order, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (Order, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (Order, error)
	CreateStopLossOrder(ctx context.Context, symbol string, amount, stopPrice float64) (Order, error)
	CreateTriggerOrder(ctx context.Context, symbol, side string, amount, price, triggerPrice float64) (Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	Supports(c Capability) bool
	SetSandboxMode(enabled bool)
}

// ============================================================================
// BINANCE SPOT ADAPTER
// ============================================================================

// BinanceSpot implements ExchangeAdapter over the Binance spot REST API.
type BinanceSpot struct {
	client    *binance.Client
	apiKey    string
	secretKey string
	markets   map[string]Market // unified symbol -> market
	unified   map[string]string // exchange symbol -> unified symbol
	symbols   []string
}

func NewBinanceSpot(apiKey, secretKey string) *BinanceSpot {
	return &BinanceSpot{
		client:    binance.NewClient(apiKey, secretKey),
		apiKey:    apiKey,
		secretKey: secretKey,
		markets:   make(map[string]Market),
		unified:   make(map[string]string),
	}
}

func (b *BinanceSpot) ID() string { return "binance" }

// SetSandboxMode rebuilds the client: go-binance picks its base URL from
// the UseTestnet flag at construction time.
func (b *BinanceSpot) SetSandboxMode(enabled bool) {
	binance.UseTestnet = enabled
	b.client = binance.NewClient(b.apiKey, b.secretKey)
	if enabled {
		log.Println("⚠️ Binance spot adapter switched to TESTNET")
	}
}

// Binance spot supports stop-loss-limit and stop-entry orders natively.
func (b *BinanceSpot) Supports(c Capability) bool {
	switch c {
	case CapStopLoss, CapTriggerOrder:
		return true
	}
	return false
}

// toExchange converts "SOL/USDT" to "SOLUSDT".
func toExchange(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (b *BinanceSpot) LoadMarkets(ctx context.Context) error {
	if len(b.markets) > 0 {
		return nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Status != "TRADING" || !s.IsSpotTradingAllowed {
			continue
		}
		unified := s.BaseAsset + "/" + s.QuoteAsset
		m := Market{
			Symbol:          unified,
			Base:            s.BaseAsset,
			Quote:           s.QuoteAsset,
			Spot:            true,
			AmountPrecision: -1,
			PricePrecision:  -1,
		}
		if f := s.LotSizeFilter(); f != nil {
			m.AmountStep, _ = strconv.ParseFloat(f.StepSize, 64)
		}
		if f := s.PriceFilter(); f != nil {
			m.PriceStep, _ = strconv.ParseFloat(f.TickSize, 64)
		}
		if f := s.NotionalFilter(); f != nil {
			m.MinCost, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
		b.markets[unified] = m
		b.unified[s.Symbol] = unified
		b.symbols = append(b.symbols, unified)
	}

	log.Printf("✅ Binance: loaded %d spot markets", len(b.markets))
	return nil
}

func (b *BinanceSpot) Symbols() []string { return b.symbols }

func (b *BinanceSpot) Market(symbol string) (Market, error) {
	m, ok := b.markets[symbol]
	if !ok {
		return Market{}, fmt.Errorf("unknown market %s", symbol)
	}
	return m, nil
}

func (b *BinanceSpot) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(toExchange(symbol)).Do(ctx)
	if err != nil {
		return Ticker{}, err
	}
	if len(stats) == 0 {
		return Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return convertTicker(symbol, stats[0]), nil
}

func (b *BinanceSpot) FetchTickers(ctx context.Context) ([]Ticker, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}

	tickers := make([]Ticker, 0, len(stats))
	for _, s := range stats {
		// Only markets we loaded; keeps the universe spot-only.
		unified, ok := b.unified[s.Symbol]
		if !ok {
			continue
		}
		tickers = append(tickers, convertTicker(unified, s))
	}
	return tickers, nil
}

func convertTicker(symbol string, s *binance.PriceChangeStats) Ticker {
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	qv, _ := strconv.ParseFloat(s.QuoteVolume, 64)
	pct, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
	return Ticker{Symbol: symbol, Last: last, QuoteVolume: qv, Percentage: pct}
}

func (b *BinanceSpot) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(toExchange(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, Candle{
			Timestamp: k.OpenTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     cls,
			Volume:    vol,
		})
	}
	return candles, nil
}

func (b *BinanceSpot) FetchOrderBook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	res, err := b.client.NewDepthService().Symbol(toExchange(symbol)).Limit(depth).Do(ctx)
	if err != nil {
		return OrderBook{}, err
	}

	book := OrderBook{}
	for _, a := range res.Asks {
		p, _ := strconv.ParseFloat(a.Price, 64)
		q, _ := strconv.ParseFloat(a.Quantity, 64)
		book.Asks = append(book.Asks, PriceLevel{Price: p, Size: q})
	}
	for _, bd := range res.Bids {
		p, _ := strconv.ParseFloat(bd.Price, 64)
		q, _ := strconv.ParseFloat(bd.Quantity, 64)
		book.Bids = append(book.Bids, PriceLevel{Price: p, Size: q})
	}
	return book, nil
}

func (b *BinanceSpot) createOrder(ctx context.Context, symbol string, side binance.SideType,
	orderType binance.OrderType, amount, price, stopPrice float64) (Order, error) {

	svc := b.client.NewCreateOrderService().
		Symbol(toExchange(symbol)).
		Side(side).
		Type(orderType).
		Quantity(formatFloat(amount))

	if orderType == binance.OrderTypeLimit || orderType == binance.OrderTypeStopLossLimit {
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(formatFloat(price))
	}
	if stopPrice > 0 {
		svc = svc.StopPrice(formatFloat(stopPrice))
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:     strconv.FormatInt(res.OrderID, 10),
		Symbol: symbol,
		Side:   strings.ToLower(string(side)),
		Type:   unifyOrderType(orderType),
		Amount: amount,
		Price:  price,
		Status: OrderStatusOpen,
	}
	order.Filled, _ = strconv.ParseFloat(res.ExecutedQuantity, 64)
	order.Remaining = order.Amount - order.Filled
	if res.Status == binance.OrderStatusTypeFilled {
		order.Status = OrderStatusClosed
	}
	return order, nil
}

func (b *BinanceSpot) CreateLimitBuyOrder(ctx context.Context, symbol string, amount, price float64) (Order, error) {
	return b.createOrder(ctx, symbol, binance.SideTypeBuy, binance.OrderTypeLimit, amount, price, 0)
}

func (b *BinanceSpot) CreateLimitSellOrder(ctx context.Context, symbol string, amount, price float64) (Order, error) {
	return b.createOrder(ctx, symbol, binance.SideTypeSell, binance.OrderTypeLimit, amount, price, 0)
}

func (b *BinanceSpot) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) (Order, error) {
	return b.createOrder(ctx, symbol, binance.SideTypeBuy, binance.OrderTypeMarket, amount, 0, 0)
}

func (b *BinanceSpot) CreateMarketSellOrder(ctx context.Context, symbol string, amount float64) (Order, error) {
	return b.createOrder(ctx, symbol, binance.SideTypeSell, binance.OrderTypeMarket, amount, 0, 0)
}

// CreateStopLossOrder places a stop-loss-limit sell with the limit slightly
// below the trigger so it still fills in a fast move.
func (b *BinanceSpot) CreateStopLossOrder(ctx context.Context, symbol string, amount, stopPrice float64) (Order, error) {
	limit := stopPrice * 0.995
	return b.createOrder(ctx, symbol, binance.SideTypeSell, binance.OrderTypeStopLossLimit, amount, limit, stopPrice)
}

// CreateTriggerOrder places a stop-entry order that activates when the
// market trades through triggerPrice.
func (b *BinanceSpot) CreateTriggerOrder(ctx context.Context, symbol, side string, amount, price, triggerPrice float64) (Order, error) {
	st := binance.SideTypeBuy
	if strings.EqualFold(side, "sell") {
		st = binance.SideTypeSell
	}
	return b.createOrder(ctx, symbol, st, binance.OrderTypeStopLossLimit, amount, price, triggerPrice)
}

func (b *BinanceSpot) FetchOrder(ctx context.Context, id, symbol string) (Order, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("bad order id %q: %w", id, err)
	}

	res, err := b.client.NewGetOrderService().Symbol(toExchange(symbol)).OrderID(orderID).Do(ctx)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:     id,
		Symbol: symbol,
		Side:   strings.ToLower(string(res.Side)),
		Type:   unifyOrderType(res.Type),
		Status: OrderStatusOpen,
	}
	order.Amount, _ = strconv.ParseFloat(res.OrigQuantity, 64)
	order.Filled, _ = strconv.ParseFloat(res.ExecutedQuantity, 64)
	order.Remaining = order.Amount - order.Filled
	order.Price, _ = strconv.ParseFloat(res.Price, 64)

	// Average fill price from the cumulative quote amount when available.
	if quote, _ := strconv.ParseFloat(res.CummulativeQuoteQuantity, 64); quote > 0 && order.Filled > 0 {
		order.Average = quote / order.Filled
	} else {
		order.Average = order.Price
	}

	switch res.Status {
	case binance.OrderStatusTypeFilled:
		order.Status = OrderStatusClosed
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		order.Status = OrderStatusCanceled
	}
	return order, nil
}

func (b *BinanceSpot) CancelOrder(ctx context.Context, id, symbol string) error {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("bad order id %q: %w", id, err)
	}
	_, err = b.client.NewCancelOrderService().Symbol(toExchange(symbol)).OrderID(orderID).Do(ctx)
	return err
}

func (b *BinanceSpot) FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	res, err := b.client.NewListOpenOrdersService().Symbol(toExchange(symbol)).Do(ctx)
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(res))
	for _, o := range res {
		order := Order{
			ID:     strconv.FormatInt(o.OrderID, 10),
			Symbol: symbol,
			Side:   strings.ToLower(string(o.Side)),
			Type:   unifyOrderType(o.Type),
			Status: OrderStatusOpen,
		}
		order.Amount, _ = strconv.ParseFloat(o.OrigQuantity, 64)
		order.Filled, _ = strconv.ParseFloat(o.ExecutedQuantity, 64)
		order.Remaining = order.Amount - order.Filled
		order.Price, _ = strconv.ParseFloat(o.Price, 64)
		orders = append(orders, order)
	}
	return orders, nil
}

// unifyOrderType maps an exchange order type onto the small unified set.
func unifyOrderType(t binance.OrderType) string {
	switch t {
	case binance.OrderTypeLimit, binance.OrderTypeLimitMaker:
		return "limit"
	case binance.OrderTypeMarket:
		return "market"
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit,
		binance.OrderTypeTakeProfit, binance.OrderTypeTakeProfitLimit:
		return "stop_loss"
	}
	return strings.ToLower(string(t))
}

// formatFloat renders a price or quantity without scientific notation.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var _ ExchangeAdapter = (*BinanceSpot)(nil)

// newAdapterContext returns the 10s timeout context used for every
// HTTP-class exchange call.
func newAdapterContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
