package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeExchange is the in-memory ExchangeAdapter used across the test suite.
// Orders fill immediately at their limit price.
type fakeExchange struct {
	mu sync.Mutex

	id       string
	markets  map[string]Market
	candles  map[string][]Candle // "symbol_timeframe"
	tickers  map[string]Ticker
	books    map[string]OrderBook
	caps     map[Capability]bool
	failAll  bool
	failOnce map[string]int // key -> remaining failures

	fetchCounts map[string]int
	orders      map[string]Order
	created     []Order
	nextID      int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		id:          "binance",
		markets:     make(map[string]Market),
		candles:     make(map[string][]Candle),
		tickers:     make(map[string]Ticker),
		books:       make(map[string]OrderBook),
		caps:        map[Capability]bool{CapStopLoss: true, CapTriggerOrder: true},
		failOnce:    make(map[string]int),
		fetchCounts: make(map[string]int),
		orders:      make(map[string]Order),
	}
}

func (f *fakeExchange) addMarket(symbol string, amountStep, priceStep, minCost float64) {
	parts := strings.Split(symbol, "/")
	f.markets[symbol] = Market{
		Symbol:          symbol,
		Base:            parts[0],
		Quote:           parts[1],
		Spot:            true,
		AmountPrecision: -1,
		AmountStep:      amountStep,
		PricePrecision:  -1,
		PriceStep:       priceStep,
		MinCost:         minCost,
	}
}

func (f *fakeExchange) setCandles(symbol, timeframe string, candles []Candle) {
	f.mu.Lock()
	f.candles[symbol+"_"+timeframe] = candles
	f.mu.Unlock()
}

func (f *fakeExchange) setTicker(symbol string, last, quoteVolume, percentage float64) {
	f.mu.Lock()
	f.tickers[symbol] = Ticker{Symbol: symbol, Last: last, QuoteVolume: quoteVolume, Percentage: percentage}
	f.mu.Unlock()
}

func (f *fakeExchange) setBook(symbol string, asks, bids []PriceLevel) {
	f.mu.Lock()
	f.books[symbol] = OrderBook{Asks: asks, Bids: bids}
	f.mu.Unlock()
}

func (f *fakeExchange) fetches(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCounts[key]
}

func (f *fakeExchange) ID() string                { return f.id }
func (f *fakeExchange) SetSandboxMode(bool)       {}
func (f *fakeExchange) Supports(c Capability) bool { return f.caps[c] }

func (f *fakeExchange) LoadMarkets(context.Context) error {
	if f.failAll {
		return fmt.Errorf("fake: load markets down")
	}
	return nil
}

func (f *fakeExchange) Symbols() []string {
	out := make([]string, 0, len(f.markets))
	for s := range f.markets {
		out = append(out, s)
	}
	return out
}

func (f *fakeExchange) Market(symbol string) (Market, error) {
	m, ok := f.markets[symbol]
	if !ok {
		return Market{}, fmt.Errorf("unknown market %s", symbol)
	}
	return m, nil
}

func (f *fakeExchange) maybeFail(key string) error {
	if f.failAll {
		return fmt.Errorf("fake: %s unavailable", key)
	}
	if n := f.failOnce[key]; n > 0 {
		f.failOnce[key] = n - 1
		return fmt.Errorf("fake: transient failure on %s", key)
	}
	return nil
}

func (f *fakeExchange) FetchTicker(_ context.Context, symbol string) (Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol + "_ticker"
	f.fetchCounts[key]++
	if err := f.maybeFail(key); err != nil {
		return Ticker{}, err
	}
	t, ok := f.tickers[symbol]
	if !ok {
		return Ticker{}, fmt.Errorf("no ticker for %s", symbol)
	}
	return t, nil
}

func (f *fakeExchange) FetchTickers(context.Context) ([]Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Ticker, 0, len(f.tickers))
	for _, t := range f.tickers {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeExchange) FetchOHLCV(_ context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol + "_" + timeframe
	f.fetchCounts[key]++
	if err := f.maybeFail(key); err != nil {
		return nil, err
	}
	candles := f.candles[key]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (f *fakeExchange) FetchOrderBook(_ context.Context, symbol string, _ int) (OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := symbol + "_book"
	f.fetchCounts[key]++
	if err := f.maybeFail(key); err != nil {
		return OrderBook{}, err
	}
	b, ok := f.books[symbol]
	if !ok {
		return OrderBook{}, fmt.Errorf("no book for %s", symbol)
	}
	return b, nil
}

func (f *fakeExchange) createFilled(symbol, side, orderType string, amount, price float64) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o := Order{
		ID:      fmt.Sprintf("%d", f.nextID),
		Symbol:  symbol,
		Side:    side,
		Type:    orderType,
		Status:  OrderStatusClosed,
		Amount:  amount,
		Filled:  amount,
		Price:   price,
		Average: price,
	}
	f.orders[o.ID] = o
	f.created = append(f.created, o)
	return o, nil
}

func (f *fakeExchange) CreateLimitBuyOrder(_ context.Context, symbol string, amount, price float64) (Order, error) {
	return f.createFilled(symbol, "buy", "limit", amount, price)
}

func (f *fakeExchange) CreateLimitSellOrder(_ context.Context, symbol string, amount, price float64) (Order, error) {
	return f.createFilled(symbol, "sell", "limit", amount, price)
}

func (f *fakeExchange) CreateMarketBuyOrder(_ context.Context, symbol string, amount float64) (Order, error) {
	return f.createFilled(symbol, "buy", "market", amount, 0)
}

func (f *fakeExchange) CreateMarketSellOrder(_ context.Context, symbol string, amount float64) (Order, error) {
	return f.createFilled(symbol, "sell", "market", amount, 0)
}

func (f *fakeExchange) CreateStopLossOrder(_ context.Context, symbol string, amount, stopPrice float64) (Order, error) {
	o, err := f.createFilled(symbol, "sell", "stop_loss", amount, stopPrice)
	if err == nil {
		o.Status = OrderStatusOpen
		f.mu.Lock()
		f.orders[o.ID] = o
		f.mu.Unlock()
	}
	return o, err
}

func (f *fakeExchange) CreateTriggerOrder(_ context.Context, symbol, side string, amount, price, _ float64) (Order, error) {
	return f.createFilled(symbol, side, "stop_loss", amount, price)
}

func (f *fakeExchange) FetchOrder(_ context.Context, id, _ string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("unknown order %s", id)
	}
	return o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return fmt.Errorf("unknown order %s", id)
	}
	o.Status = OrderStatusCanceled
	f.orders[id] = o
	return nil
}

func (f *fakeExchange) FetchOpenOrders(_ context.Context, symbol string) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Order
	for _, o := range f.orders {
		if o.Symbol == symbol && o.Status == OrderStatusOpen {
			out = append(out, o)
		}
	}
	return out, nil
}

var _ ExchangeAdapter = (*fakeExchange)(nil)

// dailyCandles builds n daily bars from closes, with highs and lows hugging
// the closes unless widened by the caller.
func dailyCandles(closes []float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, c := range closes {
		candles[i] = Candle{
			Timestamp: int64(i) * 86_400_000,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1000,
		}
	}
	return candles
}

// newTestDataService wires a MarketDataService around one fake adapter.
func newTestDataService(f *fakeExchange) *MarketDataService {
	return NewMarketDataService(
		map[string]ExchangeAdapter{f.id: f},
		f.id,
		[]string{"USDT"},
		map[string][]string{"DeFi": {"UNI/"}, "Meme": {"DOGE/"}},
		60*time.Second,
	)
}
