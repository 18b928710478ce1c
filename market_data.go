package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// errNoData marks market data that could not be produced: a fetch that
// failed after all retries, or history too short for an indicator. Callers
// skip the symbol for the current scan; this is never fatal.
var errNoData = errors.New("no data")

var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true,
	"TUSD": true, "USDP": true, "GUSD": true,
}

const (
	tickerTTL    = 10 * time.Second
	orderBookTTL = 5 * time.Second
	fetchRetries = 3
	retryBackoff = 2 * time.Second
)

type cacheEntry struct {
	value     interface{}
	fetchedAt time.Time
}

// keyedCache is one cache family: a value map plus per-key locks so that
// concurrent callers on different keys fetch in parallel while callers on
// the same key serialize. The family mutex guards only the maps, never
// network I/O.
type keyedCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	locks   map[string]*sync.Mutex
}

func newKeyedCache() *keyedCache {
	return &keyedCache{
		entries: make(map[string]cacheEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *keyedCache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *keyedCache) get(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.fetchedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

func (c *keyedCache) put(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// getOrFetch returns the cached value or runs fetch under the per-key lock.
// Empty results (nil value with nil error) are returned but never cached.
func (c *keyedCache) getOrFetch(key string, ttl time.Duration, fetch func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.get(key, ttl); ok {
		return v, nil
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have filled the entry while we waited.
	if v, ok := c.get(key, ttl); ok {
		return v, nil
	}

	v, err := fetch()
	if err != nil {
		return nil, err
	}
	if v != nil {
		c.put(key, v)
	}
	return v, nil
}

// ============================================================================
// MARKET DATA SERVICE
// ============================================================================

// MarketDataService pulls candles, tickers and order books through the
// exchange adapters and memoizes them per (symbol, timeframe, depth).
type MarketDataService struct {
	adapters        map[string]ExchangeAdapter
	defaultExchange string
	quoteCurrencies map[string]bool
	sectors         map[string][]string
	candleTTL       time.Duration

	candles    *keyedCache
	tickers    *keyedCache
	orderBooks *keyedCache

	symbolsMu sync.Mutex
	symbols   map[string][]string // exchange id -> valid unified symbols
}

func NewMarketDataService(adapters map[string]ExchangeAdapter, defaultExchange string,
	quoteCurrencies []string, sectors map[string][]string, candleTTL time.Duration) *MarketDataService {

	quotes := make(map[string]bool, len(quoteCurrencies))
	for _, q := range quoteCurrencies {
		quotes[strings.ToUpper(q)] = true
	}

	return &MarketDataService{
		adapters:        adapters,
		defaultExchange: defaultExchange,
		quoteCurrencies: quotes,
		sectors:         sectors,
		candleTTL:       candleTTL,
		candles:         newKeyedCache(),
		tickers:         newKeyedCache(),
		orderBooks:      newKeyedCache(),
		symbols:         make(map[string][]string),
	}
}

func (m *MarketDataService) adapter(exchangeID string) (ExchangeAdapter, error) {
	if exchangeID == "" {
		exchangeID = m.defaultExchange
	}
	a, ok := m.adapters[exchangeID]
	if !ok {
		return nil, fmt.Errorf("exchange %s not configured", exchangeID)
	}
	return a, nil
}

// Init loads markets on every adapter and builds the valid symbol universe.
func (m *MarketDataService) Init() error {
	for id, a := range m.adapters {
		ctx, cancel := newAdapterContext()
		err := a.LoadMarkets(ctx)
		cancel()
		if err != nil {
			log.Printf("❌ Failed to load %s markets: %v", id, err)
			continue
		}

		var valid []string
		for _, s := range a.Symbols() {
			if m.isValidSymbol(s) {
				valid = append(valid, s)
			}
		}
		m.symbolsMu.Lock()
		m.symbols[id] = valid
		m.symbolsMu.Unlock()
		log.Printf("📡 %s: %d tradable symbols after filtering", id, len(valid))
	}
	return nil
}

// isValidSymbol keeps spot pairs quoted in a configured quote currency and
// drops stablecoin-to-stablecoin markets.
func (m *MarketDataService) isValidSymbol(symbol string) bool {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		return false
	}
	base, quote := parts[0], parts[1]
	if strings.Contains(symbol, ":") {
		return false // margin / option suffix
	}
	if stablecoins[base] && stablecoins[quote] {
		return false
	}
	return m.quoteCurrencies[quote]
}

// TradableSymbols returns the valid symbol universe for one exchange, or
// all exchanges combined when exchangeID is empty. The default exchange's
// list comes first so scan order stays stable.
func (m *MarketDataService) TradableSymbols(exchangeID string) []string {
	m.symbolsMu.Lock()
	defer m.symbolsMu.Unlock()
	if exchangeID != "" {
		return m.symbols[exchangeID]
	}

	var all []string
	if def, ok := m.symbols[m.defaultExchange]; ok {
		all = append(all, def...)
	}
	for id, syms := range m.symbols {
		if id == m.defaultExchange {
			continue
		}
		all = append(all, syms...)
	}
	return all
}

// SectorSymbols returns the tradable symbols belonging to a configured sector.
func (m *MarketDataService) SectorSymbols(sector string) []string {
	prefixes, ok := m.sectors[sector]
	if !ok {
		return nil
	}

	var out []string
	for _, s := range m.TradableSymbols("") {
		for _, p := range prefixes {
			if strings.HasPrefix(s, p) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// SectorNames lists the configured sectors.
func (m *MarketDataService) SectorNames() []string {
	names := make([]string, 0, len(m.sectors))
	for name := range m.sectors {
		names = append(names, name)
	}
	return names
}

// fetchWithRetry runs fn up to fetchRetries times with a linear 2s backoff.
func fetchWithRetry(what string, fn func() (interface{}, error)) (interface{}, error) {
	b := &backoff.Backoff{Min: retryBackoff, Max: retryBackoff, Factor: 1}
	var lastErr error
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		log.Printf("⚠️ Fetch %s failed (attempt %d/%d): %v", what, attempt, fetchRetries, err)
		if attempt < fetchRetries {
			time.Sleep(b.Duration())
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", errNoData, what, lastErr)
}

// GetCandles returns up to limit candles for (symbol, timeframe), most
// recent bar last.
func (m *MarketDataService) GetCandles(symbol, timeframe string, limit int, exchangeID string) ([]Candle, error) {
	a, err := m.adapter(exchangeID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s_%s_%s_%d", a.ID(), symbol, timeframe, limit)
	v, err := m.candles.getOrFetch(key, m.candleTTL, func() (interface{}, error) {
		return fetchWithRetry(key, func() (interface{}, error) {
			ctx, cancel := newAdapterContext()
			defer cancel()
			candles, err := a.FetchOHLCV(ctx, symbol, timeframe, limit)
			if err != nil {
				return nil, err
			}
			if len(candles) == 0 {
				return nil, nil // empty result: return, don't cache
			}
			return candles, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]Candle), nil
}

// GetTicker returns the current 24h snapshot for symbol.
func (m *MarketDataService) GetTicker(symbol, exchangeID string) (Ticker, error) {
	a, err := m.adapter(exchangeID)
	if err != nil {
		return Ticker{}, err
	}

	key := fmt.Sprintf("%s_%s_ticker", a.ID(), symbol)
	v, err := m.tickers.getOrFetch(key, tickerTTL, func() (interface{}, error) {
		return fetchWithRetry(key, func() (interface{}, error) {
			ctx, cancel := newAdapterContext()
			defer cancel()
			t, err := a.FetchTicker(ctx, symbol)
			if err != nil {
				return nil, err
			}
			return t, nil
		})
	})
	if err != nil {
		return Ticker{}, err
	}
	return v.(Ticker), nil
}

// GetOrderBook returns the order book snapshot for symbol at the given depth.
func (m *MarketDataService) GetOrderBook(symbol string, depth int, exchangeID string) (OrderBook, error) {
	a, err := m.adapter(exchangeID)
	if err != nil {
		return OrderBook{}, err
	}

	key := fmt.Sprintf("%s_%s_orderbook_%d", a.ID(), symbol, depth)
	v, err := m.orderBooks.getOrFetch(key, orderBookTTL, func() (interface{}, error) {
		return fetchWithRetry(key, func() (interface{}, error) {
			ctx, cancel := newAdapterContext()
			defer cancel()
			book, err := a.FetchOrderBook(ctx, symbol, depth)
			if err != nil {
				return nil, err
			}
			return book, nil
		})
	})
	if err != nil {
		return OrderBook{}, err
	}
	return v.(OrderBook), nil
}

// GetCurrentPrice returns the last traded price for symbol.
func (m *MarketDataService) GetCurrentPrice(symbol, exchangeID string) (float64, error) {
	t, err := m.GetTicker(symbol, exchangeID)
	if err != nil {
		return 0, err
	}
	if t.Last <= 0 {
		return 0, errNoData
	}
	return t.Last, nil
}

// timeframeForWindow selects the candle timeframe covering a minute window.
func timeframeForWindow(minutes int) (string, int) {
	switch {
	case minutes <= 5:
		return "1m", minutes + 5
	case minutes <= 15:
		return "5m", minutes/5 + 3
	case minutes <= 60:
		return "15m", minutes/15 + 3
	default:
		return "1h", minutes/60 + 3
	}
}

// GetHistoricalPrice returns the close nearest to minutesAgo in the past.
func (m *MarketDataService) GetHistoricalPrice(symbol string, minutesAgo int, exchangeID string) (float64, error) {
	timeframe, limit := timeframeForWindow(minutesAgo)
	if limit > 100 {
		limit = 100
	}

	candles, err := m.GetCandles(symbol, timeframe, limit, exchangeID)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, errNoData
	}

	target := time.Now().Add(-time.Duration(minutesAgo) * time.Minute).UnixMilli()
	best := candles[0]
	bestDiff := absInt64(candles[0].Timestamp - target)
	for _, c := range candles[1:] {
		if d := absInt64(c.Timestamp - target); d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best.Close, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
