package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momentum-radar/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	skipBlacklist := flag.Bool("skip-blacklist", false, "skip the blacklist refresh job")
	skipSectors := flag.Bool("skip-sectors", false, "skip the sector ranking job")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatalf("❌ Failed to create directories: %v", err)
	}
	if cfg.DryRun {
		log.Println("🛡️ DRY RUN MODE: no real orders will be placed")
	} else {
		log.Println("⚠️ LIVE TRADING ENABLED")
	}

	// Exchange adapters. Binance spot is the bundled connector; unknown ids
	// are reported and skipped so one bad entry doesn't stop the rest.
	adapters := make(map[string]ExchangeAdapter)
	for _, id := range cfg.Exchanges {
		switch id {
		case "binance":
			keys := cfg.APIKeys[id]
			adapter := NewBinanceSpot(keys.APIKey, keys.SecretKey)
			if cfg.TestMode {
				adapter.SetSandboxMode(true)
			}
			adapters[id] = adapter
		default:
			log.Printf("⚠️ No adapter for exchange %q, skipping", id)
		}
	}
	if len(adapters) == 0 {
		log.Fatal("❌ No usable exchange adapters configured")
	}
	if _, ok := adapters[cfg.DefaultExchange]; !ok {
		log.Fatalf("❌ Default exchange %q has no adapter", cfg.DefaultExchange)
	}

	candleTTL := time.Duration(cfg.DataRefreshInterval) * time.Second

	data := NewMarketDataService(adapters, cfg.DefaultExchange, cfg.QuoteCurrencies, cfg.Sectors, candleTTL)
	indicators := NewIndicatorService(data, candleTTL)
	analyzer := NewMarketAnalyzer(data, indicators, time.Duration(cfg.MarketStateRefreshInterval)*time.Second)
	signals := NewSignalGenerator(data, indicators, analyzer, cfg.WorkerPoolSize)
	risk := NewRiskManager(indicators, data,
		cfg.MaxRiskPerTrade, cfg.MaxTotalRisk, cfg.MaxSectorAllocation, cfg.AccountBalance)
	executor := NewOrderExecutor(adapters, cfg.DefaultExchange, cfg.LogDir,
		cfg.DryRun, cfg.IcebergThreshold, cfg.MinOrderAmount)
	tracker := NewPerformanceTracker(cfg.DataDir, cfg.AccountBalance)

	var notifier *NotificationService
	if cfg.Telegram.Enabled {
		notifier = NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	engine := NewTradingEngine(data, indicators, analyzer, signals, risk, executor, tracker, notifier,
		time.Duration(cfg.ScanInterval)*time.Minute,
		time.Duration(cfg.MonitorInterval)*time.Second,
		cfg.MaxNewPositions)
	engine.SetFastStart(*skipBlacklist, *skipSectors)

	if cfg.ListenAddr != "" {
		hub := NewHub()
		engine.AddSink(hub)
		go hub.Serve(cfg.ListenAddr)
	}

	if cfg.Firebase.Enabled {
		if dist := NewSignalDistributor(cfg.Firebase.CredentialsFile, cfg.Firebase.Collection); dist != nil {
			engine.AddSink(dist)
			defer dist.Close()
		}
	}

	if cfg.StrategyEnabled("ma_cross") {
		maCross, err := NewMACrossStrategy(cfg, executor, adapters[cfg.DefaultExchange])
		if err != nil {
			log.Printf("⚠️ MA cross strategy not started: %v", err)
		} else {
			go maCross.Run()
			defer maCross.Stop()
		}
	}

	// Clean shutdown on interrupt.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("🛑 Shutdown signal received")
		engine.Stop()
	}()

	engine.Run()
	engine.PrintJobStats()
}
