package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"spot-autotrader/ai"
	"spot-autotrader/api"
	"spot-autotrader/config"
	"spot-autotrader/events"
	"spot-autotrader/exchange"
	"spot-autotrader/logger"
	"spot-autotrader/news"
	"spot-autotrader/store"
	"spot-autotrader/trader"
)

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║        Spot Autotrader - Multi-Strategy Trading Bots       ║")
	fmt.Println("║              Binance Spot + News Sentiment AI              ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	cfg := config.Load()

	// Log sink: console plus the ring buffer the dashboard tails.
	broadcaster := logger.NewBroadcaster(1000)
	sink := zerolog.MultiLevelWriter(os.Stdout, broadcaster)
	log := zerolog.New(sink).With().Timestamp().Logger()

	if cfg.ExchangeAPIKey == "" || cfg.ExchangeAPISecret == "" {
		log.Error().Msg("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required")
		os.Exit(1)
	}

	log.Info().
		Bool("testnet", cfg.UseTestnet).
		Str("model", cfg.LLMModel).
		Int("interval_seconds", cfg.CheckIntervalSeconds).
		Float64("default_sl_pct", cfg.DefaultSLPct).
		Float64("default_tp_pct", cfg.DefaultTPPct).
		Float64("min_confidence", cfg.MinConfidence).
		Msg("configuration loaded")

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize database")
		os.Exit(1)
	}
	defer db.Close()

	snapshots, err := store.NewSnapshotStore(cfg.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize snapshot store")
		os.Exit(1)
	}

	binance := exchange.NewBinanceClient(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.UseTestnet, log)

	// Fail fast on bad credentials before any bot spins up.
	ctx := context.Background()
	if _, err := binance.GetBalances(ctx); err != nil {
		if exchange.IsKind(err, exchange.KindAuth) {
			log.Error().Err(err).Msg("exchange authentication failed")
			os.Exit(2)
		}
		log.Warn().Err(err).Msg("exchange not reachable at startup, continuing")
	}

	var newsCache *news.Cache
	if cfg.NewsAPIKey != "" {
		provider := news.NewHTTPProvider(cfg.NewsAPIKey, "")
		newsCache = news.NewCache(provider, 0, nil, log)
	} else {
		log.Warn().Msg("NEWS_API_KEY not set, news strategies will hold")
		newsCache = news.NewCache(nil, 0, nil, log)
	}

	var analyzer *ai.Analyzer
	if cfg.LLMAPIKey != "" {
		llm := ai.NewClient(cfg.LLMAPIKey, cfg.LLMModel, log)
		analyzer = ai.NewAnalyzer(llm, nil, log)
	} else {
		log.Warn().Msg("LLM_API_KEY not set, news strategies will hold")
		analyzer = ai.NewAnalyzer(nil, nil, log)
	}

	hub := events.NewHub(log)
	go hub.Run()

	manager := trader.NewManager(cfg, binance, analyzer, newsCache, db, snapshots, hub, nil, log)

	if err := manager.AdoptOrphans(ctx); err != nil {
		log.Warn().Err(err).Msg("orphan scan failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server := api.NewServer(cfg, manager, hub, broadcaster, db, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	log.Info().Str("port", cfg.APIPort).Msg("dashboard API running")

	<-sigCh
	log.Info().Msg("shutdown signal received, draining bots")
	manager.StopAll()
	log.Info().Msg("goodbye")
}
