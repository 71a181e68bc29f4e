package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"PerpScope/internal/ingestion"
	"PerpScope/internal/keeper"
	"PerpScope/internal/ledger"
	"PerpScope/internal/observability"
)

// Config is loaded from environment variables.
type Config struct {
	// NATS
	NATSURL string

	// Redis working set. Empty address falls back to the in-memory set.
	RedisAddr string

	// Chain node
	RPCURL   string
	Contract string
	From     string

	// Liquidation scanner
	ScanInterval    time.Duration
	ScanConcurrency int

	// Index price keeper. Empty URL disables it.
	PriceURL      string
	PriceInterval time.Duration
	PriceMinTick  int64

	// Funding keeper
	FundingInterval time.Duration

	// Operational HTTP (metrics + health)
	HTTPAddr string
}

func DefaultConfig() Config {
	return Config{
		NATSURL:         envOrDefault("PERPSCOPE_NATS_URL", "nats://localhost:4222"),
		RedisAddr:       envOrDefault("PERPSCOPE_REDIS_ADDR", ""),
		RPCURL:          envOrDefault("PERPSCOPE_RPC_URL", "http://localhost:8545"),
		Contract:        envOrDefault("PERPSCOPE_CONTRACT", ""),
		From:            envOrDefault("PERPSCOPE_KEEPER_ACCOUNT", ""),
		ScanInterval:    envDurationOrDefault("PERPSCOPE_SCAN_INTERVAL", 5*time.Second),
		ScanConcurrency: envIntOrDefault("PERPSCOPE_SCAN_CONCURRENCY", 8),
		PriceURL:        envOrDefault("PERPSCOPE_PRICE_URL", ""),
		PriceInterval:   envDurationOrDefault("PERPSCOPE_PRICE_INTERVAL", 10*time.Second),
		PriceMinTick:    int64(envIntOrDefault("PERPSCOPE_PRICE_MIN_TICK", 1)),
		FundingInterval: envDurationOrDefault("PERPSCOPE_FUNDING_CHECK_INTERVAL", 30*time.Second),
		HTTPAddr:        envOrDefault("PERPSCOPE_KEEPER_HTTP_ADDR", ":8081"),
	}
}

func main() {
	log := observability.NewLogger("keeper")
	log.Info().Msg("perpscope keeper starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Working set ---
	var workingSet keeper.WorkingSet
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		workingSet = keeper.NewRedisWorkingSet(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis working set connected")
	} else {
		workingSet = keeper.NewMemoryWorkingSet()
		log.Warn().Msg("no redis configured, working set resets on restart")
	}

	// --- NATS feed ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	feed := keeper.NewFeed(js, workingSet, log)
	if err := feed.Start(ctx, ingestion.EventStreamName); err != nil {
		log.Fatal().Err(err).Msg("start trader feed")
	}

	// --- Chain client ---
	client := ledger.NewClient(ledger.Config{
		RPCURL:   cfg.RPCURL,
		Contract: cfg.Contract,
		From:     cfg.From,
	}, log)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Keepers ---
	scanner := keeper.NewScanner(keeper.ScannerConfig{
		Interval:    cfg.ScanInterval,
		Concurrency: cfg.ScanConcurrency,
	}, client, client, client, workingSet, metrics, log)
	scanner.Start(ctx)

	fundingKeeper := keeper.NewFundingKeeper(keeper.FundingKeeperConfig{
		Interval: cfg.FundingInterval,
	}, client, client, metrics, log)
	fundingKeeper.Start(ctx)

	var priceKeeper *keeper.PriceKeeper
	if cfg.PriceURL != "" {
		source := keeper.NewHTTPPriceSource(cfg.PriceURL, 10*time.Second)
		priceKeeper = keeper.NewPriceKeeper(keeper.PriceKeeperConfig{
			Interval: cfg.PriceInterval,
			MinTick:  cfg.PriceMinTick,
		}, source, client, metrics, log)
		priceKeeper.Start(ctx)
	} else {
		log.Warn().Msg("no price source configured, index price keeper disabled")
	}

	// --- Operational HTTP ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		httpServer.Shutdown(shutCtx)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("operational http server")
		}
	}()

	healthChecker.SetReady(true)
	log.Info().Str("http", cfg.HTTPAddr).Msg("perpscope keeper ready")

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	cancel()
	feed.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scanner.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scanner stop")
	}
	if err := fundingKeeper.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("funding keeper stop")
	}
	if priceKeeper != nil {
		if err := priceKeeper.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("price keeper stop")
		}
	}

	log.Info().Msg("perpscope keeper shutdown complete")
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
