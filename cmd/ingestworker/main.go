package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coingry/Indicator-dashboard/config"
	"github.com/coingry/Indicator-dashboard/internal/ingest"
	"github.com/coingry/Indicator-dashboard/internal/logger"
	"github.com/coingry/Indicator-dashboard/internal/marketdata/binance"
	"github.com/coingry/Indicator-dashboard/internal/marketdata/stream"
	"github.com/coingry/Indicator-dashboard/internal/metrics"
	sqlitestore "github.com/coingry/Indicator-dashboard/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger.Init("ingestworker", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "symbol", cfg.Symbol, "stream", cfg.StreamURL())

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("sqlite init failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("candle store ready", "path", cfg.SQLitePath)

	history, err := binance.New(binance.Config{
		Symbol:     cfg.Symbol,
		APIKey:     cfg.BinanceKey,
		SecretKey:  cfg.BinanceSecret,
		UseTestnet: cfg.UseTestnet,
	})
	if err != nil {
		slog.Error("history source init failed", "err", err)
		os.Exit(1)
	}

	source, err := stream.New(stream.Config{URL: cfg.StreamURL()})
	if err != nil {
		slog.Error("stream init failed", "err", err)
		os.Exit(1)
	}

	filler := ingest.NewGapFiller(store, history, cfg.BackfillPageDelay)
	filler.OnRows = func(n int) { prom.BackfilledRows.Add(float64(n)) }
	worker := ingest.NewWorker(ingest.WorkerConfig{
		RetryFloor:        cfg.RetryFloor,
		RetryCeiling:      cfg.RetryCeiling,
		HeartbeatInterval: cfg.HeartbeatInterval,
		FillInterval:      cfg.BackfillInterval,
	}, store, filler, source)

	worker.OnReconnect = func() {
		prom.StreamReconnects.Inc()
		health.SetStreamConnected(false)
	}
	worker.OnFinalCandle = func() {
		prom.FinalCandlesTotal.Inc()
		health.SetStreamConnected(true)
		health.SetLastTickTime(time.Now())
	}
	worker.OnWriteError = prom.StoreWriteErrors.Inc

	health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		cancel()
		<-done
	case err := <-done:
		if err != nil {
			slog.Error("worker stopped", "err", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	slog.Info("stopped")
}
