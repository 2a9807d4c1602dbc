package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/coingry/Indicator-dashboard/config"
	"github.com/coingry/Indicator-dashboard/internal/api"
	"github.com/coingry/Indicator-dashboard/internal/logger"
	"github.com/coingry/Indicator-dashboard/internal/marketdata/binance"
	"github.com/coingry/Indicator-dashboard/internal/metrics"
	sqlitestore "github.com/coingry/Indicator-dashboard/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	logger.Init("indicatorapi", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "addr", cfg.APIAddr)

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	health.SetStreamConnected(true) // this binary has no stream of its own

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("sqlite open failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	oi, err := binance.New(binance.Config{
		Symbol:     cfg.Symbol,
		APIKey:     cfg.BinanceKey,
		SecretKey:  cfg.BinanceSecret,
		UseTestnet: cfg.UseTestnet,
	})
	if err != nil {
		slog.Error("open interest source init failed", "err", err)
		os.Exit(1)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, oi cache disabled", "err", err)
		rdb = nil
	}

	if rdb != nil {
		health.StartLivenessChecker(ctx, rdb, store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	srvAPI := api.NewServer(store, oi, rdb, prom)
	mux := http.NewServeMux()
	srvAPI.Register(mux)
	mux.HandleFunc("/healthz", health.ServeHTTP)
	srv := &http.Server{Addr: cfg.APIAddr, Handler: mux}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	go func() {
		slog.Info("api listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("api server error", "err", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	slog.Info("stopped")
}
