package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coingry/Indicator-dashboard/config"
	"github.com/coingry/Indicator-dashboard/internal/logger"
	"github.com/coingry/Indicator-dashboard/internal/marketdata/stream"
	"github.com/coingry/Indicator-dashboard/internal/metrics"
	"github.com/coingry/Indicator-dashboard/internal/relay"
)

func main() {
	cfg := config.Load()
	logger.Init("relayserver", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "addr", cfg.RelayAddr, "upstream", cfg.StreamURL())

	prom := metrics.New()
	health := metrics.NewHealthStatus()

	upstream, err := stream.New(stream.Config{URL: cfg.StreamURL()})
	if err != nil {
		slog.Error("upstream init failed", "err", err)
		os.Exit(1)
	}

	server := relay.NewServer(relay.Config{RetryDelay: cfg.RelayRetryDelay}, upstream)
	server.OnUpstreamConnect = func() {
		prom.UpstreamConns.Inc()
		health.SetStreamConnected(true)
	}
	server.OnUpstreamDown = func() { health.SetStreamConnected(false) }
	server.OnSubscribers = func(n int) { prom.Subscribers.Set(float64(n)) }
	server.OnDrop = prom.RelayDropsTotal.Inc

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", relay.NewHandler(server, cfg.AllowedOrigin))
	mux.HandleFunc("/healthz", health.ServeHTTP)
	srv := &http.Server{Addr: cfg.RelayAddr, Handler: mux}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	go func() {
		slog.Info("relay listening", "addr", cfg.RelayAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("relay server error", "err", err)
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
