// Package metrics exposes Prometheus metrics and a health endpoint shared by
// the ingest worker, the relay server and the indicator API.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the candle pipeline.
type Metrics struct {
	// Ingest worker
	FinalCandlesTotal prometheus.Counter
	BackfilledRows    prometheus.Counter
	StreamReconnects  prometheus.Counter
	StoreWriteErrors  prometheus.Counter
	StoreCommitDur    prometheus.Histogram

	// Relay server
	Subscribers     prometheus.Gauge
	UpstreamConns   prometheus.Counter
	RelayDropsTotal prometheus.Counter

	// Indicator API
	SnapshotDur      prometheus.Histogram
	SnapshotRequests *prometheus.CounterVec // labels: endpoint, status
	CacheHits        prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		FinalCandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_final_total",
			Help: "Confirmed one-minute candles persisted from the stream",
		}),
		BackfilledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "candles_backfilled_total",
			Help: "Rows inserted by gap backfill",
		}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "Upstream stream reconnection attempts",
		}),
		StoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_write_errors_total",
			Help: "Failed candle upserts (tick dropped, healed by next backfill)",
		}),
		StoreCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "store_commit_duration_seconds",
			Help:    "SQLite upsert commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_subscribers",
			Help: "Currently attached relay subscribers",
		}),
		UpstreamConns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_connects_total",
			Help: "Upstream connections opened by the relay",
		}),
		RelayDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_drops_total",
			Help: "Payloads dropped on slow subscriber queues",
		}),

		SnapshotDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicator_snapshot_duration_seconds",
			Help:    "Indicator snapshot computation latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "API requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_oi_cache_hits_total",
			Help: "Open-interest responses served from the Redis cache",
		}),
	}

	prometheus.MustRegister(
		m.FinalCandlesTotal,
		m.BackfilledRows,
		m.StreamReconnects,
		m.StoreWriteErrors,
		m.StoreCommitDur,
		m.Subscribers,
		m.UpstreamConns,
		m.RelayDropsTotal,
		m.SnapshotDur,
		m.SnapshotRequests,
		m.CacheHits,
	)

	return m
}

// HealthStatus represents process health for /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	StreamConnected bool
	LastTickTime    time.Time
	RedisConnected  bool
	SQLiteOK        bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetStreamConnected(v bool) {
	h.mu.Lock()
	h.StreamConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the store and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil dependencies are
// skipped, so each binary probes only what it actually uses.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.StreamConnected {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		StreamConnected bool    `json:"stream_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overall,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		StreamConnected: h.StreamConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
