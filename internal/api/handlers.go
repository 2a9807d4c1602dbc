// Package api is the HTTP query boundary: indicator snapshots, raw candle
// pages for incremental refresh, and the cached open-interest flow.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/coingry/Indicator-dashboard/internal/agg"
	"github.com/coingry/Indicator-dashboard/internal/indicator"
	"github.com/coingry/Indicator-dashboard/internal/marketdata"
	"github.com/coingry/Indicator-dashboard/internal/metrics"
	"github.com/coingry/Indicator-dashboard/internal/model"
)

const (
	defaultPeriodDays = 30
	defaultOverlapSec = 300
	oiCacheKey        = "oi:snapshot"
	oiCacheTTL        = 30 * time.Second
)

// SeriesReader is the read-side of the candle store the API depends on.
type SeriesReader interface {
	QueryRange(ctx context.Context, from, to int64) ([]model.Candle, error)
	LastCloses(ctx context.Context, n int) ([]model.Candle, error)
}

// Server wires the HTTP handlers to their dependencies. The Redis client and
// the open-interest source may be nil; /api/oi then reports unavailable.
type Server struct {
	store SeriesReader
	oi    marketdata.OpenInterestSource
	rdb   *goredis.Client
	mx    *metrics.Metrics

	now func() time.Time
}

// NewServer builds the API server.
func NewServer(store SeriesReader, oi marketdata.OpenInterestSource, rdb *goredis.Client, mx *metrics.Metrics) *Server {
	return &Server{store: store, oi: oi, rdb: rdb, mx: mx, now: time.Now}
}

// Register installs the API routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/indicators", s.handleIndicators)
	mux.HandleFunc("/api/candles", s.handleCandles)
	mux.HandleFunc("/api/oi", s.handleOI)
}

// envelope is the uniform response wrapper.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func (s *Server) observe(endpoint string, code int) {
	if s.mx != nil {
		s.mx.SnapshotRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

// VolatilityResult is the sigma section of a snapshot. A nil Bands with a
// non-empty Reason is the explicit "not enough history yet" state.
type VolatilityResult struct {
	Bands  *indicator.Bands `json:"bands"`
	Reason string           `json:"reason,omitempty"`
}

// RSIResult mirrors VolatilityResult for the momentum section.
type RSIResult struct {
	Value  *float64           `json:"value"`
	Level  indicator.RSILevel `json:"level,omitempty"`
	Period int                `json:"period"`
	Reason string             `json:"reason,omitempty"`
}

// IndicatorSnapshot is the full /api/indicators payload.
type IndicatorSnapshot struct {
	Resolution  string                `json:"resolution"`
	PeriodDays  int                   `json:"periodDays"`
	CandleCount int                   `json:"candleCount"`
	Volatility  VolatilityResult      `json:"volatility"`
	RSI         RSIResult             `json:"rsi"`
	Changes     indicator.TimeChanges `json:"changes"`
	LastUpdated string                `json:"lastUpdated"`
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	periodDays := intParam(q.Get("period"), defaultPeriodDays)
	resLabel := q.Get("resolution")
	if resLabel == "" {
		resLabel = DefaultResolution
	}
	resSec, ok := ResolutionSeconds(resLabel)
	if !ok {
		s.observe("indicators", http.StatusBadRequest)
		s.writeJSON(w, http.StatusBadRequest, envelope{Error: "unsupported resolution"})
		return
	}
	rsiLabel := q.Get("rsiResolution")
	if rsiLabel == "" {
		rsiLabel = resLabel
	}
	rsiSec, ok := ResolutionSeconds(rsiLabel)
	if !ok {
		s.observe("indicators", http.StatusBadRequest)
		s.writeJSON(w, http.StatusBadRequest, envelope{Error: "unsupported rsiResolution"})
		return
	}
	rsiPeriod := intParam(q.Get("rsiPeriod"), indicator.DefaultRSIPeriod)
	window := intParam(q.Get("window"), 0)

	nowSec := s.now().Unix()
	from := nowSec - int64(periodDays)*86400
	rows, err := s.store.QueryRange(r.Context(), from, nowSec)
	if err != nil {
		slog.Error("candle range query failed", "err", err)
		s.observe("indicators", http.StatusInternalServerError)
		s.writeJSON(w, http.StatusInternalServerError, envelope{Error: "store query failed"})
		return
	}

	series := resample(rows, resSec)
	closes := indicator.Closes(series)

	snap := IndicatorSnapshot{
		Resolution:  resLabel,
		PeriodDays:  periodDays,
		CandleCount: len(series),
		LastUpdated: s.now().UTC().Format(time.RFC3339),
	}

	bands, err := indicator.SigmaBands(closes, window)
	if err != nil {
		if !errors.Is(err, indicator.ErrInsufficientData) {
			slog.Warn("sigma computation failed", "err", err)
		}
		snap.Volatility = VolatilityResult{Reason: "insufficient data for sigma"}
	} else {
		snap.Volatility = VolatilityResult{Bands: &bands}
	}

	rsiCloses := closes
	if rsiSec != resSec {
		rsiCloses = indicator.Closes(resample(rows, rsiSec))
	}
	snap.RSI = RSIResult{Period: rsiPeriod}
	if v, ok := indicator.RSI(rsiCloses, rsiPeriod); ok {
		snap.RSI.Value = &v
		snap.RSI.Level = indicator.ClassifyRSI(v, 0, 0)
	} else {
		snap.RSI.Reason = "insufficient data for rsi"
	}

	if len(series) > 0 {
		snap.Changes = indicator.TimeBasedChanges(series, series[0].Close)
	}

	if s.mx != nil {
		s.mx.SnapshotDur.Observe(time.Since(start).Seconds())
	}
	s.observe("indicators", http.StatusOK)
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: snap})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nowSec := s.now().Unix()

	var from int64
	if since := q.Get("since"); since != "" {
		ts, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			s.observe("candles", http.StatusBadRequest)
			s.writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid since"})
			return
		}
		overlap := int64(intParam(q.Get("overlap"), defaultOverlapSec))
		from = ts - overlap
	} else {
		periodDays := intParam(q.Get("period"), defaultPeriodDays)
		from = nowSec - int64(periodDays)*86400
	}

	rows, err := s.store.QueryRange(r.Context(), from, nowSec)
	if err != nil {
		slog.Error("candle range query failed", "err", err)
		s.observe("candles", http.StatusInternalServerError)
		s.writeJSON(w, http.StatusInternalServerError, envelope{Error: "store query failed"})
		return
	}

	s.observe("candles", http.StatusOK)
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"candles": rows,
		"count":   len(rows),
	}})
}

// oiPayload is the cached /api/oi body.
type oiPayload struct {
	Flow       indicator.Flow `json:"flow"`
	PrevOI     float64        `json:"prevOI"`
	CurrOI     float64        `json:"currOI"`
	PriceDelta float64        `json:"priceDelta"`
	SampledAt  string         `json:"sampledAt"`
}

func (s *Server) handleOI(w http.ResponseWriter, r *http.Request) {
	if s.oi == nil {
		s.observe("oi", http.StatusOK)
		s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: nil, Error: "open interest source not configured"})
		return
	}

	ctx := r.Context()
	if s.rdb != nil {
		cached, err := s.rdb.Get(ctx, oiCacheKey).Bytes()
		if err == nil {
			if s.mx != nil {
				s.mx.CacheHits.Inc()
			}
			var payload oiPayload
			if json.Unmarshal(cached, &payload) == nil {
				s.observe("oi", http.StatusOK)
				s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: payload})
				return
			}
		} else if err != goredis.Nil {
			slog.Warn("oi cache read failed", "err", err)
		}
	}

	prev, curr, err := s.oi.OpenInterestSamples(ctx)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			s.observe("oi", http.StatusOK)
			s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: nil, Error: "insufficient open interest history"})
			return
		}
		slog.Error("open interest fetch failed", "err", err)
		s.observe("oi", http.StatusBadGateway)
		s.writeJSON(w, http.StatusBadGateway, envelope{Error: "open interest fetch failed"})
		return
	}

	var priceDelta float64
	if last, err := s.store.LastCloses(ctx, 2); err == nil && len(last) == 2 {
		priceDelta = last[1].Close - last[0].Close
	}

	payload := oiPayload{
		Flow:       indicator.OiFlow(prev.Value, curr.Value, priceDelta),
		PrevOI:     prev.Value,
		CurrOI:     curr.Value,
		PriceDelta: priceDelta,
		SampledAt:  s.now().UTC().Format(time.RFC3339),
	}

	if s.rdb != nil {
		if raw, err := json.Marshal(payload); err == nil {
			if err := s.rdb.Set(ctx, oiCacheKey, raw, oiCacheTTL).Err(); err != nil {
				slog.Warn("oi cache write failed", "err", err)
			}
		}
	}

	s.observe("oi", http.StatusOK)
	s.writeJSON(w, http.StatusOK, envelope{Success: true, Data: payload})
}

// resample returns the rows aggregated to the resolution; the base interval
// passes through untouched.
func resample(rows []model.Candle, resSec int64) []model.Candle {
	if resSec == model.IntervalSeconds {
		return rows
	}
	return agg.SortedSeries(agg.Init(rows, resSec))
}

func intParam(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
