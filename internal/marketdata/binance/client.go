// Package binance adapts the Binance futures REST API to the marketdata
// ports using the go-binance library.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/coingry/Indicator-dashboard/internal/marketdata"
	"github.com/coingry/Indicator-dashboard/internal/model"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	klineInterval = "1m"
	oiPeriod      = "5m"
)

// Config holds configuration for the Binance REST adapter.
type Config struct {
	Symbol     string // e.g. "BTCUSDT"
	APIKey     string
	SecretKey  string
	UseTestnet bool
}

// Client implements marketdata.HistorySource and marketdata.OpenInterestSource.
type Client struct {
	symbol  string
	futures *futures.Client
}

// New creates a Binance REST adapter. API keys may be empty: all endpoints
// used here are public.
func New(cfg Config) (*Client, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("binance: symbol is required")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	slog.Info("binance client configured", "symbol", cfg.Symbol, "baseURL", client.BaseURL)

	return &Client{symbol: cfg.Symbol, futures: client}, nil
}

// Klines returns up to limit one-minute candles starting at startMs, ascending.
func (c *Client) Klines(ctx context.Context, startMs int64, limit int) ([]model.Candle, error) {
	klines, err := c.futures.NewKlinesService().
		Symbol(c.symbol).
		Interval(klineInterval).
		StartTime(startMs).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w", err)
	}

	out := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := translateKline(k)
		if err != nil {
			return nil, fmt.Errorf("binance klines: %w", err)
		}
		out = append(out, candle)
	}
	return out, nil
}

// OpenInterestSamples returns the two most recent 5-minute open-interest
// observations, oldest first.
func (c *Client) OpenInterestSamples(ctx context.Context) (prev, curr marketdata.OiSample, err error) {
	stats, err := c.futures.NewOpenInterestStatisticsService().
		Symbol(c.symbol).
		Period(oiPeriod).
		Limit(2).
		Do(ctx)
	if err != nil {
		return prev, curr, fmt.Errorf("binance open interest: %w", err)
	}
	if len(stats) < 2 {
		return prev, curr, fmt.Errorf("binance open interest: %w", marketdata.ErrNoData)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Timestamp < stats[j].Timestamp })

	prev, err = translateOiStat(stats[0])
	if err != nil {
		return prev, curr, err
	}
	curr, err = translateOiStat(stats[1])
	return prev, curr, err
}

// Ping checks REST connectivity to the exchange.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futures.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	return nil
}

func translateKline(k *futures.Kline) (model.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("parsing open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("parsing high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("parsing low %q: %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("parsing close %q: %w", k.Close, err)
	}

	return model.Candle{
		BucketStart: k.OpenTime / 1000,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cls,
	}, nil
}

func translateOiStat(s *futures.OpenInterestStatistic) (marketdata.OiSample, error) {
	v, err := strconv.ParseFloat(s.SumOpenInterest, 64)
	if err != nil {
		return marketdata.OiSample{}, fmt.Errorf("parsing open interest %q: %w", s.SumOpenInterest, err)
	}
	return marketdata.OiSample{Timestamp: s.Timestamp, Value: v}, nil
}
