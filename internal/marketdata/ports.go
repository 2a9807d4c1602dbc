// Package marketdata defines the boundary interfaces toward the exchange:
// paged REST history, open-interest samples, and the live kline stream.
// Concrete adapters live in the binance and stream subpackages.
package marketdata

import (
	"context"
	"errors"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// ErrNoData is returned when the upstream answers successfully but carries
// fewer rows than the operation requires.
var ErrNoData = errors.New("marketdata: no data")

// HistorySource returns fixed-size pages of historical candles.
type HistorySource interface {
	// Klines returns up to limit one-minute candles starting at startMs
	// (Unix milliseconds), ascending.
	Klines(ctx context.Context, startMs int64, limit int) ([]model.Candle, error)
}

// OiSample is one open-interest observation.
type OiSample struct {
	Timestamp int64   // Unix milliseconds
	Value     float64 // outstanding contracts
}

// OpenInterestSource returns the two most recent 5-minute open-interest
// samples for the configured symbol.
type OpenInterestSource interface {
	OpenInterestSamples(ctx context.Context) (prev, curr OiSample, err error)
}

// TickStream is a persistent connection delivering kline updates. Handlers
// are invoked sequentially from a single read loop; no two callbacks for the
// same connection run concurrently.
type TickStream interface {
	// Connect dials the stream and starts the read loop. Handlers must be
	// registered before calling Connect.
	Connect(ctx context.Context) error
	// Ping sends a keepalive control frame.
	Ping() error
	// Close tears the connection down; no callbacks fire afterwards.
	Close()
}
