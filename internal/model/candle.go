package model

import "encoding/json"

// IntervalSeconds is the native bucket width of the stored series.
// Raw ticks arrive as one-minute kline updates.
const IntervalSeconds int64 = 60

// Candle is one OHLC bucket keyed by its start time in Unix seconds.
// BucketStart is always a multiple of the series interval.
type Candle struct {
	BucketStart int64   `json:"bucketStart"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// TickUpdate is a live candle update from the exchange stream. Final is true
// once the bucket has closed; only final updates may be persisted.
type TickUpdate struct {
	Candle
	Final bool `json:"final"`
}

// JSON returns the wire payload relayed to downstream subscribers:
// {bucketStart,open,high,low,close,final}.
func (t *TickUpdate) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// BucketFor aligns a Unix-seconds timestamp to the start of its bucket
// at the given resolution.
func BucketFor(ts, resolution int64) int64 {
	return ts - ts%resolution
}
