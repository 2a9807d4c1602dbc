// Package agg resamples the one-minute base series into coarser resolutions.
// Buckets live in a map keyed by bucket start so live ticks can be folded in
// incrementally; a map built tick by tick is identical to one built from the
// full batch.
package agg

import (
	"sort"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// Init builds the bucket map for a resolution from base-interval rows.
// Rows may arrive in any order.
func Init(rows []model.Candle, resolution int64) map[int64]model.Candle {
	m := make(map[int64]model.Candle, len(rows))
	for _, row := range rows {
		fold(m, row, resolution)
	}
	return m
}

// UpsertTick folds one base-interval candle into the bucket map in place.
// The bucket's open is set by the first candle that creates it and never
// overwritten; high/low widen and close follows the latest arrival.
func UpsertTick(m map[int64]model.Candle, c model.Candle, resolution int64) {
	fold(m, c, resolution)
}

func fold(m map[int64]model.Candle, c model.Candle, resolution int64) {
	start := model.BucketFor(c.BucketStart, resolution)
	b, ok := m[start]
	if !ok {
		m[start] = model.Candle{
			BucketStart: start,
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
		}
		return
	}
	if c.High > b.High {
		b.High = c.High
	}
	if c.Low < b.Low {
		b.Low = c.Low
	}
	b.Close = c.Close
	m[start] = b
}

// SortedSeries flattens the bucket map into a slice ascending by bucket start.
func SortedSeries(m map[int64]model.Candle) []model.Candle {
	out := make([]model.Candle, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out
}
