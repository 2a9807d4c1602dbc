package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/coingry/Indicator-dashboard/internal/marketdata"
	"github.com/coingry/Indicator-dashboard/internal/model"
)

// SeriesStore is the slice of the candle store the ingestion side writes to.
type SeriesStore interface {
	Upsert(ctx context.Context, rows []model.Candle) error
	LastBucketStart(ctx context.Context) (int64, error)
}

const defaultPageSize = 1000

// GapFiller reconciles the stored series against the REST history API,
// backfilling every bucket between the last stored candle and now.
// Upserts are idempotent so a replayed page is harmless.
type GapFiller struct {
	store   SeriesStore
	history marketdata.HistorySource

	// PageSize is the history request size per round trip.
	PageSize int
	// PageDelay spaces consecutive history requests to respect rate limits.
	PageDelay time.Duration

	// OnRows is called with the size of each stored page.
	OnRows func(n int)
}

// NewGapFiller creates a GapFiller with the default page size.
func NewGapFiller(store SeriesStore, history marketdata.HistorySource, pageDelay time.Duration) *GapFiller {
	return &GapFiller{
		store:     store,
		history:   history,
		PageSize:  defaultPageSize,
		PageDelay: pageDelay,
	}
}

// Fill backfills every missing bucket from the last stored candle up to now
// (Unix seconds). It returns the number of rows upserted. A fetch or store
// error aborts the fill early with partial progress retained; the caller logs
// and retries on its next scheduled pass.
func (g *GapFiller) Fill(ctx context.Context, now int64) (int, error) {
	last, err := g.store.LastBucketStart(ctx)
	if err != nil {
		return 0, err
	}

	gap := now - last
	if gap < model.IntervalSeconds {
		slog.Debug("backfill skipped, series current", "last", last)
		return 0, nil
	}
	slog.Info("backfill starting", "missingMinutes", gap/model.IntervalSeconds, "last", last)

	inserted := 0
	cursor := (last + model.IntervalSeconds) * 1000 // ms

	for cursor < now*1000 {
		page, err := g.history.Klines(ctx, cursor, g.PageSize)
		if err != nil {
			return inserted, err
		}
		if len(page) == 0 {
			break
		}

		if err := g.store.Upsert(ctx, page); err != nil {
			return inserted, err
		}
		inserted += len(page)
		slog.Info("backfill page stored", "rows", len(page))
		if g.OnRows != nil {
			g.OnRows(len(page))
		}

		cursor = (page[len(page)-1].BucketStart + model.IntervalSeconds) * 1000
		if len(page) < g.PageSize {
			break
		}

		select {
		case <-ctx.Done():
			return inserted, ctx.Err()
		case <-time.After(g.PageDelay):
		}
	}

	return inserted, nil
}
