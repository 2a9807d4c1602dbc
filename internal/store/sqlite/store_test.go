package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeCandles(start int64, n int) []model.Candle {
	rows := make([]model.Candle, n)
	for i := range rows {
		base := 100 + float64(i)
		rows[i] = model.Candle{
			BucketStart: start + int64(i)*model.IntervalSeconds,
			Open:        base,
			High:        base + 1,
			Low:         base - 1,
			Close:       base + 0.5,
		}
	}
	return rows
}

func countRows(t *testing.T, store *Store) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM candles").Scan(&n))
	return n
}

func TestUpsertIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rows := makeCandles(0, 10)

	require.NoError(t, store.Upsert(ctx, rows))
	assert.Equal(t, 10, countRows(t, store))

	// Replaying the same page must not grow the table.
	require.NoError(t, store.Upsert(ctx, rows))
	assert.Equal(t, 10, countRows(t, store))
}

func TestUpsertReplacesByBucket(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []model.Candle{
		{BucketStart: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}))
	require.NoError(t, store.Upsert(ctx, []model.Candle{
		{BucketStart: 60, Open: 1, High: 3, Low: 0.4, Close: 2.5},
	}))

	got, err := store.QueryRange(ctx, 0, 120)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.5, got[0].Close)
	assert.Equal(t, 3.0, got[0].High)
}

func TestQueryPaging(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rows := makeCandles(0, 25)
	require.NoError(t, store.Upsert(ctx, rows))

	page1, err := store.Query(ctx, 0, rows[len(rows)-1].BucketStart, 0, 10)
	require.NoError(t, err)
	require.Len(t, page1, 10)
	assert.Equal(t, int64(0), page1[0].BucketStart)

	page2, err := store.Query(ctx, 0, rows[len(rows)-1].BucketStart, page1[len(page1)-1].BucketStart, 10)
	require.NoError(t, err)
	require.Len(t, page2, 10)
	assert.Equal(t, page1[len(page1)-1].BucketStart+model.IntervalSeconds, page2[0].BucketStart)
}

func TestQueryRangeReadsEverything(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	rows := makeCandles(0, 1500) // forces more than one internal page
	require.NoError(t, store.Upsert(ctx, rows))

	got, err := store.QueryRange(ctx, 0, rows[len(rows)-1].BucketStart)
	require.NoError(t, err)
	require.Len(t, got, 1500)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].BucketStart, got[i-1].BucketStart)
	}
}

func TestLastBucketStart(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	last, err := store.LastBucketStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last, "empty store reports zero")

	require.NoError(t, store.Upsert(ctx, makeCandles(600, 5)))
	last, err = store.LastBucketStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600+4*model.IntervalSeconds), last)
}

func TestLastCloses(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, makeCandles(0, 5)))

	got, err := store.LastCloses(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Ascending: older of the pair first.
	assert.Equal(t, int64(3*model.IntervalSeconds), got[0].BucketStart)
	assert.Equal(t, int64(4*model.IntervalSeconds), got[1].BucketStart)
	assert.Equal(t, 104.5, got[1].Close)
}
