package indicator

import "github.com/coingry/Indicator-dashboard/internal/model"

// ChangePercent returns the percent change from previous to current.
// ok is false when previous is zero.
func ChangePercent(current, previous float64) (float64, bool) {
	if previous == 0 {
		return 0, false
	}
	return (current/previous - 1) * 100, true
}

// TimeChanges is the percent change of the latest close against fixed
// lookbacks. Nil fields mean the lookback falls before the series.
type TimeChanges struct {
	Delta1H *float64 `json:"delta1H"`
	Delta4H *float64 `json:"delta4H"`
	Delta1D *float64 `json:"delta1D"`
}

// TimeBasedChanges computes 1h/4h changes against the nearest close at or
// before each cutoff, and the 1d change against prevClose (the period-start
// anchor).
func TimeBasedChanges(series []model.Candle, prevClose float64) TimeChanges {
	if len(series) == 0 {
		return TimeChanges{}
	}
	current := series[len(series)-1].Close
	now := series[len(series)-1].BucketStart

	change := func(cutoff int64) *float64 {
		ref, ok := closeBefore(series, cutoff)
		if !ok {
			return nil
		}
		pct, ok := ChangePercent(current, ref)
		if !ok {
			return nil
		}
		return &pct
	}

	tc := TimeChanges{
		Delta1H: change(now - 3600),
		Delta4H: change(now - 4*3600),
	}
	if pct, ok := ChangePercent(current, prevClose); ok {
		tc.Delta1D = &pct
	}
	return tc
}

// closeBefore returns the close of the latest candle at or before cutoff.
func closeBefore(series []model.Candle, cutoff int64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].BucketStart <= cutoff {
			return series[i].Close, true
		}
	}
	return 0, false
}
