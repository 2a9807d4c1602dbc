// Package indicator holds the pure numeric functions behind the dashboard:
// log-return volatility with band breakout classification, Wilder RSI, and
// open-interest flow. All functions are stateless over an ascending series.
package indicator

import (
	"errors"
	"math"

	"github.com/coingry/Indicator-dashboard/internal/model"
)

// ErrInsufficientData marks a series too short for the requested computation.
// Callers treat it as a normal cold-start condition, not a failure.
var ErrInsufficientData = errors.New("insufficient data")

// Closes extracts the close column from a candle series.
func Closes(series []model.Candle) []float64 {
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = c.Close
	}
	return out
}

// Sigma returns the sample standard deviation of log returns over the last
// `window` returns of the series. window <= 0 means the full series; a window
// larger than the available returns is clamped to the full series rather than
// rejected. ErrInsufficientData means fewer than 2 returns exist at all.
func Sigma(closes []float64, window int) (float64, error) {
	nReturns := len(closes) - 1
	if nReturns < 1 {
		return 0, ErrInsufficientData
	}
	if window <= 0 || window > nReturns {
		window = nReturns
	}

	tail := closes[len(closes)-(window+1):]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance), nil
}

// BreakoutState classifies the current close against the ±1σ band.
type BreakoutState string

const (
	UpperBreak     BreakoutState = "UPPER_BREAK"
	Inside         BreakoutState = "INSIDE"
	LowerBreak     BreakoutState = "LOWER_BREAK"
	ZeroVolatility BreakoutState = "ZERO_VOLATILITY"
)

// Bands is the volatility snapshot derived from one sigma computation.
// RefClose is the period-start close the bands are anchored on; Z measures
// how many sigma-widths the current close sits from that anchor.
type Bands struct {
	Sigma         float64       `json:"sigma"`
	SigmaPercent  float64       `json:"sigmaPercent"`
	SigmaAbsolute float64       `json:"sigmaAbsolute"`
	RefClose      float64       `json:"refClose"`
	CurrentClose  float64       `json:"currentClose"`
	Upper1        float64       `json:"upper1"`
	Lower1        float64       `json:"lower1"`
	Upper2        float64       `json:"upper2"`
	Lower2        float64       `json:"lower2"`
	Upper3        float64       `json:"upper3"`
	Lower3        float64       `json:"lower3"`
	Z             float64       `json:"z"`
	State         BreakoutState `json:"state"`
	// Beyond is how far past the band the close sits, in sigma units
	// (breakout states only). ToUpper/ToLower are the remaining distances
	// to each band (Inside only).
	Beyond  float64 `json:"beyond,omitempty"`
	ToUpper float64 `json:"toUpper,omitempty"`
	ToLower float64 `json:"toLower,omitempty"`
}

// SigmaBands computes sigma over the series and the full band snapshot
// anchored on the first close. A flat series (sigmaAbsolute == 0) yields the
// ZeroVolatility state instead of a NaN z-score.
func SigmaBands(closes []float64, window int) (Bands, error) {
	sigma, err := Sigma(closes, window)
	if err != nil {
		return Bands{}, err
	}

	ref := closes[0]
	curr := closes[len(closes)-1]
	abs := ref * sigma

	b := Bands{
		Sigma:         sigma,
		SigmaPercent:  sigma * 100,
		SigmaAbsolute: abs,
		RefClose:      ref,
		CurrentClose:  curr,
		Upper1:        ref + abs,
		Lower1:        ref - abs,
		Upper2:        ref + 2*abs,
		Lower2:        ref - 2*abs,
		Upper3:        ref + 3*abs,
		Lower3:        ref - 3*abs,
	}

	if abs == 0 {
		b.State = ZeroVolatility
		return b, nil
	}

	b.Z = (curr - ref) / abs
	switch {
	case b.Z >= 1:
		b.State = UpperBreak
		b.Beyond = b.Z - 1
	case b.Z <= -1:
		b.State = LowerBreak
		b.Beyond = -(b.Z + 1)
	default:
		b.State = Inside
		b.ToUpper = 1 - b.Z
		b.ToLower = 1 + b.Z
	}
	return b, nil
}
