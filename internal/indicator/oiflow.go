package indicator

import "math"

// Thresholds on the open-interest percent change, in percent points.
const (
	oiDisplayMin  = 0.30  // below this magnitude the move is noise
	oiOpenStrong  = 0.80  // strong position entry
	oiCloseStrong = -0.50 // strong position unwind
)

// FlowClass is the 2x2 sign classification of (OI change, price change).
type FlowClass string

const (
	NewLong     FlowClass = "NEW_LONG"
	NewShort    FlowClass = "NEW_SHORT"
	ShortCover  FlowClass = "SHORT_COVER"
	LongCover   FlowClass = "LONG_COVER"
	NeutralFlow FlowClass = "NEUTRAL"
)

// FlowStrength is the ordinal magnitude bucket of the OI change.
type FlowStrength string

const (
	Negligible FlowStrength = "NEGLIGIBLE"
	Moderate   FlowStrength = "MODERATE"
	Strong     FlowStrength = "STRONG"
)

// Flow is the classified open-interest move between two samples.
type Flow struct {
	DeltaPct float64      `json:"deltaPct"`
	Class    FlowClass    `json:"class"`
	Strength FlowStrength `json:"strength"`
}

// OiFlow classifies the open-interest change against the concurrent price
// move. prevOI == 0 yields a zero delta rather than dividing by zero.
func OiFlow(prevOI, currOI, priceDelta float64) Flow {
	var delta float64
	if prevOI != 0 {
		delta = (currOI - prevOI) / prevOI * 100
		delta = math.Round(delta*100) / 100
	}

	f := Flow{DeltaPct: delta}
	switch {
	case delta > 0 && priceDelta > 0:
		f.Class = NewLong
	case delta > 0 && priceDelta < 0:
		f.Class = NewShort
	case delta < 0 && priceDelta > 0:
		f.Class = ShortCover
	case delta < 0 && priceDelta < 0:
		f.Class = LongCover
	default:
		f.Class = NeutralFlow
	}

	switch {
	case math.Abs(delta) < oiDisplayMin:
		f.Strength = Negligible
	case delta >= oiOpenStrong || delta <= oiCloseStrong:
		f.Strength = Strong
	default:
		f.Strength = Moderate
	}
	return f
}
