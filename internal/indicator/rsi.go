package indicator

// DefaultRSIPeriod matches the conventional Wilder setting.
const DefaultRSIPeriod = 14

// RSI computes Wilder-smoothed RSI over the closes. ok is false while the
// series is shorter than period+1 candles; that is expected during warm-up
// and is not an error.
func RSI(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// RSILevel is the threshold classification of an RSI value.
type RSILevel string

const (
	Overbought RSILevel = "OVERBOUGHT"
	Oversold   RSILevel = "OVERSOLD"
	NeutralRSI RSILevel = "NEUTRAL"
)

// ClassifyRSI buckets an RSI value against the given thresholds. Zero
// thresholds fall back to the 60/40 defaults.
func ClassifyRSI(value, overbought, oversold float64) RSILevel {
	if overbought == 0 {
		overbought = 60
	}
	if oversold == 0 {
		oversold = 40
	}
	switch {
	case value >= overbought:
		return Overbought
	case value <= oversold:
		return Oversold
	default:
		return NeutralRSI
	}
}
