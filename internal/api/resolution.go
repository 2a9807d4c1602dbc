package api

// DefaultResolution is used when the query omits one.
const DefaultResolution = "1m"

// resolutionSeconds maps the supported resolution labels to bucket widths.
var resolutionSeconds = map[string]int64{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
}

// ResolutionSeconds resolves a label like "5m" to its width in seconds.
// ok is false for unsupported labels.
func ResolutionSeconds(label string) (int64, bool) {
	sec, ok := resolutionSeconds[label]
	return sec, ok
}
