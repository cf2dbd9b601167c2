package report

import "math"

// Severity is the band an anomaly score falls into.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityNone   Severity = "none"
)

// Band thresholds on |z|.
const (
	HighBound   = 3.5
	MediumBound = 3.0
	LowBound    = 2.0
)

// Band maps a score to its severity: |z| >= 3.5 high, [3, 3.5) medium,
// [2, 3) low, anything else (including NaN) none.
//
// The daily report this feeds names only high and medium. The low band is a
// local addition for runs scored at a threshold below 3; filter with
// AtLeast(SeverityMedium) to get the two-band view.
func Band(z float64) Severity {
	a := math.Abs(z)
	switch {
	case math.IsNaN(a):
		return SeverityNone
	case a >= HighBound:
		return SeverityHigh
	case a >= MediumBound:
		return SeverityMedium
	case a >= LowBound:
		return SeverityLow
	}
	return SeverityNone
}

// rank orders severities from none (0) to high (3).
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.rank() >= min.rank()
}

// ParseSeverity accepts "high", "medium", "low" or "none".
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow, SeverityNone:
		return Severity(s), true
	}
	return "", false
}
