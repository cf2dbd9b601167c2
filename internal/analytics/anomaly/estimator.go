package anomaly

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MADScale converts a median absolute deviation into a standard deviation
	// estimate under a normal distribution. It is fixed so robust scores
	// reproduce bit-for-bit across runs and deployments.
	MADScale = 1.4826

	// Epsilon replaces a scale of exactly zero (a perfectly flat window)
	// before division.
	Epsilon = 1e-9
)

// Estimator names accepted by EstimatorByName.
const (
	EstimatorZScore       = "zscore"
	EstimatorRobustZScore = "robust_zscore"
)

// Baseline is the location/scale estimate of one metric's preceding window.
type Baseline struct {
	// Location is the window mean (parametric) or median (robust).
	Location float64
	// Dispersion is the raw spread: population stddev or unscaled MAD.
	Dispersion float64
	// Scale is the divisor used for scoring before epsilon substitution:
	// the stddev, or MADScale × MAD.
	Scale float64
}

// Estimator computes a Baseline from a window of preceding values and names
// the derived output columns.
type Estimator interface {
	// Name identifies the estimator in configuration, logs and metrics.
	Name() string

	// Estimate computes the baseline of window. NaN entries are missing and
	// excluded; ok is false when fewer than minPeriods values remain.
	Estimate(window []float64, minPeriods int) (b Baseline, ok bool)

	// ScoreColumn, LocationColumn and DispersionColumn name the derived
	// output columns for metric.
	ScoreColumn(metric string) string
	LocationColumn(metric string) string
	DispersionColumn(metric string) string
}

// EstimatorByName returns the estimator registered under name.
func EstimatorByName(name string) (Estimator, error) {
	switch name {
	case EstimatorZScore, "":
		return Parametric{}, nil
	case EstimatorRobustZScore:
		return Robust{}, nil
	}
	return nil, &ParamError{
		Field:   "estimator",
		Message: fmt.Sprintf("unknown estimator %q, must be one of: %s, %s", name, EstimatorZScore, EstimatorRobustZScore),
	}
}

// Parametric estimates location by the mean and scale by the population
// (divide-by-N) standard deviation.
type Parametric struct{}

func (Parametric) Name() string { return EstimatorZScore }

// Estimate accumulates deviations from the first present value so that a
// window of identical readings yields exactly that value and a zero scale.
func (Parametric) Estimate(window []float64, minPeriods int) (Baseline, bool) {
	n := 0
	shift := 0.0
	sum := 0.0
	for _, v := range window {
		if math.IsNaN(v) {
			continue
		}
		if n == 0 {
			shift = v
		}
		sum += v - shift
		n++
	}
	if n == 0 || n < minPeriods {
		return Baseline{}, false
	}
	meanDev := sum / float64(n)

	variance := 0.0
	for _, v := range window {
		if math.IsNaN(v) {
			continue
		}
		d := (v - shift) - meanDev
		variance += d * d
	}
	std := math.Sqrt(variance / float64(n))

	return Baseline{Location: shift + meanDev, Dispersion: std, Scale: std}, true
}

func (Parametric) ScoreColumn(m string) string      { return m + "__z" }
func (Parametric) LocationColumn(m string) string   { return m + "__mean_hist" }
func (Parametric) DispersionColumn(m string) string { return m + "__std_hist" }

// Robust estimates location by the median and scale by MADScale times the
// median absolute deviation.
type Robust struct{}

func (Robust) Name() string { return EstimatorRobustZScore }

func (Robust) Estimate(window []float64, minPeriods int) (Baseline, bool) {
	vals := make([]float64, 0, len(window))
	for _, v := range window {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 || len(vals) < minPeriods {
		return Baseline{}, false
	}

	med := median(vals)
	for i, v := range vals {
		vals[i] = math.Abs(v - med)
	}
	mad := median(vals)

	return Baseline{Location: med, Dispersion: mad, Scale: MADScale * mad}, true
}

func (Robust) ScoreColumn(m string) string      { return m + "__robust_z" }
func (Robust) LocationColumn(m string) string   { return m + "__median_hist" }
func (Robust) DispersionColumn(m string) string { return m + "__mad_hist" }

// median sorts vals in place and returns the middle value, averaging the two
// middle values for even lengths.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// score standardizes value against b, substituting Epsilon for a zero scale.
func score(value float64, b Baseline) float64 {
	scale := b.Scale
	if scale == 0 {
		scale = Epsilon
	}
	return (value - b.Location) / scale
}
