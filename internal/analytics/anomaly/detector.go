package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// Package anomaly provides rolling-window anomaly detection for network
// quality measurements using classical statistics.
//
// Responsibilities:
//   - Partition a record set into independent groups by a composite key
//   - Order each group by timestamp (stable, ties keep input order)
//   - Estimate a per-metric baseline from the `window` points strictly before
//     each point, never including the point itself
//   - Score every point against its baseline and keep the points where any
//     metric's |score| exceeds the threshold
//
// Estimators:
//
//   1. Parametric ("zscore")
//      - location = mean, scale = population stddev (divide by N)
//      - output columns: m__z, m__mean_hist, m__std_hist
//
//   2. Robust ("robust_zscore")
//      - location = median, scale = 1.4826 × MAD
//      - output columns: m__robust_z, m__median_hist, m__mad_hist (raw MAD)
//
// Numeric rules:
//   - A point at sorted position i has a baseline only when i >= window and
//     all window values are numeric; otherwise it is left unscored
//   - A scale of exactly zero is replaced by Epsilon (1e-9)
//   - Selection is strict: |score| > threshold
//
// Error handling:
//   - Missing group/time/metric columns fail the run with a SchemaError
//   - Uncoercible metric values become missing; rows with an unparsable
//     timestamp or NULL group key are dropped from scoring
//   - Empty input yields an empty result
//
// Concurrency:
//   - Groups share no data, so Params.Workers > 1 scores groups in parallel.
//     The result is identical for any worker count.

// Detector runs one batch detection over a record set.
type Detector interface {
	// Detect scores frame and returns the selected anomaly records.
	Detect(ctx context.Context, frame *models.Frame, params Params) (*Result, error)
}

// Params are the explicit inputs of one detection call.
type Params struct {
	// Window is the number of preceding points forming each baseline.
	Window int
	// Threshold is the exclusive |score| bound above which a metric flags.
	Threshold float64
	// GroupFields are the ordered key columns (e.g. isp, agent, server).
	GroupFields []string
	// TimeField is the timestamp column.
	TimeField string
	// MetricFields are the ordered metric columns to score.
	MetricFields []string
	// Estimator selects the baseline strategy. Nil means Parametric.
	Estimator Estimator
	// Workers bounds group-level parallelism. Values below 2 run serially.
	Workers int
}

// MetricScore is the per-metric detail of one scored point.
type MetricScore struct {
	// Value is the parsed metric value, NaN when missing.
	Value float64
	// Baseline is the estimate from the preceding window. Zero when !HasBaseline.
	Baseline Baseline
	// HasBaseline reports whether the preceding window was complete.
	HasBaseline bool
	// Z is the standardized score, NaN when the value or baseline is missing.
	Z float64
	// Exceeded reports |Z| > threshold.
	Exceeded bool
}

// Defined reports whether the metric was scored.
func (s MetricScore) Defined() bool { return !math.IsNaN(s.Z) }

// AnomalyRecord is a selected sample with every metric's score and baseline.
type AnomalyRecord struct {
	Key       []string
	Timestamp time.Time
	// Row is the input frame row, shared with the input and never modified.
	Row    []any
	Scores []MetricScore
}

// Stats summarizes one detection run.
type Stats struct {
	Rows             int
	Groups           int
	ScoredPoints     int
	CoercionFailures int
	DroppedRows      int
	Anomalies        int
}

// Result is the output of one detection run.
type Result struct {
	// Columns are the input frame columns, in order.
	Columns []string
	// Metrics are the scored metric fields, in order.
	Metrics   []string
	Estimator Estimator
	Threshold float64
	Window    int
	Records   []AnomalyRecord
	Stats     Stats
}

// NewDetector creates a new anomaly detector.
// The concrete implementation is in detector_impl.go.
func NewDetector() Detector {
	return &detectorImpl{}
}

// Detect is a convenience wrapper around NewDetector().Detect.
func Detect(ctx context.Context, frame *models.Frame, params Params) (*Result, error) {
	return NewDetector().Detect(ctx, frame, params)
}

// OutputColumns returns the input columns followed by, per metric, the
// score, location and dispersion columns.
func (r *Result) OutputColumns() []string {
	est := r.estimator()
	cols := make([]string, 0, len(r.Columns)+3*len(r.Metrics))
	cols = append(cols, r.Columns...)
	for _, m := range r.Metrics {
		cols = append(cols, est.ScoreColumn(m), est.LocationColumn(m), est.DispersionColumn(m))
	}
	return cols
}

// OutputRow returns record i flattened in OutputColumns order. Undefined
// scores and baselines are nil.
func (r *Result) OutputRow(i int) []any {
	rec := r.Records[i]
	row := make([]any, 0, len(rec.Row)+3*len(rec.Scores))
	row = append(row, rec.Row...)
	for _, s := range rec.Scores {
		if s.Defined() {
			row = append(row, s.Z)
		} else {
			row = append(row, nil)
		}
		if s.HasBaseline {
			row = append(row, s.Baseline.Location, s.Baseline.Dispersion)
		} else {
			row = append(row, nil, nil)
		}
	}
	return row
}

func (r *Result) estimator() Estimator {
	if r.Estimator == nil {
		return Parametric{}
	}
	return r.Estimator
}
