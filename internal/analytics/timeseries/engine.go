package timeseries

// Package timeseries provides the per-group series storage used by the
// anomaly detector.
//
// Storage Architecture:
//   - One Series per group key, holding the group's samples in time order.
//   - Arena-style columns: one contiguous []float64 buffer per metric, indexed
//     by the sample's position in the sorted series.
//   - Missing values are stored as NaN and never participate in a statistic.
//
// Window Semantics:
//   - Window(m, i, n) returns the n values immediately before position i,
//     i.e. the half-open interval [i-n, i). Position i itself is never part of
//     its own window.
//   - The window is only available when i >= n; earlier positions have no
//     baseline.
//
// Series are built once per detection run and never mutated afterwards, so a
// Series may be read from several goroutines without locking.

import "time"

// Series is the time-ordered storage for one group.
type Series struct {
	// Key is the group key tuple the series belongs to.
	Key []string

	// Rows holds the index of each sample in the originating frame.
	Rows []int

	// Timestamps holds one timestamp per sample, non-decreasing.
	Timestamps []time.Time

	// columns[m][i] is the parsed value of metric m at position i.
	columns [][]float64
}
