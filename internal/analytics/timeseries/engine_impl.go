package timeseries

import (
	"fmt"
	"math"
	"time"
)

// NewSeries creates an empty series for the given key with one column per
// metric. capacity is a sizing hint for the arena buffers.
func NewSeries(key []string, metrics, capacity int) *Series {
	if capacity < 0 {
		capacity = 0
	}
	k := make([]string, len(key))
	copy(k, key)
	cols := make([][]float64, metrics)
	for m := range cols {
		cols[m] = make([]float64, 0, capacity)
	}
	return &Series{
		Key:        k,
		Rows:       make([]int, 0, capacity),
		Timestamps: make([]time.Time, 0, capacity),
		columns:    cols,
	}
}

// Append adds a sample at the end of the series. Samples must be appended in
// non-decreasing timestamp order; values holds one entry per metric, NaN for
// missing.
func (s *Series) Append(row int, ts time.Time, values []float64) error {
	if len(values) != len(s.columns) {
		return fmt.Errorf("series %v: expected %d metric values, got %d", s.Key, len(s.columns), len(values))
	}
	if n := len(s.Timestamps); n > 0 && ts.Before(s.Timestamps[n-1]) {
		return fmt.Errorf("series %v: timestamp %s before previous %s", s.Key, ts, s.Timestamps[n-1])
	}
	s.Rows = append(s.Rows, row)
	s.Timestamps = append(s.Timestamps, ts)
	for m, v := range values {
		s.columns[m] = append(s.columns[m], v)
	}
	return nil
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.Timestamps) }

// Metrics returns the number of metric columns.
func (s *Series) Metrics() int { return len(s.columns) }

// Value returns metric m at position i and whether it is present.
func (s *Series) Value(m, i int) (float64, bool) {
	v := s.columns[m][i]
	return v, !math.IsNaN(v)
}

// Window returns the n values of metric m immediately preceding position i.
// ok is false when fewer than n samples precede i. The returned slice aliases
// the series buffer and must not be modified.
func (s *Series) Window(m, i, n int) (window []float64, ok bool) {
	if n <= 0 || i < n || i > s.Len() {
		return nil, false
	}
	col := s.columns[m]
	return col[i-n : i : i], true
}
