package timeseries

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesAppendAndWindow(t *testing.T) {
	t0 := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	s := NewSeries([]string{"Viettel", "A", "S"}, 2, 4)

	for i, v := range []float64{1, 2, 3, 4} {
		require.NoError(t, s.Append(10+i, t0.Add(time.Duration(i)*time.Hour), []float64{v, v * 10}))
	}
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, 2, s.Metrics())
	assert.Equal(t, []int{10, 11, 12, 13}, s.Rows)

	w, ok := s.Window(0, 3, 3)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3}, w)

	w, ok = s.Window(1, 4, 2)
	require.True(t, ok)
	assert.Equal(t, []float64{30, 40}, w)

	// The window never reaches position i itself.
	w, ok = s.Window(0, 1, 1)
	require.True(t, ok)
	assert.Equal(t, []float64{1}, w)

	_, ok = s.Window(0, 2, 3)
	assert.False(t, ok, "fewer than n preceding samples")
	_, ok = s.Window(0, 2, 0)
	assert.False(t, ok)
	_, ok = s.Window(0, 5, 1)
	assert.False(t, ok)
}

func TestSeriesWindowCannotGrowIntoPoint(t *testing.T) {
	s := NewSeries(nil, 1, 0)
	t0 := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(i, t0, []float64{float64(i)}))
	}
	w, ok := s.Window(0, 2, 2)
	require.True(t, ok)
	assert.Equal(t, 2, cap(w))
}

func TestSeriesAppendErrors(t *testing.T) {
	t0 := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	s := NewSeries([]string{"k"}, 2, 0)

	err := s.Append(0, t0, []float64{1})
	assert.Error(t, err)

	require.NoError(t, s.Append(0, t0, []float64{1, math.NaN()}))
	// Equal timestamps are allowed.
	require.NoError(t, s.Append(1, t0, []float64{2, 3}))
	assert.Error(t, s.Append(2, t0.Add(-time.Second), []float64{1, 1}))

	v, ok := s.Value(1, 0)
	assert.False(t, ok)
	assert.True(t, math.IsNaN(v))

	v, ok = s.Value(1, 1)
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestNewSeriesCopiesKey(t *testing.T) {
	key := []string{"a", "b"}
	s := NewSeries(key, 1, -1)
	key[0] = "changed"
	assert.Equal(t, []string{"a", "b"}, s.Key)
}
