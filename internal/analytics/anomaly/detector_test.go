package anomaly

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

var (
	groupFields  = []string{"isp", "account_login_vqt", "server_name"}
	metricFields = []string{"mean_jitter", "mean_average_latency", "mean_packet_loss_rate"}
	baseTime     = time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
)

func newPingFrame() *models.Frame {
	return models.NewFrame("isp", "account_login_vqt", "server_name", "testing_time",
		"mean_jitter", "mean_average_latency", "mean_packet_loss_rate")
}

// appendSeries appends one row per latency value at hourly steps. Jitter and
// packet loss are kept constant so only latency can flag.
func appendSeries(f *models.Frame, isp, agent, server string, latency ...any) {
	for i, v := range latency {
		f.Append(isp, agent, server, baseTime.Add(time.Duration(i)*time.Hour), 1.0, v, 0.0)
	}
}

func defaultParams(window int, threshold float64) Params {
	return Params{
		Window:       window,
		Threshold:    threshold,
		GroupFields:  groupFields,
		TimeField:    "testing_time",
		MetricFields: metricFields,
	}
}

// flatten renders a result through OutputRow so NaN-free comparisons work
// with assert.Equal.
func flatten(r *Result) [][]any {
	out := make([][]any, len(r.Records))
	for i := range r.Records {
		out[i] = r.OutputRow(i)
	}
	return out
}

func TestDetect_ParametricFlatHistorySpike(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "HN_Agent01", "HCM Speedtest", 10, 10, 10, 10, 100)

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.Equal(t, baseTime.Add(4*time.Hour), rec.Timestamp)
	assert.Equal(t, []string{"Viettel", "HN_Agent01", "HCM Speedtest"}, rec.Key)

	lat := rec.Scores[1]
	assert.True(t, lat.HasBaseline)
	assert.Equal(t, 10.0, lat.Baseline.Location)
	assert.Equal(t, 0.0, lat.Baseline.Scale)
	assert.False(t, math.IsInf(lat.Z, 0))
	assert.InEpsilon(t, 90/Epsilon, lat.Z, 1e-9)
	assert.True(t, lat.Exceeded)

	// Constant jitter scores 0 against its flat window.
	assert.Equal(t, 0.0, rec.Scores[0].Z)
	assert.False(t, rec.Scores[0].Exceeded)
}

func TestDetect_RobustFlatHistorySpike(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "HN_Agent01", "HCM Speedtest", 10, 10, 10, 10, 100)

	p := defaultParams(3, 3)
	p.Estimator = Robust{}
	res, err := Detect(context.Background(), f, p)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	lat := res.Records[0].Scores[1]
	assert.Equal(t, 10.0, lat.Baseline.Location)
	assert.Equal(t, 0.0, lat.Baseline.Dispersion)
	assert.InEpsilon(t, 90/Epsilon, lat.Z, 1e-9)
}

func TestDetect_FlatDecimalHistory(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "HN_Agent01", "HCM Speedtest", 0.1, 0.1, 0.1, 0.1)

	res, err := Detect(context.Background(), f, defaultParams(3, 0.5))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestDetect_FlatDecimalHistorySpike(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "HN_Agent01", "HCM Speedtest", 12.3, 12.3, 12.3, 12.3, 20.0)

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	lat := res.Records[0].Scores[1]
	assert.Equal(t, 12.3, lat.Baseline.Location)
	assert.Equal(t, 0.0, lat.Baseline.Scale)
	assert.InEpsilon(t, (20.0-12.3)/Epsilon, lat.Z, 1e-9)
	assert.True(t, lat.Exceeded)
}

func TestGroupFrame_KeyCellsDoNotCollide(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "x\x1fy", "z", "srv", 10, 10)
	appendSeries(f, "x", "y\x1fz", "srv", 10, 10)
	appendSeries(f, "1:a", "", "srv", 10)
	appendSeries(f, "1", ":a", "srv", 10)

	series, err := GroupFrame(f, groupFields, "testing_time", metricFields)
	require.NoError(t, err)
	assert.Len(t, series, 4)

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Stats.Groups)
}

func TestScoreSeries_PointsBeforeSpike(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "HN_Agent01", "HCM Speedtest", 10, 10, 10, 10, 100)

	series, err := GroupFrame(f, groupFields, "testing_time", metricFields)
	require.NoError(t, err)
	require.Len(t, series, 1)

	p := defaultParams(3, 3)
	for i := 0; i < 3; i++ {
		s := scoreMetric(series[0], 1, i, p, Parametric{})
		assert.False(t, s.HasBaseline, "point %d must be unscored", i+1)
		assert.False(t, s.Defined())
	}

	fourth := scoreMetric(series[0], 1, 3, p, Parametric{})
	assert.True(t, fourth.HasBaseline)
	assert.Equal(t, 10.0, fourth.Baseline.Location)
	assert.Equal(t, 0.0, fourth.Baseline.Scale)
	assert.Equal(t, 0.0, fourth.Z)
	assert.False(t, fourth.Exceeded)
}

func TestDetect_MissingValueInWindowLeavesPointUnscored(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "FPT", "DN_Agent02", "HN Speedtest", 10, "n/a", 10, 100, 10, 10, 100)

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)

	// Point 4 (100) has "n/a" inside its window and stays unscored. Points 5
	// and 6 still see the 100 in their windows; point 7 does not, but its
	// window [100,10,10] is not flat: mean 40, std ~42.4, z ~1.41.
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Stats.CoercionFailures)

	series, err := GroupFrame(f, groupFields, "testing_time", metricFields)
	require.NoError(t, err)
	s := scoreMetric(series[0], 1, 3, defaultParams(3, 3), Parametric{})
	assert.False(t, s.HasBaseline)
	assert.False(t, s.Defined())
}

func TestDetect_MissingValueDoesNotHideOtherMetrics(t *testing.T) {
	f := newPingFrame()
	for i := 0; i < 5; i++ {
		jitter := any(2.0)
		if i == 4 {
			jitter = "bad"
		}
		latency := 20.0
		if i == 4 {
			latency = 500
		}
		f.Append("VNPT", "HP_Agent03", "HN Speedtest", baseTime.Add(time.Duration(i)*time.Hour), jitter, latency, 0.0)
	}

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	assert.True(t, rec.Scores[0].HasBaseline)
	assert.False(t, rec.Scores[0].Defined(), "jitter value is missing")
	assert.True(t, rec.Scores[1].Exceeded)

	row := res.OutputRow(0)
	cols := res.OutputColumns()
	require.Len(t, row, len(cols))
	assert.Nil(t, row[indexOf(cols, "mean_jitter__z")])
	assert.Equal(t, 2.0, row[indexOf(cols, "mean_jitter__mean_hist")])
}

func TestDetect_NoSelfLeakage(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "A", "S", 5, 7, 1000)

	res, err := Detect(context.Background(), f, defaultParams(1, 0.5))
	require.NoError(t, err)
	require.Len(t, res.Records, 2)

	// With window=1 each baseline is exactly the previous value.
	assert.Equal(t, 5.0, res.Records[0].Scores[1].Baseline.Location)
	assert.Equal(t, 7.0, res.Records[0].Scores[1].Value)
	assert.Equal(t, 7.0, res.Records[1].Scores[1].Baseline.Location)
	assert.Equal(t, 1000.0, res.Records[1].Scores[1].Value)
}

func TestDetect_MinimumHistoryBoundary(t *testing.T) {
	f := newPingFrame()
	// Wildly varying values: every scored point would flag at a tiny threshold.
	appendSeries(f, "Viettel", "A", "S", 1, 1000, 3, 5000, 7, 9000, 11, 13000)

	for _, window := range []int{1, 2, 4, 7} {
		res, err := Detect(context.Background(), f, defaultParams(window, 1e-6))
		require.NoError(t, err)
		for _, rec := range res.Records {
			assert.False(t, rec.Timestamp.Before(baseTime.Add(time.Duration(window)*time.Hour)),
				"window %d: record at %s inside warm-up", window, rec.Timestamp)
		}
	}

	res, err := Detect(context.Background(), f, defaultParams(8, 1e-6))
	require.NoError(t, err)
	assert.Empty(t, res.Records, "group shorter than window+1 yields nothing")
	assert.Equal(t, 1, res.Stats.Groups)
}

func TestDetect_Idempotent(t *testing.T) {
	f := randomFrame(42, 4, 60)
	for _, est := range []Estimator{Parametric{}, Robust{}} {
		p := defaultParams(12, 2)
		p.Estimator = est
		a, err := Detect(context.Background(), f, p)
		require.NoError(t, err)
		b, err := Detect(context.Background(), f, p)
		require.NoError(t, err)
		require.NotEmpty(t, a.Records)
		assert.Equal(t, flatten(a), flatten(b))
	}
}

func TestDetect_ThresholdMonotonicity(t *testing.T) {
	f := randomFrame(7, 3, 80)
	for _, est := range []Estimator{Parametric{}, Robust{}} {
		prev := map[string]bool{}
		first := true
		for _, thr := range []float64{4, 3, 2.5, 2, 1.5, 1} {
			p := defaultParams(10, thr)
			p.Estimator = est
			res, err := Detect(context.Background(), f, p)
			require.NoError(t, err)

			cur := map[string]bool{}
			for _, rec := range res.Records {
				cur[recordID(rec)] = true
			}
			if !first {
				for id := range prev {
					assert.True(t, cur[id], "%s: lowering threshold to %v dropped %s", est.Name(), thr, id)
				}
			}
			prev, first = cur, false
		}
	}
}

func TestDetect_GroupIndependence(t *testing.T) {
	values := []any{10, 11, 9, 10, 12, 10, 90, 10, 11, 10, 40}

	both := newPingFrame()
	appendSeries(both, "Viettel", "A", "S1", values...)
	appendSeries(both, "VNPT", "B", "S2", values...)

	only := newPingFrame()
	appendSeries(only, "Viettel", "A", "S1", values...)

	for _, est := range []Estimator{Parametric{}, Robust{}} {
		p := defaultParams(4, 2)
		p.Estimator = est

		rb, err := Detect(context.Background(), both, p)
		require.NoError(t, err)
		ro, err := Detect(context.Background(), only, p)
		require.NoError(t, err)

		var fromBoth [][]any
		for i, rec := range rb.Records {
			if rec.Key[0] == "Viettel" {
				fromBoth = append(fromBoth, rb.OutputRow(i))
			}
		}
		require.NotEmpty(t, fromBoth)
		assert.Equal(t, flatten(ro), fromBoth)
		assert.Equal(t, 2*len(ro.Records), len(rb.Records))
	}
}

func TestDetect_WorkersDoNotChangeResult(t *testing.T) {
	f := randomFrame(99, 12, 50)
	serial, err := Detect(context.Background(), f, defaultParams(8, 2))
	require.NoError(t, err)

	p := defaultParams(8, 2)
	p.Workers = 4
	parallel, err := Detect(context.Background(), f, p)
	require.NoError(t, err)

	assert.Equal(t, flatten(serial), flatten(parallel))
	assert.Equal(t, serial.Stats, parallel.Stats)
}

func TestDetect_OutputSortedByGroupThenTime(t *testing.T) {
	f := randomFrame(3, 6, 40)
	res, err := Detect(context.Background(), f, defaultParams(5, 1.5))
	require.NoError(t, err)
	require.NotEmpty(t, res.Records)

	for i := 1; i < len(res.Records); i++ {
		a, b := res.Records[i-1], res.Records[i]
		if lessKey(b.Key, a.Key) {
			t.Fatalf("record %d key %v sorts before %v", i, b.Key, a.Key)
		}
		if !lessKey(a.Key, b.Key) {
			assert.False(t, b.Timestamp.Before(a.Timestamp))
		}
	}
}

func TestDetect_EmptyInput(t *testing.T) {
	res, err := Detect(context.Background(), &models.Frame{}, defaultParams(3, 3))
	require.NoError(t, err)
	assert.Empty(t, res.Records)

	res, err = Detect(context.Background(), newPingFrame(), defaultParams(3, 3))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Len(t, res.OutputColumns(), 7+9)

	res, err = Detect(context.Background(), nil, defaultParams(3, 3))
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestDetect_SchemaError(t *testing.T) {
	f := models.NewFrame("isp", "testing_time", "mean_jitter")
	f.Append("Viettel", baseTime, 1.0)

	_, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)

	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"account_login_vqt", "server_name", "mean_average_latency", "mean_packet_loss_rate"}, se.Missing)
	assert.Contains(t, err.Error(), "account_login_vqt")
}

func TestDetect_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		field  string
	}{
		{"zero window", func(p *Params) { p.Window = 0 }, "window"},
		{"negative threshold", func(p *Params) { p.Threshold = -1 }, "threshold"},
		{"NaN threshold", func(p *Params) { p.Threshold = math.NaN() }, "threshold"},
		{"no metrics", func(p *Params) { p.MetricFields = nil }, "metric_fields"},
		{"duplicate metric", func(p *Params) { p.MetricFields = []string{"a", "a"} }, "metric_fields"},
		{"no time field", func(p *Params) { p.TimeField = "" }, "time_field"},
		{"negative workers", func(p *Params) { p.Workers = -1 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultParams(3, 3)
			tt.modify(&p)
			_, err := Detect(context.Background(), newPingFrame(), p)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidParams)
			var pe *ParamError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestDetect_DropsRowsWithoutTimestampOrKey(t *testing.T) {
	f := newPingFrame()
	appendSeries(f, "Viettel", "A", "S", 10, 10, 10, 100)
	f.Append("Viettel", "A", "S", "not a time", 1.0, 1.0, 0.0)
	f.Append(nil, "A", "S", baseTime, 1.0, 1.0, 0.0)

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.DroppedRows)
	assert.Equal(t, 1, res.Stats.Groups)
	assert.Len(t, res.Records, 1)
}

func TestDetect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Detect(ctx, randomFrame(1, 3, 10), defaultParams(3, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGroupFrame_StableSortWithTies(t *testing.T) {
	f := newPingFrame()
	f.Append("Viettel", "A", "S", baseTime.Add(2*time.Hour), 1.0, 30.0, 0.0)
	f.Append("Viettel", "A", "S", baseTime, 1.0, 10.0, 0.0)
	f.Append("Viettel", "A", "S", baseTime.Add(time.Hour), 1.0, 20.0, 0.0)
	f.Append("Viettel", "A", "S", baseTime.Add(time.Hour), 1.0, 21.0, 0.0)
	f.Append("FPT", "A", "S", baseTime, 1.0, 5.0, 0.0)

	series, err := GroupFrame(f, groupFields, "testing_time", metricFields)
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, []string{"FPT", "A", "S"}, series[0].Key)
	assert.Equal(t, []int{1, 2, 3, 0}, series[1].Rows)

	win, ok := series[1].Window(1, 3, 1)
	require.True(t, ok)
	assert.Equal(t, []float64{21}, win)
}

func TestDetect_DecimalBytesAreCoerced(t *testing.T) {
	f := newPingFrame()
	for i, v := range []string{"10.0", "10.00", "10", "100.5"} {
		f.Append([]byte("Viettel"), "A", "S", baseTime.Add(time.Duration(i)*time.Hour), []byte("1"), []byte(v), []byte("0"))
	}

	res, err := Detect(context.Background(), f, defaultParams(3, 3))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, 100.5, res.Records[0].Scores[1].Value)
	assert.Equal(t, 0, res.Stats.CoercionFailures)
}

func randomFrame(seed uint64, groups, points int) *models.Frame {
	rng := rand.New(rand.NewPCG(seed, seed*31+7))
	f := newPingFrame()
	isps := []string{"Viettel", "VNPT", "FPT"}
	for g := 0; g < groups; g++ {
		isp := isps[g%len(isps)]
		agent := "Agent" + string(rune('A'+g))
		for i := 0; i < points; i++ {
			lat := 20 + rng.NormFloat64()*2
			if rng.IntN(15) == 0 {
				lat += 30 * rng.Float64()
			}
			jit := 1 + rng.Float64()
			loss := rng.Float64() * 0.2
			f.Append(isp, agent, "HN Speedtest", baseTime.Add(time.Duration(i)*time.Hour), jit, lat, loss)
		}
	}
	return f
}

func recordID(r AnomalyRecord) string {
	return r.Key[0] + "|" + r.Key[1] + "|" + r.Key[2] + "|" + r.Timestamp.Format(time.RFC3339)
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}
