package anomaly

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/timeseries"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// detectorImpl is the concrete Detector. It holds no state between runs.
type detectorImpl struct{}

// Detect groups, scores and filters frame.
func (d *detectorImpl) Detect(ctx context.Context, frame *models.Frame, params Params) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	est := params.Estimator
	if est == nil {
		est = Parametric{}
	}

	res := &Result{
		Metrics:   append([]string(nil), params.MetricFields...),
		Estimator: est,
		Threshold: params.Threshold,
		Window:    params.Window,
	}
	if frame != nil {
		res.Columns = append([]string(nil), frame.Columns...)
	}
	if frame.Len() == 0 {
		return res, nil
	}

	series, gst, err := groupFrame(frame, params.GroupFields, params.TimeField, params.MetricFields)
	if err != nil {
		return nil, err
	}

	perGroup := make([][]AnomalyRecord, len(series))
	scored := make([]int, len(series))

	if params.Workers < 2 {
		for i, s := range series {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			perGroup[i], scored[i] = scoreSeries(s, frame, params, est)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(params.Workers)
		for i, s := range series {
			i, s := i, s // per-iteration copies; go.mod targets go 1.21 loop semantics
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				perGroup[i], scored[i] = scoreSeries(s, frame, params, est)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, recs := range perGroup {
		total += len(recs)
	}
	res.Records = make([]AnomalyRecord, 0, total)
	for i, recs := range perGroup {
		res.Records = append(res.Records, recs...)
		res.Stats.ScoredPoints += scored[i]
	}

	res.Stats.Rows = frame.Len()
	res.Stats.Groups = len(series)
	res.Stats.CoercionFailures = gst.coercionFailures
	res.Stats.DroppedRows = gst.droppedRows
	res.Stats.Anomalies = len(res.Records)
	return res, nil
}

// scoreSeries scores every point of one group. It returns the selected
// records and the number of points with at least one defined score.
func scoreSeries(s *timeseries.Series, frame *models.Frame, p Params, est Estimator) ([]AnomalyRecord, int) {
	var out []AnomalyRecord
	scoredPoints := 0
	nm := s.Metrics()
	scores := make([]MetricScore, nm)
	exceeded := make([]bool, nm)

	// The first Window points have no complete preceding window.
	for i := p.Window; i < s.Len(); i++ {
		anyDefined := false
		for m := 0; m < nm; m++ {
			scores[m] = scoreMetric(s, m, i, p, est)
			exceeded[m] = scores[m].Exceeded
			if scores[m].Defined() {
				anyDefined = true
			}
		}
		if anyDefined {
			scoredPoints++
		}
		if !anyTrue(exceeded) {
			continue
		}
		out = append(out, AnomalyRecord{
			Key:       s.Key,
			Timestamp: s.Timestamps[i],
			Row:       frame.Rows[s.Rows[i]],
			Scores:    append([]MetricScore(nil), scores...),
		})
	}
	return out, scoredPoints
}

func scoreMetric(s *timeseries.Series, m, i int, p Params, est Estimator) MetricScore {
	v, present := s.Value(m, i)
	ms := MetricScore{Value: v, Z: math.NaN()}

	window, ok := s.Window(m, i, p.Window)
	if !ok {
		return ms
	}
	b, ok := est.Estimate(window, p.Window)
	if !ok {
		return ms
	}
	ms.Baseline = b
	ms.HasBaseline = true
	if !present {
		return ms
	}
	ms.Z = score(v, b)
	ms.Exceeded = math.Abs(ms.Z) > p.Threshold
	return ms
}

// anyTrue combines the per-metric selection flags with logical OR.
func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}

func (p Params) validate() error {
	if p.Window <= 0 {
		return &ParamError{Field: "window", Message: fmt.Sprintf("must be a positive integer, got %d", p.Window)}
	}
	if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) || p.Threshold <= 0 {
		return &ParamError{Field: "threshold", Message: fmt.Sprintf("must be a positive finite number, got %v", p.Threshold)}
	}
	if p.TimeField == "" {
		return &ParamError{Field: "time_field", Message: "is required"}
	}
	if len(p.MetricFields) == 0 {
		return &ParamError{Field: "metric_fields", Message: "at least one metric is required"}
	}
	seen := make(map[string]bool, len(p.MetricFields))
	for _, m := range p.MetricFields {
		if m == "" {
			return &ParamError{Field: "metric_fields", Message: "metric name cannot be empty"}
		}
		if seen[m] {
			return &ParamError{Field: "metric_fields", Message: fmt.Sprintf("duplicate metric %q", m)}
		}
		seen[m] = true
	}
	if p.Workers < 0 {
		return &ParamError{Field: "workers", Message: fmt.Sprintf("cannot be negative, got %d", p.Workers)}
	}
	return nil
}
