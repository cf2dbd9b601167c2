package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/audit"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/db"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/metrics"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/repository"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/tracing"
)

// Failure codes recorded in the audit log and run history.
const (
	CodeSchemaError   = "schema_error"
	CodeInvalidParams = "invalid_params"
	CodeSourceError   = "source_error"
	CodeSinkError     = "sink_error"
	CodeCanceled      = "canceled"
)

// Loader is the part of the warehouse repository the pipeline needs.
type Loader interface {
	FetchPingData(ctx context.Context, req repository.FetchRequest) (*models.Frame, error)
}

// Sink receives the selected anomalies and the run history.
type Sink interface {
	ReplaceAnomalies(ctx context.Context, table string, result *anomaly.Result) (int, error)
	RecordRun(ctx context.Context, rec *db.RunRecord) error
}

// Settings configure every run of a Pipeline.
type Settings struct {
	Params         anomaly.Params
	AggregateLevel string
	// History is how far before the target time rows are loaded.
	History time.Duration
	// Table is the sink table, fully replaced on every successful run.
	Table string
}

// RunRequest selects the data of one run.
type RunRequest struct {
	// TargetTime is the upper bound of the loaded range, inclusive.
	TargetTime time.Time
}

// RunReport describes a finished run.
type RunReport struct {
	RunID      string
	Table      string
	From       time.Time
	To         time.Time
	Stats      anomaly.Stats
	RowsStored int
	Duration   time.Duration
}

// Pipeline loads one range of ping aggregates, runs the detector and
// replaces the result table.
type Pipeline struct {
	loader   Loader
	sink     Sink
	detector anomaly.Detector
	settings Settings
	audit    audit.Logger
	logger   *zap.Logger
	now      func() time.Time
}

// NewPipeline creates a batch detection pipeline. A nil auditLogger or logger
// disables that output.
func NewPipeline(loader Loader, sink Sink, settings Settings, auditLogger audit.Logger, logger *zap.Logger) *Pipeline {
	if auditLogger == nil {
		auditLogger = audit.NewNopLogger()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		loader:   loader,
		sink:     sink,
		detector: anomaly.NewDetector(),
		settings: settings,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one detection. The sink table is only touched after detection
// succeeded, so a failed run leaves the previous results in place.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	start := p.now()
	runID := audit.GenerateRunID()
	ctx = audit.WithRunID(ctx, runID)

	params := p.settings.Params
	est := params.Estimator
	if est == nil {
		est = anomaly.Parametric{}
	}
	target := req.TargetTime
	if target.IsZero() {
		target = start
	}
	from := target.Add(-p.settings.History)

	ctx, span := tracing.StartSpan(ctx, "detection.run",
		attribute.String("run_id", runID),
		attribute.String("estimator", est.Name()),
		attribute.Int("window", params.Window),
		attribute.Float64("threshold", params.Threshold),
		attribute.String("table", p.settings.Table))
	defer span.End()

	report := &RunReport{RunID: runID, Table: p.settings.Table, From: from, To: target}
	rec := &db.RunRecord{
		ID:             runID,
		Estimator:      est.Name(),
		Window:         params.Window,
		Threshold:      params.Threshold,
		AggregateLevel: p.settings.AggregateLevel,
		TargetTime:     target,
		RangeFrom:      from,
		ResultTable:    p.settings.Table,
		StartedAt:      start,
	}

	log := p.logger.With(zap.String("run_id", runID), zap.String("estimator", est.Name()))
	if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
		log = log.With(zap.String("trace_id", traceID))
	}
	log.Info("Detection run started",
		zap.Time("from", from),
		zap.Time("to", target),
		zap.Int("window", params.Window),
		zap.Float64("threshold", params.Threshold),
		zap.String("table", p.settings.Table))
	p.auditErr(log, p.audit.LogDetectionStarted(ctx, runID, est.Name(), params.Window, params.Threshold))

	fail := func(code string, err error) (*RunReport, error) {
		elapsed := p.now().Sub(start)
		report.Duration = elapsed
		log.Error("Detection run failed", zap.String("code", code), zap.Duration("duration", elapsed), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)

		metrics.ObserveRun(est.Name(), metrics.StatusFailure, elapsed)
		p.auditErr(log, p.audit.LogDetectionFailed(ctx, runID, code, err, elapsed))

		rec.Status = db.RunStatusFailure
		rec.Error = fmt.Sprintf("%s: %v", code, err)
		rec.FinishedAt = start.Add(elapsed)
		// Recorded even when ctx was canceled.
		if rerr := p.sink.RecordRun(context.WithoutCancel(ctx), rec); rerr != nil {
			log.Warn("Failed to record run", zap.Error(rerr))
		}
		return report, err
	}

	loadCtx, loadSpan := tracing.StartSpan(ctx, "source.fetch",
		attribute.String("aggregate_level", p.settings.AggregateLevel))
	frame, err := p.loader.FetchPingData(loadCtx, repository.FetchRequest{
		AggregateLevel: p.settings.AggregateLevel,
		From:           from,
		To:             target,
	})
	endSpan(loadSpan, err, attribute.Int("rows", frame.Len()))
	if err != nil {
		return fail(classify(ctx, err, CodeSourceError), fmt.Errorf("load ping data: %w", err))
	}
	metrics.RowsLoaded.Add(float64(frame.Len()))
	log.Debug("Loaded ping data", zap.Int("rows", frame.Len()))

	detectCtx, detectSpan := tracing.StartSpan(ctx, "detection.detect")
	result, err := p.detector.Detect(detectCtx, frame, params)
	if err != nil {
		endSpan(detectSpan, err)
		return fail(classify(ctx, err, CodeInvalidParams), fmt.Errorf("detect anomalies: %w", err))
	}
	endSpan(detectSpan, nil,
		attribute.Int("groups", result.Stats.Groups),
		attribute.Int("anomalies", result.Stats.Anomalies))
	report.Stats = result.Stats
	metrics.GroupsProcessed.WithLabelValues(est.Name()).Add(float64(result.Stats.Groups))
	metrics.AnomaliesDetected.WithLabelValues(est.Name()).Add(float64(result.Stats.Anomalies))
	metrics.CoercionFailures.Add(float64(result.Stats.CoercionFailures))
	metrics.DroppedRows.Add(float64(result.Stats.DroppedRows))
	if result.Stats.DroppedRows > 0 {
		log.Warn("Rows dropped from scoring", zap.Int("dropped", result.Stats.DroppedRows))
	}

	sinkCtx, sinkSpan := tracing.StartSpan(ctx, "sink.replace", attribute.String("table", p.settings.Table))
	stored, err := p.sink.ReplaceAnomalies(sinkCtx, p.settings.Table, result)
	endSpan(sinkSpan, err, attribute.Int("rows", stored))
	if err != nil {
		return fail(classify(ctx, err, CodeSinkError), fmt.Errorf("replace %s: %w", p.settings.Table, err))
	}
	report.RowsStored = stored
	metrics.SinkRowsWritten.WithLabelValues(p.settings.Table).Set(float64(stored))
	p.auditErr(log, p.audit.LogSinkReplaced(ctx, runID, p.settings.Table, stored))

	elapsed := p.now().Sub(start)
	report.Duration = elapsed

	rec.Rows = result.Stats.Rows
	rec.Groups = result.Stats.Groups
	rec.ScoredPoints = result.Stats.ScoredPoints
	rec.Anomalies = result.Stats.Anomalies
	rec.CoercionFailures = result.Stats.CoercionFailures
	rec.DroppedRows = result.Stats.DroppedRows
	rec.Status = db.RunStatusSuccess
	rec.FinishedAt = start.Add(elapsed)
	if err := p.sink.RecordRun(ctx, rec); err != nil {
		log.Warn("Failed to record run", zap.Error(err))
	}

	metrics.ObserveRun(est.Name(), metrics.StatusSuccess, elapsed)
	p.auditErr(log, p.audit.LogDetectionCompleted(ctx, runID, result.Stats.Anomalies, elapsed))
	log.Info("Detection run completed",
		zap.Int("rows", result.Stats.Rows),
		zap.Int("groups", result.Stats.Groups),
		zap.Int("anomalies", result.Stats.Anomalies),
		zap.Int("stored", stored),
		zap.Duration("duration", elapsed))

	return report, nil
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attrs...)
	span.End()
}

func (p *Pipeline) auditErr(log *zap.Logger, err error) {
	if err != nil {
		log.Warn("Failed to write audit event", zap.Error(err))
	}
}

// classify maps err to a failure code, falling back to def.
func classify(ctx context.Context, err error, def string) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return CodeCanceled
	case errors.Is(err, anomaly.ErrSchema):
		return CodeSchemaError
	case errors.Is(err, anomaly.ErrInvalidParams):
		return CodeInvalidParams
	default:
		return def
	}
}
