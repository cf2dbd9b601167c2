package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection metrics. The process is a batch job, so they are exported through
// the node-exporter textfile collector rather than a scrape endpoint.
var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinganomaly_runs_total",
			Help: "Total number of detection runs",
		},
		[]string{"estimator", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinganomaly_run_duration_seconds",
			Help:    "Detection run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4min
		},
		[]string{"estimator"},
	)

	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pinganomaly_last_run_timestamp_seconds",
			Help: "Unix time of the last finished detection run",
		},
		[]string{"estimator", "status"},
	)

	// Data metrics
	RowsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pinganomaly_rows_loaded_total",
			Help: "Rows read from the warehouse",
		},
	)

	GroupsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinganomaly_groups_processed_total",
			Help: "Series groups scored",
		},
		[]string{"estimator"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pinganomaly_anomalies_detected_total",
			Help: "Samples selected as anomalous",
		},
		[]string{"estimator"},
	)

	CoercionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pinganomaly_coercion_failures_total",
			Help: "Metric cells that could not be parsed as numbers",
		},
	)

	DroppedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pinganomaly_dropped_rows_total",
			Help: "Rows dropped for a NULL group key or unparsable timestamp",
		},
	)

	// Source metrics
	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pinganomaly_source_query_duration_seconds",
			Help:    "Warehouse query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"operation"},
	)

	// Sink metrics
	SinkRowsWritten = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pinganomaly_sink_rows",
			Help: "Rows in the result table after the last replace",
		},
		[]string{"table"},
	)
)

// Run status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ObserveRun records the outcome of one detection run.
func ObserveRun(estimator, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(estimator, status).Inc()
	RunDuration.WithLabelValues(estimator).Observe(duration.Seconds())
	LastRunTimestamp.WithLabelValues(estimator, status).SetToCurrentTime()
}

// WriteTextfile writes every registered metric to path in the text exposition
// format. The write is atomic, as the textfile collector requires.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
