package db

import (
	"context"
	"time"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// Store is the persistence interface for detection results.
type Store interface {
	ResultStore
	RunStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Result tables ────────────────────────────────────────────────────────────

// AnomalyQuery filters rows read back from a result table. Empty fields do
// not filter.
type AnomalyQuery struct {
	ISP        string
	Agent      string // account_login_vqt
	ServerName string
	// TimeField names the timestamp column used by From/To. Defaults to
	// testing_time.
	TimeField string
	From      time.Time
	To        time.Time
	Limit     int
}

// ResultStore persists anomaly result tables.
type ResultStore interface {
	// ReplaceAnomalies drops table and recreates it from res in a single
	// transaction: the input columns followed by the score, location and
	// dispersion column of every metric. An empty result still leaves an empty
	// table with the full schema. Returns the number of rows written.
	ReplaceAnomalies(ctx context.Context, table string, res *anomaly.Result) (int, error)

	// LoadAnomalies reads rows of table matching q in insertion order.
	LoadAnomalies(ctx context.Context, table string, q AnomalyQuery) (*models.Frame, error)
}

// ─── Run history ──────────────────────────────────────────────────────────────

// Run status values.
const (
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"
)

// RunRecord is the metadata of one detection run.
type RunRecord struct {
	ID               string    `json:"id" yaml:"id"`
	Estimator        string    `json:"estimator" yaml:"estimator"`
	Window           int       `json:"window" yaml:"window"`
	Threshold        float64   `json:"threshold" yaml:"threshold"`
	AggregateLevel   string    `json:"aggregate_level" yaml:"aggregate_level"`
	TargetTime       time.Time `json:"target_time" yaml:"target_time"`
	RangeFrom        time.Time `json:"range_from" yaml:"range_from"`
	ResultTable      string    `json:"result_table" yaml:"result_table"`
	Rows             int       `json:"rows" yaml:"rows"`
	Groups           int       `json:"groups" yaml:"groups"`
	ScoredPoints     int       `json:"scored_points" yaml:"scored_points"`
	Anomalies        int       `json:"anomalies" yaml:"anomalies"`
	CoercionFailures int       `json:"coercion_failures" yaml:"coercion_failures"`
	DroppedRows      int       `json:"dropped_rows" yaml:"dropped_rows"`
	Status           string    `json:"status" yaml:"status"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt        time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt       time.Time `json:"finished_at" yaml:"finished_at"`
}

// RunStore keeps an append-only history of detection runs.
type RunStore interface {
	// RecordRun stores a finished run. An empty ID is filled with a new UUID.
	RecordRun(ctx context.Context, rec *RunRecord) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}
