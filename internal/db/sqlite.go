package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// migrations define the bookkeeping tables. Result tables are created and
// replaced at run time and are not part of the schema.
// Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS detection_runs (
    id                TEXT PRIMARY KEY,
    estimator         TEXT NOT NULL,
    window_size       INTEGER NOT NULL,
    threshold         REAL NOT NULL,
    aggregate_level   TEXT NOT NULL DEFAULT '',
    target_time       DATETIME,
    range_from        DATETIME,
    result_table      TEXT NOT NULL DEFAULT '',
    rows_loaded       INTEGER NOT NULL DEFAULT 0,
    groups_scored     INTEGER NOT NULL DEFAULT 0,
    scored_points     INTEGER NOT NULL DEFAULT 0,
    anomalies         INTEGER NOT NULL DEFAULT 0,
    coercion_failures INTEGER NOT NULL DEFAULT 0,
    dropped_rows      INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL,
    error             TEXT NOT NULL DEFAULT '',
    started_at        DATETIME NOT NULL,
    finished_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detection_runs_started_at ON detection_runs(started_at DESC);
`,
	},
}

// reservedTables cannot be replaced by ReplaceAnomalies.
var reservedTables = map[string]bool{
	"schema_versions": true,
	"detection_runs":  true,
}

// cellTimeLayout is how timestamp cells are written to result tables.
const cellTimeLayout = "2006-01-02 15:04:05.000000"

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency and performance.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	// Ensure schema_versions table exists before reading from it.
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Result tables ────────────────────────────────────────────────────────────

func (s *sqliteStore) ReplaceAnomalies(ctx context.Context, table string, res *anomaly.Result) (int, error) {
	if err := checkResultTable(table); err != nil {
		return 0, err
	}
	if res == nil {
		return 0, fmt.Errorf("replace %s: nil result", table)
	}

	cols := res.OutputColumns()
	if len(cols) == 0 {
		return 0, fmt.Errorf("replace %s: result has no columns", table)
	}
	rows := make([][]any, len(res.Records))
	for i := range res.Records {
		rows[i] = res.OutputRow(i)
	}

	affinities := make([]affinity, len(cols))
	defs := make([]string, len(cols))
	for c, name := range cols {
		affinities[c] = inferAffinity(rows, c)
		defs[c] = quoteIdent(name) + " " + affinities[c].String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("replace %s: begin: %w", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	qt := quoteTable(table)
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+qt); err != nil {
		return 0, fmt.Errorf("replace %s: drop: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, qt, strings.Join(defs, ", "))); err != nil {
		return 0, fmt.Errorf("replace %s: create: %w", table, err)
	}

	if len(rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (%s)`, qt, placeholders))
		if err != nil {
			return 0, fmt.Errorf("replace %s: prepare: %w", table, err)
		}
		defer stmt.Close()

		cells := make([]any, len(cols))
		for _, row := range rows {
			for c, v := range row {
				cells[c] = affinities[c].convert(v)
			}
			if _, err := stmt.ExecContext(ctx, cells...); err != nil {
				return 0, fmt.Errorf("replace %s: insert: %w", table, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("replace %s: commit: %w", table, err)
	}
	return len(rows), nil
}

func (s *sqliteStore) LoadAnomalies(ctx context.Context, table string, q AnomalyQuery) (*models.Frame, error) {
	if !models.ValidTableName(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	timeField := q.TimeField
	if timeField == "" {
		timeField = "testing_time"
	}
	if !models.ValidTableName(timeField) {
		return nil, fmt.Errorf("invalid time column name %q", timeField)
	}

	query := `SELECT * FROM ` + quoteTable(table) + ` WHERE 1=1`
	args := []any{}

	if q.ISP != "" {
		query += ` AND isp = ?`
		args = append(args, q.ISP)
	}
	if q.Agent != "" {
		query += ` AND account_login_vqt = ?`
		args = append(args, q.Agent)
	}
	if q.ServerName != "" {
		query += ` AND server_name = ?`
		args = append(args, q.ServerName)
	}
	if !q.From.IsZero() {
		query += ` AND ` + quoteIdent(timeField) + ` >= ?`
		args = append(args, q.From.UTC().Format(cellTimeLayout))
	}
	if !q.To.IsZero() {
		query += ` AND ` + quoteIdent(timeField) + ` <= ?`
		args = append(args, q.To.UTC().Format(cellTimeLayout))
	}
	query += ` ORDER BY rowid`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	frame := models.NewFrame(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		frame.Rows = append(frame.Rows, vals)
	}
	return frame, rows.Err()
}

// ─── Run history ──────────────────────────────────────────────────────────────

func (s *sqliteStore) RecordRun(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO detection_runs(id, estimator, window_size, threshold, aggregate_level, target_time, range_from,
            result_table, rows_loaded, groups_scored, scored_points, anomalies, coercion_failures, dropped_rows,
            status, error, started_at, finished_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `,
		rec.ID, rec.Estimator, rec.Window, rec.Threshold, rec.AggregateLevel,
		formatTime(rec.TargetTime), formatTime(rec.RangeFrom), rec.ResultTable,
		rec.Rows, rec.Groups, rec.ScoredPoints, rec.Anomalies, rec.CoercionFailures, rec.DroppedRows,
		rec.Status, rec.Error, formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", rec.ID, err)
	}
	return nil
}

func (s *sqliteStore) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, estimator, window_size, threshold, aggregate_level, target_time, range_from, result_table,
            rows_loaded, groups_scored, scored_points, anomalies, coercion_failures, dropped_rows,
            status, error, started_at, finished_at
        FROM detection_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		var target, from, started, finished sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Estimator, &rec.Window, &rec.Threshold, &rec.AggregateLevel,
			&target, &from, &rec.ResultTable, &rec.Rows, &rec.Groups, &rec.ScoredPoints, &rec.Anomalies,
			&rec.CoercionFailures, &rec.DroppedRows, &rec.Status, &rec.Error, &started, &finished); err != nil {
			return nil, err
		}
		rec.TargetTime, _ = parseTime(target.String)
		rec.RangeFrom, _ = parseTime(from.String)
		rec.StartedAt, _ = parseTime(started.String)
		rec.FinishedAt, _ = parseTime(finished.String)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type affinity int

const (
	affText affinity = iota
	affInteger
	affReal
	affTimestamp
)

func (a affinity) String() string {
	switch a {
	case affInteger:
		return "INTEGER"
	case affReal:
		return "REAL"
	case affTimestamp:
		return "TIMESTAMP"
	}
	return "TEXT"
}

// inferAffinity picks the narrowest column type that holds every non-NULL
// cell of column c. Text and byte cells that all parse as decimals make the
// column REAL, so NUMERIC values returned as text by the warehouse driver are
// stored as numbers.
func inferAffinity(rows [][]any, c int) affinity {
	seen, allInt, allNum, allTime := false, true, true, true
	for _, row := range rows {
		v := row[c]
		if v == nil {
			continue
		}
		seen = true
		switch x := v.(type) {
		case time.Time:
			allInt, allNum = false, false
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
			allTime = false
		case float32, float64, decimal.Decimal:
			allInt, allTime = false, false
		case []byte:
			allInt, allTime = false, false
			if _, ok := anomaly.ParseMetric(x); !ok {
				allNum = false
			}
		case string:
			allInt, allTime = false, false
			if _, ok := anomaly.ParseMetric(x); !ok {
				allNum = false
			}
		default:
			allInt, allNum, allTime = false, false, false
		}
	}
	switch {
	case !seen:
		return affText
	case allTime:
		return affTimestamp
	case allInt:
		return affInteger
	case allNum:
		return affReal
	}
	return affText
}

func (a affinity) convert(v any) any {
	if v == nil {
		return nil
	}
	switch a {
	case affTimestamp:
		return v.(time.Time).UTC().Format(cellTimeLayout)
	case affInteger:
		switch x := v.(type) {
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		case int:
			return int64(x)
		case int8:
			return int64(x)
		case int16:
			return int64(x)
		case int32:
			return int64(x)
		case int64:
			return x
		case uint:
			return int64(x)
		case uint8:
			return int64(x)
		case uint16:
			return int64(x)
		case uint32:
			return int64(x)
		}
	case affReal:
		if f, ok := anomaly.ParseMetric(v); ok {
			return f
		}
		return nil
	}
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(cellTimeLayout)
	default:
		return fmt.Sprint(x)
	}
}

func checkResultTable(table string) error {
	if !models.ValidTableName(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if reservedTables[strings.ToLower(table)] {
		return fmt.Errorf("table %q is reserved", table)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteTable quotes each part of a [schema.]table name.
func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
