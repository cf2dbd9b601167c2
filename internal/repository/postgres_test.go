package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
)

var t0 = time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)

// newTestRepository seeds an in-memory warehouse table. A single connection
// keeps every query on the same in-memory database.
func newTestRepository(t *testing.T) (*PostgresRepository, *sqlx.DB) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	db := sqlx.NewDb(sqlDB, "sqlite3")
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE ping_results_aggregate (
		isp TEXT,
		account_login_vqt TEXT,
		server_name TEXT,
		testing_time DATETIME,
		aggregate_level TEXT,
		mean_jitter REAL,
		mean_average_latency NUMERIC,
		mean_packet_loss_rate REAL
	)`)
	require.NoError(t, err)

	insert := db.Rebind(`INSERT INTO ping_results_aggregate VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for i := 0; i < 6; i++ {
		ts := t0.Add(time.Duration(i) * time.Hour)
		_, err = db.Exec(insert, "Viettel", "HN_Agent01", "HCM Speedtest", ts, "hour", 1.5, 20+i, 0.0)
		require.NoError(t, err)
	}
	_, err = db.Exec(insert, "Viettel", "HN_Agent01", "HCM Speedtest", t0, "day", 1.0, 22, 0.0)
	require.NoError(t, err)

	repo, err := NewRepository(db, Options{Table: "ping_results_aggregate", QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	return repo, db
}

func TestFetchPingData(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	frame, err := repo.FetchPingData(ctx, FetchRequest{
		AggregateLevel: "hour",
		From:           t0.Add(time.Hour),
		To:             t0.Add(4 * time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"isp", "account_login_vqt", "server_name", "testing_time", "aggregate_level",
		"mean_jitter", "mean_average_latency", "mean_packet_loss_rate"}, frame.Columns)
	require.Equal(t, 4, frame.Len(), "both range bounds are inclusive")

	ti := frame.ColumnIndex("testing_time")
	li := frame.ColumnIndex("mean_average_latency")
	for i, row := range frame.Rows {
		ts, err := anomaly.ParseTimestamp(row[ti])
		require.NoError(t, err)
		assert.True(t, ts.Equal(t0.Add(time.Duration(i+1)*time.Hour)), "row %d at %v", i, ts)

		v, ok := anomaly.ParseMetric(row[li])
		require.True(t, ok)
		assert.Equal(t, float64(21+i), v)
	}
}

func TestFetchPingDataOpenEnded(t *testing.T) {
	repo, _ := newTestRepository(t)

	frame, err := repo.FetchPingData(context.Background(), FetchRequest{AggregateLevel: "hour", From: t0.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 3, frame.Len())

	frame, err = repo.FetchPingData(context.Background(), FetchRequest{AggregateLevel: "day", From: t0})
	require.NoError(t, err)
	assert.Equal(t, 1, frame.Len())
}

func TestFetchPingDataEmpty(t *testing.T) {
	repo, _ := newTestRepository(t)

	frame, err := repo.FetchPingData(context.Background(), FetchRequest{AggregateLevel: "week", From: t0})
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Len())
	assert.NotEmpty(t, frame.Columns)
}

func TestFetchPingDataErrors(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.FetchPingData(ctx, FetchRequest{From: t0})
	assert.ErrorContains(t, err, "aggregate level is required")

	_, err = repo.FetchPingData(ctx, FetchRequest{AggregateLevel: "hour", From: t0, To: t0.Add(-time.Hour)})
	assert.ErrorContains(t, err, "invalid range")

	missing, err := NewRepository(db, Options{Table: "no_such_table"})
	require.NoError(t, err)
	_, err = missing.FetchPingData(ctx, FetchRequest{AggregateLevel: "hour", From: t0})
	assert.ErrorContains(t, err, "no_such_table")

	require.NoError(t, repo.Ping(ctx))
}

func TestNewRepositoryRejectsBadIdentifiers(t *testing.T) {
	_, err := NewRepository(nil, Options{Table: "ping; DROP TABLE users"})
	assert.Error(t, err)

	_, err = NewRepository(nil, Options{Table: "log_data_aggregate.ping_results_aggregate", TimeField: "testing_time desc"})
	assert.Error(t, err)

	repo, err := NewRepository(nil, Options{Table: "log_data_aggregate.ping_results_aggregate"})
	require.NoError(t, err)
	assert.Equal(t, "testing_time", repo.timeField)
}
