package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// Options tune the warehouse connection.
type Options struct {
	// Table is the [schema.]table holding the aggregates.
	Table string
	// TimeField is the timestamp column used for the range filter.
	TimeField string
	// QueryTimeout bounds a single fetch. Zero means no extra timeout.
	QueryTimeout time.Duration
	// MaxOpenConns caps the pool. Zero keeps the default of 5.
	MaxOpenConns int
}

// PostgresRepository implements PingRepository over any sqlx database. It is
// used with lib/pq in production and with sqlite in tests.
type PostgresRepository struct {
	db           *sqlx.DB
	table        string
	timeField    string
	queryTimeout time.Duration
}

// NewPostgresRepository connects to the warehouse with lib/pq.
func NewPostgresRepository(connectionString string, opts Options) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(2, maxOpen))
	db.SetConnMaxLifetime(5 * time.Minute)

	repo, err := NewRepository(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepository wraps an existing connection.
func NewRepository(db *sqlx.DB, opts Options) (*PostgresRepository, error) {
	if !models.ValidTableName(opts.Table) {
		return nil, fmt.Errorf("invalid source table name %q", opts.Table)
	}
	if opts.TimeField == "" {
		opts.TimeField = "testing_time"
	}
	if !models.ValidTableName(opts.TimeField) {
		return nil, fmt.Errorf("invalid time column name %q", opts.TimeField)
	}
	return &PostgresRepository{
		db:           db,
		table:        opts.Table,
		timeField:    opts.TimeField,
		queryTimeout: opts.QueryTimeout,
	}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping checks the connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// FetchPingData loads [From, To] at the requested aggregate level.
func (r *PostgresRepository) FetchPingData(ctx context.Context, req FetchRequest) (*models.Frame, error) {
	if req.AggregateLevel == "" {
		return nil, fmt.Errorf("aggregate level is required")
	}
	if !req.To.IsZero() && req.To.Before(req.From) {
		return nil, fmt.Errorf("invalid range: to %s is before from %s", req.To, req.From)
	}

	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}

	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s >= ? AND aggregate_level = ?`, r.table, r.timeField)
	args := []interface{}{req.From, req.AggregateLevel}
	if !req.To.IsZero() {
		query += fmt.Sprintf(` AND %s <= ?`, r.timeField)
		args = append(args, req.To)
	}
	query += fmt.Sprintf(` ORDER BY %s`, r.timeField)
	query = r.db.Rebind(query)

	var frame *models.Frame
	err := instrumentQuery("fetch_ping_data", func() error {
		rows, err := r.db.QueryxContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		frame = models.NewFrame(cols...)
		for rows.Next() {
			vals, err := rows.SliceScan()
			if err != nil {
				return err
			}
			frame.Rows = append(frame.Rows, vals)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("fetch ping data from %s: %w", r.table, err)
	}
	return frame, nil
}
