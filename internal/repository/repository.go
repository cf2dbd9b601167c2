package repository

import (
	"context"
	"time"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// Package repository reads aggregated ping measurements from the warehouse.
//
// The loader is schema-agnostic: it selects every column of the configured
// table and hands the rows to the detector as a models.Frame. Column types are
// whatever the driver returns (lib/pq yields NUMERIC as []byte and timestamps
// as time.Time); the detector coerces them.

// FetchRequest selects the rows of one detection run.
type FetchRequest struct {
	// AggregateLevel filters the aggregate_level column (e.g. "hour").
	AggregateLevel string
	// From and To bound the time column, both inclusive.
	From time.Time
	To   time.Time
}

// PingRepository loads ping aggregates.
type PingRepository interface {
	// FetchPingData returns every row matching req ordered by time.
	FetchPingData(ctx context.Context, req FetchRequest) (*models.Frame, error)

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
