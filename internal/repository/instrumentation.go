package repository

import (
	"time"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/metrics"
)

// instrumentQuery wraps a database query with timing metrics
func instrumentQuery(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.SourceQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	return err
}
