package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/models"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
// The warehouse URL is checked separately by ValidateSource because only the
// detect command needs it.
func (c *Config) Validate() []error {
	var errs []error

	// Validate source configuration
	if !models.ValidTableName(c.Source.Table) {
		errs = append(errs, &ValidationError{
			Field:   "source.table",
			Message: fmt.Sprintf("invalid table name '%s', expected [schema.]identifier", c.Source.Table),
		})
	}
	if strings.TrimSpace(c.Source.AggregateLevel) == "" {
		errs = append(errs, &ValidationError{
			Field:   "source.aggregate_level",
			Message: "aggregate_level is required",
		})
	}
	if c.Source.QueryTimeout <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "source.query_timeout",
			Message: fmt.Sprintf("query_timeout must be positive, got %s", c.Source.QueryTimeout),
		})
	}
	if c.Source.MaxOpenConns < 1 {
		errs = append(errs, &ValidationError{
			Field:   "source.max_open_conns",
			Message: fmt.Sprintf("max_open_conns must be at least 1, got %d", c.Source.MaxOpenConns),
		})
	}

	// Validate detection configuration
	if _, err := anomaly.EstimatorByName(c.Detection.Estimator); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "detection.estimator",
			Message: fmt.Sprintf("invalid estimator '%s', must be one of: %s, %s", c.Detection.Estimator, anomaly.EstimatorZScore, anomaly.EstimatorRobustZScore),
		})
	}
	if c.Detection.Window < 1 {
		errs = append(errs, &ValidationError{
			Field:   "detection.window",
			Message: fmt.Sprintf("window must be at least 1, got %d", c.Detection.Window),
		})
	}
	if c.Detection.Threshold <= 0 || math.IsNaN(c.Detection.Threshold) || math.IsInf(c.Detection.Threshold, 0) {
		errs = append(errs, &ValidationError{
			Field:   "detection.threshold",
			Message: fmt.Sprintf("threshold must be a positive finite number, got %v", c.Detection.Threshold),
		})
	}
	if c.Detection.History <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.history",
			Message: fmt.Sprintf("history must be positive, got %s", c.Detection.History),
		})
	}
	if c.Detection.TimeField == "" {
		errs = append(errs, &ValidationError{
			Field:   "detection.time_field",
			Message: "time_field is required",
		})
	}
	if len(c.Detection.GroupFields) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.group_fields",
			Message: "at least one group field is required",
		})
	}
	if len(c.Detection.MetricFields) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.metric_fields",
			Message: "at least one metric field is required",
		})
	} else if dup := firstDuplicate(c.Detection.MetricFields); dup != "" {
		errs = append(errs, &ValidationError{
			Field:   "detection.metric_fields",
			Message: fmt.Sprintf("duplicate metric field '%s'", dup),
		})
	}
	if c.Detection.Workers < 0 {
		errs = append(errs, &ValidationError{
			Field:   "detection.workers",
			Message: fmt.Sprintf("workers cannot be negative, got %d", c.Detection.Workers),
		})
	}

	// Validate sink configuration
	if c.Sink.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "sink.sqlite_path",
			Message: "sqlite_path is required",
		})
	}
	if c.Sink.Table != "" && !models.ValidTableName(c.Sink.Table) {
		errs = append(errs, &ValidationError{
			Field:   "sink.table",
			Message: fmt.Sprintf("invalid table name '%s'", c.Sink.Table),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging",
			Message: "max_size_mb, max_backups and max_age_days cannot be negative",
		})
	}

	// Validate tracing configuration
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, &ValidationError{
			Field:   "tracing.sampling_rate",
			Message: fmt.Sprintf("sampling_rate must be between 0 and 1, got %v", c.Tracing.SamplingRate),
		})
	}

	return errs
}

// ValidateSource checks the settings needed to reach the warehouse.
func (c *Config) ValidateSource() error {
	if c.Source.PostgresURL == "" {
		return &ValidationError{
			Field:   "source.postgres_url",
			Message: "postgres_url is required (or set DB_HOST, DB_NAME, DB_USER, DB_PASSWORD)",
		}
	}
	return nil
}

func firstDuplicate(items []string) string {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if seen[it] {
			return it
		}
		seen[it] = true
	}
	return ""
}

func joinValidationErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
