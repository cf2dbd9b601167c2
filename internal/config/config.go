package config

import (
	"context"
	"time"

	"github.com/spf13/pflag"
)

// Package config provides configuration management for pinganomaly.
//
// Responsibilities:
//   - Load configuration from YAML files, environment variables, and CLI flags
//   - Validate configuration before a run starts
//   - Assemble the warehouse connection string from DB_* variables
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (PINGANOMALY_* prefix, "." replaced by "_")
//   3. YAML config file (default: /etc/pinganomaly/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Source
//      - postgres_url: warehouse connection string (or DB_HOST/DB_PORT/DB_NAME/
//        DB_USER/DB_PASSWORD)
//      - table: aggregated ping results table
//      - aggregate_level: aggregation level to load (default "hour")
//      - query_timeout, max_open_conns
//
//   2. Detection
//      - estimator: "zscore" | "robust_zscore"
//      - window: number of preceding points per baseline (default 72)
//      - threshold: exclusive |z| bound (default 3.5)
//      - history: how far back from the target time to load (default 144h)
//      - time_field, group_fields, metric_fields
//      - workers: group-level parallelism
//
//   3. Sink
//      - sqlite_path: result database file
//      - table: result table, derived from the estimator when empty
//
//   4. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"
//      - file, max_size_mb, max_backups, max_age_days: optional rotation
//
//   5. Audit
//      - path: append-only run event log, empty disables it
//
//   6. Metrics
//      - textfile_path: Prometheus textfile export, empty disables it
//
//   7. Tracing
//      - endpoint: OTLP collector host:port, empty disables tracing
//      - sampling_rate: fraction of runs traced (0.0 - 1.0)

// Config struct contains all configuration fields
type Config struct {
	// Source warehouse configuration
	Source struct {
		PostgresURL    string
		Table          string
		AggregateLevel string
		QueryTimeout   time.Duration
		MaxOpenConns   int
	}

	// Detection configuration
	Detection struct {
		Estimator    string
		Window       int
		Threshold    float64
		History      time.Duration
		TimeField    string
		GroupFields  []string
		MetricFields []string
		Workers      int
	}

	// Result sink configuration
	Sink struct {
		SQLitePath string
		Table      string
	}

	// Logging configuration
	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	// Audit configuration
	Audit struct {
		Path string
	}

	// Metrics configuration
	Metrics struct {
		TextfilePath string
	}

	// Tracing configuration
	Tracing struct {
		Endpoint     string
		SamplingRate float64
	}
}

// SinkTable returns the configured result table, or the estimator's default
// table when none is set.
func (c *Config) SinkTable() string {
	if c.Sink.Table != "" {
		return c.Sink.Table
	}
	if c.Detection.Estimator == "robust_zscore" {
		return DefaultRobustTable
	}
	return DefaultZScoreTable
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// BindFlag makes flag override the value at key when it is set on the
	// command line. Flags must be bound before Load.
	BindFlag(key string, flag *pflag.Flag) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		flags:      make(map[string]*pflag.Flag),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager(DefaultConfigPath)
}
