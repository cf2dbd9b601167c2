package config

import "time"

const (
	// DefaultConfigPath is read when no --config flag is given.
	DefaultConfigPath = "/etc/pinganomaly/config.yaml"

	DefaultZScoreTable = "ping_anomaly_zscore"
	DefaultRobustTable = "ping_anomaly_robust_zscore"
)

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Source defaults
	cfg.Source.PostgresURL = ""
	cfg.Source.Table = "log_data_aggregate.ping_results_aggregate"
	cfg.Source.AggregateLevel = "hour"
	cfg.Source.QueryTimeout = 60 * time.Second
	cfg.Source.MaxOpenConns = 5

	// Detection defaults
	cfg.Detection.Estimator = "zscore"
	cfg.Detection.Window = 72
	cfg.Detection.Threshold = 3.5
	cfg.Detection.History = 144 * time.Hour
	cfg.Detection.TimeField = "testing_time"
	cfg.Detection.GroupFields = []string{"isp", "account_login_vqt", "server_name"}
	cfg.Detection.MetricFields = []string{"mean_jitter", "mean_average_latency", "mean_packet_loss_rate"}
	cfg.Detection.Workers = 1

	// Sink defaults
	cfg.Sink.SQLitePath = "ping_results.db"
	cfg.Sink.Table = "" // derived from the estimator

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30

	// Audit defaults
	cfg.Audit.Path = "logs/audit.log"

	// Metrics defaults
	cfg.Metrics.TextfilePath = ""

	// Tracing defaults
	cfg.Tracing.Endpoint = ""
	cfg.Tracing.SamplingRate = 1.0

	return cfg
}
