package config

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	flags      map[string]*pflag.Flag
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("PINGANOMALY")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	for key, flag := range m.flags {
		if err := m.viper.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("error binding flag --%s to %s: %w", flag.Name, key, err)
		}
	}

	// The config file is optional; defaults + env vars + flags are enough.
	if m.configPath != "" {
		if err := m.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				// use defaults
			} else if os.IsNotExist(err) {
				// use defaults
			} else {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	return joinValidationErrors(m.config.Validate())
}

// BindFlag registers flag as the highest-priority source for key.
func (m *viperConfigManager) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("cannot bind nil flag to %s", key)
	}
	m.flags[key] = flag
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Source defaults
	m.viper.SetDefault("source.postgres_url", defaults.Source.PostgresURL)
	m.viper.SetDefault("source.table", defaults.Source.Table)
	m.viper.SetDefault("source.aggregate_level", defaults.Source.AggregateLevel)
	m.viper.SetDefault("source.query_timeout", defaults.Source.QueryTimeout)
	m.viper.SetDefault("source.max_open_conns", defaults.Source.MaxOpenConns)

	// Detection defaults
	m.viper.SetDefault("detection.estimator", defaults.Detection.Estimator)
	m.viper.SetDefault("detection.window", defaults.Detection.Window)
	m.viper.SetDefault("detection.threshold", defaults.Detection.Threshold)
	m.viper.SetDefault("detection.history", defaults.Detection.History)
	m.viper.SetDefault("detection.time_field", defaults.Detection.TimeField)
	m.viper.SetDefault("detection.group_fields", defaults.Detection.GroupFields)
	m.viper.SetDefault("detection.metric_fields", defaults.Detection.MetricFields)
	m.viper.SetDefault("detection.workers", defaults.Detection.Workers)

	// Sink defaults
	m.viper.SetDefault("sink.sqlite_path", defaults.Sink.SQLitePath)
	m.viper.SetDefault("sink.table", defaults.Sink.Table)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Audit defaults
	m.viper.SetDefault("audit.path", defaults.Audit.Path)

	// Metrics defaults
	m.viper.SetDefault("metrics.textfile_path", defaults.Metrics.TextfilePath)

	// Tracing defaults
	m.viper.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	m.viper.SetDefault("tracing.sampling_rate", defaults.Tracing.SamplingRate)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Source
	cfg.Source.PostgresURL = m.viper.GetString("source.postgres_url")
	cfg.Source.Table = m.viper.GetString("source.table")
	cfg.Source.AggregateLevel = m.viper.GetString("source.aggregate_level")
	cfg.Source.QueryTimeout = m.viper.GetDuration("source.query_timeout")
	cfg.Source.MaxOpenConns = m.viper.GetInt("source.max_open_conns")

	// Detection
	cfg.Detection.Estimator = strings.ToLower(m.viper.GetString("detection.estimator"))
	cfg.Detection.Window = m.viper.GetInt("detection.window")
	cfg.Detection.Threshold = m.viper.GetFloat64("detection.threshold")
	cfg.Detection.History = m.viper.GetDuration("detection.history")
	cfg.Detection.TimeField = m.viper.GetString("detection.time_field")
	cfg.Detection.GroupFields = splitList(m.viper.GetStringSlice("detection.group_fields"))
	cfg.Detection.MetricFields = splitList(m.viper.GetStringSlice("detection.metric_fields"))
	cfg.Detection.Workers = m.viper.GetInt("detection.workers")

	// Sink
	cfg.Sink.SQLitePath = m.viper.GetString("sink.sqlite_path")
	cfg.Sink.Table = m.viper.GetString("sink.table")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Audit
	cfg.Audit.Path = m.viper.GetString("audit.path")

	// Metrics
	cfg.Metrics.TextfilePath = m.viper.GetString("metrics.textfile_path")

	// Tracing
	cfg.Tracing.Endpoint = m.viper.GetString("tracing.endpoint")
	cfg.Tracing.SamplingRate = m.viper.GetFloat64("tracing.sampling_rate")

	m.config = cfg
	return nil
}

// applyEnvOverrides assembles the warehouse URL from the DB_* variables used
// by the reporting stack when no explicit URL was configured.
func (m *viperConfigManager) applyEnvOverrides() {
	if m.config.Source.PostgresURL != "" {
		return
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	sslmode := os.Getenv("DB_SSLMODE")
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + os.Getenv("DB_NAME"),
		RawQuery: url.Values{"sslmode": []string{sslmode}}.Encode(),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	m.config.Source.PostgresURL = u.String()
}

// splitList accepts both YAML lists and comma-separated env/flag values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
