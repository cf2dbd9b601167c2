package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/logger"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Detection run lifecycle
	LogDetectionStarted(ctx context.Context, runID, estimator string, window int, threshold float64) error
	LogDetectionCompleted(ctx context.Context, runID string, anomalies int, duration time.Duration) error
	LogDetectionFailed(ctx context.Context, runID, code string, err error, duration time.Duration) error

	// LogSinkReplaced logs a full replace of a result table
	LogSinkReplaced(ctx context.Context, runID, table string, rows int) error

	// Sync flushes written entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// AuditLogPath is the path to the audit log file
	AuditLogPath string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		MaxSize:      100, // megabytes
		MaxBackups:   10,
		MaxAge:       30, // days
		Compress:     true,
	}
}

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	mu          sync.Mutex
	closed      bool
}

// NewLogger creates a new audit logger. appLogger receives marshalling
// failures and may be nil.
func NewLogger(config *Config, appLogger *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AuditLogPath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if appLogger == nil {
		appLogger = zap.NewNop()
	}

	rotator := &lumberjack.Logger{
		Filename:   config.AuditLogPath,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// Audit logs are always INFO level, append-only
	auditCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(logger.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	return &auditLogger{
		appLogger:   appLogger,
		auditLogger: zap.New(auditCore),
		rotator:     rotator,
	}, nil
}

// Log logs an audit event
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit logger is closed")
	}
	if event.RunID == "" {
		event.RunID = RunIDFromContext(ctx)
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		l.appLogger.Error("failed to marshal audit event",
			zap.Error(err),
			zap.String("event_type", string(event.EventType)),
		)
		return err
	}

	l.auditLogger.Info(string(eventJSON),
		zap.String("run_id", event.RunID),
		zap.String("event_type", string(event.EventType)),
		zap.String("result", string(event.Result)),
	)
	return nil
}

// LogDetectionStarted logs when a detection run starts
func (l *auditLogger) LogDetectionStarted(ctx context.Context, runID, estimator string, window int, threshold float64) error {
	event := NewEvent(EventDetectionStarted).
		WithRunID(runID).
		WithParams(estimator, window, threshold).
		WithResult(ResultPending).
		WithDescription(fmt.Sprintf("Detection run %s started", runID))

	return l.Log(ctx, event)
}

// LogDetectionCompleted logs when a detection run completes
func (l *auditLogger) LogDetectionCompleted(ctx context.Context, runID string, anomalies int, duration time.Duration) error {
	event := NewEvent(EventDetectionCompleted).
		WithRunID(runID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("anomalies", anomalies).
		WithDescription(fmt.Sprintf("Detection run %s completed with %d anomalies", runID, anomalies))

	return l.Log(ctx, event)
}

// LogDetectionFailed logs when a detection run fails
func (l *auditLogger) LogDetectionFailed(ctx context.Context, runID, code string, err error, duration time.Duration) error {
	event := NewEvent(EventDetectionFailed).
		WithRunID(runID).
		WithError(err, code).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Detection run %s failed", runID))

	return l.Log(ctx, event)
}

// LogSinkReplaced logs when a result table has been replaced
func (l *auditLogger) LogSinkReplaced(ctx context.Context, runID, table string, rows int) error {
	event := NewEvent(EventSinkReplaced).
		WithRunID(runID).
		WithTable(table).
		WithResult(ResultSuccess).
		WithMetadata("rows", rows).
		WithDescription(fmt.Sprintf("Table %s replaced with %d rows", table, rows))

	return l.Log(ctx, event)
}

// Sync flushes written entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.auditLogger.Sync()
}

// Close closes the audit logger
func (l *auditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.auditLogger.Sync(); err != nil {
		return err
	}
	return l.rotator.Close()
}

type nopLogger struct{}

// NewNopLogger returns a Logger that discards every event.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogDetectionStarted(context.Context, string, string, int, float64) error {
	return nil
}
func (nopLogger) LogDetectionCompleted(context.Context, string, int, time.Duration) error {
	return nil
}
func (nopLogger) LogDetectionFailed(context.Context, string, string, error, time.Duration) error {
	return nil
}
func (nopLogger) LogSinkReplaced(context.Context, string, string, int) error { return nil }
func (nopLogger) Sync() error                                               { return nil }
func (nopLogger) Close() error                                              { return nil }

type runIDKey struct{}

// RunIDFromContext extracts the run ID from context
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRunID adds the run ID to context
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// GenerateRunID generates a new run ID
func GenerateRunID() string {
	return uuid.NewString()
}
