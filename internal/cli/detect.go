package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/analytics/anomaly"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/audit"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/config"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/db"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/metrics"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/repository"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/timeparse"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/tracing"
)

var detectBindings = map[string]string{
	"detection.estimator":    "estimator",
	"detection.window":       "window",
	"detection.threshold":    "threshold",
	"detection.history":      "history",
	"detection.workers":      "workers",
	"source.aggregate_level": "aggregate-level",
	"source.table":           "source-table",
	"sink.table":             "table",
	"sink.sqlite_path":       "sqlite-path",
}

func newDetectCmd(a *app) *cobra.Command {
	var targetTime string
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection batch and replace the result table",
		Example: `  pinganomaly detect --target-time 2026-02-07-13
  pinganomaly detect --estimator robust_zscore --window 48 --threshold 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(ctx, cmd, detectBindings)
			if err != nil {
				return err
			}
			if err := cfg.ValidateSource(); err != nil {
				return err
			}
			target, err := timeparse.Parse(targetTime, a.now())
			if err != nil {
				return fmt.Errorf("--target-time: %w", err)
			}
			est, err := anomaly.EstimatorByName(cfg.Detection.Estimator)
			if err != nil {
				return err
			}

			log, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			shutdown, err := tracing.Init(ctx, "pinganomaly", cfg.Tracing.Endpoint, cfg.Tracing.SamplingRate)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warn("Failed to flush traces", zap.Error(err))
				}
			}()

			auditLogger := audit.NewNopLogger()
			if cfg.Audit.Path != "" {
				auditLogger, err = audit.NewLogger(&audit.Config{
					AuditLogPath: cfg.Audit.Path,
					MaxSize:      cfg.Logging.MaxSizeMB,
					MaxBackups:   cfg.Logging.MaxBackups,
					MaxAge:       cfg.Logging.MaxAgeDays,
					Compress:     true,
				}, log)
				if err != nil {
					return err
				}
			}
			defer auditLogger.Close()

			repo, err := repository.NewPostgresRepository(cfg.Source.PostgresURL, repository.Options{
				Table:        cfg.Source.Table,
				TimeField:    cfg.Detection.TimeField,
				QueryTimeout: cfg.Source.QueryTimeout,
				MaxOpenConns: cfg.Source.MaxOpenConns,
			})
			if err != nil {
				return err
			}
			defer repo.Close()

			store, err := db.NewSQLiteStore(cfg.Sink.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			pipeline := analytics.NewPipeline(repo, store, analytics.Settings{
				Params: anomaly.Params{
					Window:       cfg.Detection.Window,
					Threshold:    cfg.Detection.Threshold,
					GroupFields:  cfg.Detection.GroupFields,
					TimeField:    cfg.Detection.TimeField,
					MetricFields: cfg.Detection.MetricFields,
					Estimator:    est,
					Workers:      cfg.Detection.Workers,
				},
				AggregateLevel: cfg.Source.AggregateLevel,
				History:        cfg.Detection.History,
				Table:          cfg.SinkTable(),
			}, auditLogger, log)

			report, runErr := pipeline.Run(ctx, analytics.RunRequest{TargetTime: target})

			if cfg.Metrics.TextfilePath != "" {
				if err := metrics.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
					log.Warn("Failed to write metrics textfile", zap.Error(err))
				}
			}
			if runErr != nil {
				return runErr
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d rows, %d groups, %d anomalies written to %s in %s (%s .. %s)\n",
				report.RunID, report.Stats.Rows, report.Stats.Groups, report.RowsStored,
				report.Table, cfg.Sink.SQLitePath,
				report.From.Format("2006-01-02 15:04"), report.To.Format("2006-01-02 15:04"))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&targetTime, "target-time", "now", "upper bound of the loaded range (2026-02-07, 2026-02-07-13, RFC3339, now, yesterday, ...)")
	f.String("estimator", defaults.Detection.Estimator, "baseline estimator: zscore or robust_zscore")
	f.Int("window", defaults.Detection.Window, "number of preceding points per baseline")
	f.Float64("threshold", defaults.Detection.Threshold, "flag points with |z| strictly above this value")
	f.Duration("history", defaults.Detection.History, "how far before the target time to load")
	f.Int("workers", defaults.Detection.Workers, "groups scored in parallel")
	f.String("aggregate-level", defaults.Source.AggregateLevel, "aggregate_level to load")
	f.String("source-table", defaults.Source.Table, "warehouse table with aggregated ping results")
	f.String("table", "", "result table (default derived from the estimator)")
	f.String("sqlite-path", defaults.Sink.SQLitePath, "result database file")
	return cmd
}
