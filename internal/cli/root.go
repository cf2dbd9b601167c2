package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/config"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/logger"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/version"
)

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
	now        func() time.Time
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{
		stdout: out,
		stderr: errOut,
		now:    time.Now,
	}

	cmd := &cobra.Command{
		Use:           "pinganomaly",
		Short:         "Rolling-window anomaly detection for ping KPIs",
		Long:          "pinganomaly scores latency, jitter and packet loss of every ISP/agent/server group against a rolling baseline and stores the anomalous points in SQLite.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the YAML config file (default "+config.DefaultConfigPath+" when present)")

	cmd.AddCommand(
		newDetectCmd(a),
		newReportCmd(a),
		newRunsCmd(a),
		newVersionCmd(),
	)

	cmd.SetVersionTemplate(fmt.Sprintf("pinganomaly {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	cmd.SetErrPrefix("pinganomaly: ")
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show pinganomaly build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "pinganomaly %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
			return nil
		},
	}
}

// loadConfig reads the configuration with the given flags bound as the
// highest-priority source. bindings maps config keys to flag names of cmd.
func (a *app) loadConfig(ctx context.Context, cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}

	mgr, err := config.NewConfigManager(path)
	if err != nil {
		return nil, err
	}
	for key, name := range bindings {
		if err := mgr.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, err
		}
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, err
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	return mgr.Get(ctx), nil
}

// newLogger builds the application logger. Console output goes to the
// command's stderr.
func (a *app) newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewWithConsole(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
	}, a.stderr)
}
