package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/config"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/db"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/report"
	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/timeparse"
)

var storeBindings = map[string]string{
	"detection.estimator": "estimator",
	"sink.table":          "table",
	"sink.sqlite_path":    "sqlite-path",
}

type reportOptions struct {
	minSeverity string
	isp         string
	agent       string
	server      string
	from        string
	to          string
	limit       int
	metrics     []string
	output      string
}

func newReportCmd(a *app) *cobra.Command {
	var o reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a result table by severity band",
		Example: `  pinganomaly report --min-severity high
  pinganomaly report --server "HN Speedtest" --from yesterday`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := a.loadConfig(ctx, cmd, storeBindings)
			if err != nil {
				return err
			}
			if err := validateOutput(o.output); err != nil {
				return err
			}
			minSeverity, ok := report.ParseSeverity(o.minSeverity)
			if !ok {
				return fmt.Errorf("--min-severity must be one of high, medium, low, none, got %q", o.minSeverity)
			}

			q := db.AnomalyQuery{
				ISP:        o.isp,
				Agent:      o.agent,
				ServerName: o.server,
				TimeField:  cfg.Detection.TimeField,
				Limit:      o.limit,
			}
			now := a.now()
			if q.From, err = parseOptionalTime("--from", o.from, now); err != nil {
				return err
			}
			if q.To, err = parseOptionalTime("--to", o.to, now); err != nil {
				return err
			}

			store, err := db.NewSQLiteStore(cfg.Sink.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			frame, err := store.LoadAnomalies(ctx, cfg.SinkTable(), q)
			if err != nil {
				return err
			}
			sum, err := report.Summarize(frame, report.Options{
				Metrics:     o.metrics,
				MinSeverity: minSeverity,
				TimeField:   cfg.Detection.TimeField,
			})
			if err != nil {
				return err
			}

			return writeOutput(cmd.OutOrStdout(), o.output, sum)
		},
	}

	f := cmd.Flags()
	addStoreFlags(cmd)
	f.StringVar(&o.minSeverity, "min-severity", string(report.SeverityMedium), "lowest band to report: high, medium or low")
	f.StringVar(&o.isp, "isp", "", "only rows of this ISP")
	f.StringVar(&o.agent, "agent", "", "only rows of this agent (account_login_vqt)")
	f.StringVar(&o.server, "server", "", "only rows of this server_name")
	f.StringVar(&o.from, "from", "", "earliest time to include")
	f.StringVar(&o.to, "to", "", "latest time to include")
	f.IntVar(&o.limit, "limit", 0, "maximum rows to read, 0 for all")
	f.StringSliceVar(&o.metrics, "metrics", nil, "metrics to report (default every scored metric)")
	f.StringVarP(&o.output, "output", "o", "json", "output format: json or yaml")
	return cmd
}

// addStoreFlags registers the flags that locate a result table.
func addStoreFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	f := cmd.Flags()
	f.String("estimator", defaults.Detection.Estimator, "estimator whose default result table is read")
	f.String("table", "", "result table (default derived from the estimator)")
	f.String("sqlite-path", defaults.Sink.SQLitePath, "result database file")
}

func parseOptionalTime(flag, text string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(text) == "" {
		return time.Time{}, nil
	}
	t, err := timeparse.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", flag, err)
	}
	return t, nil
}
