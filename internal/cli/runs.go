package cli

import (
	"github.com/spf13/cobra"

	"github.com/khanhngocdam/BE-Viettel-iQuality-TEST/internal/db"
)

func newRunsCmd(a *app) *cobra.Command {
	var (
		limit  int
		output string
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent detection runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := a.loadConfig(ctx, cmd, storeBindings)
			if err != nil {
				return err
			}
			store, err := db.NewSQLiteStore(cfg.Sink.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*db.RunRecord{}
			}
			return writeOutput(cmd.OutOrStdout(), output, runs)
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	return cmd
}
