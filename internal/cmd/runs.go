package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metriclens/metriclens/internal/config"
	"github.com/metriclens/metriclens/internal/core/store"
	"github.com/metriclens/metriclens/internal/observability"
	"github.com/metriclens/metriclens/internal/output"
)

var (
	runsLimit  int
	runsOutput string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted extraction runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		records, err := st.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Run ID", "Status", "Started", "Summary"})
		for _, record := range records {
			t.AppendRow(table.Row{
				record.RunID,
				string(record.Status),
				record.StartedAt.Format("2006-01-02 15:04"),
				record.Summary,
			})
		}
		fmt.Println(t.Render())

		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run's full dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(runsOutput)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid output format", err)
		}

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() // nolint:errcheck // best-effort cleanup

		record, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("run not found: %s", args[0])
		}

		rendered, err := output.NewFormatter(format).FormatDataset(record.Dataset)
		if err != nil {
			return err
		}
		fmt.Println(rendered)

		return nil
	},
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Invalid configuration", err)
	}

	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	runsShowCmd.Flags().StringVarP(&runsOutput, "output", "o", "table", "output format: table or json")
}
