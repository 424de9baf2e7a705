package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/stores"
)

func newHistoryCommand(version string) *cobra.Command {
	var (
		template string
		limit    int
		events   bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past upgrade runs",
		Long: `List recorded upgrade runs from the local history database, newest
first. With --events each run's step log is shown as well.`,
		Example: `  # List recent runs
  qvm-template-upgrade history

  # Runs for one template, with step details
  qvm-template-upgrade history --template debian-12 --events`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(version)
			if err != nil {
				return err
			}
			defer rt.shutdown(cmd.Context())

			if rt.cfg.HistoryDisabled {
				return fmt.Errorf("run history is disabled in the configuration")
			}

			store, cleanup, err := rt.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := store.ListRuns(cmd.Context(), template, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No recorded runs.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tTEMPLATE\tUPGRADE\tCLONED\tSTATUS")
			for _, run := range runs {
				cloned := "-"
				if run.Cloned {
					cloned = run.FinalName
				}
				fmt.Fprintf(w, "%s\t%s\t%s %s -> %s\t%s\t%s\n",
					run.StartedAt.Format("2006-01-02 15:04"),
					run.Template,
					run.Family, run.FromVersion, run.ToVersion,
					cloned,
					run.Status,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if !events {
				return nil
			}
			for _, run := range runs {
				if err := printEvents(cmd, store, run); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "only show runs for this template")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	cmd.Flags().BoolVar(&events, "events", false, "show each run's step log")

	return cmd
}

func printEvents(cmd *cobra.Command, store stores.Store, run stores.Run) error {
	list, err := store.ListEvents(cmd.Context(), run.ID)
	if err != nil {
		return fmt.Errorf("failed to list events for run %s: %w", run.ID, err)
	}

	fmt.Printf("\n%s %s (%s):\n", run.StartedAt.Format("2006-01-02 15:04"), run.Template, run.Status)
	for _, ev := range list {
		marker := " "
		if ev.Level == stores.EventLevelError {
			marker = "!"
		}
		fmt.Printf("  %s %-20s %s\n", marker, ev.Step, ev.Message)
	}
	return nil
}
