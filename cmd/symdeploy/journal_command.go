package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"symdeploy/internal/journal"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var runID int64

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent deploy and purge runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if runID > 0 {
				ops, err := store.FailedOperations(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if len(ops) == 0 {
					fmt.Fprintf(out, "Run %d has no failed operations\n", runID)
					return nil
				}
				rows := make([][]string, 0, len(ops))
				for _, op := range ops {
					rows = append(rows, []string{
						strconv.FormatUint(op.Num, 10),
						titleLabel(op.Kind),
						op.Destination,
						titleLabel(op.Result),
						firstLine(op.ErrorMessage),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "Kind", "Destination", "Result", "Error"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			}

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					strconv.FormatInt(run.ID, 10),
					titleLabel(run.Command),
					valueOrDash(run.Game),
					titleLabel(string(run.Status)),
					strconv.Itoa(run.Succeeded),
					strconv.Itoa(run.Failed),
					formatStarted(run.StartedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Command", "Game", "Status", "OK", "Failed", "Started"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().Int64Var(&runID, "run", 0, "Show failed operations of a run")
	return cmd
}

func formatStarted(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
