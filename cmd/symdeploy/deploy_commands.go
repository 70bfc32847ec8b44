package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"symdeploy/internal/deploy"
	"symdeploy/internal/elevation"
	"symdeploy/internal/journal"
	"symdeploy/internal/logging"
)

func newDeployCommand(ctx *commandContext) *cobra.Command {
	var game string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Link every staged mod file into the game directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployment(cmd, ctx, "deploy", game, func(c context.Context, d *deployment) (deploy.Summary, error) {
				return d.coord.LinkTree(c, d.cfg.Paths.ModsDir, d.cfg.Paths.TargetDir)
			})
		},
	}
	cmd.Flags().StringVarP(&game, "game", "g", "", "Game id, checked against the symlink compatibility list")
	return cmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var game string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove links in the game directory that point into the mods directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployment(cmd, ctx, "purge", game, func(c context.Context, d *deployment) (deploy.Summary, error) {
				return d.coord.PurgeLinks(c, d.cfg.Paths.ModsDir, d.cfg.Paths.TargetDir)
			})
		},
	}
	cmd.Flags().StringVarP(&game, "game", "g", "", "Game id, checked against the symlink compatibility list")
	return cmd
}

type deploymentFunc func(context.Context, *deployment) (deploy.Summary, error)

func runDeployment(cmd *cobra.Command, ctx *commandContext, command, game string, run deploymentFunc) error {
	d, err := ctx.openDeployment(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	if d.cfg.Paths.ModsDir == "" || d.cfg.Paths.TargetDir == "" {
		return errors.New("mods_dir and target_dir must be configured (or set SYMDEPLOY_MODS_DIR / SYMDEPLOY_TARGET_DIR)")
	}
	if reason, ok := d.coord.IsSupported(game); !ok {
		return fmt.Errorf("symlink deployment unavailable: %s", reason)
	}

	lock, err := d.coord.AcquireTargetLock(d.cfg.Paths.TargetDir)
	if err != nil {
		return explainError(err)
	}
	defer func() { _ = lock.Release() }()

	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	runCtx = logging.WithGame(runCtx, game)

	runID, err := d.journal.BeginRun(runCtx, command, game, d.cfg.Paths.TargetDir)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	summary, runErr := run(runCtx, d)

	// The outcome is recorded even when the run was interrupted.
	journalCtx := context.WithoutCancel(runCtx)
	if err := d.journal.RecordOperations(journalCtx, runID, journalOperations(summary)); err != nil {
		logging.WarnWithContext(d.logger, "journal write failed", "journal_write_failed",
			logging.Int64("run_id", runID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operation history incomplete for this run"))
	}
	status, detail := runOutcome(summary, runErr)
	if err := d.journal.FinishRun(journalCtx, runID, status, detail); err != nil {
		logging.WarnWithContext(d.logger, "journal write failed", "journal_write_failed",
			logging.Int64("run_id", runID),
			logging.Error(err))
	}

	printSummary(cmd.OutOrStdout(), command, summary)
	return explainError(runErr)
}

func journalOperations(summary deploy.Summary) []journal.Operation {
	ops := make([]journal.Operation, 0, len(summary.Results))
	for _, res := range summary.Results {
		op := journal.Operation{
			Num:         res.Num,
			Kind:        res.Kind,
			Source:      res.Source,
			Destination: res.Destination,
			Result:      journal.ResultOK,
			CompletedAt: res.CompletedAt,
		}
		if res.Err != nil {
			op.Result = resultLabel(res.Err)
			op.ErrorCode = res.Err.Code
			op.ErrorMessage = res.Err.Message
		}
		ops = append(ops, op)
	}
	return ops
}

func resultLabel(err *deploy.OperationError) string {
	switch {
	case err.NotSupported:
		return "not-supported"
	case err.Code == deploy.CodeDisconnected:
		return "orphaned"
	default:
		return "failed"
	}
}

func runOutcome(summary deploy.Summary, err error) (journal.RunStatus, string) {
	switch {
	case err == nil:
		return journal.RunCompleted, fmt.Sprintf("%d operations", summary.Total())
	case errors.Is(err, elevation.ErrConsentDeclined):
		return journal.RunDeclined, "elevation declined"
	case summary.Failed() > 0 && summary.Failed() < summary.Total():
		return journal.RunPartial, fmt.Sprintf("%d of %d operations failed", summary.Failed(), summary.Total())
	default:
		return journal.RunFailed, firstLine(err.Error())
	}
}

func printSummary(out io.Writer, command string, summary deploy.Summary) {
	if summary.Total() == 0 {
		return
	}
	switch command {
	case "deploy":
		fmt.Fprintf(out, "Linked %d file(s)", summary.Linked)
	default:
		fmt.Fprintf(out, "Removed %d link(s)", summary.Unlinked)
	}
	if failed := summary.Failed(); failed > 0 {
		fmt.Fprintf(out, ", %d failed", failed)
	}
	fmt.Fprintln(out)

	if len(summary.Failures) == 0 {
		return
	}
	rows := make([][]string, 0, len(summary.Failures))
	for _, failure := range summary.Failures {
		rows = append(rows, []string{
			titleLabel(failure.Kind),
			failure.Destination,
			failure.Code,
			firstLine(failure.Message),
		})
	}
	fmt.Fprintln(out, renderTable([]string{"Kind", "Destination", "Code", "Error"}, rows, nil))
	if len(summary.NotSupported) > 0 {
		fmt.Fprintln(out, "The target filesystem does not support symbolic links; move the game to an NTFS volume.")
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
