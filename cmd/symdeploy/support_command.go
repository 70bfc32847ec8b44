package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"symdeploy/internal/deploy"
	"symdeploy/internal/elevation"
	"symdeploy/internal/preflight"
)

func newSupportCommand(ctx *commandContext) *cobra.Command {
	var game string

	cmd := &cobra.Command{
		Use:   "support",
		Short: "Report whether elevated symlink deployment works for a game",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var opts []deploy.Option
			if ctx.platform != "" {
				opts = append(opts, deploy.WithPlatform(ctx.platform))
			}
			coord := deploy.New(cfg, nil, nil, nil, opts...)
			reason, ok := coord.IsSupported(game)

			rows := [][]string{
				{"Game", valueOrDash(game)},
				{"Supported", yesNo(ok)},
				{"Already elevated", yesNo(elevation.IsElevated())},
				{"Target directory", valueOrDash(cfg.Paths.TargetDir)},
			}
			if !ok {
				rows = append(rows, []string{"Reason", reason})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Check", "Value"}, rows, nil))

			checks := preflight.RunAll(cmd.Context(), cfg)
			checkRows := make([][]string, 0, len(checks))
			for _, check := range checks {
				status := "ok"
				if !check.Passed {
					status = "fail"
				}
				checkRows = append(checkRows, []string{check.Name, status, check.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Preflight", "Status", "Detail"}, checkRows, nil))
			return nil
		},
	}
	cmd.Flags().StringVarP(&game, "game", "g", "", "Game id to check")
	return cmd
}

func valueOrDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
