package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return buildRootCommand(newCommandContext())
}

func buildRootCommand(ctx *commandContext) *cobra.Command {
	var runFlag string

	rootCmd := &cobra.Command{
		Use:           "symdeploy",
		Short:         "Deploy mod files into a game directory as symbolic links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(runFlag) != "" || shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if path := strings.TrimSpace(runFlag); path != "" {
				return runHelper(cmd.Context(), path)
			}
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&ctx.assumeYes, "yes", "y", false, "Approve the elevation prompt without asking")
	rootCmd.Flags().StringVar(&runFlag, "run", "", "Serve an elevation request file (used by the elevated helper)")
	_ = rootCmd.Flags().MarkHidden("run")

	rootCmd.AddCommand(newDeployCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newSupportCommand(ctx))
	rootCmd.AddCommand(newJournalCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
