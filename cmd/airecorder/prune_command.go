package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/logging"
	"airecorder/internal/retention"
	"airecorder/internal/store"
)

func newPruneCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete failed sessions and their spools past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				window := cfg.Retention.FailedSessionDays
				if cmd.Flags().Changed("days") {
					window = days
				}
				out := cmd.OutOrStdout()
				if window <= 0 {
					fmt.Fprintln(out, "Retention disabled; pass --days to prune")
					return nil
				}
				pruner := retention.NewPruner(st, cfg.Paths.SpoolDir, window, logging.NewNop())
				report, err := pruner.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d session(s) older than %d day(s), freed %s\n",
					report.Sessions, window, formatBytes(report.FreedBytes))
				for _, id := range report.Skipped {
					fmt.Fprintf(out, "Kept %s: spool directory is outside %s\n", shortID(id), cfg.Paths.SpoolDir)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Override retention.failed_session_days")
	return cmd
}
