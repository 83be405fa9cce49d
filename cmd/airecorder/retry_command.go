package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/daemon"
	"airecorder/internal/daemonrun"
	"airecorder/internal/ipc"
	"airecorder/internal/logging"
	"airecorder/internal/session"
	"airecorder/internal/store"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Merge the preserved spools of a failed session again",
		Long: "Retry re-runs the merge of a failed session from its spool directory. " +
			"The ID may be any unique prefix. When airecorderd is running the retry runs there.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			err := ctx.withStore(func(_ *config.Config, st *store.Store) error {
				rec, err := st.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec.State != store.StateFailed {
					return fmt.Errorf("session %s is %s; only failed sessions can be retried", shortID(rec.ID), rec.State)
				}
				id = rec.ID
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ctx.daemonRunning() {
				return ctx.withClient(func(client *ipc.Client) error {
					if _, err := client.Retry(id); err != nil {
						return err
					}
					fmt.Fprintf(out, "Merging session %s...\n", shortID(id))
					resp, err := client.Wait(0)
					if err != nil {
						return err
					}
					return reportFinished(out, resp.Session)
				})
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Merging session %s...\n", shortID(id))
			snap, err := retryLocally(cmd.Context(), cfg, id)
			if err != nil {
				return err
			}
			return reportFinished(out, snap)
		},
	}
}

// retryLocally runs the merge in this process under the recorder lock.
func retryLocally(ctx context.Context, cfg *config.Config, id string) (session.Snapshot, error) {
	lock, err := daemon.AcquireLock(cfg.LockPath())
	if err != nil {
		return session.Snapshot{}, err
	}
	defer lock.Unlock() //nolint:errcheck

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	coordinator, err := daemonrun.NewCoordinator(cfg, st, logging.NewNop())
	if err != nil {
		return session.Snapshot{}, err
	}
	defer coordinator.Shutdown(context.Background())

	snap, err := coordinator.Retry(ctx, id)
	if err != nil {
		return snap, err
	}
	return coordinator.Wait(ctx)
}
