package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/daemon"
	"airecorder/internal/daemonrun"
	"airecorder/internal/logging"
	"airecorder/internal/reveal"
	"airecorder/internal/session"
	"airecorder/internal/store"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration
	var revealOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record in the foreground until interrupted",
		Long: "Record the configured sources in this process. Press Ctrl+C to stop; " +
			"the recording is merged before the command exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if ctx.daemonRunning() {
				return errors.New("airecorderd is running; use `airecorder start` and `airecorder stop` instead")
			}
			return recordForeground(cmd, cfg, recordOptions{
				duration: duration,
				reveal:   revealOutput || cfg.Daemon.RevealOnSave,
				logLevel: logLevel,
			})
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop automatically after this long")
	cmd.Flags().BoolVar(&revealOutput, "reveal", false, "Show the saved file in the file manager")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Console log level")
	return cmd
}

type recordOptions struct {
	duration time.Duration
	reveal   bool
	logLevel string
}

func recordForeground(cmd *cobra.Command, cfg *config.Config, opts recordOptions) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	lock, err := daemon.AcquireLock(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck

	logger, err := logging.New(logging.Options{
		Level:            opts.logLevel,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()
	if recovered, err := st.MarkInterrupted(cmd.Context()); err == nil && len(recovered) > 0 {
		fmt.Fprintf(out, "Marked %d interrupted session(s) as failed; see `airecorder sessions --state failed`\n", len(recovered))
	}

	coordinator, err := daemonrun.NewCoordinator(cfg, st, logger)
	if err != nil {
		return err
	}
	defer coordinator.Shutdown(context.Background())

	sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	snap, err := coordinator.Start(sigCtx)
	if err != nil {
		if snap.ID != "" {
			printSession(out, snap, colorize)
		}
		return err
	}
	fmt.Fprintf(out, "Recording session %s (%s). Press Ctrl+C to stop.\n", shortID(snap.ID), sourceList(snap.Sources))
	for _, w := range snap.Warnings {
		fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, colorize))
	}

	var timer <-chan time.Time
	if opts.duration > 0 {
		t := time.NewTimer(opts.duration)
		defer t.Stop()
		timer = t.C
	}

	updates, unsubscribe := coordinator.Subscribe()
	defer unsubscribe()
wait:
	for {
		select {
		case <-sigCtx.Done():
			break wait
		case <-timer:
			break wait
		case s, ok := <-updates:
			if !ok || s.State != session.StateRecording {
				break wait
			}
		}
	}
	// A second Ctrl+C during the merge aborts through the default handler.
	stopSignals()

	if err := coordinator.Stop(context.Background()); err != nil && !errors.Is(err, session.ErrNotRecording) {
		return err
	}
	fmt.Fprintln(out, "Stopping; merging tracks...")

	final, err := coordinator.Wait(context.Background())
	if err != nil {
		return err
	}
	printSession(out, final, colorize)

	if final.State == session.StateFailed {
		return fmt.Errorf("recording failed: %s", humanize(final.Cause))
	}
	if opts.reveal && final.OutputPath != "" {
		revealCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := reveal.New(logger).Reveal(revealCtx, final.OutputPath); err != nil {
			fmt.Fprintln(out, renderStatusLine("Reveal", statusWarn, err.Error(), colorize))
		}
	}
	return nil
}

func sourceList(kinds []capture.Kind) string {
	if len(kinds) == 0 {
		return "no sources"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
