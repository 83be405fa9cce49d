package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"airecorder/internal/ipc"
	"airecorder/internal/session"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var toggleJSON bool
	toggleCmd := &cobra.Command{
		Use:   "toggle",
		Short: "Start recording when idle, stop when recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Toggle()
				if err != nil {
					return err
				}
				if toggleJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				switch session.ToggleAction(resp.Action) {
				case session.ToggleStarted:
					fmt.Fprintf(out, "Recording started (session %s)\n", shortID(resp.Session.ID))
				case session.ToggleStopped:
					fmt.Fprintf(out, "Recording stopping (session %s)\n", shortID(resp.Session.ID))
				default:
					fmt.Fprintf(out, "Ignored: session is %s\n", resp.Session.State)
				}
				return nil
			})
		},
	}
	toggleCmd.Flags().BoolVar(&toggleJSON, "json", false, "Output as JSON")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a recording in the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Recording started (session %s)\n", shortID(resp.Session.ID))
				colorize := shouldColorize(out)
				for _, w := range resp.Session.Warnings {
					fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, colorize))
				}
				return nil
			})
		},
	}

	var stopWait bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop(stopWait)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !stopWait {
					fmt.Fprintf(out, "Recording stopping (session %s)\n", shortID(resp.Session.ID))
					return nil
				}
				return reportFinished(out, resp.Session)
			})
		},
	}
	stopCmd.Flags().BoolVarP(&stopWait, "wait", "w", false, "Wait until the recording is saved or failed")

	var waitTimeout time.Duration
	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the current session to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Wait(waitTimeout)
				if err != nil {
					return err
				}
				if !resp.Done {
					return fmt.Errorf("session %s still %s after %s", shortID(resp.Session.ID), resp.Session.State, waitTimeout)
				}
				return reportFinished(cmd.OutOrStdout(), resp.Session)
			})
		},
	}
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "Give up after this long (0 waits indefinitely)")

	ackCmd := &cobra.Command{
		Use:     "ack",
		Aliases: []string{"acknowledge"},
		Short:   "Clear a finished session so the recorder reports idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Acknowledge(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Recorder idle")
				return nil
			})
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, resp)
				}
				renderDaemonStatus(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	return []*cobra.Command{toggleCmd, startCmd, stopCmd, waitCmd, ackCmd, statusCmd}
}

// reportFinished prints a terminal session and turns a failure into an error.
func reportFinished(out io.Writer, snap session.Snapshot) error {
	printSession(out, snap, shouldColorize(out))
	if snap.State == session.StateFailed {
		return fmt.Errorf("recording failed: %s", humanize(snap.Cause))
	}
	return nil
}

func renderDaemonStatus(out io.Writer, status *ipc.StatusResponse) {
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not started", colorize))
	}
	if status.Hotkey != "" {
		fmt.Fprintln(out, renderStatusLine("Hotkey", statusInfo, status.Hotkey, colorize))
	}
	if status.MetricsAddr != "" {
		fmt.Fprintln(out, renderStatusLine("Metrics", statusInfo, "http://"+status.MetricsAddr+"/metrics", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Device watch", statusInfo, yesNo(status.DeviceWatch), colorize))
	if !status.NextRetention.IsZero() {
		fmt.Fprintln(out, renderStatusLine("Next prune", statusInfo, formatTime(status.NextRetention), colorize))
	}
	if status.ConfigPath != "" {
		fmt.Fprintln(out, renderStatusLine("Config", statusInfo, status.ConfigPath, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Dependencies", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range status.Dependencies {
		kind := statusOK
		detail := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = dep.Detail
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Session", colorize) {
		fmt.Fprintln(out, line)
	}
	printSession(out, status.Session, colorize)
}
