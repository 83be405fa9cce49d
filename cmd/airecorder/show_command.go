package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/services"
	"airecorder/internal/spool"
	"airecorder/internal/store"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				rec, err := st.Find(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, toSessionView(rec))
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				pairs := [][2]string{
					{"ID", rec.ID},
					{"State", colorState(rec.State, colorize)},
					{"Started", formatTime(rec.StartedAt)},
					{"Stopped", formatTime(rec.StoppedAt)},
					{"Length", formatDuration(rec.Duration())},
					{"Sources", strings.Join(rec.Sources, ", ")},
				}
				if rec.OutputPath != "" {
					pairs = append(pairs, [2]string{"Output", fmt.Sprintf("%s (%s)", rec.OutputPath, formatBytes(rec.OutputBytes))})
				}
				if rec.Cause != "" {
					pairs = append(pairs, [2]string{"Cause", humanize(rec.Cause)})
				}
				if rec.ErrorMessage != "" {
					pairs = append(pairs, [2]string{"Error", rec.ErrorMessage})
				}
				if rec.SpoolDir != "" {
					pairs = append(pairs, [2]string{"Spool", rec.SpoolDir})
				}
				fmt.Fprintln(out, renderDetails(pairs))

				if len(rec.Tracks) > 0 {
					fmt.Fprintln(out)
					rows := make([][]string, 0, len(rec.Tracks))
					for _, t := range rec.Tracks {
						status := "ok"
						if t.Lost {
							status = "lost"
							if t.ErrorMessage != "" {
								status += ": " + t.ErrorMessage
							}
						}
						rows = append(rows, []string{
							humanize(t.Source),
							strconv.FormatUint(t.Chunks, 10),
							strconv.FormatUint(t.Dropped, 10),
							formatBytes(t.Bytes),
							status,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Source", "Chunks", "Dropped", "Size", "Status"},
						rows,
						[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
					))
				}

				for _, w := range rec.Warnings {
					fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, colorize))
				}
				printSpoolFiles(out, rec.SpoolDir)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func printSpoolFiles(out io.Writer, dir string) {
	if dir == "" {
		return
	}
	m, err := spool.ReadManifest(dir)
	if err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			fmt.Fprintf(out, "\nSpool manifest unreadable: %v\n", err)
		}
		return
	}
	fmt.Fprintln(out, "\nSpool files:")
	for _, t := range m.Tracks {
		if t.File == "" {
			continue
		}
		fmt.Fprintf(out, "  %s  %s  %s\n", filepath.Join(dir, t.File), t.Format.Container, formatBytes(t.Bytes))
	}
}
