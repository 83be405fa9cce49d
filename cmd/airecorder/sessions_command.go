package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/store"
)

// sessionView is the JSON form of a journal record.
type sessionView struct {
	ID           string      `json:"id"`
	State        string      `json:"state"`
	StartedAt    time.Time   `json:"started_at"`
	StoppedAt    time.Time   `json:"stopped_at,omitzero"`
	UpdatedAt    time.Time   `json:"updated_at"`
	DurationSecs float64     `json:"duration_seconds"`
	Sources      []string    `json:"sources"`
	SpoolDir     string      `json:"spool_dir,omitempty"`
	OutputPath   string      `json:"output_path,omitempty"`
	OutputBytes  int64       `json:"output_bytes,omitempty"`
	Cause        string      `json:"cause,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Warnings     []string    `json:"warnings,omitempty"`
	Tracks       []trackView `json:"tracks,omitempty"`
}

type trackView struct {
	Source  string `json:"source"`
	Chunks  uint64 `json:"chunks"`
	Dropped uint64 `json:"dropped"`
	Bytes   int64  `json:"bytes"`
	Lost    bool   `json:"lost,omitempty"`
	Error   string `json:"error,omitempty"`
}

func toSessionView(rec store.Record) sessionView {
	view := sessionView{
		ID:           rec.ID,
		State:        rec.State,
		StartedAt:    rec.StartedAt,
		StoppedAt:    rec.StoppedAt,
		UpdatedAt:    rec.UpdatedAt,
		DurationSecs: rec.Duration().Seconds(),
		Sources:      rec.Sources,
		SpoolDir:     rec.SpoolDir,
		OutputPath:   rec.OutputPath,
		OutputBytes:  rec.OutputBytes,
		Cause:        rec.Cause,
		ErrorMessage: rec.ErrorMessage,
		Warnings:     rec.Warnings,
	}
	for _, t := range rec.Tracks {
		view.Tracks = append(view.Tracks, trackView{
			Source:  t.Source,
			Chunks:  t.Chunks,
			Dropped: t.Dropped,
			Bytes:   t.Bytes,
			Lost:    t.Lost,
			Error:   t.ErrorMessage,
		})
	}
	return view
}

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var states []string
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List recorded sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStates(states)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, st *store.Store) error {
				records, err := st.List(cmd.Context(), store.ListOptions{States: filter, Limit: limit})
				if err != nil {
					return err
				}
				if jsonOut {
					views := make([]sessionView, 0, len(records))
					for _, rec := range records {
						views = append(views, toSessionView(rec))
					}
					return writeJSON(cmd, views)
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No sessions recorded")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						shortID(rec.ID),
						formatTime(rec.StartedAt),
						formatDuration(rec.Duration()),
						colorState(rec.State, colorize),
						sessionDetail(rec),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Started", "Length", "State", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))

				summary, err := st.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, summaryLine(summary))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Only show sessions in these states (saved, failed, recording, ...)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func parseStates(values []string) ([]string, error) {
	valid := map[string]bool{
		store.StateRecording: true,
		store.StateStopping:  true,
		store.StateMerging:   true,
		store.StateSaved:     true,
		store.StateFailed:    true,
	}
	var states []string
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !valid[v] {
			return nil, fmt.Errorf("unknown session state %q", v)
		}
		states = append(states, v)
	}
	return states, nil
}

func sessionDetail(rec store.Record) string {
	switch rec.State {
	case store.StateSaved:
		return fmt.Sprintf("%s (%s)", rec.OutputPath, formatBytes(rec.OutputBytes))
	case store.StateFailed:
		return humanize(rec.Cause)
	default:
		return strings.Join(rec.Sources, ", ")
	}
}

func summaryLine(s store.Summary) string {
	parts := []string{
		strconv.Itoa(s.Total) + " total",
		strconv.Itoa(s.Saved) + " saved",
		strconv.Itoa(s.Failed) + " failed",
	}
	if s.Active > 0 {
		parts = append(parts, strconv.Itoa(s.Active)+" active")
	}
	line := strings.Join(parts, ", ") + "; " + formatBytes(s.Bytes) + " of recordings"
	if len(s.ByCause) > 0 {
		causes := make([]string, 0, len(s.ByCause))
		for cause, n := range s.ByCause {
			causes = append(causes, fmt.Sprintf("%s: %d", humanize(cause), n))
		}
		sort.Strings(causes)
		line += "\nFailures by cause: " + strings.Join(causes, ", ")
	}
	return line
}
