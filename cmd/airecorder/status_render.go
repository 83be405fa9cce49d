package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"airecorder/internal/session"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateKind maps a session state to a status color.
func stateKind(state string) statusKind {
	switch session.State(state) {
	case session.StateSaved:
		return statusOK
	case session.StateFailed:
		return statusError
	case session.StateStopping, session.StateMerging:
		return statusWarn
	default:
		return statusInfo
	}
}

var titleCaser = cases.Title(language.English)

// humanize turns identifiers such as device_disconnected into labels.
func humanize(value string) string {
	if value == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(value, "_", " "))
}

func colorState(state string, colorize bool) string {
	label := humanize(state)
	if !colorize {
		return label
	}
	return statusKindColor(stateKind(state)) + label + ansiReset
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// printSession writes a one-screen summary of a session snapshot.
func printSession(out io.Writer, snap session.Snapshot, colorize bool) {
	if snap.ID == "" {
		fmt.Fprintln(out, renderStatusLine("Session", statusInfo, "idle", colorize))
		return
	}
	fmt.Fprintln(out, renderStatusLine("Session", stateKind(string(snap.State)),
		fmt.Sprintf("%s %s", shortID(snap.ID), humanize(string(snap.State))), colorize))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Elapsed:", formatDuration(snap.Elapsed(time.Now())))
	for _, t := range snap.Tracks {
		kind := statusOK
		detail := fmt.Sprintf("%d chunks, %s", t.Chunks, formatBytes(t.Bytes))
		if t.Dropped > 0 {
			kind = statusWarn
			detail += fmt.Sprintf(", %d dropped", t.Dropped)
		}
		if t.Lost {
			kind = statusError
			detail += ", lost"
		}
		fmt.Fprintln(out, renderStatusLine(humanize(string(t.Source)), kind, detail, colorize))
	}
	for _, w := range snap.Warnings {
		fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, w, colorize))
	}
	if snap.OutputPath != "" {
		fmt.Fprintln(out, renderStatusLine("Output", statusOK,
			fmt.Sprintf("%s (%s)", snap.OutputPath, formatBytes(snap.OutputBytes)), colorize))
	}
	if snap.State == session.StateFailed {
		fmt.Fprintln(out, renderStatusLine("Cause", statusError, humanize(snap.Cause), colorize))
		if snap.Message != "" {
			fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Detail:", snap.Message)
		}
		if snap.SpoolDir != "" {
			fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Spools kept in:", snap.SpoolDir)
		}
	}
}
