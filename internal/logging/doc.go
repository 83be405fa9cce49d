// Package logging assembles structured slog loggers and formatting helpers used
// across AIrecorder.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so capture and merge code can
// tag log lines with session IDs and source kinds. TeeLogger plus
// NewSessionFileHandler give each recording session its own log file next to
// its spools. NewNop serves tests and wiring code that cannot fail.
package logging
