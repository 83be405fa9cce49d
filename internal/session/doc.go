// Package session implements the recording session state machine.
//
// A Coordinator owns at most one session at a time. Every state change
// happens on a single event-loop goroutine; capture, drain, and merge run in
// helper goroutines that post their results back as events. Sessions move
// idle -> recording -> stopping -> merging -> saved|failed, and a terminal
// session stays visible until the next start or an Acknowledge.
//
// Spools of a saved session are removed; a failed session keeps its spool
// directory and manifest so the merge can be retried later.
package session
