// Package store persists the session journal in SQLite.
//
// Each recording session has one row recording its lifecycle state, output
// path, failure cause, and warnings, plus a row per capture track with the
// spooler counters. The daemon writes a row on every state transition, so
// after a crash the sessions left in an active state can be marked
// interrupted and their spools offered for retry.
package store
