// Package config loads, normalizes, and validates AIrecorder configuration.
//
// It supplies the TOML schema and defaults, expands user paths, applies the
// AIRECORDER_* environment overrides, and exposes derived values (lock,
// socket, and database paths, timeouts) that other packages read instead of
// recomputing. CreateSample writes the annotated sample used by
// `airecorder config init`.
package config
