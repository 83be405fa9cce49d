// Package daemon coordinates the long-running airecorderd process and its
// system integration points.
//
// It wires configuration, the session journal and the session coordinator
// into a single lifecycle with flock-based locking so only one recorder
// owns the capture devices. Around the coordinator the daemon routes hotkey
// toggles, reveals saved recordings, reloads the configuration file when it
// changes, reports unplugged audio devices from udev, schedules retention
// and serves Prometheus metrics.
//
// Keep orchestration here: recording semantics live in the session package
// while the daemon focuses on startup, shutdown and routing.
package daemon
