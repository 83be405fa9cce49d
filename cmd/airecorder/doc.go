// Package main hosts the airecorder CLI entrypoint and command graph.
//
// The Cobra-based command tree records in the foreground, drives a running
// airecorderd over its IPC socket, and inspects the session journal directly
// for listings, exports and cleanup. It centralizes configuration resolution
// and socket discovery so subcommands can focus on output.
//
// Keep this package lean: add functionality to the internal packages first,
// then surface it through dedicated commands or flags here.
package main
