// Package logs reads the daemon and per-session log files for the CLI.
//
// Last returns the tail of a file together with the byte offset it ended
// at; Follow continues from such an offset and streams lines as the file
// grows, re-reading from the start when the file is truncated or replaced.
package logs
