// Package hotkey turns user gestures into recorder toggle events.
//
// A Bridge delivers Events on a channel. The keyboard subpackage registers a
// global key combination (Ctrl+Shift+R by default); the Signal bridge maps
// SIGUSR1 to a toggle for headless hosts and scripts. Merge fans several
// bridges into one stream for the daemon.
package hotkey
