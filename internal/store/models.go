package store

import "time"

// Journal state names. They mirror the session state machine.
const (
	StateRecording = "recording"
	StateStopping  = "stopping"
	StateMerging   = "merging"
	StateSaved     = "saved"
	StateFailed    = "failed"
)

var activeStates = []string{StateRecording, StateStopping, StateMerging}

// IsActive reports whether state belongs to a session still in flight.
func IsActive(state string) bool {
	for _, s := range activeStates {
		if s == state {
			return true
		}
	}
	return false
}

// Record is one session's journal entry.
type Record struct {
	ID           string
	State        string
	StartedAt    time.Time
	StoppedAt    time.Time
	UpdatedAt    time.Time
	Sources      []string
	SpoolDir     string
	OutputPath   string
	OutputBytes  int64
	Cause        string
	ErrorMessage string
	Warnings     []string
	Tracks       []Track
}

// Track holds the final counters of one capture source.
type Track struct {
	Source       string
	Chunks       uint64
	Dropped      uint64
	Bytes        int64
	Lost         bool
	ErrorMessage string
}

// Duration is the recorded wall time, or zero while recording.
func (r Record) Duration() time.Duration {
	if r.StoppedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.StoppedAt.Sub(r.StartedAt)
}

// ListOptions filters List.
type ListOptions struct {
	States []string
	Limit  int
}

// Summary counts sessions by state.
type Summary struct {
	Total   int
	Active  int
	Saved   int
	Failed  int
	Bytes   int64
	ByCause map[string]int
}
