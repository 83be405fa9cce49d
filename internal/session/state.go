package session

import (
	"time"

	"airecorder/internal/capture"
)

// State is a session lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateMerging   State = "merging"
	StateSaved     State = "saved"
	StateFailed    State = "failed"
)

// IsActive reports whether a session in this state blocks a new start.
func (s State) IsActive() bool {
	return s == StateRecording || s == StateStopping || s == StateMerging
}

// IsTerminal reports whether the session has finished.
func (s State) IsTerminal() bool {
	return s == StateSaved || s == StateFailed
}

func (s State) String() string { return string(s) }

// TrackSnapshot describes one capture source of a session.
type TrackSnapshot struct {
	Source  capture.Kind   `json:"source"`
	Path    string         `json:"path,omitempty"`
	Format  capture.Format `json:"format"`
	Chunks  uint64         `json:"chunks"`
	Dropped uint64         `json:"dropped"`
	Bytes   int64          `json:"bytes"`
	Lost    bool           `json:"lost,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the coordinator's session.
type Snapshot struct {
	ID          string          `json:"id,omitempty"`
	State       State           `json:"state"`
	StartedAt   time.Time       `json:"started_at,omitzero"`
	StoppedAt   time.Time       `json:"stopped_at,omitzero"`
	FinishedAt  time.Time       `json:"finished_at,omitzero"`
	Sources     []capture.Kind  `json:"sources,omitempty"`
	OutputDir   string          `json:"output_dir,omitempty"`
	SpoolDir    string          `json:"spool_dir,omitempty"`
	OutputPath  string          `json:"output_path,omitempty"`
	OutputBytes int64           `json:"output_bytes,omitempty"`
	Tracks      []TrackSnapshot `json:"tracks,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	Cause       string          `json:"cause,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Elapsed is the recording duration so far, or the final one once stopped.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.StoppedAt.IsZero() {
		return s.StoppedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// Dropped sums dropped chunks over all tracks.
func (s Snapshot) Dropped() uint64 {
	var total uint64
	for _, t := range s.Tracks {
		total += t.Dropped
	}
	return total
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Sources = append([]capture.Kind(nil), s.Sources...)
	out.Tracks = append([]TrackSnapshot(nil), s.Tracks...)
	out.Warnings = append([]string(nil), s.Warnings...)
	return out
}
