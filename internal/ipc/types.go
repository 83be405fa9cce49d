package ipc

import (
	"time"

	"airecorder/internal/deps"
	"airecorder/internal/session"
)

// Session is the wire form of a session snapshot.
type Session = session.Snapshot

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = deps.Status

// ToggleRequest starts or stops a recording.
type ToggleRequest struct{}

// ToggleResponse reports what the toggle did.
type ToggleResponse struct {
	Action  string  `json:"action"`
	Session Session `json:"session"`
}

// StartRequest begins a recording.
type StartRequest struct{}

// StartResponse carries the new session.
type StartResponse struct {
	Session Session `json:"session"`
}

// StopRequest ends the current recording. With Wait set the call returns
// once the session is saved or failed.
type StopRequest struct {
	Wait bool `json:"wait"`
}

// StopResponse carries the session after the stop.
type StopResponse struct {
	Session Session `json:"session"`
}

// WaitRequest blocks until the current session is terminal or the timeout
// elapses. Zero means no timeout.
type WaitRequest struct {
	TimeoutMillis int `json:"timeout_millis"`
}

// WaitResponse reports the session and whether it finished.
type WaitResponse struct {
	Session Session `json:"session"`
	Done    bool    `json:"done"`
}

// RetryRequest re-merges a preserved session.
type RetryRequest struct {
	SessionID string `json:"session_id"`
}

// RetryResponse carries the retried session.
type RetryResponse struct {
	Session Session `json:"session"`
}

// AcknowledgeRequest returns a finished session to idle.
type AcknowledgeRequest struct{}

// AcknowledgeResponse carries the idle snapshot.
type AcknowledgeResponse struct {
	Session Session `json:"session"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and session status information.
type StatusResponse struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	Session       Session            `json:"session"`
	LockPath      string             `json:"lock_path"`
	DatabasePath  string             `json:"database_path"`
	ConfigPath    string             `json:"config_path,omitempty"`
	Hotkey        string             `json:"hotkey,omitempty"`
	MetricsAddr   string             `json:"metrics_addr,omitempty"`
	NextRetention time.Time          `json:"next_retention,omitzero"`
	DeviceWatch   bool               `json:"device_watch"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}
