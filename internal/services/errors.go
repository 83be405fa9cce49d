package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeviceUnavailable    = errors.New("device unavailable")
	ErrDeviceDisconnected   = errors.New("device disconnected")
	ErrChunksDropped        = errors.New("chunks dropped")
	ErrDrainTimeout         = errors.New("drain timeout")
	ErrMergeFailed          = errors.New("merge failed")
	ErrMergeTimedOut        = errors.New("merge timed out")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrDiskFull             = errors.New("disk full")
	ErrInterrupted          = errors.New("interrupted")
	ErrConfiguration        = errors.New("configuration error")
	ErrNotFound             = errors.New("not found")
	ErrTransient            = errors.New("transient failure")
)

// Cause names used in persisted session records and user-facing output.
const (
	CauseDeviceUnavailable    = "device_unavailable"
	CauseDeviceDisconnected   = "device_disconnected"
	CauseChunksDropped        = "chunks_dropped"
	CauseDrainTimeout         = "drain_timeout"
	CauseMergeFailed          = "merge_failed"
	CauseMergeTimedOut        = "merge_timed_out"
	CauseSessionAlreadyActive = "session_already_active"
	CauseDiskFull             = "disk_full"
	CauseInterrupted          = "interrupted"
	CauseConfiguration        = "configuration"
	CauseNotFound             = "not_found"
	CauseTransient            = "transient"
	CauseUnknown              = "unknown"
)

var causes = []struct {
	marker error
	name   string
}{
	{ErrDiskFull, CauseDiskFull},
	{ErrInterrupted, CauseInterrupted},
	{ErrMergeTimedOut, CauseMergeTimedOut},
	{ErrMergeFailed, CauseMergeFailed},
	{ErrDrainTimeout, CauseDrainTimeout},
	{ErrDeviceUnavailable, CauseDeviceUnavailable},
	{ErrDeviceDisconnected, CauseDeviceDisconnected},
	{ErrChunksDropped, CauseChunksDropped},
	{ErrSessionAlreadyActive, CauseSessionAlreadyActive},
	{ErrConfiguration, CauseConfiguration},
	{ErrNotFound, CauseNotFound},
	{ErrTransient, CauseTransient},
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Cause maps an error to the stable cause name persisted with failed sessions.
// Markers are checked from most to least severe so a disk-full error wrapped
// inside a merge failure still reports disk_full.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range causes {
		if errors.Is(err, c.marker) {
			return c.name
		}
	}
	return CauseUnknown
}

// IsFatal reports whether err must abort the whole session immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDiskFull)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
