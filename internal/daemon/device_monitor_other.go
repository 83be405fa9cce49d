//go:build !linux

package daemon

import (
	"context"

	"airecorder/internal/logging"
)

// Start is a no-op: udev is Linux only.
func (m *deviceMonitor) Start(context.Context) {
	if m == nil {
		return
	}
	m.logger.Debug("device monitor unsupported on this platform",
		logging.String(logging.FieldEventType, "device_monitor_unsupported"))
}
