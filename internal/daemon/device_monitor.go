package daemon

import (
	"context"
	"log/slog"
	"sync"

	"airecorder/internal/logging"
)

// deviceMonitor reports removed sound devices to onRemove with their udev
// properties. It is only active on Linux.
type deviceMonitor struct {
	onRemove func(props map[string]string)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc // nil while stopped
	done   chan struct{}
	closer func() error
}

func newDeviceMonitor(onRemove func(map[string]string), logger *slog.Logger) *deviceMonitor {
	return &deviceMonitor{
		onRemove: onRemove,
		logger:   logging.NewComponentLogger(logger, "device-monitor"),
	}
}

// Running reports whether the monitor is active.
func (m *deviceMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Stop shuts down the monitor; it is safe on nil and unstarted monitors.
func (m *deviceMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	cancel, done, closer := m.cancel, m.done, m.closer
	m.cancel, m.done, m.closer = nil, nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	if closer != nil {
		_ = closer()
	}
	m.logger.Info("device monitor stopped",
		logging.String(logging.FieldEventType, "device_monitor_stopped"),
	)
}

func (m *deviceMonitor) handle(props map[string]string) {
	m.logger.Info("sound device removed",
		logging.String(logging.FieldEventType, "device_removed"),
		logging.String("devpath", props["DEVPATH"]),
		logging.String("model", props["ID_MODEL"]),
	)
	if m.onRemove != nil {
		m.onRemove(props)
	}
}
