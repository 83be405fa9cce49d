//go:build linux

package daemon

import (
	"context"

	"github.com/pilebones/go-udev/netlink"

	"airecorder/internal/logging"
)

// Start subscribes to kernel uevents for removed sound cards. When the
// netlink socket cannot be opened the monitor stays inactive and capture reads
// remain the only way a lost device is noticed.
func (m *deviceMonitor) Start(ctx context.Context) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "udev monitor unavailable", "udev_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the daemon needs permission to open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "an unplugged microphone is only detected when its reads fail"),
		)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.closer = conn.Close
	go m.watch(runCtx, conn, m.done)

	m.logger.Info("watching for removed sound devices",
		logging.String(logging.FieldEventType, "device_monitor_started"),
	)
}

func (m *deviceMonitor) watch(ctx context.Context, conn *netlink.UEventConn, done chan<- struct{}) {
	defer close(done)
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	stop := conn.Monitor(events, errs, soundRemovals())
	defer close(stop)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.handle(ev.Env)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "udev event read failed", "udev_read_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a device removal may go unnoticed"),
			)
		}
	}
}

// soundRemovals matches ACTION=remove in the sound subsystem.
func soundRemovals() netlink.Matcher {
	remove := string(netlink.REMOVE)
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &remove,
		Env:    map[string]string{"SUBSYSTEM": "sound"},
	})
	return rules
}
