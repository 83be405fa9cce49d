package hotkey

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"airecorder/internal/logging"
)

// Signal is a Bridge that turns process signals into toggles.
type Signal struct {
	sigs   chan os.Signal
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// NewSignal listens for sigs, or for the platform toggle signal (SIGUSR1 on
// Unix) when none are given. On platforms without one the bridge never fires.
func NewSignal(logger *slog.Logger, sigs ...os.Signal) *Signal {
	if len(sigs) == 0 {
		sigs = toggleSignals()
	}
	s := &Signal{
		sigs:   make(chan os.Signal, 1),
		events: make(chan Event, 1),
		done:   make(chan struct{}),
		logger: logging.NewComponentLogger(logger, "hotkey"),
	}
	if len(sigs) > 0 {
		signal.Notify(s.sigs, sigs...)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Signal) run() {
	defer s.wg.Done()
	d := debouncer{window: 250 * time.Millisecond}
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.sigs:
			now := time.Now()
			if !d.allow(now) {
				continue
			}
			s.logger.Debug("toggle signal received", logging.String("signal", sig.String()))
			select {
			case s.events <- Event{Type: Toggle, At: now, Origin: "signal"}:
			default:
				s.logger.Debug("toggle signal dropped; previous toggle still pending")
			}
		}
	}
}

// Events implements Bridge.
func (s *Signal) Events() <-chan Event { return s.events }

// Close stops listening.
func (s *Signal) Close() error {
	s.once.Do(func() {
		signal.Stop(s.sigs)
		close(s.done)
		s.wg.Wait()
		close(s.events)
	})
	return nil
}
