package hotkey

import (
	"errors"
	"sync"
	"time"
)

// EventType names what the user asked for.
type EventType string

// Toggle starts a recording when idle and stops it when recording.
const Toggle EventType = "toggle"

// Event is one user gesture.
type Event struct {
	Type   EventType
	At     time.Time
	Origin string
}

// Bridge delivers events until closed. Events is closed after Close returns.
type Bridge interface {
	Events() <-chan Event
	Close() error
}

type multi struct {
	bridges []Bridge
	events  chan Event
	wg      sync.WaitGroup
	once    sync.Once
	err     error
}

// Merge fans the events of several bridges into one. Closing the merged
// bridge closes every member.
func Merge(bridges ...Bridge) Bridge {
	m := &multi{bridges: bridges, events: make(chan Event, 8)}
	for _, b := range bridges {
		m.wg.Add(1)
		go func(b Bridge) {
			defer m.wg.Done()
			for ev := range b.Events() {
				m.events <- ev
			}
		}(b)
	}
	go func() {
		m.wg.Wait()
		close(m.events)
	}()
	return m
}

func (m *multi) Events() <-chan Event { return m.events }

func (m *multi) Close() error {
	m.once.Do(func() {
		var errs []error
		for _, b := range m.bridges {
			if err := b.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		// Members stop sending once closed; drain so forwarders can exit.
		go func() {
			for range m.events {
			}
		}()
		m.wg.Wait()
		m.err = errors.Join(errs...)
	})
	return m.err
}

// debouncer suppresses gestures that repeat within window, such as key
// auto-repeat.
type debouncer struct {
	window time.Duration
	last   time.Time
}

func (d *debouncer) allow(at time.Time) bool {
	if !d.last.IsZero() && at.Sub(d.last) < d.window {
		return false
	}
	d.last = at
	return true
}
