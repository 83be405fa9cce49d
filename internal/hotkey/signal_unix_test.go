//go:build unix

package hotkey

import (
	"syscall"
	"testing"
	"time"

	"airecorder/internal/logging"
)

func TestSignalBridgeTogglesOnSIGUSR1(t *testing.T) {
	s := NewSignal(logging.NewNop())
	defer s.Close()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case ev := <-s.Events():
		if ev.Type != Toggle || ev.Origin != "signal" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no toggle event after SIGUSR1")
	}
}

func TestSignalBridgeCloseIsIdempotent(t *testing.T) {
	s := NewSignal(logging.NewNop(), syscall.SIGUSR2)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("events channel should be closed")
	}
}
