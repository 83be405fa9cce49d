package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"airecorder/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrMergeFailed, "merge", "invoke", "ffmpeg exited 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMergeFailed) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"merge", "invoke", "ffmpeg exited 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapNilMarkerDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestCauseMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"merge failed", services.Wrap(services.ErrMergeFailed, "merge", "", "", nil), services.CauseMergeFailed},
		{"merge timeout", services.Wrap(services.ErrMergeTimedOut, "merge", "", "", nil), services.CauseMergeTimedOut},
		{"disk full wins", fmt.Errorf("%w: %w", services.ErrMergeFailed, services.ErrDiskFull), services.CauseDiskFull},
		{"already active", services.ErrSessionAlreadyActive, services.CauseSessionAlreadyActive},
		{"plain", errors.New("mystery"), services.CauseUnknown},
	}
	for _, tt := range tests {
		if got := services.Cause(tt.err); got != tt.want {
			t.Fatalf("%s: Cause() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIsFatalOnlyForDiskFull(t *testing.T) {
	if !services.IsFatal(services.Wrap(services.ErrDiskFull, "spool", "write", "", nil)) {
		t.Fatal("expected disk full to be fatal")
	}
	if services.IsFatal(services.ErrDeviceDisconnected) {
		t.Fatal("device disconnect must not be fatal")
	}
}
