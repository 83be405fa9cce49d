package daemon_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"airecorder/internal/config"
	"airecorder/internal/daemon"
	"airecorder/internal/hotkey"
	"airecorder/internal/logging"
	"airecorder/internal/session"
	"airecorder/internal/testsupport"
)

type chanBridge struct {
	events chan hotkey.Event
	once   sync.Once
}

func newChanBridge() *chanBridge { return &chanBridge{events: make(chan hotkey.Event, 4)} }

func (b *chanBridge) Events() <-chan hotkey.Event { return b.events }

func (b *chanBridge) Close() error {
	b.once.Do(func() { close(b.events) })
	return nil
}

type recordingRevealer struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingRevealer) Reveal(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingRevealer) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func newDaemon(t *testing.T, cfg *config.Config, opts ...daemon.Option) (*daemon.Daemon, *session.Coordinator) {
	t.Helper()
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	coord := session.NewCoordinator(cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder(), logger,
		session.WithJournal(store))
	d, err := daemon.New(cfg, store, coord, logger, opts...)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, coord
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.Session.State != session.StateIdle {
		t.Fatalf("expected idle session, got %s", status.Session.State)
	}
	if status.LockPath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockPath)
	}
	if len(status.Dependencies) == 0 || status.Dependencies[0].Name != "FFmpeg" {
		t.Fatalf("expected ffmpeg dependency status, got %#v", status.Dependencies)
	}
	if status.NextRetention.IsZero() {
		t.Fatal("expected retention to be scheduled")
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestLockExcludesSecondRecorder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := daemon.AcquireLock(cfg.LockPath()); !errors.Is(err, daemon.ErrLocked) {
		t.Fatalf("expected ErrLocked while daemon runs, got %v", err)
	}

	d.Stop()
	lock, err := daemon.AcquireLock(cfg.LockPath())
	if err != nil {
		t.Fatalf("AcquireLock after stop: %v", err)
	}
	_ = lock.Unlock()
}

func TestHotkeyTogglesAndRevealsSavedRecording(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSources(config.SourceMicrophone))
	cfg.Daemon.RevealOnSave = true
	bridge := newChanBridge()
	revealer := &recordingRevealer{}
	d, coord := newDaemon(t, cfg, daemon.WithBridge(bridge), daemon.WithRevealer(revealer))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bridge.events <- hotkey.Event{Type: hotkey.Toggle, At: time.Now(), Origin: "test"}
	waitFor(t, "recording", func() bool { return coord.Snapshot().State == session.StateRecording })

	waitFor(t, "spooled audio", func() bool {
		snap := coord.Snapshot()
		return len(snap.Tracks) == 1 && snap.Tracks[0].Chunks >= 3
	})
	bridge.events <- hotkey.Event{Type: hotkey.Toggle, At: time.Now(), Origin: "test"}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := coord.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if snap.State != session.StateSaved {
		t.Fatalf("expected saved, got %s (%s)", snap.State, snap.Message)
	}
	waitFor(t, "reveal", func() bool { return len(revealer.Paths()) == 1 })
	if got := revealer.Paths()[0]; got != snap.OutputPath {
		t.Fatalf("revealed %q, want %q", got, snap.OutputPath)
	}
}

func TestConfigReloadAppliesToDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.WatchConfig = true
	base := testsupport.BaseDir(cfg)
	path := filepath.Join(base, "airecorder.toml")
	writeConfig := func(sources string) {
		t.Helper()
		body := fmt.Sprintf(`[paths]
output_dir = %q
spool_dir = %q
state_dir = %q
log_dir = %q

[recording]
sources = [%s]
`, cfg.Paths.OutputDir, cfg.Paths.SpoolDir, cfg.Paths.StateDir, cfg.Paths.LogDir, sources)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	writeConfig(`"microphone", "system_audio"`)

	d, _ := newDaemon(t, cfg, daemon.WithConfigPath(path))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	writeConfig(`"microphone"`)
	waitFor(t, "reload", func() bool {
		return len(d.Config().Recording.Sources) == 1
	})

	// An invalid file keeps the last good configuration.
	if err := os.WriteFile(path, []byte("[recording]\nsources = []\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if got := d.Config().Recording.Sources; len(got) != 1 || got[0] != config.SourceMicrophone {
		t.Fatalf("invalid config replaced the good one: %v", got)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil); err == nil {
		t.Fatal("expected error without dependencies")
	}
}
