package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/logging"
	"airecorder/internal/merge"
	"airecorder/internal/services"
	"airecorder/internal/session"
	"airecorder/internal/spool"
	"airecorder/internal/store"
	"airecorder/internal/testsupport"
)

func newCoordinator(t *testing.T, cfg *config.Config, opener capture.Opener, enc merge.Encoder, opts ...session.Option) *session.Coordinator {
	t.Helper()
	c := session.NewCoordinator(cfg, opener, enc, logging.NewNop(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForChunks(t *testing.T, c *session.Coordinator) {
	t.Helper()
	waitFor(t, "chunks on every live track", func() bool {
		snap := c.Snapshot()
		live := 0
		for _, tr := range snap.Tracks {
			if tr.Lost {
				continue
			}
			if tr.Chunks < 3 {
				return false
			}
			live++
		}
		return live > 0
	})
}

func waitTerminal(t *testing.T, c *session.Coordinator) session.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	snap, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v (state %s)", err, snap.State)
	}
	if !snap.State.IsTerminal() {
		t.Fatalf("expected terminal state, got %s", snap.State)
	}
	return snap
}

func record(t *testing.T, c *session.Coordinator) session.Snapshot {
	t.Helper()
	ctx := context.Background()
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	return waitTerminal(t, c)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func TestStopSavesOutputAndRemovesSpools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	enc := testsupport.NewFakeEncoder()
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), enc)

	snap := record(t, c)
	if snap.State != session.StateSaved {
		t.Fatalf("expected saved, got %s (%s)", snap.State, snap.Message)
	}
	if filepath.Dir(snap.OutputPath) != cfg.Paths.OutputDir {
		t.Fatalf("output %q not in %q", snap.OutputPath, cfg.Paths.OutputDir)
	}
	if !strings.HasPrefix(filepath.Base(snap.OutputPath), "recording_") || filepath.Ext(snap.OutputPath) != ".mp3" {
		t.Fatalf("unexpected output name %q", snap.OutputPath)
	}
	var spooled int64
	for _, tr := range snap.Tracks {
		spooled += tr.Bytes
	}
	if got := fileSize(t, snap.OutputPath); got != spooled || got != snap.OutputBytes {
		t.Fatalf("output size %d, spooled %d, reported %d", got, spooled, snap.OutputBytes)
	}
	if _, err := os.Stat(snap.SpoolDir); !os.IsNotExist(err) {
		t.Fatalf("spool dir should be removed after save, stat err = %v", err)
	}
	if enc.Calls() != 1 || len(enc.Inputs()) != 2 {
		t.Fatalf("expected one merge of 2 inputs, got %d calls / %d inputs", enc.Calls(), len(enc.Inputs()))
	}
	entries, _ := os.ReadDir(cfg.Paths.OutputDir)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one output file, found %d", len(entries))
	}
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	ctx := context.Background()

	first, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	again, err := c.Start(ctx)
	if !errors.Is(err, services.ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if again.ID != first.ID || again.State != session.StateRecording {
		t.Fatalf("active session changed: %+v", again)
	}
	if snap := c.Snapshot(); snap.ID != first.ID || snap.State != session.StateRecording {
		t.Fatalf("unexpected snapshot after rejected start: %+v", snap)
	}
}

func TestStartWhileMergingIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	enc := testsupport.NewBlockingEncoder()
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), enc)
	ctx := context.Background()

	first, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitFor(t, "merging", func() bool { return c.Snapshot().State == session.StateMerging })

	if _, err := c.Start(ctx); !errors.Is(err, services.ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	if action, err := c.Toggle(ctx); err != nil || action != session.ToggleIgnored {
		t.Fatalf("toggle while merging = %s, %v", action, err)
	}
	if _, err := c.Retry(ctx, first.ID); !errors.Is(err, services.ErrSessionAlreadyActive) {
		t.Fatalf("expected retry to be rejected, got %v", err)
	}

	enc.Release()
	snap := waitTerminal(t, c)
	if snap.ID != first.ID || snap.State != session.StateSaved {
		t.Fatalf("unexpected final snapshot %+v", snap)
	}
}

func TestFailingEncoderKeepsSpools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFailingEncoder(1))

	snap := record(t, c)
	if snap.State != session.StateFailed || snap.Cause != services.CauseMergeFailed {
		t.Fatalf("expected failed/merge_failed, got %s/%s", snap.State, snap.Cause)
	}
	if snap.OutputPath != "" {
		t.Fatalf("failed session must not report an output: %q", snap.OutputPath)
	}
	for _, tr := range snap.Tracks {
		if fileSize(t, tr.Path) != tr.Bytes || tr.Bytes == 0 {
			t.Fatalf("spool %s not preserved intact", tr.Path)
		}
	}
	m, err := spool.ReadManifest(snap.SpoolDir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.SessionID != snap.ID || len(m.Tracks) != 2 || m.StoppedAt.IsZero() {
		t.Fatalf("unexpected manifest %+v", m)
	}
	entries, _ := os.ReadDir(cfg.Paths.OutputDir)
	if len(entries) != 0 {
		t.Fatalf("output dir should be empty, found %d entries", len(entries))
	}
}

func TestPartialPolicySavesSurvivor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opener := testsupport.NewFakeOpener()
	enc := testsupport.NewFakeEncoder()
	c := newCoordinator(t, cfg, opener, enc)
	ctx := context.Background()

	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	opener.Source(capture.SystemAudio).Disconnect()
	waitFor(t, "system audio lost", func() bool {
		for _, tr := range c.Snapshot().Tracks {
			if tr.Source == capture.SystemAudio && tr.Lost {
				return true
			}
		}
		return false
	})
	if state := c.Snapshot().State; state != session.StateRecording {
		t.Fatalf("partial policy should keep recording, state %s", state)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := waitTerminal(t, c)
	if snap.State != session.StateSaved {
		t.Fatalf("expected saved, got %s (%s)", snap.State, snap.Message)
	}
	inputs := enc.Inputs()
	if len(inputs) != 1 || inputs[0].Source != capture.Microphone {
		t.Fatalf("expected only the microphone merged, got %+v", inputs)
	}
	var mic session.TrackSnapshot
	for _, tr := range snap.Tracks {
		if tr.Source == capture.Microphone {
			mic = tr
		}
	}
	if fileSize(t, snap.OutputPath) != mic.Bytes {
		t.Fatalf("output should hold only the microphone's %d bytes", mic.Bytes)
	}
	if !hasWarning(snap, "system_audio lost: device_disconnected") {
		t.Fatalf("missing lost-source warning: %v", snap.Warnings)
	}
}

func TestAllOrNothingFailsOnDisconnect(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPolicy(config.PolicyAllOrNothing))
	opener := testsupport.NewFakeOpener()
	enc := testsupport.NewFakeEncoder()
	c := newCoordinator(t, cfg, opener, enc)

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	opener.Source(capture.Microphone).Disconnect()

	snap := waitTerminal(t, c)
	if snap.State != session.StateFailed || snap.Cause != services.CauseDeviceDisconnected {
		t.Fatalf("expected failed/device_disconnected, got %s/%s", snap.State, snap.Cause)
	}
	if enc.Calls() != 0 {
		t.Fatal("encoder must not run for a failed session")
	}
	if _, err := os.Stat(snap.SpoolDir); err != nil {
		t.Fatalf("spools should be preserved: %v", err)
	}
}

func TestEssentialSourceUnavailableFailsStart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPolicy(config.PolicyPartial, config.SourceSystemAudio))
	opener := testsupport.NewFakeOpener()
	opener.Fail[capture.SystemAudio] = errors.New("no loopback device")
	c := newCoordinator(t, cfg, opener, testsupport.NewFakeEncoder())

	snap, err := c.Start(context.Background())
	if !errors.Is(err, services.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if snap.State != session.StateFailed || snap.Cause != services.CauseDeviceUnavailable {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if mic := opener.Source(capture.Microphone); mic == nil || !mic.Closed() {
		t.Fatal("opened microphone should be closed after the failed start")
	}
}

func TestNonEssentialSourceUnavailableWarns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opener := testsupport.NewFakeOpener()
	opener.Fail[capture.SystemAudio] = services.Wrap(services.ErrDeviceUnavailable, "fake", "open", "no loopback", nil)
	c := newCoordinator(t, cfg, opener, testsupport.NewFakeEncoder())

	snap, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !hasWarning(snap, "system_audio unavailable: device_unavailable") {
		t.Fatalf("missing warning: %v", snap.Warnings)
	}
	waitForChunks(t, c)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if final := waitTerminal(t, c); final.State != session.StateSaved {
		t.Fatalf("expected saved, got %s", final.State)
	}
}

func TestNoOpenedSourcesFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opener := testsupport.NewFakeOpener()
	opener.Fail[capture.Microphone] = errors.New("busy")
	opener.Fail[capture.SystemAudio] = errors.New("missing")
	c := newCoordinator(t, cfg, opener, testsupport.NewFakeEncoder())

	snap, err := c.Start(context.Background())
	if !errors.Is(err, services.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if snap.State != session.StateFailed {
		t.Fatalf("expected failed, got %s", snap.State)
	}
	// A failed session does not block the next start.
	delete(opener.Fail, capture.Microphone)
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
}

func TestToggleStartsAndStops(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	ctx := context.Background()

	if action, err := c.Toggle(ctx); err != nil || action != session.ToggleStarted {
		t.Fatalf("first toggle = %s, %v", action, err)
	}
	waitForChunks(t, c)
	if action, err := c.Toggle(ctx); err != nil || action != session.ToggleStopped {
		t.Fatalf("second toggle = %s, %v", action, err)
	}
	if snap := waitTerminal(t, c); snap.State != session.StateSaved {
		t.Fatalf("expected saved, got %s", snap.State)
	}
	if action, err := c.Toggle(ctx); err != nil || action != session.ToggleStarted {
		t.Fatalf("toggle after save = %s, %v", action, err)
	}
}

func TestStopWithoutSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	if err := c.Stop(context.Background()); !errors.Is(err, session.ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	snap, err := c.Wait(context.Background())
	if err != nil || snap.State != session.StateIdle {
		t.Fatalf("Wait on idle = %+v, %v", snap, err)
	}
}

func TestAcknowledgeReturnsToIdle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	record(t, c)
	if err := c.Acknowledge(context.Background()); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if snap := c.Snapshot(); snap.State != session.StateIdle || snap.ID != "" {
		t.Fatalf("expected idle, got %+v", snap)
	}
}

func TestTransientReadIsRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSources(config.SourceMicrophone))
	opener := testsupport.NewFakeOpener()
	c := newCoordinator(t, cfg, opener, testsupport.NewFakeEncoder())
	ctx := context.Background()

	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	src := opener.Source(capture.Microphone)
	before := src.Chunks()
	src.Stall()
	waitFor(t, "reads after stall", func() bool { return src.Chunks() > before+3 })
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := waitTerminal(t, c)
	if snap.State != session.StateSaved || len(snap.Warnings) != 0 {
		t.Fatalf("expected clean save, got %s %v", snap.State, snap.Warnings)
	}
}

func TestDeviceRemovedDisconnectsMatchingTrack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Recording.LoopbackDevice = "USB Audio CODEC"
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	c.DeviceRemoved(map[string]string{"ID_MODEL": "Some_Other_Device"})
	c.DeviceRemoved(map[string]string{"ID_MODEL": "USB_Audio_CODEC"})
	waitFor(t, "system audio lost", func() bool {
		for _, tr := range c.Snapshot().Tracks {
			if tr.Source == capture.SystemAudio {
				return tr.Lost
			}
		}
		return false
	})
	for _, tr := range c.Snapshot().Tracks {
		if tr.Source == capture.Microphone && tr.Lost {
			t.Fatal("microphone must keep recording")
		}
	}
}

func TestShutdownInterruptsRecording(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenStore(t, cfg)
	c := session.NewCoordinator(cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder(), logging.NewNop(),
		session.WithJournal(journal))

	started, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForChunks(t, c)
	c.Shutdown(context.Background())

	snap := c.Snapshot()
	if snap.State != session.StateFailed || snap.Cause != services.CauseInterrupted {
		t.Fatalf("expected failed/interrupted, got %s/%s", snap.State, snap.Cause)
	}
	rec, err := journal.Get(context.Background(), started.ID)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if rec.State != store.StateFailed || rec.Cause != services.CauseInterrupted {
		t.Fatalf("journal not updated: %+v", rec)
	}
	if _, err := spool.ReadManifest(snap.SpoolDir); err != nil {
		t.Fatalf("manifest should survive shutdown: %v", err)
	}
	if _, err := c.Start(context.Background()); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestJournalTracksSavedSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenStore(t, cfg)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder(), session.WithJournal(journal))

	snap := record(t, c)
	rec, err := journal.Get(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if rec.State != store.StateSaved || rec.OutputPath != snap.OutputPath || len(rec.Tracks) != 2 {
		t.Fatalf("unexpected journal record %+v", rec)
	}
}

func TestRetryMergesPreservedSpools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	failing := session.NewCoordinator(cfg, testsupport.NewFakeOpener(), testsupport.NewFailingEncoder(1), logging.NewNop())
	failed := record(t, failing)
	failing.Shutdown(context.Background())
	if failed.State != session.StateFailed {
		t.Fatalf("setup: expected failed session, got %s", failed.State)
	}

	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	snap, err := c.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if snap.ID != failed.ID {
		t.Fatalf("retry should keep the session id, got %s", snap.ID)
	}
	final := waitTerminal(t, c)
	if final.State != session.StateSaved {
		t.Fatalf("expected saved, got %s (%s)", final.State, final.Message)
	}
	if _, err := os.Stat(failed.SpoolDir); !os.IsNotExist(err) {
		t.Fatalf("spools should be removed after a successful retry")
	}
	if _, err := c.Retry(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), testsupport.NewFakeEncoder())
	updates, cancel := c.Subscribe()
	defer cancel()

	record(t, c)
	seen := map[session.State]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[session.StateSaved] {
		select {
		case snap := <-updates:
			seen[snap.State] = true
		case <-timeout:
			t.Fatalf("missing transitions, saw %v", seen)
		}
	}
	for _, st := range []session.State{session.StateRecording, session.StateStopping, session.StateMerging} {
		if !seen[st] {
			t.Fatalf("never saw %s, saw %v", st, seen)
		}
	}
}

func hasWarning(snap session.Snapshot, want string) bool {
	for _, w := range snap.Warnings {
		if w == want {
			return true
		}
	}
	return false
}

func trackFor(snap session.Snapshot, kind capture.Kind) (session.TrackSnapshot, bool) {
	for _, tr := range snap.Tracks {
		if tr.Source == kind {
			return tr, true
		}
	}
	return session.TrackSnapshot{}, false
}

func TestDrainTimeoutDropsStuckTrack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Spool.DrainTimeoutSeconds = 1
	enc := testsupport.NewFakeEncoder()
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), enc,
		session.WithSpoolCreate(testsupport.SpoolCreate(capture.SystemAudio, testsupport.HungDisk)))
	ctx := context.Background()

	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "microphone chunks", func() bool {
		mic, ok := trackFor(c.Snapshot(), capture.Microphone)
		return ok && mic.Chunks >= 3
	})
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := waitTerminal(t, c)
	if snap.State != session.StateSaved {
		t.Fatalf("expected saved, got %s (%s)", snap.State, snap.Message)
	}
	sys, _ := trackFor(snap, capture.SystemAudio)
	if !sys.Lost {
		t.Fatalf("system audio should be marked lost after the flush timeout: %+v", sys)
	}
	if !hasWarning(snap, "system_audio lost: spool flush timed out") {
		t.Fatalf("missing flush timeout warning: %v", snap.Warnings)
	}
	inputs := enc.Inputs()
	if len(inputs) != 1 || inputs[0].Source != capture.Microphone {
		t.Fatalf("expected only the microphone merged, got %+v", inputs)
	}
}

func TestDiskFullFailsSessionAndKeepsSpools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	enc := testsupport.NewFakeEncoder()
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), enc,
		session.WithSpoolCreate(testsupport.SpoolCreate(capture.Microphone, testsupport.FullDisk)))

	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := waitTerminal(t, c)
	if snap.State != session.StateFailed || snap.Cause != services.CauseDiskFull {
		t.Fatalf("expected failed/disk_full, got %s/%s (%s)", snap.State, snap.Cause, snap.Message)
	}
	if enc.Calls() != 0 {
		t.Fatal("encoder must not run after a disk full error")
	}
	if _, err := os.Stat(snap.SpoolDir); err != nil {
		t.Fatalf("spools should be preserved: %v", err)
	}
	m, err := spool.ReadManifest(snap.SpoolDir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.SessionID != snap.ID || len(m.Tracks) != 2 {
		t.Fatalf("unexpected manifest %+v", m)
	}
	entries, _ := os.ReadDir(cfg.Paths.OutputDir)
	if len(entries) != 0 {
		t.Fatalf("output dir should be empty, found %d entries", len(entries))
	}
}

func TestHungEncoderTimesOutAndKeepsSpools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Encoder.MergeTimeoutSeconds = 1
	enc := testsupport.NewBlockingEncoder()
	t.Cleanup(enc.Release)
	c := newCoordinator(t, cfg, testsupport.NewFakeOpener(), enc)

	snap := record(t, c)
	if snap.State != session.StateFailed || snap.Cause != services.CauseMergeTimedOut {
		t.Fatalf("expected failed/merge_timed_out, got %s/%s (%s)", snap.State, snap.Cause, snap.Message)
	}
	for _, tr := range snap.Tracks {
		if tr.Bytes == 0 || fileSize(t, tr.Path) != tr.Bytes {
			t.Fatalf("spool %s not preserved intact", tr.Path)
		}
	}
	if _, err := spool.ReadManifest(snap.SpoolDir); err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	entries, _ := os.ReadDir(cfg.Paths.OutputDir)
	if len(entries) != 0 {
		t.Fatalf("output dir should be empty, found %d entries", len(entries))
	}
}
