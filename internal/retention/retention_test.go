package retention_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"airecorder/internal/logging"
	"airecorder/internal/retention"
	"airecorder/internal/services"
	"airecorder/internal/store"
	"airecorder/internal/testsupport"
)

func saveFailed(t *testing.T, st *store.Store, id, spoolDir string, stopped time.Time) {
	t.Helper()
	rec := store.Record{
		ID:        id,
		State:     store.StateFailed,
		StartedAt: stopped.Add(-time.Minute),
		StoppedAt: stopped,
		SpoolDir:  spoolDir,
		Cause:     services.CauseMergeFailed,
	}
	if err := st.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save %s: %v", id, err)
	}
}

func TestPruneRemovesExpiredFailedSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldDir := filepath.Join(cfg.Paths.SpoolDir, "old")
	testsupport.WriteFile(t, filepath.Join(oldDir, "microphone.pcm"), make([]byte, 512))
	freshDir := filepath.Join(cfg.Paths.SpoolDir, "fresh")
	testsupport.WriteFile(t, filepath.Join(freshDir, "microphone.pcm"), make([]byte, 64))
	saveFailed(t, st, "old", oldDir, now.Add(-20*24*time.Hour))
	saveFailed(t, st, "fresh", freshDir, now.Add(-time.Hour))

	p := retention.NewPruner(st, cfg.Paths.SpoolDir, 14, logging.NewNop())
	p.Now = func() time.Time { return now }
	report, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if report.Sessions != 1 || report.FreedBytes != 512 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("expired spool dir should be gone, stat err = %v", err)
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatalf("fresh spool dir should remain: %v", err)
	}
	if _, err := st.Get(context.Background(), "old"); err == nil {
		t.Fatal("expired record should be deleted")
	}
	if _, err := st.Get(context.Background(), "fresh"); err != nil {
		t.Fatalf("fresh record should remain: %v", err)
	}
}

func TestPruneKeepsDirsOutsideSpoolRoot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	outside := filepath.Join(testsupport.BaseDir(cfg), "elsewhere")
	testsupport.WriteFile(t, filepath.Join(outside, "keep.pcm"), []byte("data"))
	saveFailed(t, st, "stray", outside, time.Now().Add(-60*24*time.Hour))

	p := retention.NewPruner(st, cfg.Paths.SpoolDir, 1, logging.NewNop())
	report, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if report.Sessions != 0 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("directory outside the spool root must be kept: %v", err)
	}
}

func TestPruneDisabled(t *testing.T) {
	p := retention.NewPruner(nil, "", 0, nil)
	report, err := p.Prune(context.Background())
	if err != nil || report.Sessions != 0 {
		t.Fatalf("disabled pruner = %+v, %v", report, err)
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	p := retention.NewPruner(nil, "", 7, logging.NewNop())
	s := retention.NewScheduler(p, "every tuesday", logging.NewNop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule error")
	}
}

func TestSchedulerRunsInitialPass(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	dir := filepath.Join(cfg.Paths.SpoolDir, "expired")
	testsupport.WriteFile(t, filepath.Join(dir, "microphone.pcm"), []byte("pcm"))
	saveFailed(t, st, "expired", dir, time.Now().Add(-30*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := retention.NewScheduler(retention.NewPruner(st, cfg.Paths.SpoolDir, 7, logging.NewNop()), "@daily", logging.NewNop())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	if s.NextRun().IsZero() {
		t.Fatal("expected a scheduled next run")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("initial pruning pass did not run")
}
