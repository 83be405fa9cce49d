// Package retention removes preserved spools of failed sessions once they are
// older than the configured retention window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"airecorder/internal/fileutil"
	"airecorder/internal/logging"
	"airecorder/internal/spool"
	"airecorder/internal/store"
)

// Records is the slice of the session journal the pruner needs.
type Records interface {
	FailedBefore(ctx context.Context, cutoff time.Time) ([]store.Record, error)
	Delete(ctx context.Context, id string) error
}

// Report summarizes one pruning pass.
type Report struct {
	Sessions   int
	FreedBytes int64
	Skipped    []string
}

// Pruner deletes failed sessions older than MaxAge together with their spools.
type Pruner struct {
	Records   Records
	SpoolRoot string
	MaxAge    time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

// NewPruner returns a pruner for sessions older than days.
func NewPruner(records Records, spoolRoot string, days int, logger *slog.Logger) *Pruner {
	return &Pruner{
		Records:   records,
		SpoolRoot: spoolRoot,
		MaxAge:    time.Duration(days) * 24 * time.Hour,
		Logger:    logging.NewComponentLogger(logger, "retention"),
		Now:       time.Now,
	}
}

// Prune runs one pass. A zero MaxAge disables pruning.
func (p *Pruner) Prune(ctx context.Context) (Report, error) {
	var report Report
	if p.MaxAge <= 0 {
		return report, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	cutoff := now().Add(-p.MaxAge)
	records, err := p.Records.FailedBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("list expired sessions: %w", err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if dir := rec.SpoolDir; dir != "" {
			if !p.owns(dir) {
				logging.WarnWithContext(logger, "spool dir outside spool root; keeping files", "retention_skip",
					logging.String(logging.FieldSessionID, rec.ID),
					logging.String("spool_dir", dir),
					logging.String(logging.FieldErrorHint, "remove the directory manually if it is no longer needed"),
					logging.String(logging.FieldImpact, "session stays in the journal"),
				)
				report.Skipped = append(report.Skipped, rec.ID)
				continue
			}
			size, _ := fileutil.DirSize(dir)
			if err := spool.Remove(dir); err != nil {
				return report, err
			}
			report.FreedBytes += size
		}
		if err := p.Records.Delete(ctx, rec.ID); err != nil {
			return report, fmt.Errorf("delete session %s: %w", rec.ID, err)
		}
		report.Sessions++
		logger.Debug("pruned failed session",
			logging.String(logging.FieldSessionID, rec.ID),
			logging.String("cause", rec.Cause),
		)
	}
	if report.Sessions > 0 {
		logger.Info("pruned failed sessions",
			logging.String(logging.FieldEventType, "retention_pruned"),
			logging.Int("sessions", report.Sessions),
			logging.Int64("freed_bytes", report.FreedBytes),
		)
	}
	return report, nil
}

func (p *Pruner) owns(dir string) bool {
	if strings.TrimSpace(p.SpoolRoot) == "" {
		return false
	}
	rel, err := filepath.Rel(p.SpoolRoot, dir)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	passes  sync.WaitGroup
}

// NewScheduler prepares a scheduler; schedule uses standard cron syntax or
// descriptors such as @daily.
func NewScheduler(pruner *Pruner, schedule string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: strings.TrimSpace(schedule),
		cron:     cron.New(),
		logger:   logging.NewComponentLogger(logger, "retention"),
	}
}

// Start registers the pruning job and runs one pass immediately. It is a
// no-op when pruning is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.pruner == nil || s.pruner.MaxAge <= 0 {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.passes.Add(1)
		defer s.passes.Done()
		s.run(ctx)
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		logging.String(logging.FieldEventType, "retention_started"),
		logging.String("schedule", s.schedule),
		logging.Duration("max_age", s.pruner.MaxAge),
	)
	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.pruner.Prune(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(s.logger, "retention pass failed", "retention_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check spool directory permissions"),
			logging.String(logging.FieldImpact, "old failed sessions keep their spools until the next pass"),
		)
	}
}

// NextRun reports when the job fires next; zero when not running.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts the scheduler and waits for a running pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.passes.Wait()
	s.running = false
}
