package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/logging"
	"airecorder/internal/spool"
)

func newSessionID() string {
	return uuid.NewString()
}

// activeSession is the coordinator-owned state of one session. Fields read by
// Snapshot are written only on the loop goroutine while holding
// Coordinator.mu.
type activeSession struct {
	id         string
	state      State
	cfg        *config.Config
	startedAt  time.Time
	stoppedAt  time.Time
	finishedAt time.Time
	sources    []capture.Kind
	outputDir  string
	spoolDir   string
	tracks     []*track

	outputPath  string
	outputBytes int64
	warnings    []string
	cause       string
	message     string

	// pendingErr fails the session once capture has been torn down.
	pendingErr error

	captureCancel context.CancelFunc
	captureWG     sync.WaitGroup
	mergeCancel   context.CancelFunc
	mergeDone     chan struct{}
	done          chan struct{}

	logger    *slog.Logger
	logCloser io.Closer
}

type track struct {
	kind    capture.Kind
	cfg     capture.Config
	source  capture.Source
	spooler *spool.Spooler
	format  capture.Format
	file    string
	lost    bool
	err     error
	cancel  context.CancelFunc
	// static holds counters of a track restored from a manifest.
	static spool.Stats
}

func (t *track) stats() spool.Stats {
	if t.spooler != nil {
		return t.spooler.Stats()
	}
	return t.static
}

func (t *track) errText() string {
	if t.err == nil {
		return ""
	}
	return t.err.Error()
}

func (c *Coordinator) newSession(cfg *config.Config, id string, startedAt time.Time) *activeSession {
	sess := &activeSession{
		id:        id,
		state:     StateIdle,
		cfg:       cfg,
		startedAt: startedAt,
		outputDir: cfg.Paths.OutputDir,
		spoolDir:  spool.SessionDir(cfg.Paths.SpoolDir, id),
		done:      make(chan struct{}),
	}
	sess.logger = c.logger.With(logging.String(logging.FieldSessionID, id))

	if cfg.Paths.LogDir == "" {
		return sess
	}
	handler, closer, err := logging.NewSessionFileHandler(filepath.Join(cfg.Paths.LogDir, "sessions", id+".log"))
	if err != nil {
		logging.WarnWithContext(sess.logger, "session log unavailable", "session_log_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check log_dir permissions"),
			logging.String(logging.FieldImpact, "session diagnostics only go to the main log"),
		)
		return sess
	}
	sess.logger = logging.NewComponentLogger(logging.TeeLogger(c.base, handler), "session").
		With(logging.String(logging.FieldSessionID, id))
	sess.logCloser = closer
	return sess
}

func (s *activeSession) closeLog() {
	if s.logCloser == nil {
		return
	}
	_ = s.logCloser.Close()
	s.logCloser = nil
}

func (s *activeSession) track(kind capture.Kind) *track {
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

func (s *activeSession) liveTracks() int {
	n := 0
	for _, t := range s.tracks {
		if t.spooler != nil && !t.lost {
			n++
		}
	}
	return n
}

// warnLocked appends a distinct warning. Callers hold Coordinator.mu.
func (s *activeSession) warnLocked(msg string) {
	for _, w := range s.warnings {
		if w == msg {
			return
		}
	}
	s.warnings = append(s.warnings, msg)
}

func (c *Coordinator) warn(sess *activeSession, format string, args ...any) {
	c.mu.Lock()
	sess.warnLocked(fmt.Sprintf(format, args...))
	c.mu.Unlock()
}

func (c *Coordinator) snapshotOf(sess *activeSession) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		ID:          sess.id,
		State:       sess.state,
		StartedAt:   sess.startedAt,
		StoppedAt:   sess.stoppedAt,
		FinishedAt:  sess.finishedAt,
		Sources:     append([]capture.Kind(nil), sess.sources...),
		OutputDir:   sess.outputDir,
		SpoolDir:    sess.spoolDir,
		OutputPath:  sess.outputPath,
		OutputBytes: sess.outputBytes,
		Warnings:    append([]string(nil), sess.warnings...),
		Cause:       sess.cause,
		Message:     sess.message,
	}
	for _, t := range sess.tracks {
		st := t.stats()
		ts := TrackSnapshot{
			Source:  t.kind,
			Format:  t.format,
			Chunks:  st.Written,
			Dropped: st.Dropped,
			Bytes:   st.Bytes,
			Lost:    t.lost,
			Error:   t.errText(),
		}
		if t.file != "" {
			ts.Path = filepath.Join(sess.spoolDir, t.file)
		}
		snap.Tracks = append(snap.Tracks, ts)
	}
	return snap
}

func (c *Coordinator) manifestOf(sess *activeSession) spool.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := spool.Manifest{
		SessionID: sess.id,
		StartedAt: sess.startedAt,
		StoppedAt: sess.stoppedAt,
		OutputDir: sess.outputDir,
	}
	for _, t := range sess.tracks {
		st := t.stats()
		m.Tracks = append(m.Tracks, spool.ManifestTrack{
			Source:       t.kind,
			File:         t.file,
			Format:       t.format,
			FirstChunkAt: st.FirstChunkAt,
			Chunks:       st.Written,
			Dropped:      st.Dropped,
			Bytes:        st.Bytes,
			Lost:         t.lost,
			Error:        t.errText(),
		})
	}
	return m
}

// waitTimeout waits for wg up to d and reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
