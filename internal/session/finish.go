package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"airecorder/internal/logging"
	"airecorder/internal/merge"
	"airecorder/internal/services"
	"airecorder/internal/spool"
)

type (
	drainedEvent struct {
		sessionID string
		results   []error
	}
	mergedEvent struct {
		sessionID string
		result    merge.Result
		err       error
	}
)

// captureStopGrace bounds the wait for capture goroutines to observe a stop
// before their sources are closed underneath them.
const captureStopGrace = 2 * time.Second

func (c *Coordinator) current(id string) *activeSession {
	if c.cur == nil || c.cur.id != id {
		return nil
	}
	return c.cur
}

func (c *Coordinator) stop() error {
	sess := c.cur
	if sess == nil || !sess.state.IsActive() {
		return ErrNotRecording
	}
	if sess.state != StateRecording {
		return nil
	}
	c.beginStop(sess)
	return nil
}

// beginStop cancels capture and drains every spooler in the background.
func (c *Coordinator) beginStop(sess *activeSession) {
	c.mu.Lock()
	sess.stoppedAt = c.now()
	c.mu.Unlock()
	sess.captureCancel()
	c.setState(sess, StateStopping)
	go c.drainAll(sess, sess.cfg.DrainTimeout())
}

func (c *Coordinator) drainAll(sess *activeSession, timeout time.Duration) {
	if !waitTimeout(&sess.captureWG, captureStopGrace) {
		sess.logger.Debug("capture still running after stop; closing sources")
	}
	c.closeSources(sess)
	if !waitTimeout(&sess.captureWG, timeout) {
		logging.WarnWithContext(sess.logger, "capture did not exit after source close", "capture_stuck",
			logging.String(logging.FieldErrorHint, "the capture backend ignored cancellation"),
			logging.String(logging.FieldImpact, "late chunks are discarded"),
		)
	}

	results := make([]error, len(sess.tracks))
	var g errgroup.Group
	for i, t := range sess.tracks {
		if t.spooler == nil {
			continue
		}
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			err := t.spooler.Drain(ctx)
			if errors.Is(err, services.ErrDrainTimeout) {
				t.spooler.Abort()
			}
			results[i] = err
			return nil
		})
	}
	_ = g.Wait()
	c.post(drainedEvent{sessionID: sess.id, results: results})
}

func (c *Coordinator) closeSources(sess *activeSession) {
	for _, t := range sess.tracks {
		if t.source == nil {
			continue
		}
		if err := t.source.Close(); err != nil {
			sess.logger.Debug("close source failed",
				logging.String(logging.FieldSource, string(t.kind)),
				logging.Error(err),
			)
		}
	}
}

func (c *Coordinator) drained(e drainedEvent) {
	sess := c.current(e.sessionID)
	if sess == nil || sess.state != StateStopping {
		return
	}
	for i, err := range e.results {
		if err == nil {
			continue
		}
		t := sess.tracks[i]
		essential := sess.cfg.IsEssential(string(t.kind))
		switch {
		case services.IsFatal(err):
			if sess.pendingErr == nil {
				sess.pendingErr = err
			}
		case errors.Is(err, services.ErrDrainTimeout):
			// A truncated spool is not merged.
			c.mu.Lock()
			t.lost = true
			t.err = err
			c.mu.Unlock()
			c.observer.SourceLost(t.kind, services.Cause(err))
			if essential && sess.pendingErr == nil {
				sess.pendingErr = err
			}
			logging.WarnWithContext(sess.logger, "spool flush timed out", "drain_timeout",
				logging.String(logging.FieldSource, string(t.kind)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check spool disk throughput"),
				logging.String(logging.FieldImpact, "output will not contain "+string(t.kind)),
			)
			c.warn(sess, "%s lost: spool flush timed out", t.kind)
		default:
			c.mu.Lock()
			t.lost = true
			t.err = err
			c.mu.Unlock()
			c.warn(sess, "%s lost: %s", t.kind, services.Cause(err))
			if essential && sess.pendingErr == nil {
				sess.pendingErr = err
			}
		}
	}
	for _, t := range sess.tracks {
		if st := t.stats(); st.Dropped > 0 {
			c.warn(sess, "%s: %d chunks dropped", t.kind, st.Dropped)
		}
	}
	c.writeManifest(sess)

	if sess.pendingErr != nil {
		c.finish(sess, sess.pendingErr)
		return
	}
	inputs, err := merge.InputsFromManifest(sess.spoolDir, c.manifestOf(sess))
	if err != nil {
		c.finish(sess, c.nothingToMerge(sess, err))
		return
	}
	c.beginMerge(sess, inputs)
}

// nothingToMerge picks the failure for a session without usable spools.
func (c *Coordinator) nothingToMerge(sess *activeSession, err error) error {
	for _, t := range sess.tracks {
		if t.lost && t.err != nil {
			return t.err
		}
	}
	return services.Wrap(services.ErrMergeFailed, "session", "merge", "nothing was captured", err)
}

func (c *Coordinator) beginMerge(sess *activeSession, inputs []merge.Input) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.mergeCancel = cancel
	sess.mergeDone = make(chan struct{})
	c.setState(sess, StateMerging)

	job := merge.Job{
		SessionID: sess.id,
		StartedAt: sess.startedAt,
		Inputs:    inputs,
		OutputDir: sess.outputDir,
		WorkDir:   sess.spoolDir,
		Params:    merge.ParamsFromConfig(sess.cfg.Encoder),
	}
	pipeline := merge.Pipeline{
		Encoder: c.encoder,
		Timeout: sess.cfg.MergeTimeout(),
		Logger:  sess.logger,
	}
	done := sess.mergeDone
	go func() {
		defer close(done)
		res, err := pipeline.Merge(ctx, job)
		c.post(mergedEvent{sessionID: sess.id, result: res, err: err})
	}()
}

func (c *Coordinator) merged(e mergedEvent) {
	sess := c.current(e.sessionID)
	if sess == nil || sess.state != StateMerging {
		return
	}
	sess.mergeCancel()
	if e.err != nil {
		c.finish(sess, e.err)
		return
	}
	c.mu.Lock()
	sess.outputPath = e.result.OutputPath
	sess.outputBytes = e.result.Bytes
	c.mu.Unlock()
	if err := spool.Remove(sess.spoolDir); err != nil {
		logging.WarnWithContext(sess.logger, "spool cleanup failed", "spool_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+sess.spoolDir+" manually"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
	c.finish(sess, nil)
}

// finish moves sess to saved (err == nil) or failed.
func (c *Coordinator) finish(sess *activeSession, err error) {
	c.mu.Lock()
	sess.finishedAt = c.now()
	if sess.stoppedAt.IsZero() {
		sess.stoppedAt = sess.finishedAt
	}
	if err != nil {
		sess.cause = services.Cause(err)
		sess.message = err.Error()
	}
	c.mu.Unlock()

	next := StateSaved
	if err != nil {
		next = StateFailed
		logging.ErrorWithContext(sess.logger, "session failed", "session_failed",
			logging.String("cause", services.Cause(err)),
			logging.Error(err),
			logging.String("spool_dir", sess.spoolDir),
			logging.String(logging.FieldErrorHint, "spools are preserved; retry with airecorder retry "+sess.id),
		)
	} else {
		sess.logger.Info("session saved",
			logging.String(logging.FieldEventType, "session_saved"),
			logging.String("output", sess.outputPath),
			logging.Int64("bytes", sess.outputBytes),
		)
	}
	c.setState(sess, next)
	c.observer.SessionFinished(c.snapshotOf(sess))
	sess.closeLog()
	close(sess.done)
}

func (c *Coordinator) sourceLost(e sourceLostEvent) {
	sess := c.current(e.sessionID)
	if sess == nil || sess.state != StateRecording {
		return
	}
	if t := sess.track(e.kind); t != nil && !t.lost {
		c.markLost(sess, t, e.err)
	}
}

// markLost takes a source out of a recording session and applies the
// failure policy.
func (c *Coordinator) markLost(sess *activeSession, t *track, err error) {
	c.mu.Lock()
	t.lost = true
	t.err = err
	c.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	cause := services.Cause(err)
	c.observer.SourceLost(t.kind, cause)
	c.warn(sess, "%s lost: %s", t.kind, cause)
	logging.WarnWithContext(sess.logger, "source lost during recording", "source_lost",
		logging.String(logging.FieldSource, string(t.kind)),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the device connection"),
		logging.String(logging.FieldImpact, "output will not contain "+string(t.kind)),
	)

	switch {
	case sess.cfg.IsEssential(string(t.kind)):
		sess.pendingErr = err
		c.beginStop(sess)
	case sess.liveTracks() == 0:
		sess.pendingErr = err
		c.beginStop(sess)
	default:
		c.persist(sess)
		c.publish()
	}
}

func (c *Coordinator) addWarning(e warningEvent) {
	sess := c.current(e.sessionID)
	if sess == nil {
		return
	}
	c.warn(sess, "%s", e.message)
	c.publish()
}

func (c *Coordinator) fatal(e fatalEvent) {
	sess := c.current(e.sessionID)
	if sess == nil {
		return
	}
	switch sess.state {
	case StateRecording:
		sess.pendingErr = e.err
		c.beginStop(sess)
	case StateStopping:
		if sess.pendingErr == nil {
			sess.pendingErr = e.err
		}
	}
}

func (c *Coordinator) deviceRemoved(props map[string]string) {
	sess := c.cur
	if sess == nil || sess.state != StateRecording {
		return
	}
	for _, t := range sess.tracks {
		if sess.state != StateRecording {
			return
		}
		if t.lost || t.spooler == nil || !t.kind.IsAudio() {
			continue
		}
		if matchesDevice(t.cfg.Device, props) {
			c.markLost(sess, t, services.Wrap(services.ErrDeviceDisconnected, "session", "device removed", t.cfg.Device, nil))
		}
	}
}

func (c *Coordinator) retry(id string) (Snapshot, error) {
	if c.cur != nil && c.cur.state.IsActive() {
		return c.snapshotOf(c.cur), services.Wrap(services.ErrSessionAlreadyActive, "session", "retry",
			fmt.Sprintf("session %s is %s", c.cur.id, c.cur.state), nil)
	}
	cfg := c.config()
	dir := spool.SessionDir(cfg.Paths.SpoolDir, id)
	m, err := spool.ReadManifest(dir)
	if err != nil {
		return c.Snapshot(), err
	}
	inputs, err := merge.InputsFromManifest(dir, m)
	if err != nil {
		return c.Snapshot(), services.Wrap(services.ErrMergeFailed, "session", "retry", "no usable spools", err)
	}
	c.archive()

	sess := c.newSession(cfg, m.SessionID, m.StartedAt)
	sess.spoolDir = dir
	sess.stoppedAt = m.StoppedAt
	if m.OutputDir != "" {
		sess.outputDir = m.OutputDir
	}
	for _, mt := range m.Tracks {
		sess.sources = append(sess.sources, mt.Source)
		t := &track{kind: mt.Source, format: mt.Format, file: mt.File, lost: mt.Lost}
		if mt.Error != "" {
			t.err = errors.New(mt.Error)
		}
		t.static = spool.Stats{Written: mt.Chunks, Dropped: mt.Dropped, Bytes: mt.Bytes, FirstChunkAt: mt.FirstChunkAt}
		sess.tracks = append(sess.tracks, t)
	}
	sess.warnings = append(sess.warnings, "merge retried from preserved spools")
	c.mu.Lock()
	c.cur = sess
	c.mu.Unlock()
	sess.logger.Info("retrying merge",
		logging.String(logging.FieldEventType, "merge_retry"),
		logging.Int("inputs", len(inputs)),
	)
	c.beginMerge(sess, inputs)
	return c.snapshotOf(sess), nil
}

// shutdown interrupts an active session. Spoolers get shutdown_flush to
// write what they hold; anything left is discarded.
func (c *Coordinator) shutdown(ctx context.Context) {
	sess := c.cur
	if sess == nil || !sess.state.IsActive() {
		c.archive()
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	flush := sess.cfg.ShutdownFlush()
	flushCtx, cancel := context.WithTimeout(ctx, flush)
	defer cancel()

	state := sess.state
	if sess.captureCancel != nil {
		sess.captureCancel()
	}
	if sess.mergeCancel != nil {
		sess.mergeCancel()
	}
	if state != StateMerging {
		waitTimeout(&sess.captureWG, flush)
		c.closeSources(sess)
		var g errgroup.Group
		for _, t := range sess.tracks {
			if t.spooler == nil {
				continue
			}
			g.Go(func() error {
				if err := t.spooler.Drain(flushCtx); err != nil {
					t.spooler.Abort()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	if sess.mergeDone != nil {
		select {
		case <-sess.mergeDone:
		case <-flushCtx.Done():
		}
	}
	c.writeManifest(sess)
	c.finish(sess, services.Wrap(services.ErrInterrupted, "session", "shutdown",
		"recorder shut down while session was "+string(state), nil))
}
