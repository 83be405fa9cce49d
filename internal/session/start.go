package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/fileutil"
	"airecorder/internal/logging"
	"airecorder/internal/services"
	"airecorder/internal/spool"
)

const mib = 1 << 20

func (c *Coordinator) start(ctx context.Context) (Snapshot, error) {
	if c.cur != nil && c.cur.state.IsActive() {
		return c.snapshotOf(c.cur), services.Wrap(services.ErrSessionAlreadyActive, "session", "start",
			fmt.Sprintf("session %s is %s", c.cur.id, c.cur.state), nil)
	}
	cfg := c.config()
	kinds, err := requestedKinds(cfg)
	if err != nil {
		return c.Snapshot(), err
	}
	if err := checkSpoolSpace(cfg); err != nil {
		return c.Snapshot(), err
	}
	c.archive()

	sess := c.newSession(cfg, c.newID(), c.now())
	sess.sources = kinds
	if err := os.MkdirAll(sess.spoolDir, 0o755); err != nil {
		sess.closeLog()
		if fileutil.IsDiskFull(err) {
			return c.Snapshot(), services.Wrap(services.ErrDiskFull, "session", "start", sess.spoolDir, err)
		}
		return c.Snapshot(), fmt.Errorf("create session spool dir: %w", err)
	}

	openErr := c.openTracks(ctx, sess, kinds)
	if openErr == nil && sess.liveTracks() == 0 {
		openErr = services.Wrap(services.ErrDeviceUnavailable, "session", "start", "no source could be opened", nil)
	}
	if openErr != nil {
		c.abortOpen(sess)
		c.mu.Lock()
		c.cur = sess
		c.mu.Unlock()
		c.finish(sess, openErr)
		return c.snapshotOf(sess), openErr
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	sess.captureCancel = cancel
	c.mu.Lock()
	c.cur = sess
	c.mu.Unlock()
	c.writeManifest(sess)

	for _, t := range sess.tracks {
		if t.spooler == nil {
			continue
		}
		trackCtx, trackCancel := context.WithCancel(captureCtx)
		t.cancel = trackCancel
		sess.captureWG.Add(1)
		go c.capture(trackCtx, sess, t, cfg.Recording)
		go c.watchSpool(captureCtx, sess, t)
	}

	sess.logger.Info("recording started",
		logging.String(logging.FieldEventType, "session_started"),
		logging.Int("sources", sess.liveTracks()),
		logging.String("spool_dir", sess.spoolDir),
	)
	c.setState(sess, StateRecording)
	return c.snapshotOf(sess), nil
}

// openTracks opens every requested source and its spooler. Non-essential
// sources that fail to open become warnings; the returned error fails the
// session.
func (c *Coordinator) openTracks(ctx context.Context, sess *activeSession, kinds []capture.Kind) error {
	cfg := sess.cfg
	for _, kind := range kinds {
		t := &track{kind: kind, cfg: capture.ConfigFor(kind, cfg.Recording)}
		sess.tracks = append(sess.tracks, t)

		src, err := c.opener.Open(ctx, kind, t.cfg)
		if err != nil {
			if !errors.Is(err, services.ErrDeviceUnavailable) {
				err = services.Wrap(services.ErrDeviceUnavailable, "session", "open "+string(kind), "", err)
			}
			t.lost = true
			t.err = err
			c.observer.SourceLost(kind, services.Cause(err))
			if cfg.IsEssential(string(kind)) {
				return err
			}
			logging.WarnWithContext(sess.logger, "source unavailable; recording without it", "source_unavailable",
				logging.String(logging.FieldSource, string(kind)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the device configuration or run airecorder doctor"),
				logging.String(logging.FieldImpact, "output will not contain "+string(kind)),
			)
			c.warn(sess, "%s unavailable: %s", kind, services.Cause(err))
			continue
		}

		t.source = src
		t.format = src.Format()
		t.file = spool.FileName(kind, t.format)
		sp, err := spool.New(spool.Options{
			Path:                filepath.Join(sess.spoolDir, t.file),
			Source:              kind,
			QueueDepth:          cfg.Spool.QueueDepth,
			BackpressureTimeout: cfg.BackpressureTimeout(),
			Create:              c.spoolCreate,
			Logger:              sess.logger,
		})
		if err != nil {
			return err
		}
		t.spooler = sp
	}
	return nil
}

// abortOpen releases everything a failed start acquired. The spool dir only
// holds empty files at this point.
func (c *Coordinator) abortOpen(sess *activeSession) {
	for _, t := range sess.tracks {
		if t.source != nil {
			_ = t.source.Close()
		}
		if t.spooler != nil {
			t.spooler.Abort()
		}
	}
	if err := spool.Remove(sess.spoolDir); err != nil {
		sess.logger.Debug("remove empty spool dir failed", logging.Error(err))
	}
}

func requestedKinds(cfg *config.Config) ([]capture.Kind, error) {
	want := make(map[capture.Kind]bool, len(cfg.Recording.Sources))
	for _, name := range cfg.Recording.Sources {
		kind, err := capture.ParseKind(name)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "session", "start", "recording.sources", err)
		}
		want[kind] = true
	}
	var kinds []capture.Kind
	for _, kind := range capture.Kinds {
		if want[kind] {
			kinds = append(kinds, kind)
		}
	}
	if len(kinds) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "session", "start", "no recording sources configured", nil)
	}
	return kinds, nil
}

func checkSpoolSpace(cfg *config.Config) error {
	if cfg.Spool.MinFreeMiB <= 0 {
		return nil
	}
	if err := os.MkdirAll(cfg.Paths.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	free, err := fileutil.FreeBytes(cfg.Paths.SpoolDir)
	if err != nil {
		return nil
	}
	if free < uint64(cfg.Spool.MinFreeMiB)*mib {
		return services.Wrap(services.ErrDiskFull, "session", "start",
			fmt.Sprintf("%d MiB free in %s, need %d MiB", free/mib, cfg.Paths.SpoolDir, cfg.Spool.MinFreeMiB), nil)
	}
	return nil
}
