package session

import (
	"context"
	"errors"
	"io"
	"time"

	"airecorder/internal/audiolevel"
	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/logging"
	"airecorder/internal/services"
	"airecorder/internal/spool"
)

type (
	sourceLostEvent struct {
		sessionID string
		kind      capture.Kind
		err       error
	}
	warningEvent struct {
		sessionID string
		message   string
	}
	fatalEvent struct {
		sessionID string
		err       error
	}
)

const retryBackoff = 100 * time.Millisecond

// capture moves chunks from one source into its spooler until ctx is
// cancelled or the source fails.
func (c *Coordinator) capture(ctx context.Context, sess *activeSession, t *track, rec config.Recording) {
	defer sess.captureWG.Done()
	ctx = services.WithSource(ctx, string(t.kind))
	logger := logging.WithContext(ctx, sess.logger)
	proc := newProcessor(t.kind, t.format, rec)
	// A chunk read before the stop still lands in the spool.
	pushCtx := context.WithoutCancel(ctx)
	retries := 0
	dropsLogged := false

	for {
		chunk, err := t.source.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if services.IsTransient(err) && retries < rec.ReadRetries {
				retries++
				logger.Debug("capture read failed; retrying",
					logging.Int("attempt", retries),
					logging.Error(err),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(retries) * retryBackoff):
				}
				continue
			}
			c.post(sourceLostEvent{sessionID: sess.id, kind: t.kind, err: disconnected(t.kind, err)})
			return
		}
		retries = 0

		if proc.apply(chunk.Payload) {
			c.post(warningEvent{
				sessionID: sess.id,
				message:   string(t.kind) + ": silence detected",
			})
			logging.WarnWithContext(logger, "source is silent", "silence_detected",
				logging.Duration("silent_for", proc.silence.SilentFor()),
				logging.String(logging.FieldErrorHint, "check the device is not muted"),
				logging.String(logging.FieldImpact, "output may contain silence"),
			)
		}

		err = t.spooler.Push(pushCtx, chunk)
		switch {
		case err == nil:
			c.observer.ChunkSpooled(t.kind, len(chunk.Payload))
		case errors.Is(err, services.ErrChunksDropped):
			c.observer.ChunkSpooled(t.kind, len(chunk.Payload))
			c.observer.ChunksDropped(t.kind, 1)
			if !dropsLogged {
				dropsLogged = true
				logging.WarnWithContext(logger, "spool writer behind; dropping oldest chunks", "chunks_dropped",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "use a faster spool disk or raise spool.queue_depth"),
					logging.String(logging.FieldImpact, "recording has gaps"),
				)
			}
		case errors.Is(err, spool.ErrClosed):
			return
		case services.IsFatal(err):
			c.post(fatalEvent{sessionID: sess.id, err: err})
			return
		default:
			c.post(sourceLostEvent{sessionID: sess.id, kind: t.kind, err: err})
			return
		}
	}
}

// watchSpool reports a spool writer failure while recording, so a full disk
// fails the session even when the track's capture is stalled or lost.
func (c *Coordinator) watchSpool(ctx context.Context, sess *activeSession, t *track) {
	select {
	case <-ctx.Done():
	case <-t.spooler.Failed():
		err := t.spooler.Err()
		if services.IsFatal(err) {
			c.post(fatalEvent{sessionID: sess.id, err: err})
			return
		}
		c.post(sourceLostEvent{sessionID: sess.id, kind: t.kind, err: err})
	}
}

func disconnected(kind capture.Kind, err error) error {
	switch {
	case errors.Is(err, services.ErrDeviceDisconnected):
		return err
	case errors.Is(err, io.EOF):
		return services.Wrap(services.ErrDeviceDisconnected, "capture", "read "+string(kind), "stream ended", nil)
	default:
		return services.Wrap(services.ErrDeviceDisconnected, "capture", "read "+string(kind), "", err)
	}
}

// processor applies per-source audio treatment before spooling.
type processor struct {
	gain    float64
	gate    *audiolevel.NoiseGate
	silence *audiolevel.SilenceDetector
}

func newProcessor(kind capture.Kind, format capture.Format, rec config.Recording) *processor {
	p := &processor{gain: 1}
	if !format.IsPCM() {
		return p
	}
	if kind == capture.Microphone {
		if rec.MicGain > 0 {
			p.gain = rec.MicGain
		}
		if rec.NoiseGate {
			p.gate = audiolevel.NewNoiseGate(audiolevel.DefaultGate(rec.NoiseGateThresholdDB, format.SampleRate, format.Channels))
		}
	}
	window := time.Duration(rec.SilenceSeconds * float64(time.Second))
	p.silence = audiolevel.NewSilenceDetector(rec.SilenceThresholdDB, window, format.SampleRate, format.Channels)
	return p
}

// apply treats pcm in place and reports the start of a silent stretch.
func (p *processor) apply(pcm []byte) bool {
	if p.silence == nil {
		return false
	}
	silent := p.silence.Observe(pcm)
	if p.gain != 1 {
		audiolevel.ApplyGain(pcm, p.gain)
	}
	if p.gate != nil {
		p.gate.Process(pcm)
	}
	return silent
}
