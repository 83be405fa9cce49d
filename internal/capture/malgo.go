package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"airecorder/internal/logging"
	"airecorder/internal/services"
)

// MalgoOpener captures audio in-process through miniaudio.
type MalgoOpener struct {
	logger       *slog.Logger
	stallTimeout time.Duration
}

// NewMalgoOpener constructs the miniaudio capture backend.
func NewMalgoOpener(logger *slog.Logger) *MalgoOpener {
	return &MalgoOpener{
		logger:       logging.NewComponentLogger(logger, "capture"),
		stallTimeout: defaultStallTimeout,
	}
}

// Open initializes a capture (microphone) or loopback (system audio) device.
// Loopback is only provided by the WASAPI backend.
func (o *MalgoOpener) Open(_ context.Context, kind Kind, cfg Config) (Source, error) {
	op := "open " + string(kind)
	var deviceType malgo.DeviceType
	switch kind {
	case Microphone:
		deviceType = malgo.Capture
	case SystemAudio:
		if runtime.GOOS != "windows" {
			return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "malgo loopback requires WASAPI; use the ffmpeg backend", nil)
		}
		deviceType = malgo.Loopback
	default:
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "malgo backend captures audio only", nil)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "init audio context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.ChunkFrames)
	if cfg.Device != "" {
		listType := malgo.Capture
		if deviceType == malgo.Loopback {
			// miniaudio expects the playback device ID for loopback capture.
			listType = malgo.Playback
		}
		id, err := findDevice(mctx, listType, cfg.Device)
		if err != nil {
			freeContext(mctx)
			return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "", err)
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	src := &malgoSource{
		kind:    kind,
		format:  PCMFormat(cfg.SampleRate, cfg.Channels),
		mctx:    mctx,
		data:    make(chan readResult, 64),
		stopped: make(chan struct{}, 1),
		seq:     sequencer{kind: kind},
		stall:   o.stallTimeout,
		logger:  o.logger.With(logging.String(logging.FieldSource, string(kind))),
	}
	callbacks := malgo.DeviceCallbacks{
		Data: src.onData,
		Stop: src.onStop,
	}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(mctx)
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "init device", err)
	}
	src.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(mctx)
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", op, "start device", err)
	}
	return src, nil
}

func findDevice(mctx *malgo.AllocatedContext, deviceType malgo.DeviceType, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(deviceType)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("list devices: %w", err)
	}
	want := strings.ToLower(name)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("device %q not found (available: %s)", name, strings.Join(names, ", "))
}

func freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

type malgoSource struct {
	kind     Kind
	format   Format
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
	data     chan readResult
	stopped  chan struct{}
	seq      sequencer
	stall    time.Duration
	closing  atomic.Bool
	overflow atomic.Uint64
	once     sync.Once
	logger   *slog.Logger
}

func (s *malgoSource) Kind() Kind     { return s.kind }
func (s *malgoSource) Format() Format { return s.format }

// onData runs on the audio thread and must never block.
func (s *malgoSource) onData(_, input []byte, _ uint32) {
	if s.closing.Load() || len(input) == 0 {
		return
	}
	payload := make([]byte, len(input))
	copy(payload, input)
	select {
	case s.data <- readResult{payload: payload, at: time.Now()}:
	default:
		s.overflow.Add(1)
	}
}

func (s *malgoSource) onStop() {
	select {
	case s.stopped <- struct{}{}:
	default:
	}
}

func (s *malgoSource) ReadChunk(ctx context.Context) (Chunk, error) {
	if s.closing.Load() {
		return Chunk{}, io.EOF
	}
	timer := time.NewTimer(s.stall)
	defer timer.Stop()
	select {
	case res := <-s.data:
		return s.seq.stamp(res.payload, res.at), nil
	case <-s.stopped:
		if s.closing.Load() {
			return Chunk{}, io.EOF
		}
		// The device stopped underneath us (route change, unplug). Try once to
		// restart; the caller's retry budget decides when to give up.
		if err := s.device.Start(); err != nil {
			return Chunk{}, services.Wrap(services.ErrDeviceDisconnected, "capture", "read "+string(s.kind), "device stopped", err)
		}
		return Chunk{}, services.Wrap(services.ErrTransient, "capture", "read "+string(s.kind), "device restarted", nil)
	case <-timer.C:
		return Chunk{}, services.Wrap(services.ErrTransient, "capture", "read "+string(s.kind), fmt.Sprintf("no data for %s", s.stall), nil)
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

func (s *malgoSource) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		_ = s.device.Stop()
		s.device.Uninit()
		freeContext(s.mctx)
		if n := s.overflow.Load(); n > 0 {
			logging.WarnWithContext(s.logger, "audio callback overflowed", "capture_overflow",
				logging.Uint64("buffers", n),
				logging.String(logging.FieldImpact, "short gaps in captured audio"),
				logging.String(logging.FieldErrorHint, "raise recording.chunk_frames or reduce system load"),
			)
		}
	})
	return nil
}
