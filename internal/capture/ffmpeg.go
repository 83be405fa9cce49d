package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"airecorder/internal/logging"
	"airecorder/internal/services"
)

const (
	defaultStartupTimeout = 5 * time.Second
	defaultStallTimeout   = 5 * time.Second
	defaultStopGrace      = 3 * time.Second
	// MPEG-TS packets are 188 bytes; 64 of them make one screen chunk.
	tsChunkBytes = 188 * 64
)

// FFmpegOption configures an FFmpegOpener.
type FFmpegOption func(*FFmpegOpener)

// WithStarter injects a custom process starter (primarily for tests).
func WithStarter(starter Starter) FFmpegOption {
	return func(o *FFmpegOpener) {
		if starter != nil {
			o.starter = starter
		}
	}
}

// WithPlatform overrides the target operating system used to pick FFmpeg
// input devices.
func WithPlatform(goos string) FFmpegOption {
	return func(o *FFmpegOpener) {
		if goos != "" {
			o.goos = goos
		}
	}
}

// WithTimeouts overrides startup, stall, and stop grace durations.
func WithTimeouts(startup, stall, grace time.Duration) FFmpegOption {
	return func(o *FFmpegOpener) {
		if startup > 0 {
			o.startupTimeout = startup
		}
		if stall > 0 {
			o.stallTimeout = stall
		}
		if grace > 0 {
			o.stopGrace = grace
		}
	}
}

// FFmpegOpener captures sources through an FFmpeg subprocess per source.
type FFmpegOpener struct {
	binary         string
	goos           string
	starter        Starter
	logger         *slog.Logger
	startupTimeout time.Duration
	stallTimeout   time.Duration
	stopGrace      time.Duration
}

// NewFFmpegOpener constructs an FFmpeg capture backend.
func NewFFmpegOpener(binary string, logger *slog.Logger, opts ...FFmpegOption) *FFmpegOpener {
	o := &FFmpegOpener{
		binary:         binary,
		goos:           runtime.GOOS,
		starter:        commandStarter{},
		logger:         logging.NewComponentLogger(logger, "capture"),
		startupTimeout: defaultStartupTimeout,
		stallTimeout:   defaultStallTimeout,
		stopGrace:      defaultStopGrace,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open launches FFmpeg for kind and waits for its first chunk so a missing
// device surfaces here rather than mid-session.
func (o *FFmpegOpener) Open(ctx context.Context, kind Kind, cfg Config) (Source, error) {
	args, format, err := o.Args(kind, cfg)
	if err != nil {
		return nil, err
	}
	proc, err := o.starter.Start(ctx, o.binary, args)
	if err != nil {
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "open "+string(kind), "launch ffmpeg", err)
	}

	chunkSize := cfg.ChunkBytes()
	if !format.IsPCM() {
		chunkSize = tsChunkBytes
	}
	src := &ffmpegSource{
		kind:    kind,
		format:  format,
		proc:    proc,
		results: make(chan readResult, 8),
		seq:     sequencer{kind: kind},
		stall:   o.stallTimeout,
		grace:   o.stopGrace,
		logger:  o.logger.With(logging.String(logging.FieldSource, string(kind))),
	}
	go src.pump(chunkSize)

	timer := time.NewTimer(o.startupTimeout)
	defer timer.Stop()
	select {
	case first := <-src.results:
		if first.err != nil {
			_ = src.Close()
			return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "open "+string(kind), describeFailure(proc), first.err)
		}
		src.pending = &first
	case <-timer.C:
		_ = src.Close()
		return nil, services.Wrap(services.ErrDeviceUnavailable, "capture", "open "+string(kind),
			fmt.Sprintf("no data within %s", o.startupTimeout), errors.New(describeFailure(proc)))
	case <-ctx.Done():
		_ = src.Close()
		return nil, ctx.Err()
	}

	src.logger.Debug("ffmpeg capture started", logging.String("format", format.Container))
	return src, nil
}

// Args returns the FFmpeg argument list and payload format for kind.
func (o *FFmpegOpener) Args(kind Kind, cfg Config) ([]string, Format, error) {
	input, err := inputArgs(o.goos, kind, cfg)
	if err != nil {
		return nil, Format{}, err
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	args = append(args, input...)
	if kind.IsAudio() {
		args = append(args,
			"-vn",
			"-ac", strconv.Itoa(cfg.Channels),
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-acodec", "pcm_s16le",
			"-f", ContainerPCM,
			"pipe:1",
		)
		return args, PCMFormat(cfg.SampleRate, cfg.Channels), nil
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 15
	}
	if cfg.MaxScreenWidth > 0 {
		limit := strconv.Itoa(cfg.MaxScreenWidth)
		args = append(args, "-vf",
			"scale=w='if(gt(iw,"+limit+"),trunc(iw/4)*2,trunc(iw/2)*2)':h='if(gt(iw,"+limit+"),trunc(ih/4)*2,trunc(ih/2)*2)'")
	}
	args = append(args,
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(fps*2),
		"-f", ContainerMPEGTS,
		"pipe:1",
	)
	return args, Format{Container: ContainerMPEGTS, FPS: fps}, nil
}

func inputArgs(goos string, kind Kind, cfg Config) ([]string, error) {
	fps := strconv.Itoa(max(cfg.FPS, 1))
	unavailable := func(msg string) error {
		return services.Wrap(services.ErrDeviceUnavailable, "capture", "open "+string(kind), msg, nil)
	}
	switch goos {
	case "linux":
		switch kind {
		case Microphone:
			return []string{"-f", "pulse", "-i", orDefault(cfg.Device, "default")}, nil
		case SystemAudio:
			return []string{"-f", "pulse", "-i", orDefault(cfg.Device, "@DEFAULT_MONITOR@")}, nil
		case Screen:
			display := cfg.Device
			if display == "" {
				display = orDefault(os.Getenv("DISPLAY"), ":0.0")
			}
			return []string{"-f", "x11grab", "-framerate", fps, "-draw_mouse", "1", "-i", display}, nil
		}
	case "windows":
		switch kind {
		case Microphone:
			if cfg.Device == "" {
				return nil, unavailable("set recording.microphone_device to a DirectShow audio device name")
			}
			return []string{"-f", "dshow", "-audio_buffer_size", "50", "-i", "audio=" + cfg.Device}, nil
		case SystemAudio:
			if cfg.Device == "" {
				return nil, unavailable("set recording.loopback_device to a loopback capture device such as \"CABLE Output (VB-Audio Virtual Cable)\"")
			}
			return []string{"-f", "dshow", "-audio_buffer_size", "50", "-i", "audio=" + cfg.Device}, nil
		case Screen:
			return []string{"-f", "gdigrab", "-framerate", fps, "-draw_mouse", "1", "-i", orDefault(cfg.Device, "desktop")}, nil
		}
	case "darwin":
		switch kind {
		case Microphone:
			return []string{"-f", "avfoundation", "-i", ":" + orDefault(cfg.Device, "default")}, nil
		case SystemAudio:
			if cfg.Device == "" {
				return nil, unavailable("set recording.loopback_device to a loopback device such as \"BlackHole 2ch\"")
			}
			return []string{"-f", "avfoundation", "-i", ":" + cfg.Device}, nil
		case Screen:
			return []string{"-f", "avfoundation", "-capture_cursor", "1", "-framerate", fps, "-i", orDefault(cfg.Device, "Capture screen 0") + ":none"}, nil
		}
	default:
		return nil, unavailable("ffmpeg capture is not supported on " + goos)
	}
	return nil, unavailable("unknown source kind")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func describeFailure(proc Process) string {
	if tail := proc.StderrTail(); tail != "" {
		return tail
	}
	return "ffmpeg produced no output"
}

type readResult struct {
	payload []byte
	at      time.Time
	err     error
}

type ffmpegSource struct {
	kind    Kind
	format  Format
	proc    Process
	results chan readResult
	pending *readResult
	seq     sequencer
	stall   time.Duration
	grace   time.Duration
	closing atomic.Bool
	logger  *slog.Logger
}

func (s *ffmpegSource) Kind() Kind     { return s.kind }
func (s *ffmpegSource) Format() Format { return s.format }

func (s *ffmpegSource) pump(chunkSize int) {
	defer close(s.results)
	stdout := s.proc.Stdout()
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			s.results <- readResult{payload: buf[:n], at: time.Now()}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = nil
		}
		waitErr := s.proc.Wait()
		switch {
		case s.closing.Load():
			s.results <- readResult{err: io.EOF}
		case err != nil:
			s.results <- readResult{err: services.Wrap(services.ErrDeviceDisconnected, "capture", "read "+string(s.kind), "stdout", err)}
		case waitErr != nil:
			s.results <- readResult{err: services.Wrap(services.ErrDeviceDisconnected, "capture", "read "+string(s.kind), describeFailure(s.proc), waitErr)}
		default:
			s.results <- readResult{err: io.EOF}
		}
		return
	}
}

func (s *ffmpegSource) ReadChunk(ctx context.Context) (Chunk, error) {
	if s.pending != nil {
		first := *s.pending
		s.pending = nil
		return s.seq.stamp(first.payload, first.at), nil
	}
	timer := time.NewTimer(s.stall)
	defer timer.Stop()
	select {
	case res, ok := <-s.results:
		if !ok {
			return Chunk{}, io.EOF
		}
		if res.err != nil {
			return Chunk{}, res.err
		}
		return s.seq.stamp(res.payload, res.at), nil
	case <-timer.C:
		return Chunk{}, services.Wrap(services.ErrTransient, "capture", "read "+string(s.kind), fmt.Sprintf("no data for %s", s.stall), nil)
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	}
}

// Close stops FFmpeg. Chunks still in flight are discarded.
func (s *ffmpegSource) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.proc.Stop(s.grace)
	go func() {
		for range s.results {
		}
	}()
	if err != nil {
		return fmt.Errorf("stop ffmpeg capture: %w", err)
	}
	return nil
}
