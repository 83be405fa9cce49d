package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"airecorder/internal/config"
)

// Kind identifies a recording source.
type Kind string

const (
	Microphone  Kind = config.SourceMicrophone
	SystemAudio Kind = config.SourceSystemAudio
	Screen      Kind = config.SourceScreen
)

// Kinds lists every source kind in the order sessions open them. The
// microphone goes first so Bluetooth headsets settle on their headset profile
// before loopback capture starts.
var Kinds = []Kind{Microphone, SystemAudio, Screen}

// ParseKind converts a configuration value into a Kind.
func ParseKind(value string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(value))); k {
	case Microphone, SystemAudio, Screen:
		return k, nil
	default:
		return "", fmt.Errorf("unknown source kind %q", value)
	}
}

// IsAudio reports whether the kind produces PCM audio.
func (k Kind) IsAudio() bool {
	return k == Microphone || k == SystemAudio
}

func (k Kind) String() string { return string(k) }

// Stream containers produced by the backends.
const (
	ContainerPCM    = "s16le"
	ContainerMPEGTS = "mpegts"
)

// Format describes the payload bytes of a source's chunks.
type Format struct {
	Container  string `yaml:"container" json:"container"`
	SampleRate int    `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	Channels   int    `yaml:"channels,omitempty" json:"channels,omitempty"`
	FPS        int    `yaml:"fps,omitempty" json:"fps,omitempty"`
}

// PCMFormat returns a signed 16-bit little-endian PCM format.
func PCMFormat(sampleRate, channels int) Format {
	return Format{Container: ContainerPCM, SampleRate: sampleRate, Channels: channels}
}

// Extension is the spool file extension for the format.
func (f Format) Extension() string {
	if f.Container == ContainerMPEGTS {
		return "ts"
	}
	return "pcm"
}

// IsPCM reports whether payloads are raw s16le samples.
func (f Format) IsPCM() bool { return f.Container == ContainerPCM }

// BytesPerSecond is the PCM data rate, or zero for compressed formats.
func (f Format) BytesPerSecond() int {
	if !f.IsPCM() {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// Chunk is one unit of captured data.
type Chunk struct {
	Source     Kind
	Seq        uint64
	Payload    []byte
	CapturedAt time.Time
}

// Config carries the per-source capture parameters.
type Config struct {
	Device         string
	SampleRate     int
	Channels       int
	ChunkFrames    int
	FPS            int
	MaxScreenWidth int
}

// ConfigFor derives the capture parameters for kind from the recording section.
func ConfigFor(kind Kind, rec config.Recording) Config {
	cfg := Config{
		SampleRate:     rec.SampleRate,
		Channels:       rec.Channels,
		ChunkFrames:    rec.ChunkFrames,
		FPS:            rec.FPS,
		MaxScreenWidth: rec.MaxScreenWidth,
	}
	switch kind {
	case Microphone:
		cfg.Device = rec.MicrophoneDevice
	case SystemAudio:
		cfg.Device = rec.LoopbackDevice
	case Screen:
		cfg.Device = rec.ScreenDisplay
	}
	return cfg
}

// ChunkBytes is the PCM payload size of one chunk.
func (c Config) ChunkBytes() int {
	frames := c.ChunkFrames
	if frames <= 0 {
		frames = 1024
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return frames * channels * 2
}

// Source is an open recording device.
type Source interface {
	Kind() Kind
	Format() Format
	// ReadChunk blocks until the next chunk is available. It returns io.EOF
	// once the stream has ended.
	ReadChunk(ctx context.Context) (Chunk, error)
	Close() error
}

// Opener opens sources of a given kind.
type Opener interface {
	Open(ctx context.Context, kind Kind, cfg Config) (Source, error)
}

// NewOpener returns the Opener for the configured backend.
func NewOpener(cfg *config.Config, logger *slog.Logger) (Opener, error) {
	switch cfg.Recording.Backend {
	case config.BackendFFmpeg, "":
		return NewFFmpegOpener(cfg.FFmpegBinary(), logger), nil
	case config.BackendMalgo:
		return NewMalgoOpener(logger), nil
	default:
		return nil, fmt.Errorf("unsupported capture backend %q", cfg.Recording.Backend)
	}
}

// sequencer stamps chunks with consecutive sequence numbers starting at 1.
type sequencer struct {
	kind Kind
	next uint64
}

func (s *sequencer) stamp(payload []byte, at time.Time) Chunk {
	s.next++
	return Chunk{Source: s.kind, Seq: s.next, Payload: payload, CapturedAt: at}
}
