package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	SpoolDir  string `toml:"spool_dir"`
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
}

// Recording contains capture settings applied to each new session.
type Recording struct {
	Sources          []string `toml:"sources"`
	Policy           string   `toml:"policy"`
	EssentialSources []string `toml:"essential_sources"`
	Backend          string   `toml:"backend"`
	MicrophoneDevice string   `toml:"microphone_device"`
	LoopbackDevice   string   `toml:"loopback_device"`
	ScreenDisplay    string   `toml:"screen_display"`
	SampleRate       int      `toml:"sample_rate"`
	Channels         int      `toml:"channels"`
	ChunkFrames      int      `toml:"chunk_frames"`
	FPS              int      `toml:"fps"`
	MaxScreenWidth   int      `toml:"max_screen_width"`
	ReadRetries      int      `toml:"read_retries"`
	MicGain          float64  `toml:"mic_gain"`
	// NoiseGate enables the microphone noise gate. Threshold in dBFS.
	NoiseGate            bool    `toml:"noise_gate"`
	NoiseGateThresholdDB float64 `toml:"noise_gate_threshold_db"`
	SilenceThresholdDB   float64 `toml:"silence_threshold_db"`
	SilenceSeconds       float64 `toml:"silence_seconds"`
}

// Spool contains ring buffer and spool file settings.
type Spool struct {
	QueueDepth            int `toml:"queue_depth"`
	BackpressureTimeoutMS int `toml:"backpressure_timeout_ms"`
	DrainTimeoutSeconds   int `toml:"drain_timeout_seconds"`
	ShutdownFlushSeconds  int `toml:"shutdown_flush_seconds"`
	MinFreeMiB            int `toml:"min_free_mib"`
}

// Encoder contains the FFmpeg merge contract settings.
type Encoder struct {
	FFmpegBinary        string `toml:"ffmpeg_binary"`
	MergeTimeoutSeconds int    `toml:"merge_timeout_seconds"`
	AudioContainer      string `toml:"audio_container"`
	AudioCodec          string `toml:"audio_codec"`
	AudioBitrate        string `toml:"audio_bitrate"`
	VideoCodec          string `toml:"video_codec"`
	VideoCRF            int    `toml:"video_crf"`
	VideoPreset         string `toml:"video_preset"`
}

// Hotkey contains the global toggle binding.
type Hotkey struct {
	Enabled bool   `toml:"enabled"`
	Binding string `toml:"binding"`
	// Signal also accepts SIGUSR1 as a toggle on Unix hosts.
	Signal bool `toml:"signal"`
}

// Daemon contains background behaviour of airecorderd.
type Daemon struct {
	RevealOnSave bool `toml:"reveal_on_save"`
	WatchConfig  bool `toml:"watch_config"`
	WatchDevices bool `toml:"watch_devices"`
}

// Metrics contains the Prometheus endpoint settings.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Retention contains the cleanup schedule for failed sessions.
type Retention struct {
	Schedule          string `toml:"schedule"`
	FailedSessionDays int    `toml:"failed_session_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for AIrecorder.
//
// Configuration sections by subsystem:
//   - Paths: output, spool, state, and log directories
//   - Recording: sources, failure policy, capture backend and formats
//   - Spool: ring buffer depth, backpressure, drain budgets
//   - Encoder: FFmpeg binary, merge timeout, codecs
//   - Hotkey: global toggle binding
//   - Daemon: reveal, config and device watchers
//   - Metrics: Prometheus endpoint
//   - Retention: pruning of preserved failed sessions
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Recording Recording `toml:"recording"`
	Spool     Spool     `toml:"spool"`
	Encoder   Encoder   `toml:"encoder"`
	Hotkey    Hotkey    `toml:"hotkey"`
	Daemon    Daemon    `toml:"daemon"`
	Metrics   Metrics   `toml:"metrics"`
	Retention Retention `toml:"retention"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("airecorder.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories a recording session writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.SpoolDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the FFmpeg executable used for capture and merge.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Encoder.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// LockPath is the single-recorder lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "airecorder.lock")
}

// SocketPath is the daemon IPC socket.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "airecorder.sock")
}

// DatabasePath is the session journal database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "sessions.db")
}

// BackpressureTimeout is how long a full spool blocks its producer before dropping.
func (c *Config) BackpressureTimeout() time.Duration {
	return time.Duration(c.Spool.BackpressureTimeoutMS) * time.Millisecond
}

// DrainTimeout bounds the flush of one spool after stop.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Spool.DrainTimeoutSeconds) * time.Second
}

// ShutdownFlush bounds the best-effort flush on hard shutdown.
func (c *Config) ShutdownFlush() time.Duration {
	return time.Duration(c.Spool.ShutdownFlushSeconds) * time.Second
}

// MergeTimeout bounds one encoder invocation.
func (c *Config) MergeTimeout() time.Duration {
	return time.Duration(c.Encoder.MergeTimeoutSeconds) * time.Second
}

// IsEssential reports whether the loss of source fails the whole session.
func (c *Config) IsEssential(source string) bool {
	if c.Recording.Policy == PolicyAllOrNothing {
		return true
	}
	for _, s := range c.Recording.EssentialSources {
		if s == source {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
