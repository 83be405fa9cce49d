package testsupport

import (
	"path/filepath"
	"testing"

	"airecorder/internal/config"
)

// ConfigOption adjusts a config built by NewConfig.
type ConfigOption func(*config.Config)

// NewConfig returns a config rooted in a fresh temp directory. Every path
// lives under BaseDir, timeouts are short, and the free-space guard, hotkey,
// signal toggle and daemon extras are off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		OutputDir: filepath.Join(base, "output"),
		SpoolDir:  filepath.Join(base, "spool"),
		StateDir:  filepath.Join(base, "state"),
		LogDir:    filepath.Join(base, "logs"),
	}
	cfg.Spool.MinFreeMiB = 0
	cfg.Spool.DrainTimeoutSeconds = 5
	cfg.Spool.ShutdownFlushSeconds = 1
	cfg.Encoder.MergeTimeoutSeconds = 5
	cfg.Hotkey.Enabled, cfg.Hotkey.Signal = false, false
	cfg.Daemon = config.Daemon{}
	cfg.Metrics = config.Metrics{Bind: "127.0.0.1:0"}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithSources replaces the recorded sources.
func WithSources(sources ...string) ConfigOption {
	return func(cfg *config.Config) { cfg.Recording.Sources = sources }
}

// WithPolicy sets the partial-failure policy and its essential sources.
func WithPolicy(policy string, essential ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Recording.Policy = policy
		cfg.Recording.EssentialSources = essential
	}
}

// BaseDir is the temp directory NewConfig rooted cfg in.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
