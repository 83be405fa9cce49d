package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"airecorder/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if want := filepath.Join(tempHome, "AIrecorder"); cfg.Paths.OutputDir != want {
		t.Fatalf("unexpected output dir: got %q want %q", cfg.Paths.OutputDir, want)
	}
	if want := filepath.Join(tempHome, ".local", "share", "airecorder", "spool"); cfg.Paths.SpoolDir != want {
		t.Fatalf("unexpected spool dir: got %q want %q", cfg.Paths.SpoolDir, want)
	}
	if cfg.Recording.Policy != config.PolicyPartial {
		t.Fatalf("expected partial policy by default, got %q", cfg.Recording.Policy)
	}
	if cfg.Recording.SampleRate != 22050 || cfg.Recording.Channels != 2 {
		t.Fatalf("unexpected audio format: %d Hz x %d", cfg.Recording.SampleRate, cfg.Recording.Channels)
	}
	if cfg.Hotkey.Binding != "ctrl+shift+r" {
		t.Fatalf("unexpected hotkey binding %q", cfg.Hotkey.Binding)
	}
	if cfg.LockPath() != filepath.Join(cfg.Paths.StateDir, "airecorder.lock") {
		t.Fatalf("unexpected lock path %q", cfg.LockPath())
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("AIRECORDER_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
output_dir = "~/rec"

[recording]
sources = ["Microphone", "screen", "microphone"]
policy = "ALL_OR_NOTHING"
essential_sources = ["screen"]

[encoder]
audio_container = "m4a"
audio_codec = ""
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "rec") {
		t.Fatalf("unexpected output dir %q", cfg.Paths.OutputDir)
	}
	if got := strings.Join(cfg.Recording.Sources, ","); got != "microphone,screen" {
		t.Fatalf("expected deduplicated sources, got %q", got)
	}
	if cfg.Recording.Policy != config.PolicyAllOrNothing {
		t.Fatalf("unexpected policy %q", cfg.Recording.Policy)
	}
	if !cfg.IsEssential(config.SourceMicrophone) {
		t.Fatal("all_or_nothing policy should make every source essential")
	}
	if cfg.Encoder.AudioCodec != "aac" {
		t.Fatalf("expected aac codec for m4a, got %q", cfg.Encoder.AudioCodec)
	}
	if cfg.FFmpegBinary() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected env ffmpeg override, got %q", cfg.FFmpegBinary())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no sources", func(c *config.Config) { c.Recording.Sources = nil }, "recording.sources"},
		{"unknown source", func(c *config.Config) { c.Recording.Sources = []string{"webcam"} }, "unknown source"},
		{"essential not requested", func(c *config.Config) { c.Recording.EssentialSources = []string{"screen"} }, "essential_sources"},
		{"policy", func(c *config.Config) { c.Recording.Policy = "best_effort" }, "recording.policy"},
		{"gain", func(c *config.Config) { c.Recording.MicGain = 4 }, "mic_gain"},
		{"queue", func(c *config.Config) { c.Spool.QueueDepth = 0 }, "queue_depth"},
		{"drain", func(c *config.Config) { c.Spool.DrainTimeoutSeconds = 0 }, "drain_timeout"},
		{"merge", func(c *config.Config) { c.Encoder.MergeTimeoutSeconds = 0 }, "merge_timeout"},
		{"container", func(c *config.Config) { c.Encoder.AudioContainer = "flac" }, "audio_container"},
		{"cron", func(c *config.Config) { c.Retention.Schedule = "every tuesday" }, "retention.schedule"},
		{"metrics bind", func(c *config.Config) {
			c.Metrics.Enabled = true
			c.Metrics.Bind = "nope"
		}, "metrics.bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.OutputDir = t.TempDir()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[recording]\nsourcez = [\"microphone\"]\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed validation: %v", err)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.SpoolDir = filepath.Join(base, "spool")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.SpoolDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
