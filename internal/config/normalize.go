package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecording()
	c.normalizeEncoder()
	c.normalizeHotkey()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("AIRECORDER_OUTPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.OutputDir = value
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	var err error
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecording() {
	c.Recording.Sources = normalizeList(c.Recording.Sources)
	c.Recording.EssentialSources = normalizeList(c.Recording.EssentialSources)
	c.Recording.Policy = strings.ToLower(strings.TrimSpace(c.Recording.Policy))
	if c.Recording.Policy == "" {
		c.Recording.Policy = PolicyPartial
	}
	c.Recording.Backend = strings.ToLower(strings.TrimSpace(c.Recording.Backend))
	if c.Recording.Backend == "" {
		c.Recording.Backend = defaultBackend
	}
	c.Recording.MicrophoneDevice = strings.TrimSpace(c.Recording.MicrophoneDevice)
	c.Recording.LoopbackDevice = strings.TrimSpace(c.Recording.LoopbackDevice)
	c.Recording.ScreenDisplay = strings.TrimSpace(c.Recording.ScreenDisplay)
}

func (c *Config) normalizeEncoder() {
	if value, ok := os.LookupEnv("AIRECORDER_FFMPEG"); ok && strings.TrimSpace(value) != "" {
		c.Encoder.FFmpegBinary = value
	}
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.AudioContainer = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Encoder.AudioContainer), "."))
	if c.Encoder.AudioContainer == "" {
		c.Encoder.AudioContainer = defaultAudioContainer
	}
	if strings.TrimSpace(c.Encoder.AudioCodec) == "" {
		switch c.Encoder.AudioContainer {
		case "m4a":
			c.Encoder.AudioCodec = "aac"
		default:
			c.Encoder.AudioCodec = defaultAudioCodec
		}
	}
	if strings.TrimSpace(c.Encoder.AudioBitrate) == "" {
		c.Encoder.AudioBitrate = defaultAudioBitrate
	}
	if strings.TrimSpace(c.Encoder.VideoCodec) == "" {
		c.Encoder.VideoCodec = defaultVideoCodec
	}
	if strings.TrimSpace(c.Encoder.VideoPreset) == "" {
		c.Encoder.VideoPreset = defaultVideoPreset
	}
}

func (c *Config) normalizeHotkey() {
	c.Hotkey.Binding = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c.Hotkey.Binding), " ", ""))
	if c.Hotkey.Binding == "" {
		c.Hotkey.Binding = defaultHotkeyBinding
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Metrics.Bind == "" {
		c.Metrics.Bind = defaultMetricsBind
	}
	c.Retention.Schedule = strings.TrimSpace(c.Retention.Schedule)
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = defaultRetentionSchedule
	}
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
