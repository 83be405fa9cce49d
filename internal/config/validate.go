package config

import (
	"errors"
	"fmt"
	"net"
	"slices"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateSpool(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.SpoolDir == "" {
		return errors.New("paths.spool_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

var knownSources = []string{SourceMicrophone, SourceSystemAudio, SourceScreen}

func (c *Config) validateRecording() error {
	r := c.Recording
	if len(r.Sources) == 0 {
		return errors.New("recording.sources must name at least one source")
	}
	for _, s := range r.Sources {
		if !slices.Contains(knownSources, s) {
			return fmt.Errorf("recording.sources: unknown source %q (valid: %v)", s, knownSources)
		}
	}
	for _, s := range r.EssentialSources {
		if !slices.Contains(r.Sources, s) {
			return fmt.Errorf("recording.essential_sources: %q is not listed in recording.sources", s)
		}
	}
	switch r.Policy {
	case PolicyPartial, PolicyAllOrNothing:
	default:
		return fmt.Errorf("recording.policy must be %q or %q", PolicyPartial, PolicyAllOrNothing)
	}
	switch r.Backend {
	case BackendFFmpeg, BackendMalgo:
	default:
		return fmt.Errorf("recording.backend must be %q or %q", BackendFFmpeg, BackendMalgo)
	}
	if r.SampleRate < 8000 || r.SampleRate > 192000 {
		return errors.New("recording.sample_rate must be between 8000 and 192000")
	}
	if r.Channels < 1 || r.Channels > 2 {
		return errors.New("recording.channels must be 1 or 2")
	}
	if r.ChunkFrames <= 0 {
		return errors.New("recording.chunk_frames must be positive")
	}
	if r.FPS <= 0 || r.FPS > 60 {
		return errors.New("recording.fps must be between 1 and 60")
	}
	if r.MaxScreenWidth < 0 {
		return errors.New("recording.max_screen_width must be non-negative")
	}
	if r.ReadRetries < 0 {
		return errors.New("recording.read_retries must be non-negative")
	}
	if r.MicGain < 0 || r.MicGain > 3 {
		return errors.New("recording.mic_gain must be between 0 and 3")
	}
	if r.NoiseGateThresholdDB > 0 || r.SilenceThresholdDB > 0 {
		return errors.New("recording thresholds are dBFS and must be zero or negative")
	}
	if r.SilenceSeconds < 0 {
		return errors.New("recording.silence_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateSpool() error {
	if c.Spool.QueueDepth <= 0 {
		return errors.New("spool.queue_depth must be positive")
	}
	if c.Spool.BackpressureTimeoutMS < 0 {
		return errors.New("spool.backpressure_timeout_ms must be non-negative")
	}
	if c.Spool.DrainTimeoutSeconds <= 0 {
		return errors.New("spool.drain_timeout_seconds must be positive")
	}
	if c.Spool.ShutdownFlushSeconds < 0 {
		return errors.New("spool.shutdown_flush_seconds must be non-negative")
	}
	if c.Spool.MinFreeMiB < 0 {
		return errors.New("spool.min_free_mib must be non-negative")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if c.Encoder.MergeTimeoutSeconds <= 0 {
		return errors.New("encoder.merge_timeout_seconds must be positive")
	}
	switch c.Encoder.AudioContainer {
	case "mp3", "m4a":
	default:
		return fmt.Errorf("encoder.audio_container %q unsupported (valid: mp3, m4a)", c.Encoder.AudioContainer)
	}
	if c.Encoder.VideoCRF < 0 || c.Encoder.VideoCRF > 51 {
		return errors.New("encoder.video_crf must be between 0 and 51")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
		return fmt.Errorf("metrics.bind: %w", err)
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.FailedSessionDays < 0 {
		return errors.New("retention.failed_session_days must be non-negative")
	}
	if c.Retention.FailedSessionDays == 0 {
		return nil
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		return fmt.Errorf("retention.schedule: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q unsupported (valid: console, json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q unsupported", c.Logging.Level)
	}
	return nil
}
