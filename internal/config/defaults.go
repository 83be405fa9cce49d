package config

// Source kinds accepted in recording.sources.
const (
	SourceMicrophone  = "microphone"
	SourceSystemAudio = "system_audio"
	SourceScreen      = "screen"
)

// Partial-failure policies.
const (
	PolicyPartial      = "partial"
	PolicyAllOrNothing = "all_or_nothing"
)

// Capture backends.
const (
	BackendFFmpeg = "ffmpeg"
	BackendMalgo  = "malgo"
)

const (
	defaultConfigPath            = "~/.config/airecorder/config.toml"
	defaultOutputDir             = "~/AIrecorder"
	defaultSpoolDir              = "~/.local/share/airecorder/spool"
	defaultStateDir              = "~/.local/share/airecorder"
	defaultLogDir                = "~/.local/share/airecorder/logs"
	defaultBackend               = BackendFFmpeg
	defaultSampleRate            = 22050
	defaultChannels              = 2
	defaultChunkFrames           = 1024
	defaultFPS                   = 15
	defaultMaxScreenWidth        = 1920
	defaultReadRetries           = 3
	defaultMicGain               = 1.0
	defaultNoiseGateThresholdDB  = -40.0
	defaultSilenceThresholdDB    = -55.0
	defaultSilenceSeconds        = 3.0
	defaultQueueDepth            = 256
	defaultBackpressureTimeoutMS = 250
	defaultDrainTimeoutSeconds   = 10
	defaultShutdownFlushSeconds  = 2
	defaultMinFreeMiB            = 200
	defaultFFmpegBinary          = "ffmpeg"
	defaultMergeTimeoutSeconds   = 900
	defaultAudioContainer        = "mp3"
	defaultAudioCodec            = "libmp3lame"
	defaultAudioBitrate          = "128k"
	defaultVideoCodec            = "libx264"
	defaultVideoCRF              = 23
	defaultVideoPreset           = "veryfast"
	defaultHotkeyBinding         = "ctrl+shift+r"
	defaultMetricsBind           = "127.0.0.1:9477"
	defaultRetentionSchedule     = "@daily"
	defaultFailedSessionDays     = 14
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			SpoolDir:  defaultSpoolDir,
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
		},
		Recording: Recording{
			Sources:              []string{SourceMicrophone, SourceSystemAudio},
			Policy:               PolicyPartial,
			Backend:              defaultBackend,
			SampleRate:           defaultSampleRate,
			Channels:             defaultChannels,
			ChunkFrames:          defaultChunkFrames,
			FPS:                  defaultFPS,
			MaxScreenWidth:       defaultMaxScreenWidth,
			ReadRetries:          defaultReadRetries,
			MicGain:              defaultMicGain,
			NoiseGateThresholdDB: defaultNoiseGateThresholdDB,
			SilenceThresholdDB:   defaultSilenceThresholdDB,
			SilenceSeconds:       defaultSilenceSeconds,
		},
		Spool: Spool{
			QueueDepth:            defaultQueueDepth,
			BackpressureTimeoutMS: defaultBackpressureTimeoutMS,
			DrainTimeoutSeconds:   defaultDrainTimeoutSeconds,
			ShutdownFlushSeconds:  defaultShutdownFlushSeconds,
			MinFreeMiB:            defaultMinFreeMiB,
		},
		Encoder: Encoder{
			FFmpegBinary:        defaultFFmpegBinary,
			MergeTimeoutSeconds: defaultMergeTimeoutSeconds,
			AudioContainer:      defaultAudioContainer,
			AudioCodec:          defaultAudioCodec,
			AudioBitrate:        defaultAudioBitrate,
			VideoCodec:          defaultVideoCodec,
			VideoCRF:            defaultVideoCRF,
			VideoPreset:         defaultVideoPreset,
		},
		Hotkey: Hotkey{
			Enabled: true,
			Binding: defaultHotkeyBinding,
			Signal:  true,
		},
		Daemon: Daemon{
			RevealOnSave: true,
			WatchConfig:  true,
			WatchDevices: true,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Retention: Retention{
			Schedule:          defaultRetentionSchedule,
			FailedSessionDays: defaultFailedSessionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
