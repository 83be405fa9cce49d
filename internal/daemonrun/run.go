package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/daemon"
	"airecorder/internal/deps"
	"airecorder/internal/hotkey"
	"airecorder/internal/hotkey/keyboard"
	"airecorder/internal/ipc"
	"airecorder/internal/logging"
	"airecorder/internal/merge"
	"airecorder/internal/metrics"
	"airecorder/internal/session"
	"airecorder/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	ConfigPath  string
	LogLevel    string
	Development bool
}

// Run starts the airecorder daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, opts.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "airecorderd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("open session store", logging.Error(err))
		return err
	}
	recoverInterrupted(signalCtx, st, logger)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	coordinator, err := NewCoordinator(cfg, st, logger, session.WithObserver(collector))
	if err != nil {
		_ = st.Close()
		return err
	}

	daemonOpts := []daemon.Option{daemon.WithMetrics(collector)}
	if opts.ConfigPath != "" {
		daemonOpts = append(daemonOpts, daemon.WithConfigPath(opts.ConfigPath))
	}
	if bridge := newBridge(cfg, logger); bridge != nil {
		daemonOpts = append(daemonOpts, daemon.WithBridge(bridge))
	}

	d, err := daemon.New(cfg, st, coordinator, logger, daemonOpts...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("airecorder daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// NewCoordinator builds a coordinator with the configured capture backend,
// the FFmpeg merge encoder and the store as journal.
func NewCoordinator(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...session.Option) (*session.Coordinator, error) {
	opener, err := capture.NewOpener(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("capture backend: %w", err)
	}
	encoder := merge.NewFFmpegEncoder(cfg.FFmpegBinary(), logger)
	opts = append([]session.Option{session.WithJournal(st)}, opts...)
	return session.NewCoordinator(cfg, opener, encoder, logger, opts...), nil
}

// recoverInterrupted marks sessions left active by a crash as failed.
func recoverInterrupted(ctx context.Context, st *store.Store, logger *slog.Logger) {
	recs, err := st.MarkInterrupted(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "could not recover interrupted sessions", "recovery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the session database"),
			logging.String(logging.FieldImpact, "stale sessions may show as active"),
		)
		return
	}
	for _, rec := range recs {
		logging.WarnWithContext(logger, "session interrupted by previous shutdown", "session_recovered",
			logging.String(logging.FieldSessionID, rec.ID),
			logging.String("spool_dir", rec.SpoolDir),
			logging.String(logging.FieldErrorHint, "run airecorder retry "+rec.ID),
			logging.String(logging.FieldImpact, "recording was not merged"),
		)
	}
}

// newBridge assembles the configured toggle sources. A hotkey that cannot be
// registered is logged and skipped.
func newBridge(cfg *config.Config, logger *slog.Logger) hotkey.Bridge {
	var bridges []hotkey.Bridge
	if cfg.Hotkey.Enabled {
		if global, err := registerHotkey(cfg.Hotkey.Binding, logger); err != nil {
			logging.WarnWithContext(logger, "global hotkey unavailable", "hotkey_register_failed",
				logging.String("binding", cfg.Hotkey.Binding),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "pick another hotkey.binding or use airecorder toggle"),
				logging.String(logging.FieldImpact, "the keyboard shortcut does nothing"),
			)
		} else {
			bridges = append(bridges, global)
		}
	}
	if cfg.Hotkey.Signal {
		bridges = append(bridges, hotkey.NewSignal(logger))
	}
	switch len(bridges) {
	case 0:
		return nil
	case 1:
		return bridges[0]
	default:
		return hotkey.Merge(bridges...)
	}
}

func registerHotkey(binding string, logger *slog.Logger) (hotkey.Bridge, error) {
	b, err := hotkey.Parse(binding)
	if err != nil {
		return nil, err
	}
	return keyboard.Register(b, logger)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	ffmpeg := deps.CheckFFmpeg(cfg.FFmpegBinary())
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
		logging.String("capture_backend", cfg.Recording.Backend),
		logging.Any("sources", cfg.Recording.Sources),
		logging.String("policy", cfg.Recording.Policy),
	)
}
