package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"airecorder/internal/config"
	"airecorder/internal/deps"
	"airecorder/internal/hotkey"
	"airecorder/internal/logging"
	"airecorder/internal/metrics"
	"airecorder/internal/preflight"
	"airecorder/internal/retention"
	"airecorder/internal/reveal"
	"airecorder/internal/session"
	"airecorder/internal/store"
)

// ErrLocked means another recorder holds the lock file.
var ErrLocked = errors.New("another airecorder instance is already recording")

const shutdownBudget = 10 * time.Second

// Option configures optional daemon integrations.
type Option func(*Daemon)

// WithBridge routes toggle events from a hotkey bridge to the coordinator.
func WithBridge(b hotkey.Bridge) Option {
	return func(d *Daemon) { d.bridge = b }
}

// WithRevealer overrides how saved recordings are shown to the user.
func WithRevealer(r reveal.Revealer) Option {
	return func(d *Daemon) { d.revealer = r }
}

// WithMetrics serves the collector when metrics are enabled.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Daemon) { d.collector = c }
}

// WithConfigPath enables hot reload of the given configuration file.
func WithConfigPath(path string) Option {
	return func(d *Daemon) { d.configPath = path }
}

// Daemon owns one coordinator and everything that drives it.
type Daemon struct {
	logger      *slog.Logger
	store       *store.Store
	coordinator *session.Coordinator

	bridge     hotkey.Bridge
	revealer   reveal.Revealer
	collector  *metrics.Collector
	configPath string

	// mu guards cfg and the integrations below.
	mu  sync.Mutex
	cfg *config.Config

	lock *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	watcher   *configWatcher
	devices   *deviceMonitor
	scheduler *retention.Scheduler
	metricsSv *metrics.Server
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	Session       session.Snapshot
	LockPath      string
	DatabasePath  string
	ConfigPath    string
	Hotkey        string
	MetricsAddr   string
	NextRetention time.Time
	DeviceWatch   bool
	Dependencies  []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, coordinator *session.Coordinator, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || coordinator == nil {
		return nil, errors.New("daemon requires config, store, and coordinator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       st,
		coordinator: coordinator,
		cfg:         cfg,
		lock:        flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.revealer == nil {
		d.revealer = reveal.New(logger)
	}
	return d, nil
}

// AcquireLock takes the single-recorder lock at path without blocking.
func AcquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock, nil
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Coordinator exposes the session coordinator for RPC handlers.
func (d *Daemon) Coordinator() *session.Coordinator { return d.coordinator }

// Store exposes the session journal.
func (d *Daemon) Store() *store.Store { return d.store }

// Start acquires the daemon lock and launches the background integrations.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	cfg := d.Config()

	for _, r := range preflight.Failed(preflight.RunAll(runCtx, cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run airecorder doctor"),
			logging.String(logging.FieldImpact, "recordings may fail to start or merge"),
		)
	}

	if d.bridge != nil {
		d.wg.Add(1)
		go d.routeToggles(runCtx, d.bridge)
	}
	if cfg.Daemon.RevealOnSave {
		updates, unsubscribe := d.coordinator.Subscribe()
		d.wg.Add(1)
		go d.revealSaved(runCtx, updates, unsubscribe)
	}
	var watcher *configWatcher
	if cfg.Daemon.WatchConfig && d.configPath != "" {
		watcher = newConfigWatcher(d.configPath, d.reload, d.logger)
		if err := watcher.Start(); err != nil {
			logging.WarnWithContext(d.logger, "config watcher unavailable", "config_watch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart airecorderd after editing the config"),
				logging.String(logging.FieldImpact, "config changes are not picked up automatically"),
			)
			watcher = nil
		}
	}
	var devices *deviceMonitor
	if cfg.Daemon.WatchDevices {
		devices = newDeviceMonitor(d.coordinator.DeviceRemoved, d.logger)
		devices.Start(runCtx)
	}
	pruner := retention.NewPruner(d.store, cfg.Paths.SpoolDir, cfg.Retention.FailedSessionDays, d.logger)
	scheduler := retention.NewScheduler(pruner, cfg.Retention.Schedule, d.logger)

	d.mu.Lock()
	d.watcher, d.devices, d.scheduler = watcher, devices, scheduler
	d.mu.Unlock()

	if err := scheduler.Start(runCtx); err != nil {
		d.stopIntegrations()
		_ = d.lock.Unlock()
		return fmt.Errorf("start retention: %w", err)
	}

	if cfg.Metrics.Enabled && d.collector != nil {
		srv, err := metrics.Listen(cfg.Metrics.Bind, d.collector, d.logger)
		if err != nil {
			logging.WarnWithContext(d.logger, "metrics endpoint unavailable", "metrics_listen_failed",
				logging.Error(err),
				logging.String("bind", cfg.Metrics.Bind),
				logging.String(logging.FieldErrorHint, "choose a free metrics.bind address"),
				logging.String(logging.FieldImpact, "Prometheus cannot scrape the recorder"),
			)
		} else {
			srv.Serve()
			d.mu.Lock()
			d.metricsSv = srv
			d.mu.Unlock()
		}
	}

	d.running.Store(true)
	d.logger.Info("airecorder daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", cfg.LockPath()),
	)
	return nil
}

// Stop shuts the coordinator down, interrupting any session, and releases
// the daemon lock. A stopped daemon cannot be restarted.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	d.coordinator.Shutdown(ctx)
	d.stopIntegrations()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("airecorder daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) stopIntegrations() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.bridge != nil {
		_ = d.bridge.Close()
	}
	d.mu.Lock()
	watcher, devices, scheduler, metricsSv := d.watcher, d.devices, d.scheduler, d.metricsSv
	d.watcher, d.devices, d.scheduler, d.metricsSv = nil, nil, nil, nil
	d.mu.Unlock()

	watcher.Stop()
	devices.Stop()
	if scheduler != nil {
		scheduler.Stop()
	}
	if metricsSv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsSv.Close(ctx)
		cancel()
	}
	d.wg.Wait()
}

// Close releases resources held by the daemon. The coordinator is shut
// down even when Start never ran.
func (d *Daemon) Close() error {
	d.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	d.coordinator.Shutdown(ctx)
	cancel()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	cfg, devices, scheduler, metricsSv := d.cfg, d.devices, d.scheduler, d.metricsSv
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Session:      d.coordinator.Snapshot(),
		LockPath:     cfg.LockPath(),
		DatabasePath: d.store.Path(),
		ConfigPath:   d.configPath,
		DeviceWatch:  devices.Running(),
		Dependencies: preflight.CheckSystemDeps(cfg),
	}
	if cfg.Hotkey.Enabled {
		status.Hotkey = cfg.Hotkey.Binding
	}
	if metricsSv != nil {
		status.MetricsAddr = metricsSv.Addr()
	}
	if scheduler != nil {
		status.NextRetention = scheduler.NextRun()
	}
	return status
}

func (d *Daemon) routeToggles(ctx context.Context, bridge hotkey.Bridge) {
	defer d.wg.Done()
	events := bridge.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != hotkey.Toggle {
				continue
			}
			action, err := d.coordinator.Toggle(ctx)
			if err != nil {
				if errors.Is(err, session.ErrClosed) || ctx.Err() != nil {
					return
				}
				logging.WarnWithContext(d.logger, "toggle failed", "toggle_failed",
					logging.String("origin", ev.Origin),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "run airecorder status for details"),
					logging.String(logging.FieldImpact, "recording state unchanged"),
				)
				continue
			}
			d.logger.Info("toggle handled",
				logging.String(logging.FieldEventType, "toggle"),
				logging.String("origin", ev.Origin),
				logging.String("action", string(action)),
			)
		}
	}
}

// revealSaved shows each saved recording once.
func (d *Daemon) revealSaved(ctx context.Context, updates <-chan session.Snapshot, unsubscribe func()) {
	defer d.wg.Done()
	defer unsubscribe()
	revealed := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.State != session.StateSaved || snap.OutputPath == "" || revealed[snap.ID] {
				continue
			}
			revealed[snap.ID] = true
			if err := d.revealer.Reveal(ctx, snap.OutputPath); err != nil {
				logging.WarnWithContext(d.logger, "reveal failed", "reveal_failed",
					logging.String(logging.FieldSessionID, snap.ID),
					logging.String("path", snap.OutputPath),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "set daemon.reveal_on_save = false to disable"),
					logging.String(logging.FieldImpact, "recording saved but not shown"),
				)
			}
		}
	}
}

// reload applies a changed configuration file to the next session.
func (d *Daemon) reload() error {
	cfg, _, _, err := config.Load(d.configPath)
	if err != nil {
		logging.WarnWithContext(d.logger, "config reload rejected", "config_reload_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run airecorder config validate"),
			logging.String(logging.FieldImpact, "previous configuration stays in effect"),
		)
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	d.coordinator.UpdateConfig(cfg)
	d.logger.Info("configuration reloaded",
		logging.String(logging.FieldEventType, "config_reloaded"),
		logging.String("path", d.configPath),
	)
	return nil
}
