package daemon

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"airecorder/internal/logging"
)

const reloadDebounce = 250 * time.Millisecond

// configWatcher calls onChange after the config file settles. It watches the
// parent directory because editors replace files by rename.
type configWatcher struct {
	path     string
	onChange func() error
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newConfigWatcher(path string, onChange func() error, logger *slog.Logger) *configWatcher {
	return &configWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logging.NewComponentLogger(logger, "config-watcher"),
		debounce: reloadDebounce,
	}
}

func (w *configWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.mu.Lock()
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.loop(watcher, w.stopCh, w.doneCh)
	w.logger.Info("config watcher started",
		logging.String(logging.FieldEventType, "config_watch_started"),
		logging.String("path", w.path),
	)
	return nil
}

func (w *configWatcher) loop(watcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("config file event", logging.String("op", event.Op.String()))
			w.trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", logging.Error(err))
		}
	}
}

func (w *configWatcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	stop := w.stopCh
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-stop:
			return
		default:
		}
		_ = w.onChange()
	})
}

// Stop is safe on a nil or unstarted watcher.
func (w *configWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	watcher := w.watcher
	if watcher == nil {
		w.mu.Unlock()
		return
	}
	w.watcher = nil
	close(w.stopCh)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	done := w.doneCh
	w.mu.Unlock()

	<-done
	_ = watcher.Close()
}
