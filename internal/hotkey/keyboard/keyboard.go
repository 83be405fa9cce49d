// Package keyboard registers the global toggle key combination with the
// desktop session. It needs a display server: X11 on Linux, and on macOS the
// process must run its main loop through golang.design/x/mainthread.
package keyboard

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/hotkey"

	hk "airecorder/internal/hotkey"
	"airecorder/internal/logging"
)

const repeatWindow = 300 * time.Millisecond

var keys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
	"space":  hotkey.KeySpace,
	"return": hotkey.KeyReturn,
	"escape": hotkey.KeyEscape,
	"tab":    hotkey.KeyTab,
	"delete": hotkey.KeyDelete,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
}

// Resolve maps a parsed binding onto the platform's key codes.
func Resolve(b hk.Binding) ([]hotkey.Modifier, hotkey.Key, error) {
	key, ok := keys[b.Key]
	if !ok {
		return nil, 0, fmt.Errorf("key %q is not supported by the global hotkey backend", b.Key)
	}
	mods := make([]hotkey.Modifier, 0, len(b.Modifiers))
	for _, name := range b.Modifiers {
		mod, ok := modifiers[name]
		if !ok {
			return nil, 0, fmt.Errorf("modifier %q is not supported on this platform", name)
		}
		mods = append(mods, mod)
	}
	return mods, key, nil
}

// Global is a hotkey.Bridge backed by a registered system-wide shortcut.
type Global struct {
	binding hk.Binding
	key     *hotkey.Hotkey
	events  chan hk.Event
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	err     error
	logger  *slog.Logger
}

// Register claims the binding for this process.
func Register(b hk.Binding, logger *slog.Logger) (*Global, error) {
	mods, key, err := Resolve(b)
	if err != nil {
		return nil, err
	}
	g := &Global{
		binding: b,
		key:     hotkey.New(mods, key),
		events:  make(chan hk.Event, 1),
		done:    make(chan struct{}),
		logger:  logging.NewComponentLogger(logger, "hotkey"),
	}
	if err := g.key.Register(); err != nil {
		return nil, fmt.Errorf("register hotkey %s: %w", b, err)
	}
	g.logger.Info("global hotkey registered",
		logging.String(logging.FieldEventType, "hotkey_registered"),
		logging.String("binding", b.String()),
	)
	g.wg.Add(1)
	go g.run()
	return g, nil
}

func (g *Global) run() {
	defer g.wg.Done()
	last := time.Time{}
	keydown := g.key.Keydown()
	for {
		select {
		case <-g.done:
			return
		case _, ok := <-keydown:
			if !ok {
				return
			}
			now := time.Now()
			if !last.IsZero() && now.Sub(last) < repeatWindow {
				continue
			}
			last = now
			select {
			case g.events <- hk.Event{Type: hk.Toggle, At: now, Origin: "hotkey"}:
			default:
				g.logger.Debug("hotkey press dropped; previous toggle still pending")
			}
		}
	}
}

// Events implements hotkey.Bridge.
func (g *Global) Events() <-chan hk.Event { return g.events }

// Close unregisters the shortcut.
func (g *Global) Close() error {
	g.once.Do(func() {
		close(g.done)
		if err := g.key.Unregister(); err != nil {
			g.err = fmt.Errorf("unregister hotkey %s: %w", g.binding, err)
		}
		g.wg.Wait()
		close(g.events)
	})
	return g.err
}

var _ hk.Bridge = (*Global)(nil)
