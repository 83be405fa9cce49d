// Package reveal shows a saved recording in the platform file manager.
package reveal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"airecorder/internal/logging"
)

// Revealer surfaces a file to the user.
type Revealer interface {
	Reveal(ctx context.Context, path string) error
}

// Runner starts an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// Option customizes a System revealer.
type Option func(*System)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(s *System) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithPlatform overrides runtime.GOOS.
func WithPlatform(goos string) Option {
	return func(s *System) {
		if goos != "" {
			s.goos = goos
		}
	}
}

// System reveals files with the host's file manager: Explorer on Windows,
// Finder on macOS, and the xdg-open handler elsewhere.
type System struct {
	goos   string
	runner Runner
	logger *slog.Logger
}

// New returns a revealer for the current platform.
func New(logger *slog.Logger, opts ...Option) *System {
	s := &System{
		goos:   runtime.GOOS,
		runner: commandRunner{},
		logger: logging.NewComponentLogger(logger, "reveal"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command returns the program and arguments that reveal path.
func (s *System) Command(path string) (string, []string) {
	switch s.goos {
	case "windows":
		return "explorer", []string{"/select," + path}
	case "darwin":
		return "open", []string{"-R", path}
	default:
		// xdg-open cannot select a file; open its folder instead.
		return "xdg-open", []string{filepath.Dir(path)}
	}
}

// Reveal opens the file manager at path.
func (s *System) Reveal(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("reveal: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("reveal: resolve path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	name, args := s.Command(abs)
	s.logger.Debug("revealing file", logging.String("path", abs), logging.String("command", name))
	if err := s.runner.Run(ctx, name, args...); err != nil {
		// explorer.exe exits 1 even when it opened the window.
		var exitErr *exec.ExitError
		if s.goos == "windows" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("reveal %s: %w", abs, err)
	}
	return nil
}

type commandRunner struct{}

func (commandRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
