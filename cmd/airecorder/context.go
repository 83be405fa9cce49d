package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"airecorder/internal/config"
	"airecorder/internal/ipc"
	"airecorder/internal/store"
)

// annotationNoConfig marks commands that must run without a loadable config.
const annotationNoConfig = "airecorder/no-config"

// commandContext carries the persistent flags and lazily loaded config shared
// by every subcommand.
type commandContext struct {
	socket     string
	configFlag string

	load       sync.Once
	cfg        *config.Config
	cfgErr     error
	configPath string // empty when defaults were used
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.load.Do(func() {
		cfg, resolved, exists, err := config.Load(strings.TrimSpace(c.configFlag))
		if err == nil {
			err = cfg.EnsureDirectories()
		}
		if err != nil {
			c.cfgErr = err
			return
		}
		c.cfg = cfg
		if exists {
			c.configPath = resolved
		}
	})
	return c.cfg, c.cfgErr
}

func (c *commandContext) socketPath() string {
	if s := strings.TrimSpace(c.socket); s != "" {
		return s
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return filepath.Join(os.TempDir(), "airecorder.sock")
	}
	return cfg.SocketPath()
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, explainDialError(socket, err)
	}
	return client, nil
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

// daemonRunning reports whether airecorderd answers on the socket.
func (c *commandContext) daemonRunning() bool {
	client, err := ipc.Dial(c.socketPath())
	if err == nil {
		_ = client.Close()
	}
	return err == nil
}

// withStore opens the session journal for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *store.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()
	return fn(cfg, st)
}

func explainDialError(socket string, err error) error {
	if errors.Is(err, syscall.ENOENT) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("connect to daemon: no socket at %s; start airecorderd or record in the foreground with `airecorder record`", socket)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; airecorderd is probably not running", socket)
	}
	return fmt.Errorf("connect to daemon: %w", err)
}

func needsConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if _, ok := cmd.Annotations[annotationNoConfig]; ok {
			return false
		}
	}
	return true
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
