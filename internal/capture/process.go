package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Process is a running capture subprocess streaming to stdout.
type Process interface {
	Stdout() io.Reader
	// Wait reaps the process. It must only be called after Stdout hit EOF.
	Wait() error
	// Stop asks the process to finish, killing it after grace.
	Stop(grace time.Duration) error
	// StderrTail returns the last lines written to stderr.
	StderrTail() string
}

// Starter launches capture subprocesses. Tests inject fakes.
type Starter interface {
	Start(ctx context.Context, binary string, args []string) (Process, error)
}

type commandStarter struct{}

func (commandStarter) Start(_ context.Context, binary string, args []string) (Process, error) {
	// Lifetime is owned by Stop rather than a context so an interrupted session
	// can still ask FFmpeg to flush its muxer.
	cmd := exec.Command(binary, args...) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &tailBuffer{limit: 4096}
	cmd.Stderr = tail
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	return &commandProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: tail, done: make(chan struct{})}, nil
}

type commandProcess struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.Reader
	stderr   *tailBuffer
	done     chan struct{}
	waitOnce sync.Once
	waitErr  error
	stopOnce sync.Once
}

func (p *commandProcess) Stdout() io.Reader { return p.stdout }

func (p *commandProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
	<-p.done
	return p.waitErr
}

func (p *commandProcess) Stop(grace time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		// "q" is FFmpeg's interactive quit; it finalizes the output stream.
		_, _ = io.WriteString(p.stdin, "q\n")
		_ = p.stdin.Close()
		select {
		case <-p.done:
			return
		case <-time.After(grace):
		}
		if p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
	})
	return err
}

func (p *commandProcess) StderrTail() string { return p.stderr.String() }

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
