package testsupport

import (
	"context"
	"os"
	"sync"

	"airecorder/internal/merge"
)

// FakeEncoder stands in for FFmpeg. On success it concatenates its inputs
// into the output file so tests can check which spools were merged.
type FakeEncoder struct {
	mu       sync.Mutex
	exitCode int
	block    bool
	calls    int
	inputs   []merge.Input
	release  chan struct{}
}

// NewFakeEncoder returns an encoder that always succeeds.
func NewFakeEncoder() *FakeEncoder {
	return &FakeEncoder{}
}

// NewFailingEncoder returns an encoder that always exits with code.
func NewFailingEncoder(code int) *FakeEncoder {
	return &FakeEncoder{exitCode: code}
}

// NewBlockingEncoder returns an encoder that runs until its context ends or
// Release is called.
func NewBlockingEncoder() *FakeEncoder {
	return &FakeEncoder{block: true, release: make(chan struct{})}
}

// Release unblocks a blocking encoder, which then succeeds.
func (e *FakeEncoder) Release() {
	if e.release != nil {
		close(e.release)
	}
}

// Calls reports how many times Invoke ran.
func (e *FakeEncoder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Inputs returns the inputs of the most recent call.
func (e *FakeEncoder) Inputs() []merge.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]merge.Input(nil), e.inputs...)
}

// Invoke implements merge.Encoder.
func (e *FakeEncoder) Invoke(ctx context.Context, inputs []merge.Input, output string, _ merge.Params) (int, error) {
	e.mu.Lock()
	e.calls++
	e.inputs = append([]merge.Input(nil), inputs...)
	e.mu.Unlock()

	if e.block {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-e.release:
		}
	}
	if e.exitCode != 0 {
		return e.exitCode, nil
	}
	out, err := os.Create(output)
	if err != nil {
		return -1, err
	}
	defer out.Close()
	for _, in := range inputs {
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return 1, err
		}
		if _, err := out.Write(data); err != nil {
			return -1, err
		}
	}
	return 0, out.Close()
}
