package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/services"
)

func chunk(seq uint64) capture.Chunk {
	return capture.Chunk{
		Source:     capture.Microphone,
		Seq:        seq,
		Payload:    []byte(fmt.Sprintf("<%04d>", seq)),
		CapturedAt: time.Unix(1700000000, int64(seq)),
	}
}

func newFileSpooler(t *testing.T, depth int, timeout time.Duration) *Spooler {
	t.Helper()
	s, err := New(Options{
		Path:                filepath.Join(t.TempDir(), "microphone.pcm"),
		Source:              capture.Microphone,
		QueueDepth:          depth,
		BackpressureTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSpoolFileIsOrderedConcatenation(t *testing.T) {
	s := newFileSpooler(t, 8, time.Second)
	var want bytes.Buffer
	for seq := uint64(1); seq <= 500; seq++ {
		c := chunk(seq)
		want.Write(c.Payload)
		if err := s.Push(context.Background(), c); err != nil {
			t.Fatalf("Push %d: %v", seq, err)
		}
	}
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	got, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read spool: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("spool content mismatch: got %d bytes want %d", len(got), want.Len())
	}
	stats := s.Stats()
	if stats.Accepted != 500 || stats.Written != 500 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.FirstChunkAt != chunk(1).CapturedAt {
		t.Fatalf("unexpected first chunk time %v", stats.FirstChunkAt)
	}
}

func TestPushRejectsOutOfOrderChunks(t *testing.T) {
	s := newFileSpooler(t, 4, time.Second)
	defer s.Abort()
	if err := s.Push(context.Background(), chunk(2)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := s.Push(context.Background(), chunk(2)); err == nil {
		t.Fatal("expected duplicate sequence to be rejected")
	}
	if err := s.Push(context.Background(), chunk(1)); err == nil {
		t.Fatal("expected older sequence to be rejected")
	}
}

func TestPushAfterDrainIsClosed(t *testing.T) {
	s := newFileSpooler(t, 4, time.Second)
	if err := s.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if err := s.Push(context.Background(), chunk(1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// gatedSink blocks every Write until release is closed.
type gatedSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
	err     error
}

func (g *gatedSink) Write(p []byte) (int, error) {
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, g.err
	}
	return g.buf.Write(p)
}

func (g *gatedSink) Sync() error  { return nil }
func (g *gatedSink) Close() error { return nil }

func (g *gatedSink) Bytes() []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]byte(nil), g.buf.Bytes()...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBackpressureDropsOldestQueuedChunk(t *testing.T) {
	// A payload larger than the bufio buffer goes straight to the sink, so the
	// writer blocks on the gate while holding chunk 1.
	big := func(seq uint64) capture.Chunk {
		c := chunk(seq)
		c.Payload = bytes.Repeat([]byte{byte(seq)}, 70*1024)
		return c
	}
	gate := &gatedSink{release: make(chan struct{})}
	s := start(Options{Source: capture.Microphone, BackpressureTimeout: 10 * time.Millisecond}, gate, 2)

	ctx := context.Background()
	if err := s.Push(ctx, big(1)); err != nil {
		t.Fatalf("Push 1: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Queued == 0 })
	for seq := uint64(2); seq <= 3; seq++ {
		if err := s.Push(ctx, big(seq)); err != nil {
			t.Fatalf("Push %d: %v", seq, err)
		}
	}
	// Queue holds 2 and 3; pushing 4 must wait, then drop 2.
	err := s.Push(ctx, big(4))
	if !errors.Is(err, services.ErrChunksDropped) {
		t.Fatalf("expected chunks dropped, got %v", err)
	}

	close(gate.release)
	if err := s.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	var want []byte
	for _, seq := range []uint64{1, 3, 4} {
		want = append(want, big(seq).Payload...)
	}
	if !bytes.Equal(gate.Bytes(), want) {
		t.Fatalf("expected surviving chunks 1,3,4 in order (%d bytes), got %d bytes", len(want), len(gate.Bytes()))
	}
	stats := s.Stats()
	if stats.Written+stats.Dropped != stats.Accepted {
		t.Fatalf("written %d + dropped %d != accepted %d", stats.Written, stats.Dropped, stats.Accepted)
	}
	if stats.Dropped != 1 {
		t.Fatalf("expected one drop, got %d", stats.Dropped)
	}
}

func TestDrainTimeout(t *testing.T) {
	gate := &gatedSink{release: make(chan struct{})}
	t.Cleanup(func() { close(gate.release) })
	s := start(Options{Source: capture.SystemAudio, BackpressureTimeout: time.Second, AbortGrace: 50 * time.Millisecond}, gate, 4)
	c := chunk(1)
	c.Payload = make([]byte, 70*1024)
	if err := s.Push(context.Background(), c); err != nil {
		t.Fatalf("Push: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Drain(ctx)
	if !errors.Is(err, services.ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}

	// The gate stays shut: Abort must give up on the writer, not wait for it.
	aborted := make(chan bool, 1)
	go func() { aborted <- s.Abort() }()
	select {
	case finished := <-aborted:
		if finished {
			t.Fatal("writer cannot have finished while its write is blocked")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Abort blocked on a stuck writer")
	}
}

// closingSink blocks writes until Close, then fails them.
type closingSink struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *closingSink) Write(p []byte) (int, error) {
	<-c.closed
	return 0, os.ErrClosed
}

func (c *closingSink) Sync() error { return nil }

func (c *closingSink) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func TestAbortClosesSinkUnderStuckWriter(t *testing.T) {
	sink := &closingSink{closed: make(chan struct{})}
	s := start(Options{Source: capture.Microphone, BackpressureTimeout: time.Second, AbortGrace: 20 * time.Millisecond}, sink, 4)
	c := chunk(1)
	c.Payload = make([]byte, 70*1024)
	if err := s.Push(context.Background(), c); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Queued == 0 })

	began := time.Now()
	if s.Abort() {
		t.Fatal("expected Abort to give up on the blocked write")
	}
	if waited := time.Since(began); waited > time.Second {
		t.Fatalf("Abort waited %s", waited)
	}
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit after its sink was closed")
	}
	if s.Err() == nil {
		t.Fatal("expected the failed write to be recorded")
	}
}

func TestWriteFailureSurfacesOnFailedChannel(t *testing.T) {
	gate := &gatedSink{release: make(chan struct{}), err: errors.New("io error")}
	close(gate.release)
	s := start(Options{Source: capture.Screen, BackpressureTimeout: time.Second}, gate, 4)
	c := chunk(1)
	c.Payload = make([]byte, 70*1024)
	if err := s.Push(context.Background(), c); err != nil {
		t.Fatalf("Push: %v", err)
	}
	select {
	case <-s.Failed():
	case <-time.After(2 * time.Second):
		t.Fatal("expected writer failure")
	}
	if s.Err() == nil {
		t.Fatal("expected Err after failure")
	}
	if err := s.Push(context.Background(), chunk(2)); err == nil {
		t.Fatal("expected push after failure to error")
	}
	if services.IsFatal(s.Err()) {
		t.Fatal("generic I/O error must not be classified disk full")
	}
}

func TestAbortDiscardsQueue(t *testing.T) {
	gate := &gatedSink{release: make(chan struct{})}
	s := start(Options{Source: capture.Microphone, BackpressureTimeout: time.Second}, gate, 8)
	for seq := uint64(1); seq <= 4; seq++ {
		c := chunk(seq)
		c.Payload = make([]byte, 70*1024)
		if err := s.Push(context.Background(), c); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(gate.release)
	}()
	s.Abort()
	stats := s.Stats()
	if stats.Queued != 0 {
		t.Fatalf("expected empty queue after abort, got %d", stats.Queued)
	}
	if stats.Written+stats.Dropped != stats.Accepted {
		t.Fatalf("accounting mismatch %+v", stats)
	}
}
