package testsupport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/services"
)

// FakeOpener opens FakeSources. Failures and formats are set per kind.
type FakeOpener struct {
	mu       sync.Mutex
	Interval time.Duration
	Payload  []byte
	Formats  map[capture.Kind]capture.Format
	Fail     map[capture.Kind]error
	sources  map[capture.Kind]*FakeSource
	opened   []capture.Kind
}

// NewFakeOpener returns an opener producing a loud 8 kHz mono tone every 2ms.
func NewFakeOpener() *FakeOpener {
	return &FakeOpener{
		Interval: 2 * time.Millisecond,
		Payload:  Tone(160, 1, 8000),
		Formats:  map[capture.Kind]capture.Format{},
		Fail:     map[capture.Kind]error{},
		sources:  map[capture.Kind]*FakeSource{},
	}
}

// Open implements capture.Opener.
func (o *FakeOpener) Open(_ context.Context, kind capture.Kind, _ capture.Config) (capture.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.Fail[kind]; err != nil {
		return nil, err
	}
	format, ok := o.Formats[kind]
	if !ok {
		if kind.IsAudio() {
			format = capture.PCMFormat(8000, 1)
		} else {
			format = capture.Format{Container: capture.ContainerMPEGTS, FPS: 15}
		}
	}
	src := &FakeSource{
		kind:     kind,
		format:   format,
		payload:  append([]byte(nil), o.Payload...),
		interval: o.Interval,
		fail:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
	o.sources[kind] = src
	o.opened = append(o.opened, kind)
	return src, nil
}

// Source returns the most recent source opened for kind.
func (o *FakeOpener) Source(kind capture.Kind) *FakeSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sources[kind]
}

// Opened lists the kinds opened so far, in order.
func (o *FakeOpener) Opened() []capture.Kind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]capture.Kind(nil), o.opened...)
}

// FakeSource emits a fixed payload at a fixed interval.
type FakeSource struct {
	kind     capture.Kind
	format   capture.Format
	payload  []byte
	interval time.Duration

	mu        sync.Mutex
	seq       uint64
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *FakeSource) Kind() capture.Kind     { return s.kind }
func (s *FakeSource) Format() capture.Format { return s.format }

// Disconnect makes the next read fail as if the device vanished.
func (s *FakeSource) Disconnect() {
	select {
	case s.fail <- services.Wrap(services.ErrDeviceDisconnected, "fake", "read "+string(s.kind), "unplugged", nil):
	default:
	}
}

// Stall makes the next read return a transient error.
func (s *FakeSource) Stall() {
	select {
	case s.fail <- services.Wrap(services.ErrTransient, "fake", "read "+string(s.kind), "stalled", nil):
	default:
	}
}

// Chunks reports how many chunks were read.
func (s *FakeSource) Chunks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Closed reports whether Close was called.
func (s *FakeSource) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// ReadChunk implements capture.Source.
func (s *FakeSource) ReadChunk(ctx context.Context) (capture.Chunk, error) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return capture.Chunk{}, ctx.Err()
	case <-s.closed:
		return capture.Chunk{}, io.EOF
	case err := <-s.fail:
		return capture.Chunk{}, err
	case <-timer.C:
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	return capture.Chunk{
		Source:     s.kind,
		Seq:        seq,
		Payload:    append([]byte(nil), s.payload...),
		CapturedAt: time.Now(),
	}, nil
}

// Close implements capture.Source.
func (s *FakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *FakeSource) String() string {
	return fmt.Sprintf("fake %s source", s.kind)
}
