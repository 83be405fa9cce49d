package spool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/fileutil"
	"airecorder/internal/logging"
	"airecorder/internal/services"
)

// ErrClosed is returned by Push after Drain or Abort.
var ErrClosed = errors.New("spool closed")

// Options configures a Spooler.
type Options struct {
	Path                string
	Source              capture.Kind
	QueueDepth          int
	BackpressureTimeout time.Duration
	// AbortGrace bounds how long Abort waits for a writer stuck in a write.
	// Zero means DefaultAbortGrace.
	AbortGrace time.Duration
	// Create opens the spool file. Nil creates Path exclusively on disk.
	Create func(path string) (Sink, error)
	Logger *slog.Logger
}

// DefaultAbortGrace is the Abort wait used when Options.AbortGrace is zero.
const DefaultAbortGrace = time.Second

// Stats is a snapshot of a spooler's counters.
type Stats struct {
	Accepted     uint64
	Written      uint64
	Dropped      uint64
	Queued       int
	Bytes        int64
	LastSeq      uint64
	FirstChunkAt time.Time
}

// Sink is where a spooler writes its file.
type Sink interface {
	Write(p []byte) (int, error)
	Sync() error
	Close() error
}

// Spooler buffers chunks for one source and writes them to Path.
type Spooler struct {
	path    string
	source  capture.Kind
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	file      Sink
	closeOnce sync.Once
	closeErr  error
	w         *bufio.Writer

	mu      sync.Mutex
	ring    []capture.Chunk
	head    int
	count   int
	closed  bool
	aborted bool
	stats   Stats
	err     error

	wake     chan struct{}
	space    chan struct{}
	done     chan struct{}
	failed   chan struct{}
	failOnce sync.Once
}

// New creates the spool file and starts the writer goroutine.
func New(opts Options) (*Spooler, error) {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = 1
	}
	create := opts.Create
	if create == nil {
		create = createFile
	}
	file, err := create(opts.Path)
	if err != nil {
		if fileutil.IsDiskFull(err) {
			return nil, services.Wrap(services.ErrDiskFull, "spool", "create", opts.Path, err)
		}
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return start(opts, file, depth), nil
}

func createFile(path string) (Sink, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

func start(opts Options, file Sink, depth int) *Spooler {
	s := &Spooler{
		path:    opts.Path,
		source:  opts.Source,
		timeout: opts.BackpressureTimeout,
		grace:   opts.AbortGrace,
		logger:  logging.NewComponentLogger(opts.Logger, "spool").With(logging.String(logging.FieldSource, string(opts.Source))),
		file:    file,
		w:       bufio.NewWriterSize(file, 64*1024),
		ring:    make([]capture.Chunk, depth),
		wake:    make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		failed:  make(chan struct{}),
	}
	if s.grace <= 0 {
		s.grace = DefaultAbortGrace
	}
	go s.run()
	return s
}

// Path returns the spool file location.
func (s *Spooler) Path() string { return s.path }

// Push queues chunk. It blocks while the FIFO is full, up to the backpressure
// timeout; then it drops the oldest queued chunk and returns an error marked
// services.ErrChunksDropped. The pushed chunk itself is always queued unless
// Push returns a different error.
func (s *Spooler) Push(ctx context.Context, chunk capture.Chunk) error {
	s.mu.Lock()
	if err := s.acceptLocked(chunk); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.count < len(s.ring) {
		s.enqueueLocked(chunk)
		s.mu.Unlock()
		kick(s.wake)
		return nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.space:
			s.mu.Lock()
			if s.closed {
				s.stats.Dropped++
				s.mu.Unlock()
				return ErrClosed
			}
			if s.count < len(s.ring) {
				s.enqueueLocked(chunk)
				s.mu.Unlock()
				kick(s.wake)
				return nil
			}
			s.mu.Unlock()
		case <-timer.C:
			s.mu.Lock()
			if s.closed {
				s.stats.Dropped++
				s.mu.Unlock()
				return ErrClosed
			}
			var dropped uint64
			if s.count == len(s.ring) {
				s.ring[s.head] = capture.Chunk{}
				s.head = (s.head + 1) % len(s.ring)
				s.count--
				s.stats.Dropped++
				dropped = s.stats.Dropped
			}
			s.enqueueLocked(chunk)
			s.mu.Unlock()
			kick(s.wake)
			if dropped == 0 {
				return nil
			}
			return services.Wrap(services.ErrChunksDropped, "spool", "push "+string(s.source),
				fmt.Sprintf("writer behind for %s; %d chunks dropped", s.timeout, dropped), nil)
		case <-s.failed:
			s.mu.Lock()
			s.stats.Dropped++
			err := s.err
			s.mu.Unlock()
			return err
		case <-ctx.Done():
			s.mu.Lock()
			s.stats.Dropped++
			s.mu.Unlock()
			return ctx.Err()
		}
	}
}

func (s *Spooler) acceptLocked(chunk capture.Chunk) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return ErrClosed
	}
	if chunk.Seq <= s.stats.LastSeq {
		return fmt.Errorf("spool %s: chunk %d out of order after %d", s.source, chunk.Seq, s.stats.LastSeq)
	}
	s.stats.LastSeq = chunk.Seq
	s.stats.Accepted++
	if s.stats.FirstChunkAt.IsZero() {
		s.stats.FirstChunkAt = chunk.CapturedAt
	}
	return nil
}

func (s *Spooler) enqueueLocked(chunk capture.Chunk) {
	s.ring[(s.head+s.count)%len(s.ring)] = chunk
	s.count++
}

func kick(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Spooler) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.count == 0 && !s.closed && !s.aborted {
			s.mu.Unlock()
			if err := s.w.Flush(); err != nil {
				s.fail(err)
				return
			}
			<-s.wake
			s.mu.Lock()
		}
		if s.aborted || s.count == 0 {
			s.mu.Unlock()
			s.finish()
			return
		}
		chunk := s.ring[s.head]
		s.ring[s.head] = capture.Chunk{}
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.mu.Unlock()
		kick(s.space)

		n, err := s.w.Write(chunk.Payload)
		if err != nil {
			s.mu.Lock()
			s.stats.Dropped++
			s.mu.Unlock()
			s.fail(err)
			return
		}
		s.mu.Lock()
		s.stats.Written++
		s.stats.Bytes += int64(n)
		s.mu.Unlock()
	}
}

// finish flushes, syncs, and closes the file.
func (s *Spooler) finish() {
	if err := s.w.Flush(); err != nil {
		s.fail(err)
		return
	}
	if err := s.file.Sync(); err != nil {
		s.fail(err)
		return
	}
	if err := s.closeFile(); err != nil {
		s.fail(err)
	}
}

func (s *Spooler) closeFile() error {
	s.closeOnce.Do(func() { s.closeErr = s.file.Close() })
	return s.closeErr
}

func (s *Spooler) fail(err error) {
	s.failOnce.Do(func() {
		var wrapped error
		if fileutil.IsDiskFull(err) {
			wrapped = services.Wrap(services.ErrDiskFull, "spool", "write "+string(s.source), s.path, err)
		} else {
			wrapped = services.Wrap(services.ErrTransient, "spool", "write "+string(s.source), s.path, err)
		}
		s.mu.Lock()
		s.err = wrapped
		s.stats.Dropped += uint64(s.count)
		s.count = 0
		aborted := s.aborted
		s.mu.Unlock()
		_ = s.closeFile()
		defer close(s.failed)
		if aborted {
			s.logger.Debug("spool writer exited after abort", logging.Error(err))
			return
		}
		logging.ErrorWithContext(s.logger, "spool write failed", "spool_write_failed",
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space on the spool volume"),
		)
	})
}

// Failed is closed when the writer hits an unrecoverable write error.
func (s *Spooler) Failed() <-chan struct{} { return s.failed }

// Err returns the writer failure, if any.
func (s *Spooler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drain closes intake and waits until every queued chunk is on disk. When
// ctx expires first it returns an error marked services.ErrDrainTimeout; the
// writer keeps going until Abort.
func (s *Spooler) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	kick(s.wake)
	kick(s.space)

	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		stats := s.Stats()
		return services.Wrap(services.ErrDrainTimeout, "spool", "drain "+string(s.source),
			fmt.Sprintf("%d chunks still queued", stats.Queued), ctx.Err())
	}
}

// Abort discards queued chunks and waits for the writer to exit, at most
// the abort grace. A writer still stuck in a write after that has its file
// closed underneath it and exits on its own; Abort reports whether the
// writer finished in time.
func (s *Spooler) Abort() bool {
	s.mu.Lock()
	if !s.aborted {
		s.aborted = true
		s.closed = true
		s.stats.Dropped += uint64(s.count)
		for s.count > 0 {
			s.ring[s.head] = capture.Chunk{}
			s.head = (s.head + 1) % len(s.ring)
			s.count--
		}
	}
	s.mu.Unlock()
	kick(s.wake)
	kick(s.space)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
	}
	logging.WarnWithContext(s.logger, "spool writer stuck; abandoning it", "spool_writer_stuck",
		logging.String("path", s.path),
		logging.Duration("waited", s.grace),
		logging.String(logging.FieldErrorHint, "check the spool volume for hung I/O"),
		logging.String(logging.FieldImpact, "the tail of this source is lost"),
	)
	// Close can block on some sinks; the writer owns cleanup from here.
	go func() { _ = s.closeFile() }()
	return false
}

// Stats returns a snapshot of the counters.
func (s *Spooler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Queued = s.count
	return st
}
