package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"airecorder/internal/capture"
	"airecorder/internal/spool"
)

// SpoolCreate builds a spool file opener that hands kind's spool to sink and
// creates every other spool on disk as usual.
func SpoolCreate(kind capture.Kind, sink func(path string) spool.Sink) func(string) (spool.Sink, error) {
	return func(path string) (spool.Sink, error) {
		if strings.HasPrefix(filepath.Base(path), string(kind)+".") {
			return sink(path), nil
		}
		return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
}

// FullDisk returns a sink whose writes fail with ENOSPC. The file is still
// created so the spool directory looks as it would on a full volume.
func FullDisk(path string) spool.Sink {
	_ = os.WriteFile(path, nil, 0o644)
	return fullDiskSink{path: path}
}

type fullDiskSink struct{ path string }

func (s fullDiskSink) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: s.path, Err: syscall.ENOSPC}
}
func (fullDiskSink) Sync() error  { return nil }
func (fullDiskSink) Close() error { return nil }

// HungDisk returns a sink whose writes block until it is closed, then fail.
func HungDisk(path string) spool.Sink {
	_ = os.WriteFile(path, nil, 0o644)
	return &hungSink{path: path, closed: make(chan struct{})}
}

type hungSink struct {
	path      string
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *hungSink) Write([]byte) (int, error) {
	<-s.closed
	return 0, &os.PathError{Op: "write", Path: s.path, Err: os.ErrClosed}
}
func (s *hungSink) Sync() error { return nil }
func (s *hungSink) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
