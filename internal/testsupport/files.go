package testsupport

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Tone returns frames of 16-bit little-endian PCM alternating between
// +amplitude and -amplitude on every channel.
func Tone(frames, channels int, amplitude int16) []byte {
	buf := make([]byte, frames*channels*2)
	for f := 0; f < frames; f++ {
		v := amplitude
		if f%2 == 1 {
			v = -amplitude
		}
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(buf[(f*channels+c)*2:], uint16(v))
		}
	}
	return buf
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
