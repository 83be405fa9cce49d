package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"airecorder/internal/capture"
	"airecorder/internal/services"
)

// ManifestName is the manifest file inside a session spool directory.
const ManifestName = "manifest.yaml"

// Manifest describes the spools of one session.
type Manifest struct {
	SessionID string          `yaml:"session_id"`
	StartedAt time.Time       `yaml:"started_at"`
	StoppedAt time.Time       `yaml:"stopped_at,omitempty"`
	OutputDir string          `yaml:"output_dir"`
	Tracks    []ManifestTrack `yaml:"tracks"`
}

// ManifestTrack describes one source's spool file.
type ManifestTrack struct {
	Source       capture.Kind   `yaml:"source"`
	File         string         `yaml:"file"`
	Format       capture.Format `yaml:"format"`
	FirstChunkAt time.Time      `yaml:"first_chunk_at,omitempty"`
	Chunks       uint64         `yaml:"chunks"`
	Dropped      uint64         `yaml:"dropped"`
	Bytes        int64          `yaml:"bytes"`
	Lost         bool           `yaml:"lost,omitempty"`
	Error        string         `yaml:"error,omitempty"`
}

// Usable reports whether the track's data can feed a merge.
func (t ManifestTrack) Usable() bool {
	return !t.Lost && t.Bytes > 0
}

// SessionDir returns the spool directory of a session under root.
func SessionDir(root, sessionID string) string {
	return filepath.Join(root, sessionID)
}

// FileName returns the spool file name for a source in format.
func FileName(kind capture.Kind, format capture.Format) string {
	return string(kind) + "." + format.Extension()
}

// WriteManifest atomically replaces the manifest in dir.
func WriteManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.yaml")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, ManifestName)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest from dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, services.Wrap(services.ErrNotFound, "spool", "read manifest", dir, err)
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Remove deletes a session spool directory.
func Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove spool dir: %w", err)
	}
	return nil
}
