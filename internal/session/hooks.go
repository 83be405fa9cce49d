package session

import (
	"context"
	"strings"

	"airecorder/internal/capture"
	"airecorder/internal/store"
)

// Journal persists session records on every state transition.
type Journal interface {
	Save(ctx context.Context, rec store.Record) error
}

// Observer receives session telemetry. Implementations must not block.
type Observer interface {
	StateChanged(from, to State)
	SessionFinished(snap Snapshot)
	ChunkSpooled(kind capture.Kind, bytes int)
	ChunksDropped(kind capture.Kind, n int)
	SourceLost(kind capture.Kind, cause string)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)       {}
func (nopObserver) SessionFinished(Snapshot)        {}
func (nopObserver) ChunkSpooled(capture.Kind, int)  {}
func (nopObserver) ChunksDropped(capture.Kind, int) {}
func (nopObserver) SourceLost(capture.Kind, string) {}

// Record converts a snapshot into its journal row.
func Record(snap Snapshot) store.Record {
	rec := store.Record{
		ID:           snap.ID,
		State:        string(snap.State),
		StartedAt:    snap.StartedAt,
		StoppedAt:    snap.StoppedAt,
		SpoolDir:     snap.SpoolDir,
		OutputPath:   snap.OutputPath,
		OutputBytes:  snap.OutputBytes,
		Cause:        snap.Cause,
		ErrorMessage: snap.Message,
		Warnings:     append([]string(nil), snap.Warnings...),
	}
	for _, k := range snap.Sources {
		rec.Sources = append(rec.Sources, string(k))
	}
	for _, t := range snap.Tracks {
		rec.Tracks = append(rec.Tracks, store.Track{
			Source:       string(t.Source),
			Chunks:       t.Chunks,
			Dropped:      t.Dropped,
			Bytes:        t.Bytes,
			Lost:         t.Lost,
			ErrorMessage: t.Error,
		})
	}
	return rec
}

// matchesDevice reports whether a removed device, described by its udev
// properties, is the configured capture device name.
func matchesDevice(configured string, props map[string]string) bool {
	configured = strings.ToLower(strings.TrimSpace(configured))
	if configured == "" {
		return false
	}
	for _, key := range []string{"ID_MODEL", "ID_MODEL_FROM_DATABASE", "ID_SERIAL", "ID_SERIAL_SHORT", "NAME", "ID_VENDOR"} {
		value := strings.ToLower(strings.Trim(strings.TrimSpace(props[key]), `"`))
		if value == "" {
			continue
		}
		value = strings.ReplaceAll(value, "_", " ")
		if strings.Contains(strings.ReplaceAll(configured, "_", " "), value) {
			return true
		}
	}
	return false
}
