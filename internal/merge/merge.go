package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/config"
	"airecorder/internal/spool"
)

// Input is one spool file fed to the encoder.
type Input struct {
	Source capture.Kind
	Path   string
	Format capture.Format
	// Offset delays this input relative to the earliest one.
	Offset time.Duration
}

// Params is the target container and codec set.
type Params struct {
	AudioContainer string
	AudioCodec     string
	AudioBitrate   string
	VideoCodec     string
	VideoCRF       int
	VideoPreset    string
}

// ParamsFromConfig maps the encoder config section to merge parameters.
func ParamsFromConfig(enc config.Encoder) Params {
	return Params{
		AudioContainer: enc.AudioContainer,
		AudioCodec:     enc.AudioCodec,
		AudioBitrate:   enc.AudioBitrate,
		VideoCodec:     enc.VideoCodec,
		VideoCRF:       enc.VideoCRF,
		VideoPreset:    enc.VideoPreset,
	}
}

// Extension returns the output file extension, including the dot.
func (p Params) Extension(hasVideo bool) string {
	if hasVideo {
		return ".mp4"
	}
	if p.AudioContainer == "" {
		return ".mp3"
	}
	return "." + p.AudioContainer
}

// Job describes one merge.
type Job struct {
	SessionID string
	StartedAt time.Time
	Inputs    []Input
	OutputDir string
	WorkDir   string
	Params    Params
}

// HasVideo reports whether any input carries video.
func (j Job) HasVideo() bool {
	for _, in := range j.Inputs {
		if !in.Format.IsPCM() {
			return true
		}
	}
	return false
}

// Result describes a published output.
type Result struct {
	OutputPath string
	Bytes      int64
	Elapsed    time.Duration
}

// Encoder runs one encode of inputs into output. A non-zero exitCode means
// the encoder ran and failed; err reports failures to run it at all.
type Encoder interface {
	Invoke(ctx context.Context, inputs []Input, output string, params Params) (exitCode int, err error)
}

// ErrNoInputs is returned when a job has nothing to merge.
var ErrNoInputs = errors.New("no usable inputs")

// InputsFromManifest builds the merge inputs for the usable tracks in a
// session manifest, aligned on their first captured chunk. Video comes first
// so encoder stream indexes are stable.
func InputsFromManifest(dir string, m spool.Manifest) ([]Input, error) {
	var inputs []Input
	var earliest time.Time
	for _, t := range m.Tracks {
		if !t.Usable() {
			continue
		}
		if !t.FirstChunkAt.IsZero() && (earliest.IsZero() || t.FirstChunkAt.Before(earliest)) {
			earliest = t.FirstChunkAt
		}
	}
	for _, t := range m.Tracks {
		if !t.Usable() {
			continue
		}
		var offset time.Duration
		if !t.FirstChunkAt.IsZero() && !earliest.IsZero() {
			offset = t.FirstChunkAt.Sub(earliest)
		}
		inputs = append(inputs, Input{
			Source: t.Source,
			Path:   spoolPath(dir, t.File),
			Format: t.Format,
			Offset: offset,
		})
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("session %s: %w", m.SessionID, ErrNoInputs)
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		return !inputs[i].Format.IsPCM() && inputs[j].Format.IsPCM()
	})
	return inputs, nil
}

// OutputBase returns the file name stem for a session's output.
func OutputBase(startedAt time.Time, hasVideo bool) string {
	prefix := "recording_"
	if hasVideo {
		prefix = "screen_recording_"
	}
	return prefix + startedAt.Local().Format("20060102_150405")
}

func spoolPath(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
