package wavexport_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"airecorder/internal/capture"
	"airecorder/internal/services"
	"airecorder/internal/spool"
	"airecorder/internal/testsupport"
	"airecorder/internal/wavexport"
)

func TestExportTrackWritesReadableWAV(t *testing.T) {
	dir := t.TempDir()
	pcm := testsupport.Tone(1000, 2, 4000)
	src := filepath.Join(dir, "microphone.pcm")
	// A dangling byte must not become a partial frame.
	testsupport.WriteFile(t, src, append(pcm, 0x7f))
	dst := filepath.Join(dir, "out.wav")

	frames, err := wavexport.ExportTrack(src, capture.PCMFormat(22050, 2), dst)
	if err != nil {
		t.Fatalf("ExportTrack: %v", err)
	}
	if frames != 1000 {
		t.Fatalf("frames = %d, want 1000", frames)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("exported file is not a valid WAV")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 22050 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Fatalf("unexpected header: %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) != 2000 {
		t.Fatalf("decoded %d samples, want 2000", len(buf.Data))
	}
	first := int(int16(uint16(pcm[0]) | uint16(pcm[1])<<8))
	if buf.Data[0] != first {
		t.Fatalf("first sample %d, want %d", buf.Data[0], first)
	}
}

func TestExportSkipsVideoAndEmptyTracks(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(dir, "microphone.pcm"), testsupport.Tone(200, 1, 3000))
	testsupport.WriteFile(t, filepath.Join(dir, "system_audio.pcm"), testsupport.Tone(100, 1, 3000))
	testsupport.WriteFile(t, filepath.Join(dir, "screen.ts"), []byte("video"))
	m := spool.Manifest{
		SessionID: "abc",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local),
		Tracks: []spool.ManifestTrack{
			{Source: capture.Screen, File: "screen.ts", Format: capture.Format{Container: capture.ContainerMPEGTS}, Bytes: 5},
			{Source: capture.Microphone, File: "microphone.pcm", Format: capture.PCMFormat(8000, 1), Bytes: 400},
			{Source: capture.SystemAudio, File: "system_audio.pcm", Format: capture.PCMFormat(8000, 1), Bytes: 200, Lost: true},
		},
	}
	out := filepath.Join(t.TempDir(), "exports")

	results, err := wavexport.Export(dir, m, out)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 exports, got %+v", results)
	}
	if got := filepath.Base(results[0].Path); got != "recording_20260102_030405_microphone.wav" {
		t.Fatalf("unexpected name %q", got)
	}
	if results[1].Source != capture.SystemAudio || results[1].Frames != 100 {
		t.Fatalf("lost track should still export, got %+v", results[1])
	}
}

func TestExportWithoutAudio(t *testing.T) {
	m := spool.Manifest{SessionID: "v", Tracks: []spool.ManifestTrack{
		{Source: capture.Screen, File: "screen.ts", Format: capture.Format{Container: capture.ContainerMPEGTS}, Bytes: 5},
	}}
	_, err := wavexport.Export(t.TempDir(), m, t.TempDir())
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
