// Package wavexport converts preserved PCM spools to WAV files without the
// external encoder, so audio survives a session whose merge failed.
package wavexport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"airecorder/internal/capture"
	"airecorder/internal/fileutil"
	"airecorder/internal/merge"
	"airecorder/internal/services"
	"airecorder/internal/spool"
)

const bitDepth = 16

// framesPerWrite bounds the conversion buffer.
const framesPerWrite = 4096

// Result describes one exported track.
type Result struct {
	Source capture.Kind
	Path   string
	Frames int64
}

// Export writes one WAV per non-empty PCM track of the session spooled in
// dir. Lost tracks are included: their audio up to the failure is still
// on disk.
func Export(dir string, m spool.Manifest, outDir string) ([]Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	base := merge.OutputBase(m.StartedAt, false)
	var results []Result
	for _, t := range m.Tracks {
		if !t.Format.IsPCM() || t.Bytes == 0 || t.File == "" {
			continue
		}
		src := t.File
		if !filepath.IsAbs(src) {
			src = filepath.Join(dir, src)
		}
		dst, err := fileutil.UniquePath(outDir, base+"_"+string(t.Source), ".wav")
		if err != nil {
			return results, err
		}
		frames, err := ExportTrack(src, t.Format, dst)
		if err != nil {
			return results, fmt.Errorf("export %s: %w", t.Source, err)
		}
		results = append(results, Result{Source: t.Source, Path: dst, Frames: frames})
	}
	if len(results) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "wavexport", "export", "session "+m.SessionID+" has no audio spools", nil)
	}
	return results, nil
}

// ExportTrack converts the raw s16le file src into a WAV at dst and returns
// the number of frames written. A trailing partial frame is dropped.
func ExportTrack(src string, format capture.Format, dst string) (int64, error) {
	if !format.IsPCM() || format.SampleRate <= 0 || format.Channels <= 0 {
		return 0, fmt.Errorf("unsupported spool format %+v", format)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	frames, err := encode(bufio.NewReader(in), out, format)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		if fileutil.IsDiskFull(err) {
			return 0, services.Wrap(services.ErrDiskFull, "wavexport", "write", dst, err)
		}
		return 0, err
	}
	return frames, nil
}

func encode(r io.Reader, w io.WriteSeeker, format capture.Format) (int64, error) {
	enc := wav.NewEncoder(w, format.SampleRate, bitDepth, format.Channels, 1)
	frameBytes := format.Channels * 2
	raw := make([]byte, framesPerWrite*frameBytes)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, framesPerWrite*format.Channels),
		SourceBitDepth: bitDepth,
	}
	var frames int64
	for {
		n, err := io.ReadFull(r, raw)
		n -= n % frameBytes
		if n > 0 {
			samples := n / 2
			for i := 0; i < samples; i++ {
				buf.Data[i] = int(int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8))
			}
			chunk := &audio.IntBuffer{Format: buf.Format, Data: buf.Data[:samples], SourceBitDepth: bitDepth}
			if werr := enc.Write(chunk); werr != nil {
				return frames, fmt.Errorf("write wav: %w", werr)
			}
			frames += int64(n / frameBytes)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return frames, fmt.Errorf("read spool: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return frames, fmt.Errorf("finalize wav: %w", err)
	}
	return frames, nil
}
