// Package audiolevel measures and shapes signed 16-bit little-endian PCM.
package audiolevel

import (
	"encoding/binary"
	"math"
	"time"
)

// Floor is the level reported for digital silence.
const Floor = -120.0

// RMS returns the root-mean-square amplitude of pcm normalized to [0, 1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// DBFS returns the RMS level of pcm in decibels relative to full scale.
func DBFS(pcm []byte) float64 {
	rms := RMS(pcm)
	if rms <= 0 {
		return Floor
	}
	db := 20 * math.Log10(rms)
	if db < Floor {
		return Floor
	}
	return db
}

// ApplyGain scales pcm in place, clipping at the int16 range.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain
		binary.LittleEndian.PutUint16(pcm[i:], uint16(clip(s)))
	}
}

func clip(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

// Duration returns the playback length of pcm at the given rate.
func Duration(pcm []byte, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(pcm) / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
