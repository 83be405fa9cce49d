package audiolevel

import (
	"encoding/binary"
	"time"
)

// GateConfig parameterizes a NoiseGate.
type GateConfig struct {
	ThresholdDB float64
	Attack      time.Duration
	Release     time.Duration
	Hold        time.Duration
	SampleRate  int
	Channels    int
}

// DefaultGate returns the microphone gate used when noise gating is enabled.
func DefaultGate(thresholdDB float64, sampleRate, channels int) GateConfig {
	return GateConfig{
		ThresholdDB: thresholdDB,
		Attack:      5 * time.Millisecond,
		Release:     50 * time.Millisecond,
		Hold:        100 * time.Millisecond,
		SampleRate:  sampleRate,
		Channels:    channels,
	}
}

// NoiseGate attenuates chunks whose level stays below a threshold. The gate
// opens over Attack, stays open for Hold after the signal drops, then closes
// over Release. State carries across chunks.
type NoiseGate struct {
	cfg         GateConfig
	gain        float64
	holdLeft    time.Duration
	attackStep  float64
	releaseStep float64
}

// NewNoiseGate constructs a closed gate.
func NewNoiseGate(cfg GateConfig) *NoiseGate {
	g := &NoiseGate{cfg: cfg}
	g.attackStep = step(cfg.Attack, cfg.SampleRate)
	g.releaseStep = step(cfg.Release, cfg.SampleRate)
	return g
}

func step(d time.Duration, sampleRate int) float64 {
	frames := d.Seconds() * float64(sampleRate)
	if frames < 1 {
		return 1
	}
	return 1 / frames
}

// Process applies the gate to pcm in place.
func (g *NoiseGate) Process(pcm []byte) {
	channels := max(g.cfg.Channels, 1)
	open := DBFS(pcm) >= g.cfg.ThresholdDB
	if open {
		g.holdLeft = g.cfg.Hold
	} else if g.holdLeft > 0 {
		g.holdLeft -= Duration(pcm, g.cfg.SampleRate, channels)
		open = true
	}

	frameBytes := 2 * channels
	for off := 0; off+frameBytes <= len(pcm); off += frameBytes {
		if open {
			g.gain = min(1, g.gain+g.attackStep)
		} else {
			g.gain = max(0, g.gain-g.releaseStep)
		}
		if g.gain == 1 {
			continue
		}
		for c := 0; c < channels; c++ {
			i := off + c*2
			s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * g.gain
			binary.LittleEndian.PutUint16(pcm[i:], uint16(clip(s)))
		}
	}
}
