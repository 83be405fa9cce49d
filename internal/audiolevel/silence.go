package audiolevel

import "time"

// SilenceDetector reports when a stream stays below a level for a window.
type SilenceDetector struct {
	thresholdDB float64
	window      time.Duration
	sampleRate  int
	channels    int
	silentFor   time.Duration
	reported    bool
}

// NewSilenceDetector returns a detector; a zero window disables it.
func NewSilenceDetector(thresholdDB float64, window time.Duration, sampleRate, channels int) *SilenceDetector {
	return &SilenceDetector{thresholdDB: thresholdDB, window: window, sampleRate: sampleRate, channels: channels}
}

// Observe feeds one chunk. It returns true exactly once per silent stretch,
// when the stretch first reaches the window.
func (d *SilenceDetector) Observe(pcm []byte) bool {
	if d == nil || d.window <= 0 {
		return false
	}
	if DBFS(pcm) >= d.thresholdDB {
		d.silentFor = 0
		d.reported = false
		return false
	}
	d.silentFor += Duration(pcm, d.sampleRate, d.channels)
	if d.silentFor >= d.window && !d.reported {
		d.reported = true
		return true
	}
	return false
}

// SilentFor is the length of the current silent stretch.
func (d *SilenceDetector) SilentFor() time.Duration {
	if d == nil {
		return 0
	}
	return d.silentFor
}
