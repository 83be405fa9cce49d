package audiolevel_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"airecorder/internal/audiolevel"
)

func tone(frames, channels int, amplitude int16) []byte {
	buf := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		v := amplitude
		if (i/channels)%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

func sample(buf []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[i*2:]))
}

func TestDBFS(t *testing.T) {
	if got := audiolevel.DBFS(make([]byte, 64)); got != audiolevel.Floor {
		t.Fatalf("silence = %v, want floor", got)
	}
	full := tone(64, 1, math.MaxInt16)
	if got := audiolevel.DBFS(full); got < -0.01 {
		t.Fatalf("full scale square wave = %v dB, want ~0", got)
	}
	half := tone(64, 1, 16384)
	if got := audiolevel.DBFS(half); math.Abs(got-(-6.02)) > 0.05 {
		t.Fatalf("half scale = %v dB, want ~-6", got)
	}
}

func TestApplyGainClips(t *testing.T) {
	buf := tone(4, 1, 20000)
	audiolevel.ApplyGain(buf, 2)
	if got := sample(buf, 0); got != math.MaxInt16 {
		t.Fatalf("expected positive clip, got %d", got)
	}
	if got := sample(buf, 1); got != math.MinInt16 {
		t.Fatalf("expected negative clip, got %d", got)
	}
	quiet := tone(4, 1, 1000)
	audiolevel.ApplyGain(quiet, 0.5)
	if got := sample(quiet, 0); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	pcm := make([]byte, 22050*2*2)
	if got := audiolevel.Duration(pcm, 22050, 2); got != time.Second {
		t.Fatalf("Duration = %v, want 1s", got)
	}
}

func TestNoiseGateSilencesQuietAndPassesLoud(t *testing.T) {
	gate := audiolevel.NewNoiseGate(audiolevel.DefaultGate(-40, 1000, 1))

	quiet := tone(200, 1, 100) // about -50 dBFS
	gate.Process(quiet)
	if got := sample(quiet, 199); got != 0 {
		t.Fatalf("closed gate should mute quiet input, got %d", got)
	}

	loud := tone(200, 1, 16384)
	gate.Process(loud)
	if got := sample(loud, 199); got != -16384 {
		t.Fatalf("open gate should pass loud input after attack, got %d", got)
	}

	// Within hold the gate stays open even for quiet input.
	held := tone(50, 1, 100)
	gate.Process(held)
	if got := sample(held, 0); got != 100 {
		t.Fatalf("gate should hold open, got %d", got)
	}
}

func TestSilenceDetectorReportsOncePerStretch(t *testing.T) {
	det := audiolevel.NewSilenceDetector(-55, 3*time.Second, 1000, 1)
	second := make([]byte, 2000)

	var reports int
	for i := 0; i < 5; i++ {
		if det.Observe(second) {
			reports++
			if i != 2 {
				t.Fatalf("expected report after third second, got at %d", i)
			}
		}
	}
	if reports != 1 {
		t.Fatalf("expected single report, got %d", reports)
	}
	det.Observe(tone(1000, 1, 16384))
	if det.SilentFor() != 0 {
		t.Fatal("sound should reset the silent stretch")
	}
	for i := 0; i < 3; i++ {
		det.Observe(second)
	}
	if det.SilentFor() != 3*time.Second {
		t.Fatalf("unexpected silent stretch %v", det.SilentFor())
	}
}

func TestSilenceDetectorDisabled(t *testing.T) {
	det := audiolevel.NewSilenceDetector(-55, 0, 1000, 1)
	if det.Observe(make([]byte, 1_000_000)) {
		t.Fatal("disabled detector must not report")
	}
}
