package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"airecorder/internal/capture"
	"airecorder/internal/logging"
	"airecorder/internal/metrics"
	"airecorder/internal/services"
	"airecorder/internal/session"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestCollectorExportsSessionTelemetry(t *testing.T) {
	c := metrics.NewCollector(nil)
	c.StateChanged(session.StateIdle, session.StateRecording)
	c.ChunkSpooled(capture.Microphone, 4096)
	c.ChunkSpooled(capture.Microphone, 4096)
	c.ChunksDropped(capture.SystemAudio, 3)
	c.ChunksDropped(capture.SystemAudio, 0)
	c.SourceLost(capture.SystemAudio, services.CauseDeviceDisconnected)
	c.StateChanged(session.StateRecording, session.StateStopping)
	start := time.Now().Add(-90 * time.Second)
	c.SessionFinished(session.Snapshot{
		State:       session.StateSaved,
		StartedAt:   start,
		StoppedAt:   start.Add(90 * time.Second),
		OutputBytes: 1000,
	})

	body := scrape(t, c.Handler())
	for _, want := range []string{
		`airecorder_session_state{state="stopping"} 1`,
		`airecorder_session_state{state="recording"} 0`,
		`airecorder_session_transitions_total{from="idle",to="recording"} 1`,
		`airecorder_spool_chunks_total{source="microphone"} 2`,
		`airecorder_spool_bytes_total{source="microphone"} 8192`,
		`airecorder_spool_dropped_chunks_total{source="system_audio"} 3`,
		`airecorder_sources_lost_total{cause="device_disconnected",source="system_audio"} 1`,
		`airecorder_sessions_finished_total{cause="",outcome="saved"} 1`,
		`airecorder_output_bytes_total 1000`,
		`airecorder_session_recording_seconds_count 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestFailedSessionDoesNotCountOutput(t *testing.T) {
	c := metrics.NewCollector(nil)
	c.SessionFinished(session.Snapshot{State: session.StateFailed, Cause: services.CauseMergeFailed, OutputBytes: 10})
	body := scrape(t, c.Handler())
	if !strings.Contains(body, `airecorder_sessions_finished_total{cause="merge_failed",outcome="failed"} 1`) {
		t.Fatalf("missing failed session counter:\n%s", body)
	}
	if !strings.Contains(body, "airecorder_output_bytes_total 0") {
		t.Fatal("failed session must not add output bytes")
	}
}

func TestServerServesMetrics(t *testing.T) {
	c := metrics.NewCollector(nil)
	srv, err := metrics.Listen("127.0.0.1:0", c, logging.NewNop())
	if err != nil {
		t.Skipf("cannot bind loopback: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "airecorder_session_state") {
		t.Fatalf("unexpected body:\n%s", body)
	}
}
