package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airecorder/internal/capture"
	"airecorder/internal/session"
)

const namespace = "airecorder"

var durationBuckets = []float64{5, 30, 60, 300, 900, 1800, 3600, 7200}

// Collector holds the recorder's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	sessions    *prometheus.CounterVec
	duration    prometheus.Histogram
	outputBytes prometheus.Counter
	chunks      *prometheus.CounterVec
	spooled     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	lost        *prometheus.CounterVec
}

// NewCollector registers the recorder metrics on registry, or on a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: registry,
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the state the current session is in, 0 otherwise.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Finished sessions by outcome and failure cause.",
		}, []string{"outcome", "cause"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_recording_seconds",
			Help:      "Recorded duration of finished sessions.",
			Buckets:   durationBuckets,
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to saved recordings.",
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "chunks_total",
			Help:      "Chunks accepted by the spoolers.",
		}, []string{"source"}),
		spooled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "bytes_total",
			Help:      "Payload bytes accepted by the spoolers.",
		}, []string{"source"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "dropped_chunks_total",
			Help:      "Chunks dropped after backpressure timeouts.",
		}, []string{"source"}),
		lost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_lost_total",
			Help:      "Capture sources that failed to open or disconnected.",
		}, []string{"source", "cause"}),
	}
	registry.MustRegister(c.state, c.transitions, c.sessions, c.duration, c.outputBytes,
		c.chunks, c.spooled, c.dropped, c.lost)
	c.setState(session.StateIdle)
	return c
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in Prometheus or OpenMetrics format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

var allStates = []session.State{
	session.StateIdle,
	session.StateRecording,
	session.StateStopping,
	session.StateMerging,
	session.StateSaved,
	session.StateFailed,
}

func (c *Collector) setState(current session.State) {
	for _, st := range allStates {
		v := 0.0
		if st == current {
			v = 1
		}
		c.state.WithLabelValues(string(st)).Set(v)
	}
}

// StateChanged implements session.Observer.
func (c *Collector) StateChanged(from, to session.State) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
	c.setState(to)
}

// SessionFinished implements session.Observer.
func (c *Collector) SessionFinished(snap session.Snapshot) {
	outcome := string(snap.State)
	c.sessions.WithLabelValues(outcome, snap.Cause).Inc()
	if elapsed := snap.Elapsed(time.Now()); elapsed > 0 && !snap.StoppedAt.IsZero() {
		c.duration.Observe(elapsed.Seconds())
	}
	if snap.State == session.StateSaved && snap.OutputBytes > 0 {
		c.outputBytes.Add(float64(snap.OutputBytes))
	}
}

// ChunkSpooled implements session.Observer.
func (c *Collector) ChunkSpooled(kind capture.Kind, bytes int) {
	c.chunks.WithLabelValues(string(kind)).Inc()
	c.spooled.WithLabelValues(string(kind)).Add(float64(bytes))
}

// ChunksDropped implements session.Observer.
func (c *Collector) ChunksDropped(kind capture.Kind, n int) {
	if n <= 0 {
		return
	}
	c.dropped.WithLabelValues(string(kind)).Add(float64(n))
}

// SourceLost implements session.Observer.
func (c *Collector) SourceLost(kind capture.Kind, cause string) {
	c.lost.WithLabelValues(string(kind), cause).Inc()
}

var _ session.Observer = (*Collector)(nil)
