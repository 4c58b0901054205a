// Package observability holds the gateway's Prometheus metrics and tracing
// setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "embedchat"
	subsystem = "turn"
)

// Outcome labels for finished turns.
const (
	OutcomeCompleted   = "completed"
	OutcomeEarlyExit   = "early_exit"
	OutcomeStreamError = "stream_error"
	OutcomeUpstreamBad = "protocol_error"
	OutcomeDisconnect  = "disconnected"
)

// Metrics groups the turn metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	turns             *prometheus.CounterVec
	earlyExits        *prometheus.CounterVec
	streamErrors      prometheus.Counter
	persistFailures   *prometheus.CounterVec
	leads             prometheus.Counter
	disconnects       prometheus.Counter
	activeStreams     prometheus.Gauge
	firstChunkLatency prometheus.Histogram
}

// NewMetrics registers the turn metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		earlyExits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "early_exits_total",
			Help:      "Turns answered without calling the upstream generator, by reason.",
		}, []string{"reason"}),
		streamErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_stream_errors_total",
			Help:      "Upstream failures after the stream started.",
		}),
		persistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persist_failures_total",
			Help:      "Swallowed persistence failures by operation.",
		}, []string{"op"}),
		leads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "leads_captured_total",
			Help:      "Lead signals recorded from user messages.",
		}),
		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_disconnects_total",
			Help:      "Turns cut short because the client went away.",
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_streams",
			Help:      "Turns currently streaming.",
		}),
		firstChunkLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "first_chunk_seconds",
			Help:      "Time from turn start to the first forwarded chunk.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EarlyExit(reason string) {
	if m == nil {
		return
	}
	m.earlyExits.WithLabelValues(reason).Inc()
}

func (m *Metrics) StreamError() {
	if m == nil {
		return
	}
	m.streamErrors.Inc()
}

func (m *Metrics) PersistFailed(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) LeadCaptured() {
	if m == nil {
		return
	}
	m.leads.Inc()
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

// StreamStarted increments the active gauge and returns its release func.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *Metrics) FirstChunk(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.firstChunkLatency.Observe(elapsed.Seconds())
}
