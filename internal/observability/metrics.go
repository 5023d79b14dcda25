package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Generations       *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	StreamTokens      *prometheus.CounterVec
	StreamLockWait    prometheus.Histogram

	DialogueTurns *prometheus.CounterVec

	MemoryPasses       *prometheus.CounterVec
	MemoryQueueDropped prometheus.Counter

	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec

	gatherer prometheus.Gatherer
	stages   *recentLatencies
}

// NewMetrics registers the instruments on reg. A nil reg uses the default
// Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		Generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_generations_total",
			Help:      "LLM generations by backend, mode and outcome.",
		}, []string{"backend", "mode", "outcome"}),
		GenerationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_generation_latency_ms",
			Help:      "Latency of a full LLM generation in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"backend", "mode"}),
		StreamTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_stream_tokens_total",
			Help:      "Streamed token callbacks delivered by backend.",
		}, []string{"backend"}),
		StreamLockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_stream_lock_wait_ms",
			Help:      "Time a streaming session waited for the driver stream guard in milliseconds.",
			Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 15000},
		}),
		DialogueTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialogue_turns_total",
			Help:      "Dialogue turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		MemoryPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_passes_total",
			Help:      "Memory consolidation passes by pass and outcome.",
		}, []string{"pass", "outcome"}),
		MemoryQueueDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_queue_dropped_total",
			Help:      "Consolidation jobs dropped because the queue was full.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		gatherer: gatherer,
		stages:   newRecentLatencies(256),
	}
}

func (m *Metrics) ObserveGeneration(backend, mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(backend, mode, outcome).Inc()
	m.GenerationLatency.WithLabelValues(backend, mode).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStreamWait(d time.Duration) {
	if m == nil {
		return
	}
	m.StreamLockWait.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStreamTokens(backend string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.StreamTokens.WithLabelValues(backend).Add(float64(n))
}

func (m *Metrics) ObserveTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.DialogueTurns.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveMemoryPass(pass, outcome string) {
	if m == nil {
		return
	}
	m.MemoryPasses.WithLabelValues(pass, outcome).Inc()
}

func (m *Metrics) ObserveQueueDrop() {
	if m == nil {
		return
	}
	m.MemoryQueueDropped.Inc()
}

func (m *Metrics) ObserveSessionEvent(event string, active int) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
	m.ActiveSessions.Set(float64(active))
}

func (m *Metrics) ObserveWSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

// Handler serves the registry these metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
