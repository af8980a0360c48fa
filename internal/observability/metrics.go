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
	MessagesAppended   *prometheus.CounterVec
	MessagesRemoved    *prometheus.CounterVec
	HistorySize        prometheus.Gauge
	Commands           *prometheus.CounterVec
	CommandLatency     *prometheus.HistogramVec
	AgentConnections   *prometheus.CounterVec
	VoiceEvents        *prometheus.CounterVec
	SpeechQueueDepth   prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	SubscribersDropped prometheus.Counter
	AuditWrites        *prometheus.CounterVec

	window *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		MessagesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "History entries appended by kind and direction.",
		}, []string{"kind", "direction"}),
		MessagesRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_removed_total",
			Help:      "History entries removed by reason.",
		}, []string{"reason"}),
		HistorySize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Entries currently held in the conversation history.",
		}),
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Inbound commands by entry point and result.",
		}, []string{"entry", "result"}),
		CommandLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_stage_latency_ms",
			Help:      "Command stage latency in milliseconds.",
			Buckets:   []float64{5, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"stage"}),
		AgentConnections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_connections_total",
			Help:      "Dialogue agent constructions by result.",
		}, []string{"result"}),
		VoiceEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_events_total",
			Help:      "Voice gate events by type.",
		}, []string{"event"}),
		SpeechQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Utterances waiting for speech synthesis.",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Session events published by type.",
		}, []string{"type"}),
		SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_subscribers_dropped_total",
			Help:      "Event subscribers disconnected for falling behind.",
		}),
		AuditWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Audit log writes by operation and result.",
		}, []string{"op", "result"}),
		window: newLatencyWindow(128),
	}
}

func (m *Metrics) ObserveMessage(kind, direction string) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) ObserveRemoved(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesRemoved.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.HistorySize.Set(float64(n))
}

func (m *Metrics) ObserveCommand(entry, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(entry, result).Inc()
	m.window.outcome(entry + ":" + result)
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.CommandLatency.WithLabelValues(stage).Observe(float64(d) / float64(time.Millisecond))
	m.window.observe(stage, d)
}

func (m *Metrics) ObserveAgentConnection(result string) {
	if m == nil {
		return
	}
	m.AgentConnections.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVoiceEvent(event string) {
	if m == nil {
		return
	}
	m.VoiceEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetSpeechQueueDepth(n int) {
	if m == nil {
		return
	}
	m.SpeechQueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveSubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

func (m *Metrics) ObserveAuditWrite(op, result string) {
	if m == nil {
		return
	}
	m.AuditWrites.WithLabelValues(op, result).Inc()
}

// LatencySnapshot reports percentiles over the recent stage samples.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	if m == nil {
		return newLatencyWindow(0).snapshot()
	}
	return m.window.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
