package eventman

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects realtime session metrics. A nil *Metrics is valid and
// records nothing, so components can be built without a registry.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	metrics := eventman.NewMetrics(reg)
//	client.SetMetrics(metrics)
type Metrics struct {
	// AckRequests counts acknowledged requests.
	// Labels: event, outcome (success|rejected|error)
	AckRequests *prometheus.CounterVec

	// AckLatency measures time from dispatch to acknowledgement in seconds.
	// Labels: event
	AckLatency *prometheus.HistogramVec

	// Broadcasts counts server-pushed events by name.
	Broadcasts *prometheus.CounterVec

	// ReconnectAttempts counts automatic reconnect attempts.
	ReconnectAttempts prometheus.Counter

	// ConnectionState exposes the numeric ConnectionState.
	ConnectionState prometheus.Gauge

	// RoomJoins counts join outcomes.
	// Labels: kind (chat|qna), outcome (joined|failed)
	RoomJoins *prometheus.CounterVec

	// RemindersFired counts reminder notifications.
	RemindersFired prometheus.Counter

	// VideoTransitions counts video controller state transitions.
	// Labels: status
	VideoTransitions *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		AckRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "realtime",
			Name:      "ack_requests_total",
			Help:      "Acknowledged requests by event and outcome.",
		}, []string{"event", "outcome"}),
		AckLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventman",
			Subsystem: "realtime",
			Name:      "ack_latency_seconds",
			Help:      "Time until the server acknowledged a request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"event"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "realtime",
			Name:      "broadcasts_total",
			Help:      "Server broadcasts received by event.",
		}, []string{"event"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Automatic reconnect attempts.",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventman",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
		}),
		RoomJoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "rooms",
			Name:      "joins_total",
			Help:      "Room join outcomes by room kind.",
		}, []string{"kind", "outcome"}),
		RemindersFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "reminders",
			Name:      "fired_total",
			Help:      "Reminder notifications emitted.",
		}),
		VideoTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventman",
			Subsystem: "video",
			Name:      "transitions_total",
			Help:      "Video controller transitions by target status.",
		}, []string{"status"}),
	}
}

// ObserveAck records one acknowledged request.
func (m *Metrics) ObserveAck(event, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.AckRequests.WithLabelValues(event, outcome).Inc()
	if outcome != "error" {
		m.AckLatency.WithLabelValues(event).Observe(d.Seconds())
	}
}

// IncBroadcast records one received broadcast.
func (m *Metrics) IncBroadcast(event string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(event).Inc()
}

// IncReconnect records one reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetState records the connection state.
func (m *Metrics) SetState(s ConnectionState) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(s))
}

// IncRoomJoin records a join outcome.
func (m *Metrics) IncRoomJoin(kind RoomKind, outcome string) {
	if m == nil {
		return
	}
	m.RoomJoins.WithLabelValues(string(kind), outcome).Inc()
}

// IncReminder records one reminder notification.
func (m *Metrics) IncReminder() {
	if m == nil {
		return
	}
	m.RemindersFired.Inc()
}

// IncVideo records a video controller transition.
func (m *Metrics) IncVideo(status string) {
	if m == nil {
		return
	}
	m.VideoTransitions.WithLabelValues(status).Inc()
}
