// Package metric exposes Prometheus collectors for the connection engine,
// the event dispatcher and the trigger client. A nil *Metrics is valid and
// records nothing.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pusher"

// States lists the label values of the connection state gauge.
var States = []string{"disconnected", "connecting", "connected", "reconnecting", "failed"}

// Metrics holds the client's collectors.
type Metrics struct {
	connectionState *prometheus.GaugeVec
	reconnects      prometheus.Counter
	subscriptions   prometheus.Gauge
	framesReceived  prometheus.Counter
	eventsReceived  *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	errors          *prometheus.CounterVec

	triggerRequests *prometheus.CounterVec
	triggerDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "subscriptions",
			Help:      "Number of registered channel subscriptions",
		}),
		framesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "frames_received_total",
			Help:      "Total number of frames read from the socket",
		}),
		eventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Total number of events delivered to the dispatcher",
		}, []string{"kind"}), // kind: public, private, presence, private-encrypted
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Total number of events dropped before delivery",
		}, []string{"reason"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors reported to observers",
		}, []string{"kind"}),
		triggerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "requests_total",
			Help:      "Total number of HTTP API publish requests",
		}, []string{"endpoint", "status"}),
		triggerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trigger",
			Name:      "request_duration_seconds",
			Help:      "HTTP API publish request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// SetState marks state as the active connection state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// IncReconnect counts a scheduled reconnect.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetSubscriptions records the registry size.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// IncFrame counts one inbound frame.
func (m *Metrics) IncFrame() {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
}

// IncEvent counts an event delivered for a channel kind.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(kind).Inc()
}

// IncDropped counts an event dropped for reason.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// IncError counts an error of the given kind.
func (m *Metrics) IncError(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}

// ObserveTrigger records one publish request.
func (m *Metrics) ObserveTrigger(endpoint, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.triggerRequests.WithLabelValues(endpoint, status).Inc()
	m.triggerDuration.Observe(d.Seconds())
}
