// Package metrics exposes prometheus collectors for the hub and the message
// protocol. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message persistence modes.
const (
	ModeDurable   = "durable"
	ModeEphemeral = "ephemeral"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	messages    *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	deliveries  prometheus.Counter
	dropped     prometheus.Counter
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companychat_connections",
			Help: "Number of registered websocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "companychat_rooms",
			Help: "Number of rooms with at least one member.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companychat_messages_total",
			Help: "Messages accepted for broadcast, by persistence mode.",
		}, []string{"mode"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companychat_message_mutations_total",
			Help: "Applied edits and deletes.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companychat_rejected_events_total",
			Help: "Inbound events rejected, by error code.",
		}, []string{"code"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companychat_deliveries_total",
			Help: "Frames queued to connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "companychat_dropped_connections_total",
			Help: "Connections dropped because their send buffer was full.",
		}),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.messages,
		m.mutations,
		m.rejected,
		m.deliveries,
		m.dropped,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) MessageAccepted(mode string) {
	if m != nil {
		m.messages.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) MessageMutated(kind string) {
	if m != nil {
		m.mutations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) EventRejected(code string) {
	if m != nil {
		m.rejected.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) ConnectionDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}
