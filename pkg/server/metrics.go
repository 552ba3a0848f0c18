package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one server instance.
// Each server gets its own registry so tests can run servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal    *prometheus.CounterVec
	disconnectsTotal    *prometheus.CounterVec
	activeClients       prometheus.Gauge
	messagesRelayed     prometheus.Counter
	broadcastFailures   prometheus.Counter
	handshakeRejections prometheus.Counter
	evictions           prometheus.Counter
	broadcastDuration   prometheus.Histogram
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_connections_total",
			Help: "Accepted connections by transport",
		}, []string{"transport"}),
		disconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_disconnects_total",
			Help: "Registered clients torn down, by reason",
		}, []string{"reason"}),
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_active_clients",
			Help: "Clients currently registered in the room",
		}),
		messagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_messages_relayed_total",
			Help: "User messages accepted for broadcast",
		}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_broadcast_failures_total",
			Help: "Per-recipient write failures during broadcast",
		}),
		handshakeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_handshake_rejections_total",
			Help: "Connections rejected during the nickname handshake",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_nickname_evictions_total",
			Help: "Sessions evicted by a reconnect under the same nickname",
		}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relaychat_broadcast_duration_seconds",
			Help:    "Time spent fanning out one line to all recipients",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.connectionsTotal,
		m.disconnectsTotal,
		m.activeClients,
		m.messagesRelayed,
		m.broadcastFailures,
		m.handshakeRejections,
		m.evictions,
		m.broadcastDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves this instance's metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordConnection(transport string) {
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordDisconnect(reason string) {
	m.disconnectsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordActiveClients(count int) {
	m.activeClients.Set(float64(count))
}

func (m *Metrics) RecordMessageRelayed() {
	m.messagesRelayed.Inc()
}

func (m *Metrics) RecordBroadcastFailure() {
	m.broadcastFailures.Inc()
}

func (m *Metrics) RecordHandshakeRejected() {
	m.handshakeRejections.Inc()
}

func (m *Metrics) RecordEviction() {
	m.evictions.Inc()
}

// ObserveBroadcast starts a timer; call the returned func when the fan-out ends.
func (m *Metrics) ObserveBroadcast() func() {
	timer := prometheus.NewTimer(m.broadcastDuration)
	return func() { timer.ObserveDuration() }
}
