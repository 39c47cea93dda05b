// Package metrics exposes Prometheus instruments for the echo-chat client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echochat"

// Metrics groups every instrument the client records.
type Metrics struct {
	registry *prometheus.Registry

	dials           *prometheus.CounterVec
	connected       prometheus.Gauge
	messages        *prometheus.CounterVec
	persistFailures prometheus.Counter
	authRequests    *prometheus.CounterVec
}

// New creates the instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "dials_total",
			Help:      "Echo socket dial attempts by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connected",
			Help:      "1 while the echo socket is open.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Chat messages appended to the current session by direction.",
		}, []string{"direction"}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Write-through saves that failed and were dropped.",
		}),
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Auth requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}

	m.registry.MustRegister(
		m.dials,
		m.connected,
		m.messages,
		m.persistFailures,
		m.authRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) DialSucceeded() {
	if m == nil {
		return
	}
	m.dials.WithLabelValues("ok").Inc()
	m.connected.Set(1)
}

func (m *Metrics) DialFailed() {
	if m == nil {
		return
	}
	m.dials.WithLabelValues("error").Inc()
}

func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.connected.Set(0)
}

// MessageAppended counts a message added to the current session.
func (m *Metrics) MessageAppended(received bool) {
	if m == nil {
		return
	}
	direction := "outbound"
	if received {
		direction = "inbound"
	}
	m.messages.WithLabelValues(direction).Inc()
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

// AuthRequest records one auth round trip. outcome is ok, rejected, unknown or transport.
func (m *Metrics) AuthRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.authRequests.WithLabelValues(endpoint, outcome).Inc()
}
