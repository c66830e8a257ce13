package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Operations      *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	ForwardedEvents *prometheus.CounterVec
}

// New registers the basket metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basket",
			Name:      "operations_total",
			Help:      "Basket operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "basket",
			Name:      "gateway_duration_ms",
			Help:      "Remote gateway call latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"gateway", "status"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basket",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "basket",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		ForwardedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "basket",
			Subsystem: "events",
			Name:      "forwarded_total",
			Help:      "Bus notifications written to Kafka.",
		}, []string{"topic", "status"}),
	}

	reg.MustRegister(m.Operations, m.GatewayLatency, m.Requests, m.RequestLatency, m.ForwardedEvents)
	return m
}

// Operation counts one basket operation. Safe on a nil receiver.
func (m *Metrics) Operation(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

// ObserveGateway records a gateway round-trip. Safe on a nil receiver.
func (m *Metrics) ObserveGateway(gateway string, ok bool, started time.Time) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.GatewayLatency.WithLabelValues(gateway, status).Observe(float64(time.Since(started).Milliseconds()))
}

// ObserveRequest records one served HTTP request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(route string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestLatency.WithLabelValues(route).Observe(float64(time.Since(started).Milliseconds()))
}

// Forwarded counts one event handed to Kafka. Safe on a nil receiver.
func (m *Metrics) Forwarded(topic string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ForwardedEvents.WithLabelValues(topic, status).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
