package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rryowa/basicauth/internal/models"
)

const namespace = "basic_auth"

// Metrics owns its registry so tests can build as many instances as they like.
// A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	rotations   *prometheus.CounterVec
	rateLimited *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Auth operations by outcome.",
		}, []string{"operation", "outcome"}),
		rotations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Refresh rotations by result.",
		}, []string{"result"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveRequest(op models.Operation, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(op), outcome).Inc()
}

func (m *Metrics) ObserveRotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRateLimited(op models.Operation) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
