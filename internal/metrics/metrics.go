// Package metrics provides Prometheus metrics for crewdeck.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DocumentWrites    *prometheus.CounterVec
	DocumentConflicts prometheus.Counter
	InvitationsTotal  *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewdeck_requests_total",
				Help: "Total number of API requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewdeck_request_duration_seconds",
				Help:    "Request processing duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		DocumentWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewdeck_document_writes_total",
				Help: "Total remote document writes by result.",
			},
			[]string{"result"},
		),
		DocumentConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crewdeck_document_conflicts_total",
				Help: "Writes rejected because the document changed underneath the writer.",
			},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewdeck_invitations_total",
				Help: "Invitation state transitions by outcome.",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewdeck_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.DocumentWrites)
	reg.MustRegister(m.DocumentConflicts)
	reg.MustRegister(m.InvitationsTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// RecordWrite increments the document write counter.
func (m *Metrics) RecordWrite(result string) {
	m.DocumentWrites.WithLabelValues(result).Inc()
}

// RecordConflict increments the conflict counter.
func (m *Metrics) RecordConflict() {
	m.DocumentConflicts.Inc()
}

// RecordInvitation increments the invitation counter.
func (m *Metrics) RecordInvitation(outcome string) {
	m.InvitationsTotal.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}
