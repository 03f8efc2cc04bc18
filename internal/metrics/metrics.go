// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AuthDecisions       *prometheus.CounterVec
	ResetChallenges     *prometheus.CounterVec
	MailDispatch        *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_auth_decisions_total",
				Help: "Authorization decisions by gate and outcome",
			},
			[]string{"gate", "outcome"},
		),
		ResetChallenges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_reset_challenges_total",
				Help: "Password reset challenge operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		MailDispatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_mail_dispatch_total",
				Help: "Outbound mail dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.AuthDecisions,
		m.ResetChallenges,
		m.MailDispatch,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDecision counts one authorization decision.
func (m *Metrics) ObserveDecision(gate, outcome string) {
	if m == nil {
		return
	}
	m.AuthDecisions.WithLabelValues(gate, outcome).Inc()
}

// ObserveChallenge counts one reset-challenge operation.
func (m *Metrics) ObserveChallenge(operation, outcome string) {
	if m == nil {
		return
	}
	m.ResetChallenges.WithLabelValues(operation, outcome).Inc()
}

// ObserveMail counts one mail dispatch.
func (m *Metrics) ObserveMail(outcome string) {
	if m == nil {
		return
	}
	m.MailDispatch.WithLabelValues(outcome).Inc()
}

// ObserveRequest records an HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
