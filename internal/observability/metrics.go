// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the shavon collectors. It implements auth.Recorder.
type Metrics struct {
	LoginsTotal          *prometheus.CounterVec
	GateDecisionsTotal   *prometheus.CounterVec
	SessionKeyCollisions prometheus.Counter
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shavon_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shavon_gate_decisions_total",
				Help: "Auth gate decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		SessionKeyCollisions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shavon_session_key_collisions_total",
				Help: "Session key collisions retried during session creation",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shavon_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shavon_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	reg.MustRegister(
		m.LoginsTotal,
		m.GateDecisionsTotal,
		m.SessionKeyCollisions,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(result string) {
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// RecordGateDecision counts one gate decision.
func (m *Metrics) RecordGateDecision(outcome, reason string) {
	m.GateDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordSessionKeyCollision counts one retried key collision.
func (m *Metrics) RecordSessionKeyCollision() {
	m.SessionKeyCollisions.Inc()
}

// RecordHTTPRequest observes one served request. route is the registered
// path pattern, never the raw URL, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
