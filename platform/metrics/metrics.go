// Package metrics holds the Prometheus collectors shared by the core components.
// This is part of the platform layer and contains no business logic.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_ratelimit_decisions_total",
			Help: "Rate limit decisions by policy and outcome.",
		},
		[]string{"policy", "outcome"},
	)

	IdempotencyChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_idempotency_checks_total",
			Help: "Idempotency guard results.",
		},
		[]string{"outcome"},
	)

	CapRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_cap_rejections_total",
			Help: "Rule cap rejections by reason.",
		},
		[]string{"reason"},
	)

	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_assignments_total",
			Help: "Lead assignment outcomes.",
		},
		[]string{"outcome"},
	)

	WebhookAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadflow_webhook_attempts_total",
			Help: "Outbound webhook delivery attempts.",
		},
		[]string{"event", "outcome"},
	)

	WebhookAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadflow_webhook_attempt_duration_seconds",
			Help:    "Latency of outbound webhook HTTP calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
)

var registerOnce sync.Once

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RateLimitDecisions,
			IdempotencyChecks,
			CapRejections,
			Assignments,
			WebhookAttempts,
			WebhookAttemptDuration,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
