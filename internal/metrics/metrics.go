// Package metrics defines the Prometheus metrics exported on /metrics.
//
// Metric naming follows Prometheus conventions:
//   - connhub_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
//
// Metrics live in a private registry rather than the global default one,
// so importing this package twice in tests never panics on duplicate
// registration.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the auth counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

var registry = prometheus.NewRegistry()

var (
	// LoginAttemptsTotal counts login attempts by method (password, github,
	// google) and outcome.
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connhub_login_attempts_total",
			Help: "Total login attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// SignupsTotal counts local signups by outcome (success, conflict, invalid, error).
	SignupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connhub_signups_total",
			Help: "Total local signups by outcome.",
		},
		[]string{"outcome"},
	)

	// UsersProvisionedTotal counts users created on their first OAuth login.
	UsersProvisionedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connhub_users_provisioned_total",
			Help: "Total users provisioned from a third-party identity.",
		},
		[]string{"provider"},
	)

	// SessionsExpiredTotal counts sessions removed by the cleanup job.
	SessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connhub_sessions_expired_total",
			Help: "Total expired sessions deleted by the cleanup job.",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connhub_http_requests_total",
			Help: "Total HTTP requests by method and status code.",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connhub_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		LoginAttemptsTotal,
		SignupsTotal,
		UsersProvisionedTotal,
		SessionsExpiredTotal,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordLogin records one login attempt.
func RecordLogin(method, outcome string) {
	LoginAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordSignup records one signup attempt.
func RecordSignup(outcome string) {
	SignupsTotal.WithLabelValues(outcome).Inc()
}

// RecordProvisioned records a user created by an OAuth login.
func RecordProvisioned(provider string) {
	UsersProvisionedTotal.WithLabelValues(provider).Inc()
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	HTTPRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}
