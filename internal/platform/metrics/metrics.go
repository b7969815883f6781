package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the download service.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	submissionsTotal prometheus.Counter
	completedTotal   prometheus.Counter
	failedTotal      prometheus.Counter
	cancelledTotal   prometheus.Counter
	rateLimitedTotal prometheus.Counter
	splitsTotal      prometheus.Counter
	activeSessions   prometheus.Gauge
	errorsTotal      prometheus.Counter
}

// New creates and registers Prometheus metrics for the download service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_requests_total",
		Help: "Total number of HTTP requests received",
	})
	submissionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_submissions_total",
		Help: "Total number of admitted URL submissions",
	})
	completedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_sessions_completed_total",
		Help: "Total number of sessions finished as Completed",
	})
	failedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_sessions_failed_total",
		Help: "Total number of sessions finished as Failed",
	})
	cancelledTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_sessions_cancelled_total",
		Help: "Total number of sessions finished as Cancelled",
	})
	rateLimitedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_rate_limited_total",
		Help: "Total number of submissions rejected by the rate limiter",
	})
	splitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_splits_total",
		Help: "Total number of split runs started",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dl_active_sessions",
		Help: "Number of sessions currently in flight",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dl_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		submissionsTotal,
		completedTotal,
		failedTotal,
		cancelledTotal,
		rateLimitedTotal,
		splitsTotal,
		activeSessions,
		errorsTotal,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		submissionsTotal: submissionsTotal,
		completedTotal:   completedTotal,
		failedTotal:      failedTotal,
		cancelledTotal:   cancelledTotal,
		rateLimitedTotal: rateLimitedTotal,
		splitsTotal:      splitsTotal,
		activeSessions:   activeSessions,
		errorsTotal:      errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncSubmissions increments the admitted submission counter.
func (m *Metrics) IncSubmissions() {
	m.submissionsTotal.Inc()
}

// IncCompleted increments the completed session counter.
func (m *Metrics) IncCompleted() {
	m.completedTotal.Inc()
}

// IncFailed increments the failed session counter.
func (m *Metrics) IncFailed() {
	m.failedTotal.Inc()
}

// IncCancelled increments the cancelled session counter.
func (m *Metrics) IncCancelled() {
	m.cancelledTotal.Inc()
}

// IncRateLimited increments the rate-limited submission counter.
func (m *Metrics) IncRateLimited() {
	m.rateLimitedTotal.Inc()
}

// IncSplits increments the split run counter.
func (m *Metrics) IncSplits() {
	m.splitsTotal.Inc()
}

// SetActiveSessions sets the in-flight session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g.
// active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
