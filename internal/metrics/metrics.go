// Package metrics exposes reconciliation and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orgmanager"

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	registry *prometheus.Registry

	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	lastRun      prometheus.Gauge
	operations   *prometheus.CounterVec
	problems     *prometheus.CounterVec
	orphans      *prometheus.GaugeVec
	provisioned  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by mode and final status.",
		}, []string{"mode", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Reconciliation run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"mode"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last reconciliation run finished.",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Organization operations by kind and status.",
		}, []string{"kind", "status"}),
		problems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "problems_total",
			Help:      "Skipped operations reported by the planner, by severity.",
		}, []string{"severity"}),
		orphans: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmanaged_resources",
			Help:      "Live resources not reachable from the spec at the last run.",
		}, []string{"kind"}),
		provisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_requests_total",
			Help:      "Create-account requests by final state.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}
	m.registry.MustRegister(
		m.runs, m.runDuration, m.lastRun, m.operations, m.problems, m.orphans,
		m.provisioned, m.httpRequests, m.httpDuration, m.httpInFlight,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(mode, status string, duration time.Duration) {
	m.runs.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.lastRun.SetToCurrentTime()
}

// RecordOperation counts one applied, failed, skipped or planned operation.
func (m *Metrics) RecordOperation(kind, status string) {
	m.operations.WithLabelValues(kind, status).Inc()
}

// RecordProblem counts one planner problem.
func (m *Metrics) RecordProblem(severity string) {
	m.problems.WithLabelValues(severity).Inc()
}

// SetOrphans publishes the unmanaged resource counts of the last run.
func (m *Metrics) SetOrphans(accounts, ous, policies int) {
	m.orphans.WithLabelValues("account").Set(float64(accounts))
	m.orphans.WithLabelValues("organizational_unit").Set(float64(ous))
	m.orphans.WithLabelValues("policy").Set(float64(policies))
}

// RecordAccountRequest counts a create-account request by the state it ended in.
func (m *Metrics) RecordAccountRequest(state string) {
	m.provisioned.WithLabelValues(state).Inc()
}

// Instrument wraps an HTTP handler with request counters and latency.
// Route patterns are used as the path label when chi supplies them.
func (m *Metrics) Instrument(pathLabel func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()
			start := time.Now()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if pathLabel != nil {
				if p := pathLabel(r); p != "" {
					path = p
				}
			}
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			status := strconv.Itoa(code)
			m.httpRequests.WithLabelValues(r.Method, path, status).Inc()
			m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}
