package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ScheduleRuns counts completed scheduling runs by requested mode and outcome.
	ScheduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "schedule_runs_total", Help: "Scheduling runs by mode and outcome."},
		[]string{"mode", "outcome"},
	)
	// ScheduleRunDuration tracks end-to-end pipeline latency in seconds.
	ScheduleRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "schedule_run_duration_seconds", Help: "Pipeline run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}},
		[]string{"mode"},
	)
	// RequestsDropped counts delivery requests dropped per run by reason.
	RequestsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "schedule_requests_dropped_total", Help: "Dropped delivery requests by reason."},
		[]string{"reason"},
	)
	// SolverIterations observes ALNS iteration counts per team optimization.
	SolverIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "solver_iterations", Help: "ALNS iterations per team optimization.", Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000}},
	)
	// GeoCacheLookups counts distance cache hits and misses.
	GeoCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geo_cache_lookups_total", Help: "Distance cache lookups by result."},
		[]string{"result"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the package registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ScheduleRuns)
		Registry.MustRegister(ScheduleRunDuration)
		Registry.MustRegister(RequestsDropped)
		Registry.MustRegister(SolverIterations)
		Registry.MustRegister(GeoCacheLookups)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
