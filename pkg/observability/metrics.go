// Package observability provides Prometheus metrics and HTTP middleware
// for the Daytona plugin and its MCP server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RemoteBuckets are histogram buckets for remote sandbox calls, from 50ms
// (metadata lookups) to 10 minutes (long code runs).
var RemoteBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

var (
	// HTTPRequestsTotal counts requests served by the MCP HTTP endpoint.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_adk_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daytona_adk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: RemoteBuckets,
		},
		[]string{"method"},
	)

	// APIRequestsTotal counts calls made to the Daytona API by endpoint template.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_api_requests_total",
			Help: "Daytona API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// APIRequestDuration records Daytona API latency in seconds.
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daytona_api_request_duration_seconds",
			Help:    "Daytona API request duration",
			Buckets: RemoteBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// SandboxOperationsTotal counts lifecycle operations (create, start,
	// stop, delete) by outcome.
	SandboxOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_sandbox_operations_total",
			Help: "Sandbox lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	// SandboxesRunning is the number of sandboxes this process holds in the
	// running state.
	SandboxesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "daytona_sandboxes_running",
			Help: "Sandboxes currently running",
		},
	)

	// AuthRejectedTotal counts requests rejected by authentication.
	AuthRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daytona_adk_auth_rejected_total",
			Help: "Authentication rejections",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		APIRequestsTotal,
		APIRequestDuration,
		SandboxOperationsTotal,
		SandboxesRunning,
		AuthRejectedTotal,
	)
}
