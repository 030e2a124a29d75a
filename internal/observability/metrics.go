// Package observability carries the gateway's metrics and logging setup.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. Registered against the
// default registry and served by the /metrics endpoint.
type Metrics struct {
	// ScheduleFires counts cron fires by skill and status
	// (dispatched|failed).
	ScheduleFires *prometheus.CounterVec

	// BackgroundRuns counts background agent runs by status
	// (started|completed|failed).
	BackgroundRuns *prometheus.CounterVec

	// NotificationsPosted counts queued notifications by priority.
	NotificationsPosted *prometheus.CounterVec

	// WebsocketSessions tracks currently connected notification sessions.
	WebsocketSessions prometheus.Gauge

	// BridgeBuilds counts per-user bridge constructions by outcome
	// (built|cached|failed).
	BridgeBuilds *prometheus.CounterVec

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide metrics instance. Collectors live in the
// default registry, so there can only be one.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates and registers all collectors. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ScheduleFires: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_schedule_fires_total",
				Help: "Total cron schedule fires by skill and status",
			},
			[]string{"skill", "status"},
		),

		BackgroundRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_background_runs_total",
				Help: "Total background agent runs by status",
			},
			[]string{"status"},
		),

		NotificationsPosted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_notifications_total",
				Help: "Total notifications posted by priority",
			},
			[]string{"priority"},
		),

		WebsocketSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "steward_websocket_sessions",
				Help: "Currently connected notification websocket sessions",
			},
		),

		BridgeBuilds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_bridge_builds_total",
				Help: "Per-user tool bridge constructions by outcome",
			},
			[]string{"outcome"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_http_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_http_requests_total",
				Help: "Total API requests by method, path, and status",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}
