package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	// Service operations
	OperationAttempts *prometheus.CounterVec
	OperationFailures *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ColdFallbacks     *prometheus.CounterVec

	// Broadcast
	BroadcastsEmitted *prometheus.CounterVec
	BroadcastFailures *prometheus.CounterVec
	SubscriberDrops   prometheus.Counter
	WSConnections     prometheus.Gauge

	// Rotation
	RotationPartitions *prometheus.CounterVec
	RotationDuration   prometheus.Histogram

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	RateLimited  prometheus.Counter
}

// NewMetrics creates all collectors on a fresh registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OperationAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_operation_attempts_total",
			Help: "Leaderboard service operations started",
		}, []string{"operation"}),

		OperationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_operation_failures_total",
			Help: "Leaderboard service operations that returned an error",
		}, []string{"operation"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leaderboard_operation_duration_seconds",
			Help:    "Leaderboard service operation latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),

		ColdFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_cold_fallbacks_total",
			Help: "Reads answered from the run log because the partition cache was absent",
		}, []string{"region", "mode"}),

		BroadcastsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_broadcasts_emitted_total",
			Help: "leaderboardUpdate events handed to a sink",
		}, []string{"sink"}),

		BroadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_broadcast_failures_total",
			Help: "leaderboardUpdate events a sink failed to accept",
		}, []string{"sink"}),

		SubscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "leaderboard_ws_subscriber_drops_total",
			Help: "WebSocket subscribers dropped because their send buffer was full",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leaderboard_ws_connections",
			Help: "Open WebSocket subscriber connections",
		}),

		RotationPartitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_rotation_partitions_total",
			Help: "Partitions processed by the daily rotation by result",
		}, []string{"result"}),

		RotationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leaderboard_rotation_duration_seconds",
			Help:    "Wall time of one rotation pass",
			Buckets: prometheus.DefBuckets,
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leaderboard_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leaderboard_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "leaderboard_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
