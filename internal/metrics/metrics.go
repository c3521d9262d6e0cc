package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// #region api-metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "butterfly_api_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// #endregion api-metrics

// #region turn-metrics
var (
	// TurnsTotal counts finished turns by outcome: committed, generation_failed, timeout, cancelled.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_turns_total",
			Help: "Turns by outcome.",
		},
		[]string{"outcome"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "butterfly_turn_duration_seconds",
			Help:    "Wall time of a full turn including both generator calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 240},
		},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "butterfly_generation_duration_seconds",
			Help:    "Generator call latency by stage: generate, self_evaluate.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "butterfly_quality_score",
			Help:    "Quality score of committed turns.",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 1},
		},
	)

	ConstraintUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_constraint_updates_total",
			Help: "Constraint store updates by action.",
		},
		[]string{"action"},
	)

	Constraints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "butterfly_constraints",
			Help: "Constraints currently stored across live sessions.",
		},
	)

	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "butterfly_websocket_connections",
			Help: "Open live-update websocket connections.",
		},
	)
)

// #endregion turn-metrics

// #region helpers

// ObserveTurn records a finished turn.
func ObserveTurn(outcome string, d time.Duration) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.Observe(d.Seconds())
}

// ObserveGeneration records one generator call.
func ObserveGeneration(stage string, d time.Duration) {
	GenerationDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// #endregion helpers
