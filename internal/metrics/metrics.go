// Package metrics holds the Prometheus collectors for the SIPP sync service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished runs by entity type and result (success, failure).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipp_sync_runs_total",
			Help: "Total number of SIPP sync runs",
		},
		[]string{"entity", "sync_type", "result"},
	)

	// SyncRunsSkipped counts scheduled runs skipped because another run held the lock.
	SyncRunsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipp_sync_runs_skipped_total",
			Help: "Total number of SIPP sync runs skipped because a run was already in progress",
		},
		[]string{"entity"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sipp_sync_duration_seconds",
			Help:    "Duration of SIPP sync runs",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"entity"},
	)

	// SyncRecords counts per-record outcomes (created, updated, unchanged, skipped, error).
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipp_sync_records_total",
			Help: "Total number of SIPP records processed by outcome",
		},
		[]string{"entity", "outcome"},
	)

	// APIRequests counts SIPP API attempts by resource and result.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sipp_api_requests_total",
			Help: "Total number of SIPP API request attempts",
		},
		[]string{"resource", "result"},
	)

	RateLimitWaitSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sipp_api_rate_limit_wait_seconds_total",
			Help: "Total time spent waiting on the client-side SIPP rate limiter",
		},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sipp_api_circuit_breaker_state",
			Help: "State of the SIPP API circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
