// Package metrics provides performance tracking and observability for
// chemflow using Prometheus metrics. It exposes pre-defined collectors for
// the extraction substrate (requests, retries, cache, circuit state) and the
// pipeline engine (stage durations, rows).
//
// # Basic Usage
//
//	// Record a completed API request
//	metrics.APIRequests.WithLabelValues("chembl", "success").Inc()
//
//	// Record a retry event
//	metrics.RetryEvents.WithLabelValues("crossref", "retry_after").Inc()
//
//	// Track a stage duration
//	metrics.StageDuration.WithLabelValues("extract").Observe(d.Seconds())
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests tracks terminal API call outcomes per source.
	// Labels: source, status (success/circuit_open/rate_limit/http/network/parse)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemflow_api_requests_total",
			Help: "Total number of API requests by terminal outcome",
		},
		[]string{"source", "status"},
	)

	// RetryEvents tracks retry and give-up events per source.
	// Labels: source, classification (retry_now/retry_after/fatal/giveup)
	RetryEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemflow_retry_events_total",
			Help: "Total number of retry classification events",
		},
		[]string{"source", "classification"},
	)

	// CacheRequests tracks response cache effectiveness per source.
	// Labels: source, result (hit/miss)
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemflow_cache_requests_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"source", "result"},
	)

	// CircuitState reports the current circuit breaker state per source
	// (0 = closed, 1 = open, 2 = half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chemflow_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"source"},
	)

	// RequestLatency tracks the distribution of API request latencies.
	// Labels: source
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chemflow_request_latency_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// StageDuration tracks pipeline stage durations.
	// Labels: stage (extract/transform/validate/write)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chemflow_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"stage"},
	)

	// RowsProcessed tracks rows flowing through the pipeline.
	// Labels: stage, status (success/failure)
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemflow_rows_processed_total",
			Help: "Total number of rows processed per stage",
		},
		[]string{"stage", "status"},
	)

	// RunsCompleted tracks pipeline run terminations.
	// Labels: result (done/failed)
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chemflow_runs_completed_total",
			Help: "Total number of completed pipeline runs",
		},
		[]string{"result"},
	)
)
