// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for ModelRequests.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	Dispatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lmdash_dispatches_total",
			Help: "Total number of prompts fanned out to the enabled models",
		},
	)

	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmdash_model_requests_total",
			Help: "Per-model send tasks by final outcome",
		},
		[]string{"model", "outcome"},
	)

	ModelRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lmdash_model_retries_total",
			Help: "Automatic retries by model and error kind",
		},
		[]string{"model", "kind"},
	)

	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lmdash_stream_duration_seconds",
			Help:    "Time from sending a request to the end of its stream",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"model"},
	)

	TasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lmdash_tasks_in_flight",
			Help: "Number of per-model send tasks currently running",
		},
	)

	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lmdash_persist_failures_total",
			Help: "Assistant messages that could not be stored",
		},
	)

	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lmdash_conversations_evicted_total",
			Help: "Conversations deleted to stay under the cap or free storage",
		},
	)
)
