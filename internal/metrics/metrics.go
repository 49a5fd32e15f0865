// Package metrics exposes Prometheus instrumentation for the crawl client
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
	OutcomeSkipped   = "skipped"
)

var (
	// TransportRequests counts crawl service calls by operation and outcome.
	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlctl_transport_requests_total",
			Help: "Total number of calls made to the crawl service",
		},
		[]string{"op", "outcome"},
	)

	// TransportDuration tracks call latency in seconds.
	TransportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawlctl_transport_duration_seconds",
			Help:    "Duration of calls made to the crawl service in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
		},
		[]string{"op"},
	)

	// ActiveExecutions tracks crawls with a live execution handle.
	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlctl_active_executions",
			Help: "Number of crawls currently running from this session",
		},
	)

	// VerbsTotal counts operator verbs by verb and outcome.
	VerbsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlctl_verbs_total",
			Help: "Total number of operator verbs executed",
		},
		[]string{"verb", "outcome"},
	)

	// ReconcileTotal counts reconciliation ticks by outcome.
	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawlctl_reconcile_total",
			Help: "Total number of reconciliation ticks",
		},
		[]string{"outcome"},
	)

	// ReconcileDuration tracks reconciliation tick latency in seconds.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawlctl_reconcile_duration_seconds",
			Help:    "Duration of reconciliation ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RegistrySize tracks the number of jobs known locally.
	RegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawlctl_registry_jobs",
			Help: "Number of crawl jobs in the local registry",
		},
	)
)
