// Package metrics defines the sync engine's prometheus collectors (spec
// §6: "metrics() / printMetrics() — counters: enqueue, success, failure
// (network/non-network), retries, conflicts resolved, auth refreshes,
// queue depth snapshots, circuit trips"). Grounded directly on the
// teacher's internal/telemetry/metrics.go: package-level CounterVec /
// GaugeVec variables plus an All() accessor for registration, renamed
// from the nightowl/alerts namespace to syncengine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var EnqueueTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "enqueue_total",
		Help:      "Total number of ops enqueued, by op type.",
	},
	[]string{"op_type"},
)

var SuccessTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "success_total",
		Help:      "Total number of ops dispatched successfully.",
	},
)

var FailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "failure_total",
		Help:      "Total number of ops that ended in failure, by cause class.",
	},
	[]string{"cause"}, // "network" or "non_network"
)

var RetriesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Name:      "retries_total",
		Help:      "Total number of retry attempts scheduled.",
	},
)

var ConflictsResolvedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Subsystem: "conflicts",
		Name:      "resolved_total",
		Help:      "Total number of conflicts resolved, by classification.",
	},
	[]string{"classification"},
)

var AuthRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Subsystem: "auth_refresh",
		Name:      "total",
		Help:      "Total number of auth refresh attempts, by outcome.",
	},
	[]string{"outcome"}, // "success" or "failure"
)

var QueueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "syncengine",
		Name:      "queue_depth",
		Help:      "Current number of ops in the pending queue.",
	},
)

var CircuitTripsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "syncengine",
		Subsystem: "circuit",
		Name:      "trips_total",
		Help:      "Total number of times the circuit breaker has tripped.",
	},
)

// All returns every sync-engine metric for registration against a
// prometheus.Registerer.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		EnqueueTotal,
		SuccessTotal,
		FailureTotal,
		RetriesTotal,
		ConflictsResolvedTotal,
		AuthRefreshTotal,
		QueueDepth,
		CircuitTripsTotal,
	}
}
