package telemetry

import "github.com/prometheus/client_golang/prometheus"

var JobsLeasedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "jobs",
		Name:      "leased_total",
		Help:      "Total number of jobs successfully leased by a runner.",
	},
	[]string{"kind"},
)

var JobsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "jobs",
		Name:      "completed_total",
		Help:      "Total number of jobs completed, by terminal status.",
	},
	[]string{"kind", "status"},
)

var JobsRequeuedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "jobs",
		Name:      "requeued_total",
		Help:      "Total number of jobs requeued after an expired lease.",
	},
)

var JobAttemptCapExceededTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "jobs",
		Name:      "attempt_cap_exceeded_total",
		Help:      "Total number of jobs failed outright for exceeding the attempt cap.",
	},
)

var RetentionSweepDeletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "retention",
		Name:      "deleted_total",
		Help:      "Total number of rows deleted by the retention sweep, by table.",
	},
	[]string{"table"},
)

var RetentionSweepDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "clawlets",
		Subsystem: "retention",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of a single retention sweep pass.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	},
)

var ErasureStepsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "erasure",
		Name:      "steps_total",
		Help:      "Total number of tenant-deletion job steps executed, by step name.",
	},
	[]string{"step"},
)

var ErasureJobsCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "erasure",
		Name:      "jobs_completed_total",
		Help:      "Total number of erasure jobs reaching a terminal status.",
	},
	[]string{"status"},
)

var RateLimitRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "clawlets",
		Subsystem: "ratelimit",
		Name:      "rejected_total",
		Help:      "Total number of requests rejected for exceeding a per-principal operation rate limit.",
	},
	[]string{"scope"},
)

// All returns every clawlets-specific collector for registration alongside
// the shared registry built by NewMetricsRegistry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		JobsLeasedTotal,
		JobsCompletedTotal,
		JobsRequeuedTotal,
		JobAttemptCapExceededTotal,
		RetentionSweepDeletedTotal,
		RetentionSweepDuration,
		ErasureStepsTotal,
		ErasureJobsCompletedTotal,
		RateLimitRejectedTotal,
	}
}
