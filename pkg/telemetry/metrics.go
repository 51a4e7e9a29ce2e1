package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Gateway ─────────────────────────────────────────────────────────────────

	GatewayJobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "gateway",
		Name:      "jobs_submitted_total",
		Help:      "Total generation jobs admitted, labelled by kind.",
	}, []string{"kind"})

	GatewayQuotaRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "gateway",
		Name:      "quota_rejected_total",
		Help:      "Total submissions rejected at the daily quota gate.",
	}, []string{"kind", "tier"})

	GatewayJobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "gateway",
		Name:      "jobs_cancelled_total",
		Help:      "Total jobs cancelled by their owner.",
	})

	GatewayLiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vtry",
		Subsystem: "gateway",
		Name:      "live_connections",
		Help:      "Websocket connections currently subscribed to job events.",
	})

	// ─── Worker ──────────────────────────────────────────────────────────────────

	WorkerJobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "worker",
		Name:      "jobs_processed_total",
		Help:      "Total jobs finished, labelled by kind and terminal status.",
	}, []string{"kind", "status"})

	WorkerJobsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vtry",
		Subsystem: "worker",
		Name:      "jobs_inflight",
		Help:      "Jobs currently being executed.",
	}, []string{"kind"})

	WorkerJobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vtry",
		Subsystem: "worker",
		Name:      "job_duration_seconds",
		Help:      "Claim-to-terminal execution time in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"kind"})

	WorkerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "worker",
		Name:      "retries_total",
		Help:      "Total retryable provider failures that re-enqueued a job.",
	}, []string{"kind"})

	WorkerClaimsLost = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "worker",
		Name:      "claims_lost_total",
		Help:      "Duplicate deliveries dropped because the job was already claimed or terminal.",
	}, []string{"kind"})

	// ─── Dispatcher ──────────────────────────────────────────────────────────────

	DispatcherJobsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "dispatcher",
		Name:      "jobs_routed_total",
		Help:      "Total jobs routed to per-kind worker topics.",
	}, []string{"kind"})

	DispatcherSurgeDelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "dispatcher",
		Name:      "surge_delayed_total",
		Help:      "Total jobs deferred by the per-kind surge limiter.",
	}, []string{"kind"})

	DispatcherDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "dispatcher",
		Name:      "dlq_total",
		Help:      "Total malformed messages sent to the dead-letter topic.",
	})

	// ─── Sweeper ─────────────────────────────────────────────────────────────────

	SweeperJobsRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "sweeper",
		Name:      "jobs_requeued_total",
		Help:      "Total stuck jobs rescued back onto the queue.",
	})

	SweeperJobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "sweeper",
		Name:      "jobs_failed_total",
		Help:      "Total stuck jobs failed after exhausting their attempts.",
	})

	SweeperJobsRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vtry",
		Subsystem: "sweeper",
		Name:      "jobs_republished_total",
		Help:      "Total QUEUED jobs republished after their queue message was lost.",
	})
)
