// Package metrics defines the orchestrator's prometheus collectors, used
// to observe pool shape, dispatch/cancel/timeout/crash activity, and task
// latency. Grounded on the promauto package-level registration style of
// the grounding pack's network proxy metrics (estuary-flow), which
// registers one var per metric with promauto rather than building and
// wiring a custom registry by hand.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolHandles tracks live handle count per language.
	PoolHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execorch_pool_handles",
		Help: "current number of executor handles in a language pool",
	}, []string{"language"})

	// PoolCeiling tracks the configured ceiling per language, exported as a
	// gauge so dashboards can overlay it against PoolHandles.
	PoolCeiling = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execorch_pool_ceiling",
		Help: "configured handle ceiling for a language pool",
	}, []string{"language"})

	// QueueDepth tracks pending (unassigned) tasks per language.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "execorch_queue_depth",
		Help: "current number of queued tasks awaiting dispatch",
	}, []string{"language"})

	// DispatchTotal counts successful task-to-handle assignments.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execorch_dispatch_total",
		Help: "total tasks dispatched to an executor handle",
	}, []string{"language"})

	// CancelTotal counts cancel(id) calls by path: "queued" (removed before
	// dispatch) or "cooperative" (escalated against an assigned task, which
	// may later be force-terminated; that is not counted separately).
	CancelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execorch_cancel_total",
		Help: "total cancellations by resolution path",
	}, []string{"language", "path"})

	// TimeoutTotal counts soft-timer firings that started a cancel sequence.
	TimeoutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execorch_timeout_total",
		Help: "total soft-timer timeouts that began cancellation",
	}, []string{"language"})

	// CrashTotal counts tasks lost to their handle exiting while the task was
	// still assigned and unresolved. A handle that misses its ready budget
	// before any task is assigned is not counted.
	CrashTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "execorch_crash_total",
		Help: "total executor handle crashes",
	}, []string{"language"})

	// TaskLatency observes wall-clock time from submission to terminal
	// resolution, labeled by the resolved error kind ("" for success).
	TaskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "execorch_task_latency_seconds",
		Help:    "time from task submission to terminal resolution",
		Buckets: prometheus.DefBuckets,
	}, []string{"language", "kind"})
)
