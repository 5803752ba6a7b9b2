package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Eviction causes for the registry indices.
const (
	EvictionCauseUserCapacity = "user_capacity"
	EvictionCauseStale        = "stale"
)

var (
	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_connections_total",
		Help: "Total number of SSE connections established",
	})

	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hookrelay_connections_active",
		Help: "Current number of live SSE connections in the registry",
	})

	registryEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookrelay_registry_evictions_total",
		Help: "Connections removed by eviction, by cause",
	}, []string{"cause"})

	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_events_published_total",
		Help: "Hook events delivered to a connection",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_events_failed_total",
		Help: "Hook event writes that failed on a connection",
	})

	heartbeatsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookrelay_heartbeats_total",
		Help: "Heartbeat probe outcomes",
	}, []string{"outcome"})

	heartbeatCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hookrelay_heartbeat_cycle_duration_seconds",
		Help:    "Wall-clock duration of a full heartbeat cycle",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	heartbeatProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hookrelay_heartbeat_probe_duration_seconds",
		Help:    "Wall-clock duration of a single heartbeat probe write",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	staleRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_stale_connections_removed_total",
		Help: "Connections evicted after crossing the failure threshold",
	})

	hooksRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_hooks_rate_limited_total",
		Help: "Inbound hook requests rejected by the per-user rate limiter",
	})

	workerTasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookrelay_worker_tasks_dropped_total",
		Help: "Fan-out tasks dropped because the worker queue was full",
	})

	workerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hookrelay_worker_queue_depth",
		Help: "Tasks waiting in the worker pool queue",
	})
)

// RecordConnectionOpened counts a newly established connection.
func RecordConnectionOpened() {
	connectionsTotal.Inc()
}

// SetActiveConnections publishes the registry's live transport count.
func SetActiveConnections(n int) {
	connectionsActive.Set(float64(n))
}

// RecordRegistryEviction counts capacity- or health-driven evictions.
func RecordRegistryEviction(cause string, n int) {
	registryEvictions.WithLabelValues(cause).Add(float64(n))
}

// RecordEventDelivered counts one successful per-connection event write.
func RecordEventDelivered() {
	eventsPublished.Inc()
}

// RecordEventFailed counts one failed per-connection event write.
func RecordEventFailed() {
	eventsFailed.Inc()
}

// RecordHeartbeat counts a probe outcome ("success" or "failure").
func RecordHeartbeat(outcome string) {
	heartbeatsSent.WithLabelValues(outcome).Inc()
}

// ObserveHeartbeatCycle records the duration of a full cycle.
func ObserveHeartbeatCycle(d time.Duration) {
	heartbeatCycleDuration.Observe(d.Seconds())
}

// ObserveHeartbeatProbe records the duration of a single probe write.
func ObserveHeartbeatProbe(d time.Duration) {
	heartbeatProbeDuration.Observe(d.Seconds())
}

// RecordStaleRemoved counts connections removed by stale cleanup.
func RecordStaleRemoved(n int) {
	staleRemoved.Add(float64(n))
	registryEvictions.WithLabelValues(EvictionCauseStale).Add(float64(n))
}

// RecordHookRateLimited counts a 429'd hook request.
func RecordHookRateLimited() {
	hooksRateLimited.Inc()
}

// RecordWorkerTaskDropped counts a dropped fan-out task.
func RecordWorkerTaskDropped() {
	workerTasksDropped.Inc()
}

// SetWorkerQueueDepth publishes the worker pool's queue depth.
func SetWorkerQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}
