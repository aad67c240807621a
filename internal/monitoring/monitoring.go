package monitoring

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of Prometheus collectors a storage node or client
// process registers at startup.
type Metrics struct {
	QuorumWrites         prometheus.Counter
	QuorumWriteFailures  prometheus.Counter
	QuorumWriteDuration  prometheus.Histogram
	QuorumReads          prometheus.Counter
	QuorumReadFailures   prometheus.Counter
	QuorumReadDuration   prometheus.Histogram
	ReplicaCallTimeouts  prometheus.Counter
	ReplicaCallRetries   prometheus.Counter
	HintedHandoffQueued  prometheus.Gauge
	HintedHandoffFlushed prometheus.Counter
	SSEConnectedClients  prometheus.Gauge
	SSEEventsSent        prometheus.Counter
	SyncQueueSize        prometheus.Gauge
	SyncAttempts         prometheus.Counter
	SyncFailures         prometheus.Counter
	ErrorCount           prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics returns the process's Metrics collector set. The first call
// builds the collectors and registers them with the default Prometheus
// registry; every later call returns that same set, since registering the
// same metric names a second time panics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = buildMetrics() })
	return sharedMetrics
}

func buildMetrics() *Metrics {
	return &Metrics{
		QuorumWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_quorum_writes_total",
			Help: "Total number of quorum write requests coordinated by this node",
		}),
		QuorumWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_quorum_write_failures_total",
			Help: "Total number of quorum writes that failed to reach W acknowledgments",
		}),
		QuorumWriteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shoplist_quorum_write_duration_seconds",
			Help:    "Time to fan out and collect a quorum write",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		QuorumReads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_quorum_reads_total",
			Help: "Total number of quorum read requests coordinated by this node",
		}),
		QuorumReadFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_quorum_read_failures_total",
			Help: "Total number of quorum reads that failed to reach R responses",
		}),
		QuorumReadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shoplist_quorum_read_duration_seconds",
			Help:    "Time to fan out and collect a quorum read",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		ReplicaCallTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_replica_call_timeouts_total",
			Help: "Total number of peer channel calls that timed out",
		}),
		ReplicaCallRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_replica_call_retries_total",
			Help: "Total number of Lazy-Pirate retry attempts issued",
		}),
		HintedHandoffQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shoplist_hinted_handoff_queue_depth",
			Help: "Current number of hints awaiting redelivery",
		}),
		HintedHandoffFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_hinted_handoff_flushed_total",
			Help: "Total number of hints successfully redelivered",
		}),
		SSEConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shoplist_sse_connected_clients",
			Help: "Current number of connected SSE subscribers",
		}),
		SSEEventsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_sse_events_sent_total",
			Help: "Total number of SSE events broadcast to subscribers",
		}),
		SyncQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shoplist_client_sync_queue_size",
			Help: "Current number of unsynced pending operations on this client",
		}),
		SyncAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_client_sync_attempts_total",
			Help: "Total number of client sync loop iterations",
		}),
		SyncFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_client_sync_failures_total",
			Help: "Total number of client sync loop iterations that failed",
		}),
		ErrorCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shoplist_errors_total",
			Help: "Total number of internal errors observed",
		}),
	}
}
