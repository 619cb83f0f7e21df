package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State metrics
	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_volumes_total",
			Help: "Total number of volume records by lifecycle state",
		},
		[]string{"state"},
	)

	MembersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_members_total",
			Help: "Total number of registered cluster members",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Lifecycle metrics
	VolumeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_volume_operations_total",
			Help: "Total number of lifecycle operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	VolumeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_volume_operation_duration_seconds",
			Help:    "Lifecycle operation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	AttachWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_attach_wait_seconds",
			Help:    "Time spent waiting for an attached device to become usable",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	MemberReachable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_member_reachable",
			Help: "Whether a cluster member's Raft address is reachable (1 = reachable)",
		},
		[]string{"node_id"},
	)

	VolumesInconsistent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_volumes_inconsistent",
			Help: "Number of volume records whose device does not fit their state",
		},
	)

	HostCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_host_commands_total",
			Help: "Total number of host commands run by command and result",
		},
		[]string{"command", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(MembersTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(VolumeOperationsTotal)
	prometheus.MustRegister(VolumeOperationDuration)
	prometheus.MustRegister(AttachWaitDuration)
	prometheus.MustRegister(HostCommandsTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(MemberReachable)
	prometheus.MustRegister(VolumesInconsistent)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Result returns the result label value for err
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
