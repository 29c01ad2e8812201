package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_clusters_total",
			Help: "Total number of clusters by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	// Action engine metrics
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_actions_total",
			Help: "Total number of executed actions by action and result",
		},
		[]string{"action", "result"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	PolicyChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_policy_checks_total",
			Help: "Total number of policy checks by phase and status",
		},
		[]string{"phase", "status"},
	)

	// Dispatcher metrics
	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_dispatch_queue_depth",
			Help: "Number of actions waiting for a worker",
		},
	)

	NodeActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_node_actions_total",
			Help: "Total number of node sub-actions by action and status",
		},
		[]string{"action", "status"},
	)

	NodeActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_node_action_duration_seconds",
			Help:    "Node sub-action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(PolicyChecksTotal)
	prometheus.MustRegister(DispatchQueueDepth)
	prometheus.MustRegister(NodeActionsTotal)
	prometheus.MustRegister(NodeActionDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
