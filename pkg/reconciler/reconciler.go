package reconciler

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler watches settled clusters for drift between desired capacity
// and actual membership, flagging them WARNING until they converge again.
// It never mutates membership itself; repairs stay user-driven.
type Reconciler struct {
	store  storage.Store
	locks  *lock.ClusterLock
	logger zerolog.Logger
	owner  string
	stopCh chan struct{}
}

// NewReconciler creates a new reconciler
func NewReconciler(store storage.Store, locks *lock.ClusterLock) *Reconciler {
	return &Reconciler{
		store:  store,
		locks:  locks,
		logger: log.WithComponent("reconciler"),
		owner:  "reconciler-" + uuid.New().String(),
		stopCh: make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("Reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(); err != nil {
				// Log error but continue
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("Reconciler stopped")
			return
		}
	}
}

// reconcile performs one reconciliation cycle
func (r *Reconciler) reconcile() error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	clusters, err := r.store.ListClusters()
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}

	for _, cluster := range clusters {
		if err := r.reconcileCluster(cluster); err != nil {
			r.logger.Error().
				Err(err).
				Str("cluster_id", cluster.ID).
				Msg("Failed to reconcile cluster")
		}
	}

	r.updateInventoryGauges(clusters)
	return nil
}

// reconcileCluster flags or clears capacity drift on a single cluster. A
// cluster busy under an action keeps its lock; those are skipped.
func (r *Reconciler) reconcileCluster(cluster *types.Cluster) error {
	if cluster.Status != types.ClusterStatusActive && cluster.Status != types.ClusterStatusWarning {
		return nil
	}

	if !r.locks.Acquire(cluster.ID, r.owner, lock.ClusterScope, false) {
		return nil
	}
	defer r.locks.Release(cluster.ID, r.owner, lock.ClusterScope)

	nodes, err := r.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	drifted := len(nodes) != cluster.DesiredCapacity
	switch {
	case drifted && cluster.Status == types.ClusterStatusActive:
		cluster.Status = types.ClusterStatusWarning
		cluster.StatusReason = fmt.Sprintf("Node count %d does not match desired capacity %d",
			len(nodes), cluster.DesiredCapacity)
	case !drifted && cluster.Status == types.ClusterStatusWarning:
		cluster.Status = types.ClusterStatusActive
		cluster.StatusReason = "Cluster converged to desired capacity"
	default:
		return nil
	}

	cluster.UpdatedAt = time.Now()
	if err := r.store.UpdateCluster(cluster); err != nil {
		// A concurrent action beat us to the record; next cycle re-checks.
		if errors.Is(err, storage.ErrConflict) {
			return nil
		}
		return err
	}

	r.logger.Warn().
		Str("cluster_id", cluster.ID).
		Str("status", string(cluster.Status)).
		Str("reason", cluster.StatusReason).
		Msg("Cluster capacity drift state changed")
	return nil
}

func (r *Reconciler) updateInventoryGauges(clusters []*types.Cluster) {
	byStatus := make(map[types.ClusterStatus]int)
	for _, cluster := range clusters {
		byStatus[cluster.Status]++
	}
	metrics.ClustersTotal.Reset()
	for status, count := range byStatus {
		metrics.ClustersTotal.WithLabelValues(string(status)).Set(float64(count))
	}

	nodes, err := r.store.ListNodes()
	if err != nil {
		return
	}
	nodesByStatus := make(map[types.NodeStatus]int)
	for _, node := range nodes {
		nodesByStatus[node.Status]++
	}
	metrics.NodesTotal.Reset()
	for status, count := range nodesByStatus {
		metrics.NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
