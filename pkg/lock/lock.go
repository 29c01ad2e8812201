package lock

import (
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/rs/zerolog"
)

// ClusterScope is the lock scope covering a whole cluster and its node set.
const ClusterScope = "CLUSTER"

type lockKey struct {
	clusterID string
	scope     string
}

// ClusterLock is a named mutex keyed by cluster id and scope. Acquire is
// non-blocking; contention is reported to the caller, who decides whether
// to retry. A forced acquire preempts the current owner and is reserved
// for cluster deletion.
type ClusterLock struct {
	mu     sync.Mutex
	owners map[lockKey]string
	logger zerolog.Logger
}

// NewClusterLock creates an empty lock table.
func NewClusterLock() *ClusterLock {
	return &ClusterLock{
		owners: make(map[lockKey]string),
		logger: log.WithComponent("lock"),
	}
}

// Acquire attempts to record (clusterID, scope) -> ownerID. It returns true
// on success and on re-entry by the same owner. When forced, any existing
// owner is preempted.
func (l *ClusterLock) Acquire(clusterID, ownerID, scope string, forced bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey{clusterID, scope}
	current, held := l.owners[key]
	if !held || current == ownerID {
		l.owners[key] = ownerID
		return true
	}

	if forced {
		l.logger.Warn().
			Str("cluster_id", clusterID).
			Str("owner", current).
			Str("new_owner", ownerID).
			Msg("Forcing cluster lock away from current owner")
		l.owners[key] = ownerID
		return true
	}

	return false
}

// Release removes the lock entry only when ownerID still holds it;
// otherwise it is a no-op.
func (l *ClusterLock) Release(clusterID, ownerID, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey{clusterID, scope}
	if l.owners[key] == ownerID {
		delete(l.owners, key)
	}
}

// Holder returns the current owner of (clusterID, scope), if any.
func (l *ClusterLock) Holder(clusterID, scope string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, held := l.owners[lockKey{clusterID, scope}]
	return owner, held
}
