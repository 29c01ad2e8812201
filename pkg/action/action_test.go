package action

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/dispatch"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

// hookProvider lets tests intercept individual provider calls; nil hooks
// succeed.
type hookProvider struct {
	createCluster func(*types.Cluster) error
	deleteCluster func(*types.Cluster) error
	createNode    func(*types.Node) error
	deleteNode    func(*types.Node) error
	updateNode    func(*types.Node, string) error
	joinCluster   func(*types.Node, string) error
	leaveCluster  func(*types.Node) error
}

func (p *hookProvider) CreateCluster(ctx context.Context, c *types.Cluster) error {
	if p.createCluster == nil {
		return nil
	}
	return p.createCluster(c)
}

func (p *hookProvider) DeleteCluster(ctx context.Context, c *types.Cluster) error {
	if p.deleteCluster == nil {
		return nil
	}
	return p.deleteCluster(c)
}

func (p *hookProvider) CreateNode(ctx context.Context, n *types.Node) error {
	if p.createNode == nil {
		return nil
	}
	return p.createNode(n)
}

func (p *hookProvider) DeleteNode(ctx context.Context, n *types.Node) error {
	if p.deleteNode == nil {
		return nil
	}
	return p.deleteNode(n)
}

func (p *hookProvider) UpdateNode(ctx context.Context, n *types.Node, newProfileID string) error {
	if p.updateNode == nil {
		return nil
	}
	return p.updateNode(n, newProfileID)
}

func (p *hookProvider) JoinCluster(ctx context.Context, n *types.Node, clusterID string) error {
	if p.joinCluster == nil {
		return nil
	}
	return p.joinCluster(n, clusterID)
}

func (p *hookProvider) LeaveCluster(ctx context.Context, n *types.Node) error {
	if p.leaveCluster == nil {
		return nil
	}
	return p.leaveCluster(n)
}

type testEnv struct {
	store    storage.Store
	locks    *lock.ClusterLock
	registry *policy.Registry
	provider *hookProvider
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	provider := &hookProvider{}
	pool := dispatch.NewPool(store, provider, nil, 4)
	pool.Start()
	t.Cleanup(pool.Stop)

	locks := lock.NewClusterLock()
	registry := policy.NewRegistry()

	engine := NewEngine(Config{
		Store:        store,
		Lock:         locks,
		Dispatcher:   pool,
		Gate:         policy.NewGate(store, registry),
		Registry:     registry,
		Provider:     provider,
		Broker:       nil,
		WaitInterval: 5 * time.Millisecond,
		RandomSeed:   42,
	})

	return &testEnv{
		store:    store,
		locks:    locks,
		registry: registry,
		provider: provider,
		engine:   engine,
	}
}

// seedCluster stores a settled cluster with nodeCount ACTIVE member nodes.
func (env *testEnv) seedCluster(t *testing.T, minSize, maxSize, desired, nodeCount int) (*types.Cluster, []*types.Node) {
	t.Helper()

	cluster := &types.Cluster{
		ID:              uuid.New().String(),
		Name:            "test-cluster",
		ProfileID:       "profile-1",
		MinSize:         minSize,
		MaxSize:         maxSize,
		DesiredCapacity: desired,
		Status:          types.ClusterStatusActive,
	}
	require.NoError(t, env.store.CreateCluster(cluster))

	nodes := make([]*types.Node, 0, nodeCount)
	for i := 0; i < nodeCount; i++ {
		index, err := env.store.NextClusterIndex(cluster.ID)
		require.NoError(t, err)
		node := &types.Node{
			ID:        uuid.New().String(),
			Name:      fmt.Sprintf("node-%s-%03d", shortID(cluster.ID), index),
			ClusterID: cluster.ID,
			Index:     index,
			ProfileID: cluster.ProfileID,
			Status:    types.NodeStatusActive,
		}
		require.NoError(t, env.store.CreateNode(node))
		nodes = append(nodes, node)
	}

	fresh, err := env.store.GetCluster(cluster.ID)
	require.NoError(t, err)
	return fresh, nodes
}

func (env *testEnv) newAction(t *testing.T, name types.ActionName, target string, inputs types.ActionInputs) *types.Action {
	t.Helper()

	a := &types.Action{
		ID:     uuid.New().String(),
		Name:   string(name),
		Target: target,
		Action: name,
		Cause:  types.CauseUser,
		Status: types.ActionStatusReady,
		Inputs: inputs,
	}
	require.NoError(t, env.store.CreateAction(a))
	return a
}

func (env *testEnv) derivedActions(t *testing.T) []*types.Action {
	t.Helper()
	all, err := env.store.ListActions()
	require.NoError(t, err)
	var derived []*types.Action
	for _, a := range all {
		if a.Cause == types.CauseDerived {
			derived = append(derived, a)
		}
	}
	return derived
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

// Coordinator tests

func (env *testEnv) seedWait(t *testing.T, parentTimeout time.Duration, startedAgo time.Duration, cancelled bool, depStatuses ...types.ActionStatus) *types.Action {
	t.Helper()

	parent := &types.Action{
		ID:        uuid.New().String(),
		Action:    types.ClusterCreate,
		Status:    types.ActionStatusWaiting,
		Cancelled: cancelled,
		StartTime: time.Now().Add(-startedAgo),
		Timeout:   parentTimeout,
	}
	require.NoError(t, env.store.CreateAction(parent))

	for _, status := range depStatuses {
		dep := &types.Action{
			ID:     uuid.New().String(),
			Action: types.NodeCreate,
			Cause:  types.CauseDerived,
			Status: status,
		}
		require.NoError(t, env.store.CreateAction(dep))
		require.NoError(t, env.store.AddActionDependency(parent.ID, dep.ID))
	}

	// AddActionDependency reset the status; restore the scenario's flags
	require.NoError(t, env.store.UpdateAction(parent))
	return parent
}

func TestWaitForDependentsAllSucceeded(t *testing.T) {
	env := newTestEnv(t)
	parent := env.seedWait(t, 0, 0, false,
		types.ActionStatusSucceeded, types.ActionStatusSucceeded)

	res, reason := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultOK, res)
	assert.Equal(t, "All dependents ended with success", reason)
}

func TestWaitForDependentsFailureWins(t *testing.T) {
	env := newTestEnv(t)

	// Failed dependency beats a pending cancel and an elapsed deadline
	parent := env.seedWait(t, time.Millisecond, time.Minute, true,
		types.ActionStatusSucceeded, types.ActionStatusFailed)

	res, reason := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultError, res)
	assert.Contains(t, reason, "dependent action failure")
}

func TestWaitForDependentsCancelBeatsSuccess(t *testing.T) {
	env := newTestEnv(t)

	parent := env.seedWait(t, 0, 0, true,
		types.ActionStatusSucceeded, types.ActionStatusSucceeded)

	res, reason := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultCancel, res)
	assert.Contains(t, reason, "cancelled")
}

func TestWaitForDependentsTimeoutBeatsCancel(t *testing.T) {
	env := newTestEnv(t)

	parent := env.seedWait(t, time.Millisecond, time.Minute, true,
		types.ActionStatusSucceeded)

	res, reason := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultTimeout, res)
	assert.Contains(t, reason, "timeout")
}

func TestWaitForDependentsObservesLateCompletion(t *testing.T) {
	env := newTestEnv(t)

	parent := env.seedWait(t, 0, 0, false, types.ActionStatusRunning)
	deps, err := env.store.GetActionDependencies(parent.ID)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = env.store.UpdateActionStatus(deps[0], types.ActionStatusSucceeded, "done")
	}()

	res, _ := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultOK, res)
}

func TestWaitForDependentsCancelledDependencyFails(t *testing.T) {
	env := newTestEnv(t)

	parent := env.seedWait(t, 0, 0, false,
		types.ActionStatusSucceeded, types.ActionStatusCancelled)

	res, _ := env.engine.waitForDependents(context.Background(), parent)
	assert.Equal(t, ResultError, res)
}
