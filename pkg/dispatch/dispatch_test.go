package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/profile"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider counts provider calls and fails on demand.
type fakeProvider struct {
	profile.Provider

	mu        sync.Mutex
	createErr error
	created   []string
	deleted   []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{Provider: profile.NoopProvider{}}
}

func (p *fakeProvider) CreateNode(ctx context.Context, node *types.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return p.createErr
	}
	p.created = append(p.created, node.ID)
	return nil
}

func (p *fakeProvider) DeleteNode(ctx context.Context, node *types.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, node.ID)
	return nil
}

func newTestPool(t *testing.T, provider profile.Provider) (*Pool, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := NewPool(store, provider, nil, 2)
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool, store
}

func readyAction(t *testing.T, store storage.Store, name types.ActionName, target string, inputs types.ActionInputs) *types.Action {
	t.Helper()
	a := &types.Action{
		ID:     "act-" + target + "-" + string(name),
		Name:   "test_" + string(name),
		Target: target,
		Action: name,
		Cause:  types.CauseDerived,
		Status: types.ActionStatusReady,
		Inputs: inputs,
	}
	require.NoError(t, store.CreateAction(a))
	return a
}

func waitTerminal(t *testing.T, store storage.Store, id string) *types.Action {
	t.Helper()
	var got *types.Action
	require.Eventually(t, func() bool {
		a, err := store.GetAction(id)
		if err != nil {
			return false
		}
		got = a
		return a.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestNodeCreateSucceeds(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1", Status: types.NodeStatusInit}))
	a := readyAction(t, store, types.NodeCreate, "n1", types.ActionInputs{})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusSucceeded, got.Status)

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusActive, node.Status)
}

func TestNodeCreateFailureMarksNodeError(t *testing.T) {
	provider := newFakeProvider()
	provider.createErr = errors.New("no capacity")
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1", Status: types.NodeStatusInit}))
	a := readyAction(t, store, types.NodeCreate, "n1", types.ActionInputs{})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusFailed, got.Status)
	assert.Contains(t, got.StatusReason, "no capacity")

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusError, node.Status)
}

func TestNodeDeleteRemovesRecord(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1", Status: types.NodeStatusActive}))
	a := readyAction(t, store, types.NodeDelete, "n1", types.ActionInputs{})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusSucceeded, got.Status)

	_, err := store.GetNode("n1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNodeJoinSetsClusterID(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", Status: types.NodeStatusActive}))
	a := readyAction(t, store, types.NodeJoin, "n1", types.ActionInputs{ClusterID: "c9"})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusSucceeded, got.Status)

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, "c9", node.ClusterID)
}

func TestNodeLeaveClearsClusterID(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1", Index: 2, Status: types.NodeStatusActive}))
	a := readyAction(t, store, types.NodeLeave, "n1", types.ActionInputs{})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusSucceeded, got.Status)

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Empty(t, node.ClusterID)
	assert.Zero(t, node.Index)
}

func TestNodeUpdateAppliesProfile(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ClusterID: "c1", ProfileID: "old", Status: types.NodeStatusActive}))
	a := readyAction(t, store, types.NodeUpdate, "n1", types.ActionInputs{NewProfileID: "new"})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusSucceeded, got.Status)

	node, err := store.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, "new", node.ProfileID)
}

func TestCancelledActionNeverRuns(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", Status: types.NodeStatusInit}))
	a := readyAction(t, store, types.NodeCreate, "n1", types.ActionInputs{})
	require.NoError(t, store.MarkActionCancelled(a.ID))

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusCancelled, got.Status)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Empty(t, provider.created)
}

func TestUnknownActionFails(t *testing.T) {
	provider := newFakeProvider()
	pool, store := newTestPool(t, provider)

	a := readyAction(t, store, types.ActionName("NODE_EXPLODE"), "n1", types.ActionInputs{})

	pool.StartAction(a.ID)

	got := waitTerminal(t, store, a.ID)
	assert.Equal(t, types.ActionStatusFailed, got.Status)
	assert.Contains(t, got.StatusReason, "No handler")
}
