package policy

import (
	"testing"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePolicy records check invocations and returns canned verdicts.
type fakePolicy struct {
	policyType string
	preResult  CheckResult
	postResult CheckResult
	calls      *[]string
}

func (p *fakePolicy) Type() string { return p.policyType }

func (p *fakePolicy) PreCheck(cluster *types.Cluster, action *types.Action) CheckResult {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.policyType+":pre")
	}
	return p.preResult
}

func (p *fakePolicy) PostCheck(cluster *types.Cluster, action *types.Action) CheckResult {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.policyType+":post")
	}
	return p.postResult
}

func (p *fakePolicy) Attach(cluster *types.Cluster) (map[string]string, error) { return nil, nil }
func (p *fakePolicy) Detach(cluster *types.Cluster) error                      { return nil }

func okPolicy(policyType string, calls *[]string) *fakePolicy {
	return &fakePolicy{
		policyType: policyType,
		preResult:  CheckResult{Status: types.CheckOK},
		postResult: CheckResult{Status: types.CheckOK},
		calls:      calls,
	}
}

func newTestGate(t *testing.T) (*Gate, storage.Store, *Registry) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := NewRegistry()
	return NewGate(store, registry), store, registry
}

func bind(t *testing.T, store storage.Store, clusterID, policyID, policyType string, priority int, enabled bool) {
	t.Helper()
	require.NoError(t, store.CreatePolicy(&types.Policy{ID: policyID, Type: policyType}))
	require.NoError(t, store.CreateClusterPolicy(&types.ClusterPolicy{
		ClusterID: clusterID,
		PolicyID:  policyID,
		Priority:  priority,
		Enabled:   enabled,
	}))
}

func TestCheckRunsInPriorityOrder(t *testing.T) {
	gate, store, registry := newTestGate(t)

	var calls []string
	registry.Register(okPolicy("type.b", &calls))
	registry.Register(okPolicy("type.a", &calls))

	// Priorities deliberately inverted relative to creation order
	bind(t, store, "c1", "p-low", "type.b", 20, true)
	bind(t, store, "c1", "p-high", "type.a", 10, true)

	cluster := &types.Cluster{ID: "c1"}
	action := &types.Action{ID: "a1"}

	result := gate.Check(cluster, Before, action)
	assert.True(t, result.OK())
	assert.Equal(t, []string{"type.a:pre", "type.b:pre"}, calls)
	assert.Equal(t, types.CheckOK, action.Data.Status)
}

func TestCheckSkipsDisabledBindings(t *testing.T) {
	gate, store, registry := newTestGate(t)

	var calls []string
	registry.Register(okPolicy("type.a", &calls))
	bind(t, store, "c1", "p1", "type.a", 10, false)

	result := gate.Check(&types.Cluster{ID: "c1"}, Before, &types.Action{ID: "a1"})
	assert.True(t, result.OK())
	assert.Empty(t, calls)
}

func TestCheckFailureShortCircuits(t *testing.T) {
	gate, store, registry := newTestGate(t)

	var calls []string
	failing := &fakePolicy{
		policyType: "type.a",
		preResult:  CheckResult{Status: types.CheckFailed, Reason: "quota exceeded"},
		calls:      &calls,
	}
	registry.Register(failing)
	registry.Register(okPolicy("type.b", &calls))

	bind(t, store, "c1", "p1", "type.a", 10, true)
	bind(t, store, "c1", "p2", "type.b", 20, true)

	action := &types.Action{ID: "a1"}
	result := gate.Check(&types.Cluster{ID: "c1"}, Before, action)

	assert.False(t, result.OK())
	assert.Equal(t, "quota exceeded", result.Reason)
	assert.Equal(t, []string{"type.a:pre"}, calls, "later bindings must not run")
	assert.Equal(t, types.CheckFailed, action.Data.Status)
	assert.Equal(t, "quota exceeded", action.Data.Reason)
}

func TestCheckAfterPhaseUsesPostCheck(t *testing.T) {
	gate, store, registry := newTestGate(t)

	var calls []string
	registry.Register(okPolicy("type.a", &calls))
	bind(t, store, "c1", "p1", "type.a", 10, true)

	result := gate.Check(&types.Cluster{ID: "c1"}, After, &types.Action{ID: "a1"})
	assert.True(t, result.OK())
	assert.Equal(t, []string{"type.a:post"}, calls)
}

func TestCheckUnregisteredTypeIsSkipped(t *testing.T) {
	gate, store, _ := newTestGate(t)

	bind(t, store, "c1", "p1", "type.unknown", 10, true)

	result := gate.Check(&types.Cluster{ID: "c1"}, Before, &types.Action{ID: "a1"})
	assert.True(t, result.OK())
}

func TestCheckNoBindings(t *testing.T) {
	gate, _, _ := newTestGate(t)

	result := gate.Check(&types.Cluster{ID: "c1"}, Before, &types.Action{ID: "a1"})
	assert.True(t, result.OK())
}
