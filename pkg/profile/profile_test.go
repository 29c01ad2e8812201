package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingProvider errors on node creation and update; used to prove routing.
type failingProvider struct {
	NoopProvider
}

func (failingProvider) CreateNode(ctx context.Context, node *types.Node) error {
	return errors.New("wrong provider")
}

func (failingProvider) UpdateNode(ctx context.Context, node *types.Node, newProfileID string) error {
	return errors.New("wrong provider")
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name      string
		profileID string
		expected  string
	}{
		{"qualified reference", "static:default", "static"},
		{"unqualified reference", "profile-1", ""},
		{"empty reference", "", ""},
		{"leading separator", ":weird", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TypeOf(tt.profileID))
		})
	}
}

func TestRegistryRoutesByProfileType(t *testing.T) {
	static := NewStaticProvider()
	registry := NewRegistry(failingProvider{})
	registry.Register(StaticType, static)

	node := &types.Node{ID: "n1", ProfileID: "static:default"}
	require.NoError(t, registry.CreateNode(context.Background(), node))
	assert.True(t, static.HasNode("n1"))

	// Unregistered types land on the fallback
	other := &types.Node{ID: "n2", ProfileID: "vm:large"}
	err := registry.CreateNode(context.Background(), other)
	assert.ErrorContains(t, err, "wrong provider")
}

func TestRegistryUpdateUsesNewProfile(t *testing.T) {
	static := NewStaticProvider()
	registry := NewRegistry(failingProvider{})
	registry.Register(StaticType, static)

	// The update resolves against the new profile, not the current one
	node := &types.Node{ID: "n1", ProfileID: "vm:large"}
	assert.NoError(t, registry.UpdateNode(context.Background(), node, "static:small"))
}

func TestStaticProviderInventory(t *testing.T) {
	p := NewStaticProvider()
	ctx := context.Background()

	cluster := &types.Cluster{ID: "c1", ProfileID: "static:default"}
	require.NoError(t, p.CreateCluster(ctx, cluster))
	assert.True(t, p.HasCluster("c1"))

	node := &types.Node{ID: "n1", ProfileID: "static:default"}
	require.NoError(t, p.CreateNode(ctx, node))
	assert.True(t, p.HasNode("n1"))
	assert.Equal(t, 1, p.NodeCount())

	// Provisioning the same node twice is a provider-level error
	assert.Error(t, p.CreateNode(ctx, node))

	require.NoError(t, p.DeleteNode(ctx, node))
	assert.False(t, p.HasNode("n1"))

	require.NoError(t, p.DeleteCluster(ctx, cluster))
	assert.False(t, p.HasCluster("c1"))
}

func TestStaticProviderAdoptsJoiningNodes(t *testing.T) {
	p := NewStaticProvider()

	node := &types.Node{ID: "n1", ProfileID: "static:default"}
	require.NoError(t, p.JoinCluster(context.Background(), node, "c1"))
	assert.True(t, p.HasNode("n1"))
}
