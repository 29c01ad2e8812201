package profile

import (
	"context"
	"strings"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// Provider is the resource layer behind clusters and nodes. The engine
// treats it as opaque: it only relies on calls returning once the physical
// operation reached a terminal state.
type Provider interface {
	// CreateCluster establishes non-node cluster state.
	CreateCluster(ctx context.Context, cluster *types.Cluster) error

	// DeleteCluster tears down non-node cluster state.
	DeleteCluster(ctx context.Context, cluster *types.Cluster) error

	CreateNode(ctx context.Context, node *types.Node) error
	DeleteNode(ctx context.Context, node *types.Node) error
	UpdateNode(ctx context.Context, node *types.Node, newProfileID string) error
	JoinCluster(ctx context.Context, node *types.Node, clusterID string) error
	LeaveCluster(ctx context.Context, node *types.Node) error
}

// TypeOf extracts the profile type from a profile reference. References
// take the form "<type>:<name>"; an unqualified reference has no type and
// resolves to the registry fallback.
func TypeOf(profileID string) string {
	if i := strings.IndexByte(profileID, ':'); i > 0 {
		return profileID[:i]
	}
	return ""
}

// Registry resolves providers by profile type and is itself a Provider:
// each call is delegated to the provider registered for the target's
// profile reference.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry creates a registry delegating unmatched profile types to
// fallback.
func NewRegistry(fallback Provider) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Register installs the provider for a profile type, replacing any
// previous one.
func (r *Registry) Register(profileType string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[profileType] = p
}

// ForProfile returns the provider serving the given profile reference.
func (r *Registry) ForProfile(profileID string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.providers[TypeOf(profileID)]; ok {
		return p
	}
	return r.fallback
}

func (r *Registry) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	return r.ForProfile(cluster.ProfileID).CreateCluster(ctx, cluster)
}

func (r *Registry) DeleteCluster(ctx context.Context, cluster *types.Cluster) error {
	return r.ForProfile(cluster.ProfileID).DeleteCluster(ctx, cluster)
}

func (r *Registry) CreateNode(ctx context.Context, node *types.Node) error {
	return r.ForProfile(node.ProfileID).CreateNode(ctx, node)
}

func (r *Registry) DeleteNode(ctx context.Context, node *types.Node) error {
	return r.ForProfile(node.ProfileID).DeleteNode(ctx, node)
}

// UpdateNode resolves against the new profile so a node can migrate
// between providers of the same type family.
func (r *Registry) UpdateNode(ctx context.Context, node *types.Node, newProfileID string) error {
	return r.ForProfile(newProfileID).UpdateNode(ctx, node, newProfileID)
}

func (r *Registry) JoinCluster(ctx context.Context, node *types.Node, clusterID string) error {
	return r.ForProfile(node.ProfileID).JoinCluster(ctx, node, clusterID)
}

func (r *Registry) LeaveCluster(ctx context.Context, node *types.Node) error {
	return r.ForProfile(node.ProfileID).LeaveCluster(ctx, node)
}

// NoopProvider fulfills the Provider contract without backing resources.
// It is used when Burrow tracks membership only.
type NoopProvider struct{}

func (NoopProvider) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	log.WithComponent("profile").Debug().Str("cluster_id", cluster.ID).Msg("No-op cluster create")
	return nil
}

func (NoopProvider) DeleteCluster(ctx context.Context, cluster *types.Cluster) error {
	log.WithComponent("profile").Debug().Str("cluster_id", cluster.ID).Msg("No-op cluster delete")
	return nil
}

func (NoopProvider) CreateNode(ctx context.Context, node *types.Node) error {
	return nil
}

func (NoopProvider) DeleteNode(ctx context.Context, node *types.Node) error {
	return nil
}

func (NoopProvider) UpdateNode(ctx context.Context, node *types.Node, newProfileID string) error {
	return nil
}

func (NoopProvider) JoinCluster(ctx context.Context, node *types.Node, clusterID string) error {
	return nil
}

func (NoopProvider) LeaveCluster(ctx context.Context, node *types.Node) error {
	return nil
}
