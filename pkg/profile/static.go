package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// StaticType is the profile type served by StaticProvider.
const StaticType = "static"

// StaticProvider backs nodes with an in-memory inventory instead of real
// resources. The serve command runs on it until an external driver is
// registered, and tests use it to observe provisioning calls.
type StaticProvider struct {
	mu       sync.Mutex
	clusters map[string]bool
	nodes    map[string]bool
	logger   zerolog.Logger
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		clusters: make(map[string]bool),
		nodes:    make(map[string]bool),
		logger:   log.WithComponent("profile"),
	}
}

func (p *StaticProvider) CreateCluster(ctx context.Context, cluster *types.Cluster) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clusters[cluster.ID] = true
	p.logger.Debug().Str("cluster_id", cluster.ID).Msg("Provisioned static cluster")
	return nil
}

func (p *StaticProvider) DeleteCluster(ctx context.Context, cluster *types.Cluster) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clusters, cluster.ID)
	return nil
}

func (p *StaticProvider) CreateNode(ctx context.Context, node *types.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nodes[node.ID] {
		return fmt.Errorf("node %s already provisioned", node.ID)
	}
	p.nodes[node.ID] = true
	p.logger.Debug().Str("node_id", node.ID).Msg("Provisioned static node")
	return nil
}

func (p *StaticProvider) DeleteNode(ctx context.Context, node *types.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.nodes, node.ID)
	return nil
}

func (p *StaticProvider) UpdateNode(ctx context.Context, node *types.Node, newProfileID string) error {
	return nil
}

func (p *StaticProvider) JoinCluster(ctx context.Context, node *types.Node, clusterID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Joining nodes may have been provisioned elsewhere; adopt them.
	p.nodes[node.ID] = true
	return nil
}

func (p *StaticProvider) LeaveCluster(ctx context.Context, node *types.Node) error {
	return nil
}

// HasNode reports whether the provider currently backs the node.
func (p *StaticProvider) HasNode(nodeID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[nodeID]
}

// HasCluster reports whether the provider currently backs the cluster.
func (p *StaticProvider) HasCluster(clusterID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clusters[clusterID]
}

// NodeCount returns the number of provisioned nodes.
func (p *StaticProvider) NodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}
