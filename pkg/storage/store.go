package storage

import (
	"errors"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an optimistic update loses against a
	// concurrent writer. Callers retry one level up.
	ErrConflict = errors.New("version conflict")
)

// Store defines the interface for engine state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Clusters
	CreateCluster(cluster *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(id string) error

	// NextClusterIndex atomically hands out the cluster's next node index.
	// Two concurrent callers never receive the same value.
	NextClusterIndex(clusterID string) (int, error)

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesByCluster(clusterID string) ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Actions
	CreateAction(action *types.Action) error
	GetAction(id string) (*types.Action, error)
	ListActions() ([]*types.Action, error)
	UpdateAction(action *types.Action) error
	UpdateActionStatus(id string, status types.ActionStatus, reason string) error
	MarkActionCancelled(id string) error
	DeleteAction(id string) error

	// AddActionDependency records that dependent waits on dependency and
	// marks the dependent WAITING, atomically.
	AddActionDependency(dependentID, dependencyID string) error
	GetActionDependencies(dependentID string) ([]string, error)

	// Policies
	CreatePolicy(policy *types.Policy) error
	GetPolicy(id string) (*types.Policy, error)
	ListPolicies() ([]*types.Policy, error)
	DeletePolicy(id string) error

	// Cluster-policy bindings
	CreateClusterPolicy(binding *types.ClusterPolicy) error
	GetClusterPolicy(clusterID, policyID string) (*types.ClusterPolicy, error)
	ListClusterPolicies(clusterID string) ([]*types.ClusterPolicy, error)
	UpdateClusterPolicy(binding *types.ClusterPolicy) error
	DeleteClusterPolicy(clusterID, policyID string) error

	// Utility
	Close() error
}
