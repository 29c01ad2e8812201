package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketClusters     = []byte("clusters")
	bucketNodes        = []byte("nodes")
	bucketActions      = []byte("actions")
	bucketDependencies = []byte("dependencies")
	bucketPolicies     = []byte("policies")
	bucketBindings     = []byte("bindings")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClusters,
			bucketNodes,
			bucketActions,
			bucketDependencies,
			bucketPolicies,
			bucketBindings,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	if cluster.NextIndex < 1 {
		cluster.NextIndex = 1
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketClusters), cluster.ID, cluster)
	})
}

func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketClusters), id, &cluster, "cluster")
	})
	if err != nil {
		return nil, err
	}
	return &cluster, nil
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

// UpdateCluster writes the cluster back, rejecting stale versions with
// ErrConflict. The stored version is bumped on every successful write.
func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		var current types.Cluster
		if err := getJSON(b, cluster.ID, &current, "cluster"); err != nil {
			return err
		}
		if current.Version != cluster.Version {
			return fmt.Errorf("cluster %s: %w", cluster.ID, ErrConflict)
		}
		cluster.Version++
		return putJSON(b, cluster.ID, cluster)
	})
}

// DeleteCluster removes the cluster and cascades to its nodes and bindings.
func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketClusters).Delete([]byte(id)); err != nil {
			return err
		}

		nodes := tx.Bucket(bucketNodes)
		var victims [][]byte
		err := nodes.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if node.ClusterID == id {
				victims = append(victims, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range victims {
			if err := nodes.Delete(k); err != nil {
				return err
			}
		}

		bindings := tx.Bucket(bucketBindings)
		c := bindings.Cursor()
		prefix := []byte(id + "/")
		var stale [][]byte
		for k, _ := c.Seek(prefix); k != nil && len(k) > len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bindings.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) NextClusterIndex(clusterID string) (int, error) {
	var index int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		var cluster types.Cluster
		if err := getJSON(b, clusterID, &cluster, "cluster"); err != nil {
			return err
		}
		index = cluster.NextIndex
		cluster.NextIndex++
		cluster.Version++
		return putJSON(b, clusterID, &cluster)
	})
	return index, err
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketNodes), node.ID, node)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketNodes), id, &node, "node")
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	return s.listNodes(func(*types.Node) bool { return true })
}

func (s *BoltStore) ListNodesByCluster(clusterID string) ([]*types.Node, error) {
	return s.listNodes(func(n *types.Node) bool { return n.ClusterID == clusterID })
}

func (s *BoltStore) listNodes(keep func(*types.Node) bool) ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			if keep(&node) {
				nodes = append(nodes, &node)
			}
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node) // Same as create (upsert)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// Action operations
func (s *BoltStore) CreateAction(action *types.Action) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketActions), action.ID, action)
	})
}

func (s *BoltStore) GetAction(id string) (*types.Action, error) {
	var action types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketActions), id, &action, "action")
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *BoltStore) ListActions() ([]*types.Action, error) {
	var actions []*types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action types.Action
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			actions = append(actions, &action)
			return nil
		})
	})
	return actions, err
}

func (s *BoltStore) UpdateAction(action *types.Action) error {
	return s.CreateAction(action) // Same as create (upsert)
}

func (s *BoltStore) UpdateActionStatus(id string, status types.ActionStatus, reason string) error {
	return s.mutateAction(id, func(a *types.Action) {
		a.Status = status
		a.StatusReason = reason
	})
}

func (s *BoltStore) MarkActionCancelled(id string) error {
	return s.mutateAction(id, func(a *types.Action) {
		a.Cancelled = true
	})
}

func (s *BoltStore) mutateAction(id string, mutate func(*types.Action)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		var action types.Action
		if err := getJSON(b, id, &action, "action"); err != nil {
			return err
		}
		mutate(&action)
		action.UpdatedAt = time.Now()
		return putJSON(b, id, &action)
	})
}

func (s *BoltStore) DeleteAction(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketActions).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketDependencies).Delete([]byte(id))
	})
}

// AddActionDependency appends dependency to the dependent's list and moves
// the dependent to WAITING in the same transaction.
func (s *BoltStore) AddActionDependency(dependentID, dependencyID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		deps := tx.Bucket(bucketDependencies)
		var ids []string
		if data := deps.Get([]byte(dependentID)); data != nil {
			if err := json.Unmarshal(data, &ids); err != nil {
				return err
			}
		}
		ids = append(ids, dependencyID)
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		if err := deps.Put([]byte(dependentID), data); err != nil {
			return err
		}

		actions := tx.Bucket(bucketActions)
		var dependent types.Action
		if err := getJSON(actions, dependentID, &dependent, "action"); err != nil {
			return err
		}
		dependent.Status = types.ActionStatusWaiting
		dependent.UpdatedAt = time.Now()
		return putJSON(actions, dependentID, &dependent)
	})
}

func (s *BoltStore) GetActionDependencies(dependentID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDependencies).Get([]byte(dependentID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &ids)
	})
	return ids, err
}

// Policy operations
func (s *BoltStore) CreatePolicy(policy *types.Policy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPolicies), policy.ID, policy)
	})
}

func (s *BoltStore) GetPolicy(id string) (*types.Policy, error) {
	var policy types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketPolicies), id, &policy, "policy")
	})
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *BoltStore) ListPolicies() ([]*types.Policy, error) {
	var policies []*types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var policy types.Policy
			if err := json.Unmarshal(v, &policy); err != nil {
				return err
			}
			policies = append(policies, &policy)
			return nil
		})
	})
	return policies, err
}

func (s *BoltStore) DeletePolicy(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).Delete([]byte(id))
	})
}

// Binding operations. Keys are "<cluster_id>/<policy_id>" so a cluster's
// bindings are a single prefix scan.
func bindingKey(clusterID, policyID string) []byte {
	return []byte(clusterID + "/" + policyID)
}

func (s *BoltStore) CreateClusterPolicy(binding *types.ClusterPolicy) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBindings).Put(bindingKey(binding.ClusterID, binding.PolicyID), data)
	})
}

func (s *BoltStore) GetClusterPolicy(clusterID, policyID string) (*types.ClusterPolicy, error) {
	var binding types.ClusterPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBindings).Get(bindingKey(clusterID, policyID))
		if data == nil {
			return fmt.Errorf("binding %s/%s: %w", clusterID, policyID, ErrNotFound)
		}
		return json.Unmarshal(data, &binding)
	})
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

func (s *BoltStore) ListClusterPolicies(clusterID string) ([]*types.ClusterPolicy, error) {
	var bindings []*types.ClusterPolicy
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBindings).Cursor()
		prefix := []byte(clusterID + "/")
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var binding types.ClusterPolicy
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			bindings = append(bindings, &binding)
		}
		return nil
	})
	return bindings, err
}

func (s *BoltStore) UpdateClusterPolicy(binding *types.ClusterPolicy) error {
	return s.CreateClusterPolicy(binding) // Same as create (upsert)
}

func (s *BoltStore) DeleteClusterPolicy(clusterID, policyID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).Delete(bindingKey(clusterID, policyID))
	})
}

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v interface{}, kind string) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}
