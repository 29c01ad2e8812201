package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrTypeConflict is returned when a cluster already carries a policy
	// of the same type.
	ErrTypeConflict = errors.New("policy type conflict")

	// ErrNotSpecified is returned when an operation requires a policy_id
	// input and none was given.
	ErrNotSpecified = errors.New("policy not specified")
)

// Phase selects when a policy check runs relative to the operation.
type Phase string

const (
	Before Phase = "BEFORE"
	After  Phase = "AFTER"
)

// CheckResult is the verdict of a gate evaluation.
type CheckResult struct {
	Status types.CheckStatus
	Reason string
}

// OK reports whether the check allowed the operation.
func (r CheckResult) OK() bool {
	return r.Status == types.CheckOK
}

// Policy is the behavior contract behind a policy record. PreCheck runs
// before an operation and may populate the action's scratch data with
// planning hints; PostCheck runs after a successful operation and may veto
// the result. Attach and Detach are lifecycle hooks invoked when a binding
// is created or removed.
type Policy interface {
	Type() string
	PreCheck(cluster *types.Cluster, action *types.Action) CheckResult
	PostCheck(cluster *types.Cluster, action *types.Action) CheckResult
	Attach(cluster *types.Cluster) (map[string]string, error)
	Detach(cluster *types.Cluster) error
}

// Registry maps policy types to their implementations.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Policy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]Policy)}
}

// Register installs the implementation for its policy type, replacing any
// previous one.
func (r *Registry) Register(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impls[p.Type()] = p
}

// Get returns the implementation for a policy type, or nil when none is
// registered.
func (r *Registry) Get(policyType string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.impls[policyType]
}

// Gate evaluates the enabled policy bindings of a cluster around an
// operation.
type Gate struct {
	store    storage.Store
	registry *Registry
	logger   zerolog.Logger
}

// NewGate creates a policy gate over the given store and registry.
func NewGate(store storage.Store, registry *Registry) *Gate {
	return &Gate{
		store:    store,
		registry: registry,
		logger:   log.WithComponent("policy"),
	}
}

// Check runs all enabled bindings for the cluster at the requested phase in
// ascending priority order. The first failure short-circuits and is
// recorded, with the verdict, in the action's scratch data.
func (g *Gate) Check(cluster *types.Cluster, phase Phase, action *types.Action) CheckResult {
	result := CheckResult{Status: types.CheckOK}

	bindings, err := g.store.ListClusterPolicies(cluster.ID)
	if err != nil {
		result = CheckResult{
			Status: types.CheckFailed,
			Reason: fmt.Sprintf("failed loading policies: %v", err),
		}
		g.record(action, result)
		return result
	}

	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].Priority < bindings[j].Priority
	})

	for _, binding := range bindings {
		if !binding.Enabled {
			continue
		}

		record, err := g.store.GetPolicy(binding.PolicyID)
		if err != nil {
			result = CheckResult{
				Status: types.CheckFailed,
				Reason: fmt.Sprintf("failed loading policy %s: %v", binding.PolicyID, err),
			}
			break
		}

		impl := g.registry.Get(record.Type)
		if impl == nil {
			// Unregistered types carry no runtime behavior.
			continue
		}

		if phase == Before {
			result = impl.PreCheck(cluster, action)
		} else {
			result = impl.PostCheck(cluster, action)
		}

		if !result.OK() {
			g.logger.Debug().
				Str("cluster_id", cluster.ID).
				Str("policy_id", binding.PolicyID).
				Str("phase", string(phase)).
				Str("reason", result.Reason).
				Msg("Policy check failed")
			break
		}
	}

	g.record(action, result)
	return result
}

func (g *Gate) record(action *types.Action, result CheckResult) {
	action.Data.Status = result.Status
	action.Data.Reason = result.Reason
}
