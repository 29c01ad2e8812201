package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/scale"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// handlerFunc is an operation handler running under the cluster lock.
type handlerFunc func(e *Engine, ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string)

// handlers maps each cluster operation to its handler. An action name
// missing here is not supported.
var handlers = map[types.ActionName]handlerFunc{
	types.ClusterCreate:       (*Engine).doCreate,
	types.ClusterDelete:       (*Engine).doDelete,
	types.ClusterUpdate:       (*Engine).doUpdate,
	types.ClusterAddNodes:     (*Engine).doAddNodes,
	types.ClusterDelNodes:     (*Engine).doDelNodes,
	types.ClusterResize:       (*Engine).doResize,
	types.ClusterScaleOut:     (*Engine).doScaleOut,
	types.ClusterScaleIn:      (*Engine).doScaleIn,
	types.ClusterAttachPolicy: (*Engine).doAttachPolicy,
	types.ClusterDetachPolicy: (*Engine).doDetachPolicy,
	types.ClusterUpdatePolicy: (*Engine).doUpdatePolicy,
}

// createNodes spawns count NODE_CREATE sub-actions, one per freshly
// allocated node, and gathers their outcomes. Placement hints from the
// action's scratch data are assigned positionally.
func (e *Engine) createNodes(ctx context.Context, action *types.Action, cluster *types.Cluster, count int) (Result, string) {
	if count <= 0 {
		return ResultOK, ""
	}

	placement := action.Data.Placement

	nodeIDs := make([]string, 0, count)
	for m := 0; m < count; m++ {
		index, err := e.store.NextClusterIndex(cluster.ID)
		if err != nil {
			return ResultError, fmt.Sprintf("failed allocating node index: %v", err)
		}

		now := time.Now()
		node := &types.Node{
			ID:           uuid.New().String(),
			Name:         fmt.Sprintf("node-%s-%03d", shortID(cluster.ID), index),
			ClusterID:    cluster.ID,
			Index:        index,
			ProfileID:    cluster.ProfileID,
			Status:       types.NodeStatusInit,
			StatusReason: "Creation in progress",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if m < len(placement) {
			node.Data = map[string]string{types.NodeDataPlacement: placement[m]}
		}

		if err := e.store.CreateNode(node); err != nil {
			return ResultError, fmt.Sprintf("failed storing node: %v", err)
		}
		nodeIDs = append(nodeIDs, node.ID)

		name := fmt.Sprintf("node_create_%s", shortID(node.ID))
		if err := e.spawnNodeAction(action, types.NodeCreate, node.ID, name, types.ActionInputs{}); err != nil {
			return ResultError, err.Error()
		}
	}

	res, reason := e.waitForDependents(ctx, action)
	if res == ResultOK {
		action.Data.Nodes = nodeIDs
	}
	return res, reason
}

// deleteNodes spawns a removal sub-action per node id and gathers their
// outcomes. The scratch data's destroy flag selects NODE_DELETE versus
// NODE_LEAVE.
func (e *Engine) deleteNodes(ctx context.Context, action *types.Action, nodeIDs []string) (Result, string) {
	if len(nodeIDs) == 0 {
		return ResultOK, ""
	}

	actionName := types.NodeDelete
	if !action.Data.Deletion.Destroy() {
		actionName = types.NodeLeave
	}

	for _, nodeID := range nodeIDs {
		name := fmt.Sprintf("node_delete_%s", shortID(nodeID))
		if err := e.spawnNodeAction(action, actionName, nodeID, name, types.ActionInputs{}); err != nil {
			return ResultError, err.Error()
		}
	}

	res, reason := e.waitForDependents(ctx, action)
	if res == ResultOK {
		action.Data.Nodes = nodeIDs
	}
	return res, reason
}

// updateClusterProperties persists changed capacity fields. When nothing
// changed it returns without touching the store.
func (e *Engine) updateClusterProperties(cluster *types.Cluster, desired, minSize, maxSize *int) (Result, string) {
	needStore := false
	if minSize != nil && *minSize != cluster.MinSize {
		cluster.MinSize = *minSize
		needStore = true
	}
	if maxSize != nil && *maxSize != cluster.MaxSize {
		cluster.MaxSize = *maxSize
		needStore = true
	}
	if desired != nil && *desired != cluster.DesiredCapacity {
		cluster.DesiredCapacity = *desired
		needStore = true
	}

	if !needStore {
		return ResultOK, ""
	}

	cluster.StatusReason = "Cluster properties updated."
	cluster.UpdatedAt = time.Now()
	if err := e.storeCluster(cluster); err != nil {
		reason := "Cluster object cannot be updated."
		// Reset status to active
		_ = e.setClusterStatus(cluster, types.ClusterStatusActive, reason)
		return ResultError, reason
	}

	return ResultOK, ""
}

func (e *Engine) doCreate(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	if err := e.setClusterStatus(cluster, types.ClusterStatusCreating, "Cluster creation in progress"); err != nil {
		return ResultError, err.Error()
	}

	if err := e.provider.CreateCluster(ctx, cluster); err != nil {
		reason := "Cluster creation failed."
		_ = e.setClusterStatus(cluster, types.ClusterStatusError, reason)
		return ResultError, reason
	}

	result, reason := e.createNodes(ctx, action, cluster, cluster.DesiredCapacity)

	switch result {
	case ResultOK:
		reason = "Cluster creation succeeded"
		if err := e.setClusterStatus(cluster, types.ClusterStatusActive, reason); err != nil {
			return ResultError, err.Error()
		}
		e.publishClusterEvent(events.EventClusterCreated, cluster, action, reason)
	case ResultCancel, ResultTimeout, ResultError:
		_ = e.setClusterStatus(cluster, types.ClusterStatusError, reason)
	}

	return result, reason
}

func (e *Engine) doDelete(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	reason := "Deletion in progress"
	if err := e.setClusterStatus(cluster, types.ClusterStatusDeleting, reason); err != nil {
		return ResultError, err.Error()
	}

	nodes, err := e.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing nodes: %v", err)
	}
	nodeIDs := make([]string, 0, len(nodes))
	for _, node := range nodes {
		nodeIDs = append(nodeIDs, node.ID)
	}

	// Cluster deletion destroys the nodes, not merely detaches them.
	destroy := true
	if action.Data.Deletion == nil {
		action.Data.Deletion = &types.DeletionData{}
	}
	action.Data.Deletion.DestroyAfterDelete = &destroy

	result, newReason := e.deleteNodes(ctx, action, nodeIDs)

	switch result {
	case ResultOK:
		if err := e.provider.DeleteCluster(ctx, cluster); err != nil {
			return ResultError, "Cannot delete cluster object."
		}
		if err := e.store.DeleteCluster(cluster.ID); err != nil {
			return ResultError, "Cannot delete cluster object."
		}
		reason = "Cluster deletion succeeded"
		e.publishClusterEvent(events.EventClusterDeleted, cluster, action, reason)
	case ResultCancel:
		// Operation abandoned; the cluster keeps its surviving nodes.
		_ = e.setClusterStatus(cluster, types.ClusterStatusActive, newReason)
		reason = newReason
	case ResultTimeout, ResultError:
		_ = e.setClusterStatus(cluster, types.ClusterStatusWarning, newReason)
		reason = newReason
	}

	return result, reason
}

func (e *Engine) doUpdate(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	newProfileID := action.Inputs.NewProfileID

	if err := e.setClusterStatus(cluster, types.ClusterStatusUpdating, "Update in progress"); err != nil {
		return ResultError, err.Error()
	}

	nodes, err := e.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing nodes: %v", err)
	}

	for _, node := range nodes {
		name := fmt.Sprintf("node_update_%s", shortID(node.ID))
		inputs := types.ActionInputs{NewProfileID: newProfileID}
		if err := e.spawnNodeAction(action, types.NodeUpdate, node.ID, name, inputs); err != nil {
			return ResultError, err.Error()
		}
	}

	result := ResultOK
	reason := "Update completed"
	if len(nodes) > 0 {
		result, reason = e.waitForDependents(ctx, action)
	}

	if result != ResultOK {
		_ = e.setClusterStatus(cluster, types.ClusterStatusError, reason)
		return result, reason
	}

	cluster.ProfileID = newProfileID
	if err := e.storeCluster(cluster); err != nil {
		return ResultError, fmt.Sprintf("failed storing cluster: %v", err)
	}

	if err := e.setClusterStatus(cluster, types.ClusterStatusActive, reason); err != nil {
		return ResultError, err.Error()
	}
	e.publishClusterEvent(events.EventClusterUpdated, cluster, action, reason)

	return ResultOK, "Cluster update succeeded"
}

func (e *Engine) doAddNodes(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	// Node states may have changed between the request and taking the
	// cluster lock, so requests are re-validated into disjoint survivor
	// and failure sets before anything runs.
	failures := make(map[string]string)
	var survivors []string

	for _, nodeID := range action.Inputs.Nodes {
		node, err := e.store.GetNode(nodeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				failures[nodeID] = "Node not found"
				continue
			}
			return ResultError, fmt.Sprintf("failed loading node %s: %v", nodeID, err)
		}

		if node.ClusterID == cluster.ID {
			// Already a member
			continue
		}
		if node.ClusterID != "" {
			failures[nodeID] = fmt.Sprintf("Node already owned by cluster %s", node.ClusterID)
			continue
		}
		if node.Status != types.NodeStatusActive {
			failures[nodeID] = "Node not in ACTIVE status"
			continue
		}

		survivors = append(survivors, nodeID)
	}

	if len(failures) > 0 {
		return ResultError, formatFailures(failures)
	}

	reason := "Completed adding nodes"
	if len(survivors) == 0 {
		return ResultOK, reason
	}

	for _, nodeID := range survivors {
		name := fmt.Sprintf("node_join_%s", shortID(nodeID))
		inputs := types.ActionInputs{ClusterID: cluster.ID}
		if err := e.spawnNodeAction(action, types.NodeJoin, nodeID, name, inputs); err != nil {
			return ResultError, err.Error()
		}
	}

	result, newReason := e.waitForDependents(ctx, action)
	if result != ResultOK {
		return result, newReason
	}

	action.Data.Nodes = survivors
	return result, reason
}

func (e *Engine) doDelNodes(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	failures := make(map[string]string)
	var survivors []string

	for _, nodeID := range action.Inputs.Nodes {
		node, err := e.store.GetNode(nodeID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				failures[nodeID] = "Node not found"
				continue
			}
			return ResultError, fmt.Sprintf("failed loading node %s: %v", nodeID, err)
		}

		if node.ClusterID == "" {
			// Orphan nodes have nothing to leave
			continue
		}

		survivors = append(survivors, nodeID)
	}

	if len(failures) > 0 {
		return ResultError, formatFailures(failures)
	}

	reason := "Completed deleting nodes"
	if len(survivors) == 0 {
		return ResultOK, reason
	}

	// Removal from the cluster detaches the nodes instead of destroying
	// them.
	destroy := false
	if action.Data.Deletion == nil {
		action.Data.Deletion = &types.DeletionData{}
	}
	action.Data.Deletion.DestroyAfterDelete = &destroy

	result, newReason := e.deleteNodes(ctx, action, survivors)
	if result != ResultOK {
		return result, newReason
	}

	return result, reason
}

func (e *Engine) doResize(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	in := action.Inputs

	desired := cluster.DesiredCapacity
	if in.AdjustmentType != "" {
		if in.Number == nil {
			return ResultError, "Adjustment number not specified"
		}
		minStep := 0
		if in.MinStep != nil {
			minStep = *in.MinStep
		}
		desired = scale.CalculateDesired(cluster.DesiredCapacity, in.AdjustmentType, *in.Number, minStep)
	}

	// Truncate the adjustment when permitted
	if !in.Strict {
		desired = scale.TruncateDesired(cluster, desired, in.MinSize, in.MaxSize)
	}

	if err := scale.CheckSizeParams(cluster, &desired, in.MinSize, in.MaxSize, in.Strict); err != nil {
		return ResultError, err.Error()
	}

	if result, reason := e.updateClusterProperties(cluster, &desired, in.MinSize, in.MaxSize); result != ResultOK {
		return result, reason
	}

	nodes, err := e.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing nodes: %v", err)
	}
	current := len(nodes)
	desired = cluster.DesiredCapacity

	if desired < current {
		adjustment := current - desired
		if action.Data.Deletion == nil {
			action.Data.Deletion = &types.DeletionData{Count: adjustment}
		}
		candidates := action.Data.Deletion.Candidates
		if len(candidates) == 0 {
			candidates = e.pickVictims(nodes, adjustment)
		}
		if result, reason := e.deleteNodes(ctx, action, candidates); result != ResultOK {
			return result, reason
		}
	}

	if desired > current {
		delta := desired - current
		if action.Data.Creation == nil {
			action.Data.Creation = &types.CreationData{Count: delta}
		}
		if result, reason := e.createNodes(ctx, action, cluster, delta); result != ResultOK {
			return result, reason
		}
	}

	reason := "Cluster resize succeeded"
	if err := e.setClusterStatus(cluster, types.ClusterStatusActive, reason); err != nil {
		return ResultError, err.Error()
	}
	e.publishClusterEvent(events.EventClusterResized, cluster, action, reason)

	return ResultOK, reason
}

func (e *Engine) doScaleOut(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	// Policy output wins over the request input; the default is one node.
	count := 1
	if action.Data.Creation != nil {
		count = action.Data.Creation.Count
	} else if action.Inputs.Count != nil {
		count = *action.Inputs.Count
	}

	if count == 0 {
		return ResultOK, "No scaling needed based on policy checking"
	}

	nodes, err := e.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing nodes: %v", err)
	}
	desired := len(nodes) + count
	if result, reason := e.updateClusterProperties(cluster, &desired, nil, nil); result != ResultOK {
		return result, reason
	}

	result, reason := e.createNodes(ctx, action, cluster, count)

	switch result {
	case ResultOK:
		reason = "Cluster scaling succeeded"
		if err := e.setClusterStatus(cluster, types.ClusterStatusActive, reason); err != nil {
			return ResultError, err.Error()
		}
	case ResultCancel, ResultTimeout, ResultError, ResultFailed:
		_ = e.setClusterStatus(cluster, types.ClusterStatusError, reason)
	}

	return result, reason
}

func (e *Engine) doScaleIn(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	// Policy output wins over the request input; the default is one node.
	count := 1
	var candidates []string
	if action.Data.Deletion != nil {
		count = action.Data.Deletion.Count
		candidates = action.Data.Deletion.Candidates
	} else if action.Inputs.Count != nil {
		count = *action.Inputs.Count
	}

	if count == 0 {
		return ResultOK, "No scaling needed based on policy checking"
	}

	nodes, err := e.store.ListNodesByCluster(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing nodes: %v", err)
	}
	desired := len(nodes) - count
	if result, reason := e.updateClusterProperties(cluster, &desired, nil, nil); result != ResultOK {
		return result, reason
	}

	// Choose victims randomly when no policy supplied candidates
	if len(candidates) == 0 {
		candidates = e.pickVictims(nodes, count)
	}

	result, reason := e.deleteNodes(ctx, action, candidates)

	switch result {
	case ResultOK:
		reason = "Cluster scaling succeeded"
		if err := e.setClusterStatus(cluster, types.ClusterStatusActive, reason); err != nil {
			return ResultError, err.Error()
		}
	case ResultCancel, ResultTimeout, ResultError, ResultFailed:
		_ = e.setClusterStatus(cluster, types.ClusterStatusError, reason)
	}

	return result, reason
}

func (e *Engine) doAttachPolicy(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	policyID := action.Inputs.PolicyID

	record, err := e.store.GetPolicy(policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("Policy %s not found", policyID)
	}

	bindings, err := e.store.ListClusterPolicies(cluster.ID)
	if err != nil {
		return ResultError, fmt.Sprintf("failed listing policies: %v", err)
	}

	for _, binding := range bindings {
		if binding.PolicyID == policyID {
			return ResultOK, "Policy already attached"
		}

		existing, err := e.store.GetPolicy(binding.PolicyID)
		if err != nil {
			return ResultError, fmt.Sprintf("failed loading policy %s: %v", binding.PolicyID, err)
		}
		if existing.Type == record.Type {
			reason := fmt.Errorf("%w: cluster %s already has a policy of type %s",
				policy.ErrTypeConflict, cluster.ID, record.Type)
			return ResultError, reason.Error()
		}
	}

	var data map[string]string
	if impl := e.registry.Get(record.Type); impl != nil {
		data, err = impl.Attach(cluster)
		if err != nil {
			return ResultError, "Failed attaching policy."
		}
	}

	now := time.Now()
	binding := &types.ClusterPolicy{
		ClusterID: cluster.ID,
		PolicyID:  policyID,
		Priority:  intOr(action.Inputs.Priority, 0),
		Cooldown:  intOr(action.Inputs.Cooldown, 0),
		Level:     intOr(action.Inputs.Level, 0),
		Enabled:   boolOr(action.Inputs.Enabled, true),
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateClusterPolicy(binding); err != nil {
		return ResultError, fmt.Sprintf("failed storing binding: %v", err)
	}

	e.publishClusterEvent(events.EventPolicyAttached, cluster, action, "Policy attached")
	return ResultOK, "Policy attached."
}

func (e *Engine) doDetachPolicy(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	policyID := action.Inputs.PolicyID
	if policyID == "" {
		return ResultError, policy.ErrNotSpecified.Error()
	}

	record, err := e.store.GetPolicy(policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("Policy %s not found", policyID)
	}

	if impl := e.registry.Get(record.Type); impl != nil {
		if err := impl.Detach(cluster); err != nil {
			return ResultError, "Failed detaching policy."
		}
	}

	if err := e.store.DeleteClusterPolicy(cluster.ID, policyID); err != nil {
		return ResultError, fmt.Sprintf("failed removing binding: %v", err)
	}

	e.publishClusterEvent(events.EventPolicyDetached, cluster, action, "Policy detached")
	return ResultOK, "Policy detached."
}

func (e *Engine) doUpdatePolicy(ctx context.Context, action *types.Action, cluster *types.Cluster) (Result, string) {
	policyID := action.Inputs.PolicyID
	if policyID == "" {
		return ResultError, policy.ErrNotSpecified.Error()
	}

	binding, err := e.store.GetClusterPolicy(cluster.ID, policyID)
	if err != nil {
		return ResultError, fmt.Sprintf("Policy %s not attached", policyID)
	}

	// Only the provided subset is applied; missing fields keep their
	// current values.
	if action.Inputs.Cooldown != nil {
		binding.Cooldown = *action.Inputs.Cooldown
	}
	if action.Inputs.Level != nil {
		binding.Level = *action.Inputs.Level
	}
	if action.Inputs.Priority != nil {
		binding.Priority = *action.Inputs.Priority
	}
	if action.Inputs.Enabled != nil {
		binding.Enabled = *action.Inputs.Enabled
	}
	binding.UpdatedAt = time.Now()

	if err := e.store.UpdateClusterPolicy(binding); err != nil {
		return ResultError, fmt.Sprintf("failed storing binding: %v", err)
	}

	return ResultOK, "Policy updated."
}

func (e *Engine) publishClusterEvent(et events.EventType, cluster *types.Cluster, action *types.Action, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:      et,
		ClusterID: cluster.ID,
		ActionID:  action.ID,
		Message:   message,
		Metadata: map[string]string{
			"cluster_name": cluster.Name,
		},
	})
}

func formatFailures(failures map[string]string) string {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %s", id, failures[id]))
	}
	return strings.Join(parts, "; ")
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
