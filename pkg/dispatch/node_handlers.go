package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

func (p *Pool) runNodeCreate(ctx context.Context, action *types.Action) error {
	node, err := p.store.GetNode(action.Target)
	if err != nil {
		return err
	}

	if err := p.provider.CreateNode(ctx, node); err != nil {
		node.Status = types.NodeStatusError
		node.StatusReason = err.Error()
		node.UpdatedAt = time.Now()
		_ = p.store.UpdateNode(node)
		return fmt.Errorf("node creation failed: %w", err)
	}

	node.Status = types.NodeStatusActive
	node.StatusReason = "Creation succeeded"
	node.UpdatedAt = time.Now()
	if err := p.store.UpdateNode(node); err != nil {
		return err
	}

	p.publishNodeEvent(events.EventNodeCreated, node, action)
	return nil
}

func (p *Pool) runNodeDelete(ctx context.Context, action *types.Action) error {
	node, err := p.store.GetNode(action.Target)
	if err != nil {
		// Already gone counts as deleted.
		return nil
	}

	node.Status = types.NodeStatusDeleting
	node.UpdatedAt = time.Now()
	_ = p.store.UpdateNode(node)

	if err := p.provider.DeleteNode(ctx, node); err != nil {
		node.Status = types.NodeStatusError
		node.StatusReason = err.Error()
		node.UpdatedAt = time.Now()
		_ = p.store.UpdateNode(node)
		return fmt.Errorf("node deletion failed: %w", err)
	}

	if err := p.store.DeleteNode(node.ID); err != nil {
		return err
	}

	p.publishNodeEvent(events.EventNodeDeleted, node, action)
	return nil
}

func (p *Pool) runNodeJoin(ctx context.Context, action *types.Action) error {
	node, err := p.store.GetNode(action.Target)
	if err != nil {
		return err
	}

	clusterID := action.Inputs.ClusterID
	if clusterID == "" {
		return fmt.Errorf("node join requires a cluster_id input")
	}

	if err := p.provider.JoinCluster(ctx, node, clusterID); err != nil {
		return fmt.Errorf("node join failed: %w", err)
	}

	node.ClusterID = clusterID
	node.StatusReason = "Join succeeded"
	node.UpdatedAt = time.Now()
	if err := p.store.UpdateNode(node); err != nil {
		return err
	}

	p.publishNodeEvent(events.EventNodeJoined, node, action)
	return nil
}

func (p *Pool) runNodeLeave(ctx context.Context, action *types.Action) error {
	node, err := p.store.GetNode(action.Target)
	if err != nil {
		return err
	}

	if err := p.provider.LeaveCluster(ctx, node); err != nil {
		return fmt.Errorf("node leave failed: %w", err)
	}

	node.ClusterID = ""
	node.Index = 0
	node.StatusReason = "Leave succeeded"
	node.UpdatedAt = time.Now()
	if err := p.store.UpdateNode(node); err != nil {
		return err
	}

	p.publishNodeEvent(events.EventNodeLeft, node, action)
	return nil
}

func (p *Pool) runNodeUpdate(ctx context.Context, action *types.Action) error {
	node, err := p.store.GetNode(action.Target)
	if err != nil {
		return err
	}

	newProfileID := action.Inputs.NewProfileID
	if newProfileID == "" {
		return fmt.Errorf("node update requires a new_profile_id input")
	}

	if err := p.provider.UpdateNode(ctx, node, newProfileID); err != nil {
		node.Status = types.NodeStatusError
		node.StatusReason = err.Error()
		node.UpdatedAt = time.Now()
		_ = p.store.UpdateNode(node)
		return fmt.Errorf("node update failed: %w", err)
	}

	node.ProfileID = newProfileID
	node.Status = types.NodeStatusActive
	node.StatusReason = "Update succeeded"
	node.UpdatedAt = time.Now()
	if err := p.store.UpdateNode(node); err != nil {
		return err
	}

	return nil
}

func (p *Pool) publishNodeEvent(et events.EventType, node *types.Node, action *types.Action) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{
		Type:      et,
		ClusterID: node.ClusterID,
		ActionID:  action.ID,
		Message:   node.StatusReason,
		Metadata: map[string]string{
			"node_id":   node.ID,
			"node_name": node.Name,
		},
	})
}
