package action

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/cuemby/burrow/pkg/dispatch"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/lock"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/policy"
	"github.com/cuemby/burrow/pkg/profile"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result is the outcome of executing a cluster action.
type Result string

const (
	ResultOK      Result = "OK"
	ResultError   Result = "ERROR"
	ResultRetry   Result = "RETRY"
	ResultCancel  Result = "CANCEL"
	ResultTimeout Result = "TIMEOUT"
	ResultFailed  Result = "FAILED"
)

// ErrActionNotSupported is returned in the reason when no handler matches
// the action name.
var ErrActionNotSupported = errors.New("action not supported")

// Config wires an Engine to its collaborators.
type Config struct {
	Store      storage.Store
	Lock       *lock.ClusterLock
	Dispatcher dispatch.Dispatcher
	Gate       *policy.Gate
	Registry   *policy.Registry
	Provider   profile.Provider
	Broker     *events.Broker

	// WaitInterval is the coordinator's poll pause. Zero selects the
	// scheduler default.
	WaitInterval time.Duration

	// RandomSeed makes victim selection deterministic when non-zero.
	RandomSeed int64
}

// Engine executes cluster actions: it resolves the target cluster, takes
// the cluster lock, runs policy checks around the matching operation
// handler, and coordinates the per-node sub-actions each handler fans out.
type Engine struct {
	store      storage.Store
	lock       *lock.ClusterLock
	dispatcher dispatch.Dispatcher
	gate       *policy.Gate
	registry   *policy.Registry
	provider   profile.Provider
	broker     *events.Broker
	logger     zerolog.Logger

	waitInterval time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates an engine from the given configuration.
func NewEngine(cfg Config) *Engine {
	interval := cfg.WaitInterval
	if interval <= 0 {
		interval = scheduler.DefaultWaitInterval
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = policy.NewRegistry()
	}

	return &Engine{
		store:        cfg.Store,
		lock:         cfg.Lock,
		dispatcher:   cfg.Dispatcher,
		gate:         cfg.Gate,
		registry:     registry,
		provider:     cfg.Provider,
		broker:       cfg.Broker,
		logger:       log.WithComponent("engine"),
		waitInterval: interval,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Execute runs a cluster action to completion and returns its result and
// reason. The action record must already be persisted; its terminal status
// and scratch data are written back before returning.
func (e *Engine) Execute(ctx context.Context, action *types.Action) (Result, string) {
	if action.StartTime.IsZero() {
		action.StartTime = time.Now()
		if err := e.store.UpdateAction(action); err != nil {
			return ResultError, fmt.Sprintf("failed persisting action: %v", err)
		}
	}

	if e.broker != nil {
		e.broker.PublishActionStarted(action, action.Target)
	}

	timer := metrics.NewTimer()
	res, reason := e.execute(ctx, action)
	timer.ObserveDurationVec(metrics.ActionDuration, string(action.Action))
	metrics.ActionsTotal.WithLabelValues(string(action.Action), string(res)).Inc()

	action.Status = terminalStatus(res)
	action.StatusReason = reason
	if err := e.store.UpdateAction(action); err != nil {
		e.logger.Error().Err(err).Str("action_id", action.ID).Msg("Failed to persist action outcome")
	}

	if e.broker != nil {
		e.broker.PublishActionOutcome(action, action.Target)
	}

	e.logger.Info().
		Str("action_id", action.ID).
		Str("action", string(action.Action)).
		Str("cluster_id", action.Target).
		Str("result", string(res)).
		Str("reason", reason).
		Msg("Cluster action finished")

	return res, reason
}

func (e *Engine) execute(ctx context.Context, action *types.Action) (Result, string) {
	cluster, err := e.store.GetCluster(action.Target)
	if err != nil {
		return ResultError, fmt.Sprintf("Cluster %s not found", action.Target)
	}

	// Deletion forces the lock so a hung prior action cannot wedge it.
	forced := action.Action == types.ClusterDelete
	if !e.lock.Acquire(cluster.ID, action.ID, lock.ClusterScope, forced) {
		return ResultError, "Failed in locking cluster"
	}
	defer e.lock.Release(cluster.ID, action.ID, lock.ClusterScope)

	if e.gate != nil {
		pre := e.gate.Check(cluster, policy.Before, action)
		metrics.PolicyChecksTotal.WithLabelValues(string(policy.Before), string(pre.Status)).Inc()
		if !pre.OK() {
			return ResultError, fmt.Sprintf("Policy failure: %s", pre.Reason)
		}
		if err := e.store.UpdateAction(action); err != nil {
			return ResultError, fmt.Sprintf("failed persisting action: %v", err)
		}
	}

	handler, ok := handlers[action.Action]
	if !ok {
		return ResultError, fmt.Sprintf("%v: %s", ErrActionNotSupported, action.Action)
	}

	res, reason := handler(e, ctx, action, cluster)

	if res == ResultOK && e.gate != nil {
		post := e.gate.Check(cluster, policy.After, action)
		metrics.PolicyChecksTotal.WithLabelValues(string(policy.After), string(post.Status)).Inc()
		if !post.OK() {
			return ResultError, post.Reason
		}
	}

	return res, reason
}

// waitForDependents blocks until every sub-action this action depends on
// reaches a terminal state, yielding to the scheduler between polls.
//
// Outcome precedence per poll: a failed dependency beats everything, an
// elapsed deadline beats a cancel signal, and a cancel signal beats the
// final success.
func (e *Engine) waitForDependents(ctx context.Context, action *types.Action) (Result, string) {
	for {
		deps, err := e.store.GetActionDependencies(action.ID)
		if err != nil {
			return ResultError, fmt.Sprintf("failed loading dependencies: %v", err)
		}

		allDone := true
		anyFailed := false
		for _, id := range deps {
			dep, err := e.store.GetAction(id)
			if err != nil {
				return ResultError, fmt.Sprintf("failed loading dependency %s: %v", id, err)
			}
			switch dep.Status {
			case types.ActionStatusSucceeded:
			case types.ActionStatusFailed, types.ActionStatusCancelled:
				anyFailed = true
			default:
				allDone = false
			}
		}

		if anyFailed {
			reason := fmt.Sprintf("%s [%s] failed due to dependent action failure", action.Action, action.ID)
			e.logger.Debug().Str("action_id", action.ID).Msg(reason)
			return ResultError, reason
		}

		fresh, err := e.store.GetAction(action.ID)
		if err != nil {
			return ResultError, fmt.Sprintf("failed reloading action: %v", err)
		}
		action.Cancelled = fresh.Cancelled

		if fresh.TimedOut(time.Now()) {
			return ResultTimeout, fmt.Sprintf("%s [%s] timeout", action.Action, action.ID)
		}

		if fresh.Cancelled {
			return ResultCancel, fmt.Sprintf("%s [%s] cancelled", action.Action, action.ID)
		}

		if allDone {
			return ResultOK, "All dependents ended with success"
		}

		if err := scheduler.Reschedule(ctx, e.waitInterval); err != nil {
			return ResultCancel, fmt.Sprintf("%s [%s] cancelled", action.Action, action.ID)
		}
	}
}

// spawnNodeAction creates a DERIVED sub-action, records the dependency
// (moving the parent to WAITING), marks the sub-action READY, and hands it
// to the dispatcher.
func (e *Engine) spawnNodeAction(parent *types.Action, name types.ActionName, target, actionName string, inputs types.ActionInputs) error {
	now := time.Now()
	child := &types.Action{
		ID:        uuid.New().String(),
		Name:      actionName,
		Target:    target,
		Action:    name,
		Cause:     types.CauseDerived,
		Status:    types.ActionStatusInit,
		Inputs:    inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.CreateAction(child); err != nil {
		return fmt.Errorf("failed creating sub-action: %w", err)
	}
	if err := e.store.AddActionDependency(parent.ID, child.ID); err != nil {
		return fmt.Errorf("failed recording dependency: %w", err)
	}
	if err := e.store.UpdateActionStatus(child.ID, types.ActionStatusReady, ""); err != nil {
		return fmt.Errorf("failed readying sub-action: %w", err)
	}

	e.dispatcher.StartAction(child.ID)
	return nil
}

// setClusterStatus updates the cluster's status and reason and stores it.
func (e *Engine) setClusterStatus(cluster *types.Cluster, status types.ClusterStatus, reason string) error {
	cluster.Status = status
	cluster.StatusReason = reason
	cluster.UpdatedAt = time.Now()
	return e.storeCluster(cluster)
}

// storeCluster writes the cluster back, absorbing optimistic-update
// conflicts by reloading the version and retrying.
func (e *Engine) storeCluster(cluster *types.Cluster) error {
	return retry.Do(
		func() error {
			err := e.store.UpdateCluster(cluster)
			if errors.Is(err, storage.ErrConflict) {
				if fresh, gerr := e.store.GetCluster(cluster.ID); gerr == nil {
					cluster.Version = fresh.Version
					cluster.NextIndex = fresh.NextIndex
				}
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(10*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, storage.ErrConflict) }),
	)
}

// pickVictims chooses count node ids uniformly at random without
// replacement.
func (e *Engine) pickVictims(nodes []*types.Node, count int) []string {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	pool := make([]*types.Node, len(nodes))
	copy(pool, nodes)
	if count > len(pool) {
		count = len(pool)
	}

	victims := make([]string, 0, count)
	for i := 0; i < count; i++ {
		r := e.rng.Intn(len(pool))
		victims = append(victims, pool[r].ID)
		pool = append(pool[:r], pool[r+1:]...)
	}
	return victims
}

func terminalStatus(res Result) types.ActionStatus {
	switch res {
	case ResultOK:
		return types.ActionStatusSucceeded
	case ResultCancel:
		return types.ActionStatusCancelled
	default:
		return types.ActionStatusFailed
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
