package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/profile"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Dispatcher hands READY actions to execution. Implementations must not
// block the caller.
type Dispatcher interface {
	StartAction(actionID string)
}

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 8

// Pool runs node-level actions on a fixed set of workers. Each worker pulls
// an action record, moves it to RUNNING, invokes the matching handler, then
// persists the terminal status and publishes the outcome.
type Pool struct {
	store    storage.Store
	provider profile.Provider
	broker   *events.Broker
	logger   zerolog.Logger

	workers int
	queue   chan string
	stopCh  chan struct{}
	wg      sync.WaitGroup

	handlers map[types.ActionName]func(ctx context.Context, action *types.Action) error
}

// NewPool creates a dispatcher pool with the builtin node handlers.
func NewPool(store storage.Store, provider profile.Provider, broker *events.Broker, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	p := &Pool{
		store:    store,
		provider: provider,
		broker:   broker,
		logger:   log.WithComponent("dispatch"),
		workers:  workers,
		queue:    make(chan string, 256),
		stopCh:   make(chan struct{}),
	}

	p.handlers = map[types.ActionName]func(context.Context, *types.Action) error{
		types.NodeCreate: p.runNodeCreate,
		types.NodeDelete: p.runNodeDelete,
		types.NodeJoin:   p.runNodeJoin,
		types.NodeLeave:  p.runNodeLeave,
		types.NodeUpdate: p.runNodeUpdate,
	}

	return p
}

// Start spawns the worker goroutines
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(fmt.Sprintf("worker-%d", i))
	}
	p.logger.Info().Int("workers", p.workers).Msg("Dispatcher started")
}

// Stop stops the workers and waits for in-flight actions to finish
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info().Msg("Dispatcher stopped")
}

// StartAction enqueues a READY action for execution. It never blocks: when
// the queue is full the hand-off completes on a side goroutine.
func (p *Pool) StartAction(actionID string) {
	metrics.DispatchQueueDepth.Inc()
	select {
	case p.queue <- actionID:
	default:
		go func() {
			select {
			case p.queue <- actionID:
			case <-p.stopCh:
			}
		}()
	}
}

func (p *Pool) run(workerID string) {
	defer p.wg.Done()

	for {
		select {
		case actionID := <-p.queue:
			metrics.DispatchQueueDepth.Dec()
			p.runAction(workerID, actionID)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) runAction(workerID, actionID string) {
	action, err := p.store.GetAction(actionID)
	if err != nil {
		p.logger.Error().Err(err).Str("action_id", actionID).Msg("Failed to load dispatched action")
		return
	}

	if action.Status != types.ActionStatusReady {
		p.logger.Debug().
			Str("action_id", actionID).
			Str("status", string(action.Status)).
			Msg("Skipping action not in READY status")
		return
	}

	if action.Cancelled {
		p.finish(action, types.ActionStatusCancelled, "Action cancelled before execution")
		return
	}

	handler, ok := p.handlers[action.Action]
	if !ok {
		p.finish(action, types.ActionStatusFailed,
			fmt.Sprintf("No handler for action %s", action.Action))
		return
	}

	if err := p.claim(action, workerID); err != nil {
		p.logger.Error().Err(err).Str("action_id", actionID).Msg("Failed to mark action running")
		return
	}

	if p.broker != nil {
		p.broker.PublishActionStarted(action, action.Inputs.ClusterID)
	}

	ctx := context.Background()
	if action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, action.Timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	err = handler(ctx, action)
	timer.ObserveDurationVec(metrics.NodeActionDuration, string(action.Action))

	if err != nil {
		p.finish(action, types.ActionStatusFailed, err.Error())
		return
	}
	p.finish(action, types.ActionStatusSucceeded, fmt.Sprintf("%s completed", action.Action))
}

func (p *Pool) claim(action *types.Action, workerID string) error {
	action.Status = types.ActionStatusRunning
	action.Owner = workerID
	if action.StartTime.IsZero() {
		action.StartTime = time.Now()
	}
	return p.store.UpdateAction(action)
}

func (p *Pool) finish(action *types.Action, status types.ActionStatus, reason string) {
	action.Status = status
	action.StatusReason = reason
	action.Owner = ""
	if err := p.store.UpdateAction(action); err != nil {
		p.logger.Error().Err(err).Str("action_id", action.ID).Msg("Failed to persist action outcome")
		return
	}

	metrics.NodeActionsTotal.WithLabelValues(string(action.Action), string(status)).Inc()
	if p.broker != nil {
		p.broker.PublishActionOutcome(action, action.Inputs.ClusterID)
	}

	p.logger.Debug().
		Str("action_id", action.ID).
		Str("action", string(action.Action)).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("Node action finished")
}
