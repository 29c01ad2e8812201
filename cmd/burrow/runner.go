package main

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/action"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// runUserActions polls the store for READY user-submitted cluster actions
// and runs each to completion on its own goroutine. Derived node actions
// are the dispatcher's business, not ours.
func runUserActions(engine *action.Engine, store storage.Store, defaultTimeout time.Duration, stopCh chan struct{}) {
	logger := log.WithComponent("runner")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			actions, err := store.ListActions()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to list actions")
				continue
			}

			for _, a := range actions {
				if a.Cause != types.CauseUser || a.Status != types.ActionStatusReady {
					continue
				}

				if a.Timeout <= 0 {
					a.Timeout = defaultTimeout
				}
				a.Status = types.ActionStatusRunning
				if err := store.UpdateAction(a); err != nil {
					logger.Error().Err(err).Str("action_id", a.ID).Msg("Failed to claim action")
					continue
				}

				go func(a *types.Action) {
					res, reason := engine.Execute(context.Background(), a)
					logger.Info().
						Str("action_id", a.ID).
						Str("result", string(res)).
						Str("reason", reason).
						Msg("User action finished")
				}(a)
			}
		case <-stopCh:
			return
		}
	}
}
