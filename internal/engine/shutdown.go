package engine

import (
	"context"
	"fmt"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// Exit terminates the process through the lifecycle controller, which runs
// Shutdown before exiting with code
func (o *Orchestrator) Exit(ctx context.Context, code int) {
	o.lifecycle.Terminate(ctx, code)
}

// Shutdown drains every app in registration order: exit hook, watcher
// unsubscribe, then bundler dispose, which flushes its cache. Only the first
// call does anything; later calls return its result.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdownOnce.Do(func() {
		o.shutdownErr = o.shutdown(ctx)
	})
	return o.shutdownErr
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	o.restarts.Stop()
	mode := o.Mode()

	var firstErr error
	for _, name := range o.AppNames() {
		log := o.appLogger(name)

		app, err := o.Resolve(ctx, name)
		if err != nil {
			log.Warn("Skipping exit hooks", logger.WithError(err))
			if firstErr == nil {
				firstErr = err
			}
		} else if err := o.Call(ctx, HookCall{Hook: types.HookExit, Mode: mode, App: app, Env: o.buildEnv(mode, app)}); err != nil && firstErr == nil {
			firstErr = err
		}

		o.sessionsMu.Lock()
		h := o.watchers[name]
		o.sessionsMu.Unlock()
		if h != nil {
			if h.Subscription != nil {
				if err := h.Subscription.Unsubscribe(ctx); err != nil {
					log.Warn("Failed to unsubscribe", logger.WithError(err))
				}
			}
			o.removeWatcher(name, h)
		}

		if d := o.takeDisposable(name); d != nil {
			log.Debug("Saving bundler cache")
			if err := d.Dispose(ctx); err != nil {
				log.Warn("Failed to dispose bundler", logger.WithError(err))
				if firstErr == nil {
					firstErr = werrors.Bundler(name, fmt.Errorf("dispose: %w", err))
				}
			}
		}
	}

	o.state.Cleanup()
	o.cancel()
	return firstErr
}
