package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poltergeist/wraith/internal/metrics"
	"github.com/poltergeist/wraith/pkg/bundler"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// Build runs a one-shot production build of an app. A failed build is reported
// to the afterBuild hook and logged; only fatal plugin, configuration or bundler
// setup errors are returned.
func (o *Orchestrator) Build(ctx context.Context, name string, bypass []string) error {
	return o.run(ctx, name, types.BuildModeProduction, bypass)
}

// Dev starts watching an app and returns once its first build has been reported
// to the plugins. The session keeps running until Shutdown.
func (o *Orchestrator) Dev(ctx context.Context, name string, bypass []string) error {
	return o.run(ctx, name, types.BuildModeDev, bypass)
}

func (o *Orchestrator) run(ctx context.Context, name string, mode types.BuildMode, bypass []string) error {
	app, err := o.Resolve(ctx, name)
	if err != nil {
		return err
	}

	o.sessionsMu.Lock()
	o.mode = mode
	o.sessionsMu.Unlock()

	o.state.Initialize(name, mode)
	o.state.Transition(name, types.BuildStatePreparing)
	if err := o.prepare(ctx, mode, bypass); err != nil {
		o.state.Transition(name, types.BuildStateFailed)
		return err
	}

	if mode == types.BuildModeProduction {
		return o.buildOnce(ctx, app, bypass)
	}
	return o.startSession(ctx, app, bypass)
}

// prepare packages node modules and runs the prepare hook of every app, once per orchestrator
func (o *Orchestrator) prepare(ctx context.Context, mode types.BuildMode, bypass []string) error {
	o.prepareMu.Lock()
	defer o.prepareMu.Unlock()

	if o.prepared {
		return o.prepareErr
	}
	o.prepared = true

	for _, name := range o.AppNames() {
		app, err := o.Resolve(ctx, name)
		if err != nil {
			o.prepareErr = err
			return err
		}
		if app.AppType == types.AppTypeNode {
			if err := o.packageNodeModules(ctx, app); err != nil {
				o.prepareErr = err
				return err
			}
		}
		if err := o.Call(ctx, HookCall{Hook: types.HookPrepare, Mode: mode, App: app, Bypass: bypass}); err != nil {
			o.prepareErr = err
			return err
		}
	}
	return nil
}

func (o *Orchestrator) buildOnce(ctx context.Context, app *types.ExtendedAppOptions, bypass []string) error {
	mode := types.BuildModeProduction
	log := o.appLogger(app.Name)

	o.state.Transition(app.Name, types.BuildStateBuilding)
	env := o.buildEnv(mode, app)

	b, disposable, err := o.bundlers(o.bundlerOptions(mode, app, env))
	if err != nil {
		o.state.Transition(app.Name, types.BuildStateFailed)
		return werrors.Bundler(app.Name, err)
	}
	o.setDisposable(app.Name, disposable)

	call := HookCall{Hook: types.HookBeforeBuild, Mode: mode, App: app, Env: env, Bypass: bypass}
	if err := o.Call(ctx, call); err != nil {
		o.state.Transition(app.Name, types.BuildStateFailed)
		return err
	}

	log.Info("Building for production", logger.WithField("output", app.Output))
	start := time.Now()
	event, buildErr := b.Run(ctx)
	o.recordBuild(app.Name, mode, time.Since(start), buildErr)

	call.Hook = types.HookAfterBuild
	if buildErr != nil {
		call.BuildErr = buildErr
	} else {
		call.Event = event
	}
	hookErr := o.Call(ctx, call)

	if buildErr != nil {
		o.logBuildError(log, buildErr)
		o.state.Transition(app.Name, types.BuildStateFailed)
	} else {
		log.Success(fmt.Sprintf("Built for production in %s", time.Since(start).Round(time.Millisecond)))
		o.state.Transition(app.Name, types.BuildStateDone)
	}
	return hookErr
}

// watchSession is one subscription of a dev build. Callbacks are serialized by mu.
type watchSession struct {
	app    *types.ExtendedAppOptions
	bypass []string
	env    types.EnvProps
	handle *WatcherHandle

	mu      sync.Mutex
	count   int
	sub     bundler.Subscription
	stopped bool
	first   chan error
}

func (o *Orchestrator) startSession(ctx context.Context, app *types.ExtendedAppOptions, bypass []string) error {
	mode := types.BuildModeDev
	log := o.appLogger(app.Name)

	o.state.Transition(app.Name, types.BuildStateBuilding)
	env := o.buildEnv(mode, app)

	b, disposable, err := o.bundlers(o.bundlerOptions(mode, app, env))
	if err != nil {
		o.state.Transition(app.Name, types.BuildStateFailed)
		return werrors.Bundler(app.Name, err)
	}
	o.setDisposable(app.Name, disposable)

	if err := o.Call(ctx, HookCall{Hook: types.HookBeforeBuild, Mode: mode, App: app, Env: env, Bypass: bypass}); err != nil {
		o.state.Transition(app.Name, types.BuildStateFailed)
		return err
	}

	s := &watchSession{
		app:    app,
		bypass: bypass,
		env:    env,
		handle: &WatcherHandle{ID: uuid.New().String()},
		first:  make(chan error, 1),
	}

	log.Info("Starting watch session",
		logger.WithField("watcher", s.handle.ID),
		logger.WithField("hardWatch", app.HardWatch))

	sub, err := b.Watch(o.ctx, func(event *types.BuildEvent, buildErr error) {
		defer o.recoverCallback(app.Name)
		o.onBuild(s, event, buildErr)
	})
	if err != nil {
		o.state.Transition(app.Name, types.BuildStateFailed)
		return werrors.Bundler(app.Name, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.handle.Subscription = sub
	stopped := s.stopped
	if !stopped {
		o.ensureWatcher(app.Name, s.handle)
	}
	s.mu.Unlock()

	// a hard restart was requested before Watch returned
	if stopped {
		if err := sub.Unsubscribe(o.ctx); err != nil {
			log.Warn("Failed to unsubscribe", logger.WithError(err))
		}
	}

	select {
	case err := <-s.first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return nil
	}
}

// recoverCallback ends the run when a watch callback panics. It runs on the
// bundler's goroutine, where no caller could receive the failure.
func (o *Orchestrator) recoverCallback(app string) {
	if r := recover(); r != nil {
		o.appLogger(app).Error("Watch callback panic recovered",
			logger.WithField("panic", r),
			logger.WithField("stack_trace", string(debug.Stack())))
		o.lifecycle.Fatal(werrors.Internal(fmt.Errorf("watch callback panicked: %v", r)).WithApp(app))
	}
}

// onBuild handles one event of a watch session
func (o *Orchestrator) onBuild(s *watchSession, event *types.BuildEvent, buildErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.count++
	count := s.count
	app := s.app
	log := o.appLogger(app.Name)

	if s.sub != nil {
		o.ensureWatcher(app.Name, s.handle)
	}

	var duration time.Duration
	var changed int
	if event != nil {
		duration = event.Duration
		changed = len(event.ChangedFiles)
	}
	o.recordBuild(app.Name, types.BuildModeDev, duration, buildErr)
	if buildErr != nil {
		o.logBuildError(log, buildErr)
	} else if count == 1 {
		log.Success(fmt.Sprintf("Built in %s", duration.Round(time.Millisecond)))
	} else {
		log.Success(fmt.Sprintf("Rebuilt in %s", duration.Round(time.Millisecond)),
			logger.WithField("changed", changed))
	}

	// hard watch: the first change ends this session and restarts the bundler
	if app.HardWatch && count >= 2 {
		s.stopped = true
		o.removeWatcher(app.Name, s.handle)
		if s.sub != nil {
			if err := s.sub.Unsubscribe(o.ctx); err != nil {
				log.Warn("Failed to unsubscribe", logger.WithError(err))
			}
		}
		o.state.RecordRestart(app.Name)
		o.metrics.IncRestart(app.Name)
		o.restarts.Enqueue(app.Name, func(ctx context.Context) error {
			return o.restart(ctx, s)
		})
		return
	}

	call := HookCall{Mode: types.BuildModeDev, App: app, Env: s.env, Bypass: s.bypass}
	if buildErr != nil {
		call.BuildErr = buildErr
	} else {
		call.Event = event
	}

	var err error
	if !app.HardWatch && count > 1 {
		call.Hook = types.HookBeforeBuild
		err = o.Call(o.ctx, call)
	}
	if err == nil {
		call.Hook = types.HookAfterBuild
		err = o.Call(o.ctx, call)
	}
	o.state.Transition(app.Name, types.BuildStateWatching)

	if count == 1 {
		s.first <- err
		return
	}
	if err != nil {
		o.lifecycle.Abort(err)
	}
}

// restart disposes the previous bundler and runs the dev sequence again
func (o *Orchestrator) restart(ctx context.Context, s *watchSession) error {
	log := o.appLogger(s.app.Name)

	if d := o.takeDisposable(s.app.Name); d != nil {
		if err := d.Dispose(ctx); err != nil {
			log.Warn("Failed to dispose bundler", logger.WithError(err))
		}
	}

	log.Info("Restarting bundler")
	err := o.startSession(ctx, s.app, s.bypass)
	if err != nil && ctx.Err() != nil {
		// shutting down
		return nil
	}
	return err
}

func (o *Orchestrator) ensureWatcher(name string, h *WatcherHandle) {
	o.sessionsMu.Lock()
	current := o.watchers[name]
	o.sessionsMu.Unlock()

	if current != h {
		o.setWatcher(name, h)
	}
}

func (o *Orchestrator) bundlerOptions(mode types.BuildMode, app *types.ExtendedAppOptions, env types.EnvProps) bundler.Options {
	isWeb := app.AppType == types.AppTypeWeb

	opts := bundler.Options{
		App:          app.Name,
		Entries:      app.Input,
		OutDir:       o.resolvePath(app.Output),
		PublicURL:    app.PublicURLOrDefault(),
		Mode:         mode,
		Target:       bundler.TargetNode,
		OutputFormat: bundler.FormatCommonJS,
		Engines:      app.Engines,
		Optimize:     mode == types.BuildModeProduction && isWeb,
		SourceMaps:   mode == types.BuildModeDev,
		ScopeHoist:   app.ScopeHoist,
		Env:          env,
		LogLevel:     app.LogLevel,
		CacheDir:     o.bundlerCacheDir(app),
		WorkDir:      o.projectRoot,
		WatchRoot:    o.resolvePath(app.SourcesRoot),
		Command:      app.Command,
	}
	if isWeb {
		opts.Target = bundler.TargetBrowser
		opts.OutputFormat = bundler.FormatGlobal
	}

	if isWeb && mode == types.BuildModeDev {
		opts.HMR = &bundler.HMROptions{Port: o.hmrPort(app), Host: app.HMRHost}
		if app.HMRCert != "" && app.HMRKey != "" {
			opts.Serve = &bundler.ServeOptions{
				Cert: o.resolvePath(app.HMRCert),
				Key:  o.resolvePath(app.HMRKey),
			}
		}
	}
	return opts
}

func (o *Orchestrator) recordBuild(name string, mode types.BuildMode, d time.Duration, buildErr error) {
	outcome := metrics.OutcomeSuccess
	if buildErr != nil {
		outcome = metrics.OutcomeFailed
	}
	o.metrics.ObserveBuildDuration(name, string(mode), d)
	o.metrics.IncBuildOutcome(name, outcome)
	o.state.RecordBuild(name, d, buildErr)
}

func (o *Orchestrator) logBuildError(log logger.Logger, err error) {
	if be, ok := err.(*bundler.BuildError); ok && len(be.Diagnostics) > 0 {
		log.Error("Build failed", logger.WithField("diagnostics", strings.Join(be.Diagnostics, "\n")))
		return
	}
	log.Error("Build failed", logger.WithError(err))
}
