package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/poltergeist/wraith/internal/metrics"
	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/bundler"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// WatcherHandle identifies the live watch session of an app
type WatcherHandle struct {
	ID           string
	Subscription bundler.Subscription
}

// Orchestrator drives registered apps through production builds and dev watch sessions
type Orchestrator struct {
	projectRoot string
	settings    Settings
	logger      logger.Logger
	bundlers    bundler.Factory
	metrics     metrics.Recorder
	state       *state.Manager
	lifecycle   Lifecycle
	installer   Installer
	env         *EnvStore
	restarts    *RestartQueue

	// registry and memoized options
	mu         sync.RWMutex
	order      []string
	generators map[string]types.ConfigGenerator
	resolved   map[string]*types.ExtendedAppOptions
	resolving  singleflight.Group

	// live sessions
	sessionsMu  sync.Mutex
	watchers    map[string]*WatcherHandle
	disposables map[string]bundler.Disposable
	hmrPorts    map[string]int
	nextHMRPort int
	mode        types.BuildMode

	prepareMu  sync.Mutex
	prepared   bool
	prepareErr error

	shutdownOnce sync.Once
	shutdownErr  error

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new orchestrator rooted at projectRoot
func New(projectRoot string, log logger.Logger, deps Dependencies, settings Settings) *Orchestrator {
	settings = settings.withDefaults()

	// Ensure project root is absolute
	if abs, err := filepath.Abs(projectRoot); err == nil {
		projectRoot = abs
	} else {
		log.Error(fmt.Sprintf("Failed to get absolute path for project root: %v", err))
	}

	// Validate required dependencies
	if deps.Bundlers == nil {
		panic("Bundlers dependency is required")
	}
	if deps.State == nil {
		panic("State dependency is required")
	}
	if deps.Lifecycle == nil {
		panic("Lifecycle dependency is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.Installer == nil {
		deps.Installer = &ShellInstaller{Command: settings.InstallCommand, Logger: log}
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		projectRoot: projectRoot,
		settings:    settings,
		logger:      log,
		bundlers:    deps.Bundlers,
		metrics:     deps.Metrics,
		state:       deps.State,
		lifecycle:   deps.Lifecycle,
		installer:   deps.Installer,
		env:         NewEnvStore(settings.Env),
		generators:  make(map[string]types.ConfigGenerator),
		resolved:    make(map[string]*types.ExtendedAppOptions),
		watchers:    make(map[string]*WatcherHandle),
		disposables: make(map[string]bundler.Disposable),
		hmrPorts:    make(map[string]int),
		nextHMRPort: settings.HMRBasePort,
		mode:        types.BuildModeProduction,
		ctx:         ctx,
		cancel:      cancel,
	}
	o.restarts = NewRestartQueue(log, o.lifecycle.Abort)
	o.restarts.Start(ctx)
	return o
}

// ProjectRoot returns the absolute project root
func (o *Orchestrator) ProjectRoot() string {
	return o.projectRoot
}

// Env returns the env store of this run
func (o *Orchestrator) Env() *EnvStore {
	return o.env
}

// Mode returns the build mode of the current run
func (o *Orchestrator) Mode() types.BuildMode {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	return o.mode
}

// State returns the build state of an app
func (o *Orchestrator) State(name string) types.BuildState {
	if st, ok := o.state.Get(name); ok {
		return st.State
	}
	return types.BuildStateIdle
}

// WatcherID returns the ID of the live watcher of an app, empty when none
func (o *Orchestrator) WatcherID(name string) string {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	if h, ok := o.watchers[name]; ok {
		return h.ID
	}
	return ""
}

// RestartQueue exposes the hard watch restart queue
func (o *Orchestrator) RestartQueue() *RestartQueue {
	return o.restarts
}

// appLogger scopes log lines by app once several apps are registered
func (o *Orchestrator) appLogger(name string) logger.Logger {
	o.mu.RLock()
	n := len(o.order)
	o.mu.RUnlock()
	if n > 1 {
		return o.logger.WithApp(name)
	}
	return o.logger
}

func (o *Orchestrator) resolvePath(path string) string {
	if path == "" {
		return o.projectRoot
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(o.projectRoot, path)
}

func (o *Orchestrator) setWatcher(name string, h *WatcherHandle) {
	o.sessionsMu.Lock()
	delete(o.watchers, name)
	o.watchers[name] = h
	n := len(o.watchers)
	o.sessionsMu.Unlock()

	o.state.SetWatcher(name, h.ID)
	o.metrics.SetActiveWatchers(n)
}

// removeWatcher deletes the watcher of an app if it is still h
func (o *Orchestrator) removeWatcher(name string, h *WatcherHandle) {
	o.sessionsMu.Lock()
	cur, ok := o.watchers[name]
	removed := ok && (h == nil || cur == h)
	if removed {
		delete(o.watchers, name)
	}
	n := len(o.watchers)
	o.sessionsMu.Unlock()

	if removed {
		o.state.SetWatcher(name, "")
		o.metrics.SetActiveWatchers(n)
	}
}

func (o *Orchestrator) setDisposable(name string, d bundler.Disposable) {
	if d == nil {
		return
	}
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	o.disposables[name] = d
}

func (o *Orchestrator) takeDisposable(name string) bundler.Disposable {
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	d := o.disposables[name]
	delete(o.disposables, name)
	return d
}

// hmrPort returns the HMR port of an app, allocating one from the counter on first use
func (o *Orchestrator) hmrPort(app *types.ExtendedAppOptions) int {
	if app.HMRPort != 0 {
		return app.HMRPort
	}
	o.sessionsMu.Lock()
	defer o.sessionsMu.Unlock()
	if port, ok := o.hmrPorts[app.Name]; ok {
		return port
	}
	port := o.nextHMRPort
	o.nextHMRPort++
	o.hmrPorts[app.Name] = port
	return port
}
