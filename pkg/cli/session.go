package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/poltergeist/wraith/internal/engine"
	"github.com/poltergeist/wraith/internal/metrics"
	"github.com/poltergeist/wraith/pkg/config"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugins"
	"github.com/poltergeist/wraith/pkg/process"
)

// ExitError carries the exit code of a run that already reported its failure
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the process exit code for an error returned by Execute
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return werrors.ExitCodeFor(err)
}

// session is one orchestrator wired to the lifecycle controller
type session struct {
	runtime      *RuntimeConfig
	config       *config.Config
	orchestrator *engine.Orchestrator
	controller   *process.Controller
	logger       logger.Logger

	mu       sync.Mutex
	cleanups []func(ctx context.Context)
}

type sessionOptions struct {
	metrics metrics.Recorder
}

// openSession loads the config file and dot-env, builds plugins and registers
// every declared app
func (c *CLI) openSession(ctx context.Context, operation string, opts sessionOptions) (*session, error) {
	rt := NewRuntimeConfig(c.config, ctx, operation)
	log := logger.WithContext(rt.Context, c.logger)

	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return nil, werrors.Internal(fmt.Errorf("failed to resolve project root: %w", err))
	}

	cfg, path, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	log.Debug("Loaded config", logger.WithField("file", path), logger.WithField("apps", len(cfg.Apps)))

	envName := c.config.EnvFile
	if envName == "" {
		envName = cfg.EnvFile
	}
	env, err := config.LoadDotEnv(root, envName, log)
	if err != nil {
		return nil, err
	}

	defs, err := cfg.Definitions(plugins.NewRegistry(root, log).Build)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitInvalidOptions, "failed to build plugins")
	}

	controller := process.NewController(log,
		process.WithExitFunc(c.exit),
		process.WithErrorOutput(c.errOut),
		process.WithVerbose(c.Verbose()))
	c.controller = controller

	settings := engine.Settings{
		Env:             env,
		CacheDir:        c.config.CacheDir,
		BundlerCacheDir: c.config.BundlerCacheDir,
		InstallCommand:  c.config.InstallCommand,
	}

	overrides := c.overrides
	if overrides.Lifecycle == nil {
		overrides.Lifecycle = controller
	}
	if opts.metrics != nil {
		overrides.Metrics = opts.metrics
	}
	deps := engine.NewDependencyFactory(root, log, settings).CreateWithOverrides(overrides)

	o := engine.New(root, log, deps, settings)
	for _, def := range defs {
		if err := o.RegisterApp(def.Name, def.Generator); err != nil {
			return nil, err
		}
	}

	s := &session{
		runtime:      rt,
		config:       cfg,
		orchestrator: o,
		controller:   controller,
		logger:       log,
	}
	controller.SetShutdownHandler(s.shutdown)
	return s, nil
}

// onShutdown registers fn to run after the orchestrator has drained, last registered first
func (s *session) onShutdown(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

func (s *session) shutdown(ctx context.Context) error {
	err := s.orchestrator.Shutdown(ctx)

	s.mu.Lock()
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i](ctx)
	}
	return err
}

// apps returns the apps a command targets: the named ones, or all in declaration order
func (s *session) apps(names []string) ([]string, error) {
	if len(names) == 0 {
		return s.orchestrator.AppNames(), nil
	}
	for _, name := range names {
		if !s.orchestrator.IsRegistered(name) {
			return nil, werrors.AppNotRegistered(name)
		}
	}
	return names, nil
}

// finish ends the run through the controller. Without a fatal error the run
// drains gracefully: exit hooks, unsubscribe and dispose, then exit. A fatal
// error aborts right away, so no plugin runs after the one that failed.
func (s *session) finish(err error) error {
	if err != nil && werrors.ExitCodeFor(err) != werrors.ExitOK {
		s.controller.Abort(err)
		code := s.controller.ExitCode()
		if code == werrors.ExitOK {
			// a termination already in flight kept its own code
			code = werrors.ExitCodeFor(err)
		}
		return &ExitError{Code: code}
	}
	if err != nil {
		s.logger.Warn(err.Error())
	}

	// exit hooks still run when the command context was cancelled
	s.orchestrator.Exit(context.WithoutCancel(s.runtime.Context), werrors.ExitOK)

	if code := s.controller.ExitCode(); code != werrors.ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}
