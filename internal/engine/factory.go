package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/poltergeist/wraith/internal/metrics"
	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/bundler"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/process"
	"github.com/poltergeist/wraith/pkg/types"
)

const (
	DefaultCacheDir        = ".wraith-cache"
	DefaultBundlerCacheDir = ".bundler-cache"
	DefaultInstallCommand  = "npm install"
	DefaultHMRPort         = 3456
)

// Settings are the values an orchestrator is created with
type Settings struct {
	// Env is the dot-env content of this run
	Env             types.EnvProps
	CacheDir        string
	BundlerCacheDir string
	InstallCommand  string
	// HMRBasePort is the first port handed to web apps without an hmrPort
	HMRBasePort int
}

func (s Settings) withDefaults() Settings {
	if s.CacheDir == "" {
		s.CacheDir = DefaultCacheDir
	}
	if s.BundlerCacheDir == "" {
		s.BundlerCacheDir = DefaultBundlerCacheDir
	}
	if s.InstallCommand == "" {
		s.InstallCommand = DefaultInstallCommand
	}
	if s.HMRBasePort == 0 {
		s.HMRBasePort = DefaultHMRPort
	}
	if s.Env == nil {
		s.Env = types.EnvProps{}
	}
	return s
}

// Dependencies are the collaborators of an orchestrator
type Dependencies struct {
	Bundlers  bundler.Factory
	Metrics   metrics.Recorder
	State     *state.Manager
	Lifecycle Lifecycle
	Installer Installer
}

// DependencyFactory creates default implementations of dependencies
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	settings    Settings
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, settings Settings) *DependencyFactory {
	return &DependencyFactory{
		projectRoot: projectRoot,
		logger:      log,
		settings:    settings.withDefaults(),
	}
}

// CreateDefaults creates all default dependencies
func (f *DependencyFactory) CreateDefaults() Dependencies {
	return Dependencies{
		Bundlers:  f.createBundlerFactory(),
		Metrics:   metrics.NoopRecorder{},
		State:     f.createStateManager(),
		Lifecycle: process.NewController(f.logger),
		Installer: &ShellInstaller{Command: f.settings.InstallCommand, Logger: f.logger},
	}
}

// CreateWithOverrides creates the defaults and replaces every non-nil override
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) Dependencies {
	deps := f.CreateDefaults()

	if overrides.Bundlers != nil {
		deps.Bundlers = overrides.Bundlers
	}
	if overrides.Metrics != nil {
		deps.Metrics = overrides.Metrics
	}
	if overrides.State != nil {
		deps.State = overrides.State
	}
	if overrides.Lifecycle != nil {
		deps.Lifecycle = overrides.Lifecycle
	}
	if overrides.Installer != nil {
		deps.Installer = overrides.Installer
	}

	return deps
}

func (f *DependencyFactory) createBundlerFactory() bundler.Factory {
	return bundler.NewExecFactory(f.logger, bundler.DefaultSettleDelay)
}

func (f *DependencyFactory) createStateManager() *state.Manager {
	return state.NewManager(filepath.Join(f.projectRoot, f.settings.CacheDir), f.logger)
}

// ShellInstaller runs an install command such as "npm install" in a package root
type ShellInstaller struct {
	Command string
	Logger  logger.Logger
}

// Install implements Installer
func (i *ShellInstaller) Install(ctx context.Context, dir string) error {
	command := i.Command
	if command == "" {
		command = DefaultInstallCommand
	}

	i.Logger.Info("Installing dependencies",
		logger.WithField("dir", dir),
		logger.WithField("command", command))

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w\n%s", command, err, strings.TrimSpace(output.String()))
	}
	return nil
}
