// Package plugin defines the hook contract between the orchestrator and plugins.
//
// A plugin is any types.Plugin. It takes part in a hook by implementing the
// matching capability interface below; the orchestrator checks for the
// interface and skips plugins that do not implement it.
//
// A hook reports an intended failure by returning an error built with Fail or
// Failf. Exit code zero logs the message and lets later plugins run; a positive
// code stops the pipeline and terminates the run with that code. Any other
// returned error, and any panic, is treated as an uncaught plugin error.
package plugin

import (
	"context"
	"fmt"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
)

// Preparer runs once per orchestrator run, before any bundler is created
type Preparer interface {
	types.Plugin
	Prepare(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions) error
}

// BeforeBuilder runs before the bundler starts and, in soft watch mode, before every rebuild is reported
type BeforeBuilder interface {
	types.Plugin
	BeforeBuild(ctx context.Context, in *BuildInput) error
}

// AfterBuilder runs after a build completed. Event is nil when the build failed; BuildErr is then set.
type AfterBuilder interface {
	types.Plugin
	AfterBuild(ctx context.Context, in *BuildInput) error
}

// Actioner handles user-triggered commands, including the built-in "clean"
type Actioner interface {
	types.Plugin
	Action(ctx context.Context, cmd types.Command, app *types.ExtendedAppOptions, env types.EnvProps) error
}

// Exiter runs during graceful shutdown
type Exiter interface {
	types.Plugin
	Exit(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions, env types.EnvProps) error
}

// BuildInput is what build hooks receive
type BuildInput struct {
	Mode     types.BuildMode
	App      *types.ExtendedAppOptions
	Env      types.EnvProps
	Event    *types.BuildEvent
	BuildErr error
}

// Implements reports whether p takes part in hook
func Implements(p types.Plugin, hook types.Hook) bool {
	switch hook {
	case types.HookPrepare:
		_, ok := p.(Preparer)
		return ok
	case types.HookBeforeBuild:
		_, ok := p.(BeforeBuilder)
		return ok
	case types.HookAfterBuild:
		_, ok := p.(AfterBuilder)
		return ok
	case types.HookAction:
		_, ok := p.(Actioner)
		return ok
	case types.HookExit:
		_, ok := p.(Exiter)
		return ok
	}
	return false
}

// Hooks lists the hooks p takes part in
func Hooks(p types.Plugin) []types.Hook {
	var hooks []types.Hook
	for _, h := range types.Hooks {
		if Implements(p, h) {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

// Fail builds a plugin failure. exitCode 0 is reported and ignored.
func Fail(message string, exitCode int) error {
	return werrors.PluginFailure(message, exitCode)
}

// Failf is Fail with formatting
func Failf(exitCode int, format string, args ...interface{}) error {
	return werrors.PluginFailure(fmt.Sprintf(format, args...), exitCode)
}

// FailWithDetail is Fail with extra diagnostic output, such as a command's stderr
func FailWithDetail(message, detail string, exitCode int) error {
	return werrors.PluginFailure(message, exitCode).WithDetail(detail)
}

// Base gives a plugin its name. Embed it and implement the hooks you need.
type Base struct {
	PluginName string
}

// Name implements types.Plugin
func (b Base) Name() string {
	return b.PluginName
}
