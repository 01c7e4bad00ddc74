package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

// HookCall is one run of the plugin pipeline
type HookCall struct {
	Hook     types.Hook
	Mode     types.BuildMode
	Command  types.Command
	App      *types.ExtendedAppOptions
	Env      types.EnvProps
	Event    *types.BuildEvent
	BuildErr error
	Bypass   []string
}

// Call runs the hook on every plugin of the app, in declaration order, one at a
// time. It returns a non-nil error only when the run must terminate: a plugin
// failure with a positive exit code, or anything a plugin did not raise on purpose.
func (o *Orchestrator) Call(ctx context.Context, call HookCall) error {
	start := time.Now()
	defer func() {
		o.metrics.ObserveHookDuration(string(call.Hook), time.Since(start))
	}()

	log := o.appLogger(call.App.Name)
	bypass := make(map[string]bool, len(call.Bypass))
	for _, name := range call.Bypass {
		bypass[name] = true
	}

	for _, p := range call.App.Plugins {
		if p == nil || bypass[p.Name()] || !plugin.Implements(p, call.Hook) {
			continue
		}

		err := o.invoke(ctx, p, call)
		if err == nil {
			continue
		}

		if failure, ok := werrors.As(err); ok && failure.Kind == werrors.KindPlugin {
			failure.WithPlugin(p.Name()).WithApp(call.App.Name)
			fatal := failure.ExitCode > 0
			o.metrics.IncPluginFailure(p.Name(), string(call.Hook), fatal)

			fields := []logger.Field{
				logger.WithField("plugin", p.Name()),
				logger.WithField("hook", string(call.Hook)),
			}
			if failure.Detail != "" {
				fields = append(fields, logger.WithField("detail", failure.Detail))
			}
			if !fatal {
				log.Warn(failure.Message, fields...)
				continue
			}
			log.Error(failure.Message, append(fields, logger.WithField("exit_code", failure.ExitCode))...)
			return failure
		}

		o.metrics.IncPluginFailure(p.Name(), string(call.Hook), true)
		log.Error("Uncaught error in plugin",
			logger.WithField("plugin", p.Name()),
			logger.WithField("hook", string(call.Hook)),
			logger.WithError(err))
		return werrors.UncaughtPlugin(p.Name(), err).WithApp(call.App.Name)
	}

	return nil
}

// invoke calls one plugin hook, turning a panic into an error
func (o *Orchestrator) invoke(ctx context.Context, p types.Plugin, call HookCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Debug("Plugin panic recovered",
				logger.WithField("plugin", p.Name()),
				logger.WithField("stack_trace", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch call.Hook {
	case types.HookPrepare:
		return p.(plugin.Preparer).Prepare(ctx, call.Mode, call.App)
	case types.HookBeforeBuild:
		return p.(plugin.BeforeBuilder).BeforeBuild(ctx, buildInput(call))
	case types.HookAfterBuild:
		return p.(plugin.AfterBuilder).AfterBuild(ctx, buildInput(call))
	case types.HookAction:
		return p.(plugin.Actioner).Action(ctx, call.Command, call.App, call.Env.Clone())
	case types.HookExit:
		return p.(plugin.Exiter).Exit(ctx, call.Mode, call.App, call.Env.Clone())
	}
	return fmt.Errorf("unknown hook %q", call.Hook)
}

func buildInput(call HookCall) *plugin.BuildInput {
	return &plugin.BuildInput{
		Mode:     call.Mode,
		App:      call.App,
		Env:      call.Env.Clone(),
		Event:    call.Event,
		BuildErr: call.BuildErr,
	}
}
