// Package command provides a plugin that runs shell commands at lifecycle hooks
// and for user actions.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

// Options configures the command plugin
type Options struct {
	Prepare     string `yaml:"prepare"`
	BeforeBuild string `yaml:"beforeBuild"`
	AfterBuild  string `yaml:"afterBuild"`
	Exit        string `yaml:"exit"`
	// Actions maps an action name, such as "clean" or "deploy", to a command
	Actions map[string]string `yaml:"actions"`
	// ExitCode is the code a failing command terminates the run with. Unset uses
	// the command's own exit status; 0 only reports the failure.
	ExitCode *int `yaml:"exitCode"`
	// SkipFailedBuilds keeps afterBuild from running when the build failed
	SkipFailedBuilds bool   `yaml:"skipFailedBuilds"`
	WorkDir          string `yaml:"workDir"`
}

// Plugin runs shell commands
type Plugin struct {
	plugin.Base
	opts   Options
	root   string
	logger logger.Logger
}

// New creates a command plugin. Commands run in root unless a work dir is configured.
func New(name string, opts Options, root string, log logger.Logger) *Plugin {
	if name == "" {
		name = "command"
	}
	return &Plugin{
		Base:   plugin.Base{PluginName: name},
		opts:   opts,
		root:   root,
		logger: log,
	}
}

// Prepare implements plugin.Preparer
func (p *Plugin) Prepare(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions) error {
	return p.run(ctx, p.opts.Prepare, app, nil, map[string]string{
		"WRAITH_HOOK": string(types.HookPrepare),
		"WRAITH_MODE": string(mode),
	})
}

// BeforeBuild implements plugin.BeforeBuilder
func (p *Plugin) BeforeBuild(ctx context.Context, in *plugin.BuildInput) error {
	return p.run(ctx, p.opts.BeforeBuild, in.App, in.Env, map[string]string{
		"WRAITH_HOOK": string(types.HookBeforeBuild),
		"WRAITH_MODE": string(in.Mode),
	})
}

// AfterBuild implements plugin.AfterBuilder
func (p *Plugin) AfterBuild(ctx context.Context, in *plugin.BuildInput) error {
	status := "success"
	if in.BuildErr != nil {
		if p.opts.SkipFailedBuilds {
			return nil
		}
		status = "failed"
	}
	vars := map[string]string{
		"WRAITH_HOOK":         string(types.HookAfterBuild),
		"WRAITH_MODE":         string(in.Mode),
		"WRAITH_BUILD_STATUS": status,
	}
	if in.Event != nil && len(in.Event.ChangedFiles) > 0 {
		vars["WRAITH_CHANGED_FILES"] = strings.Join(in.Event.ChangedFiles, " ")
	}
	return p.run(ctx, p.opts.AfterBuild, in.App, in.Env, vars)
}

// Action implements plugin.Actioner
func (p *Plugin) Action(ctx context.Context, cmd types.Command, app *types.ExtendedAppOptions, env types.EnvProps) error {
	return p.run(ctx, p.opts.Actions[cmd.Name], app, env, map[string]string{
		"WRAITH_HOOK":    string(types.HookAction),
		"WRAITH_COMMAND": cmd.Name,
		"WRAITH_PARAMS":  strings.Join(cmd.Parameters, " "),
	})
}

// Exit implements plugin.Exiter
func (p *Plugin) Exit(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions, env types.EnvProps) error {
	return p.run(ctx, p.opts.Exit, app, env, map[string]string{
		"WRAITH_HOOK": string(types.HookExit),
		"WRAITH_MODE": string(mode),
	})
}

func (p *Plugin) run(ctx context.Context, command string, app *types.ExtendedAppOptions, env types.EnvProps, vars map[string]string) error {
	if command == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = p.root
	if p.opts.WorkDir != "" {
		cmd.Dir = p.opts.WorkDir
	}
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if app != nil {
		cmd.Env = append(cmd.Env,
			"WRAITH_APP="+app.Name,
			"WRAITH_OUT_DIR="+app.Output,
			"WRAITH_PACKAGE_ROOT="+app.PackageRoot)
	}
	for k, v := range vars {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	p.logger.Debug("Running hook command",
		logger.WithField("plugin", p.Name()),
		logger.WithField("hook", vars["WRAITH_HOOK"]),
		logger.WithField("command", command))

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to run %q: %w", command, err)
	}

	code := exitErr.ExitCode()
	if code < 0 {
		// killed by a signal
		code = 1
	}
	if p.opts.ExitCode != nil {
		code = *p.opts.ExitCode
	}
	return plugin.FailWithDetail(
		fmt.Sprintf("%q exited with status %d", command, exitErr.ExitCode()),
		strings.TrimSpace(output.String()),
		code,
	)
}
