// Package notify provides a plugin that shows desktop notifications for build results
package notify

import (
	"context"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/notifier"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

// Options configures the notify plugin
type Options struct {
	// OnSuccess and OnFailure default to true
	OnSuccess *bool `yaml:"onSuccess"`
	OnFailure *bool `yaml:"onFailure"`
	Sound     bool  `yaml:"sound"`
	// DevOnly suppresses notifications for production builds
	DevOnly bool `yaml:"devOnly"`
}

// Plugin notifies after each build
type Plugin struct {
	plugin.Base
	opts     Options
	notifier *notifier.BuildNotifier
}

// New creates a notify plugin. send may be nil to use desktop notifications.
func New(name string, opts Options, send notifier.SendFunc, log logger.Logger) *Plugin {
	if name == "" {
		name = "notify"
	}
	return &Plugin{
		Base: plugin.Base{PluginName: name},
		opts: opts,
		notifier: notifier.New(notifier.Config{
			Enabled: true,
			Sound:   opts.Sound,
			Send:    send,
		}, log),
	}
}

// AfterBuild implements plugin.AfterBuilder
func (p *Plugin) AfterBuild(ctx context.Context, in *plugin.BuildInput) error {
	if p.opts.DevOnly && in.Mode == types.BuildModeProduction {
		return nil
	}

	if in.BuildErr != nil {
		if enabled(p.opts.OnFailure) {
			p.notifier.NotifyBuildFailure(in.App.Name, in.BuildErr)
		}
		return nil
	}

	if enabled(p.opts.OnSuccess) && in.Event != nil {
		p.notifier.NotifyBuildSuccess(in.App.Name, in.Event.Duration)
	}
	return nil
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}
