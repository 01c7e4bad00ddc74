// Package copyfiles provides a plugin that copies static files into an app's output after each build
package copyfiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/utils"
)

// Rule copies every path matched by From into To, relative to the app output
type Rule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Options configures the copy plugin
type Options struct {
	Files []Rule `yaml:"files"`
	// ExitCode is used when a copy fails; 0 only reports the failure
	ExitCode int `yaml:"exitCode"`
}

// Plugin copies files after successful builds
type Plugin struct {
	plugin.Base
	opts   Options
	root   string
	logger logger.Logger
}

// New creates a copy plugin resolving sources against root
func New(name string, opts Options, root string, log logger.Logger) *Plugin {
	if name == "" {
		name = "copy"
	}
	return &Plugin{
		Base:   plugin.Base{PluginName: name},
		opts:   opts,
		root:   root,
		logger: log,
	}
}

// AfterBuild implements plugin.AfterBuilder
func (p *Plugin) AfterBuild(ctx context.Context, in *plugin.BuildInput) error {
	if in.BuildErr != nil {
		return nil
	}

	outDir := utils.ResolvePath(p.root, in.App.Output)
	copied := 0
	for _, rule := range p.opts.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := p.apply(rule, outDir)
		if err != nil {
			return plugin.Failf(p.opts.ExitCode, "copy %s: %v", rule.From, err)
		}
		copied += n
	}

	p.logger.Debug("Copied static files",
		logger.WithField("app", in.App.Name),
		logger.WithField("count", copied))
	return nil
}

func (p *Plugin) apply(rule Rule, outDir string) (int, error) {
	var matches []string
	if !utils.IsGlobPattern(rule.From) {
		// Glob only yields files; a literal path may name a directory
		if utils.PathExists(utils.ResolvePath(p.root, rule.From)) {
			matches = []string{rule.From}
		}
	} else {
		var err error
		if matches, err = utils.Glob(p.root, rule.From); err != nil {
			return 0, err
		}
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("no files matched")
	}

	dest := filepath.Join(outDir, rule.To)
	for _, match := range matches {
		src := utils.ResolvePath(p.root, match)
		target := dest
		// several sources, or a glob, land inside the destination directory
		if len(matches) > 1 || utils.IsGlobPattern(rule.From) {
			target = filepath.Join(dest, filepath.Base(src))
		}

		info, err := os.Stat(src)
		if err != nil {
			return 0, err
		}
		if info.IsDir() {
			err = utils.CopyDirectory(src, target)
		} else {
			err = utils.CopyFile(src, target)
		}
		if err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}
