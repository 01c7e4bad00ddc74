// Package plugins builds the built-in plugins declared in a config file
package plugins

import (
	"fmt"
	"sort"

	"github.com/poltergeist/wraith/pkg/config"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/plugins/command"
	"github.com/poltergeist/wraith/pkg/plugins/copyfiles"
	"github.com/poltergeist/wraith/pkg/plugins/notify"
	"github.com/poltergeist/wraith/pkg/types"
)

// Constructor builds a plugin from its declaration
type Constructor func(spec config.PluginSpec, root string, log logger.Logger) (types.Plugin, error)

// Registry maps plugin types to constructors
type Registry struct {
	root         string
	logger       logger.Logger
	constructors map[string]Constructor
}

// NewRegistry creates a registry holding the built-in plugin types
func NewRegistry(root string, log logger.Logger) *Registry {
	r := &Registry{
		root:         root,
		logger:       log,
		constructors: make(map[string]Constructor),
	}
	r.Register("command", newCommand)
	r.Register("copy", newCopy)
	r.Register("notify", newNotify)
	return r
}

// Register adds or replaces a plugin type
func (r *Registry) Register(pluginType string, c Constructor) {
	r.constructors[pluginType] = c
}

// Types returns the registered plugin types, sorted
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// Build creates a plugin from its declaration. It satisfies config.PluginBuilder.
func (r *Registry) Build(spec config.PluginSpec) (types.Plugin, error) {
	c, ok := r.constructors[spec.Type]
	if !ok {
		return nil, fmt.Errorf("unknown plugin type %q (available: %v)", spec.Type, r.Types())
	}
	return c(spec, r.root, r.logger)
}

func newCommand(spec config.PluginSpec, root string, log logger.Logger) (types.Plugin, error) {
	var opts command.Options
	if err := spec.Decode(&opts); err != nil {
		return nil, err
	}
	return command.New(spec.Name, opts, root, log), nil
}

func newCopy(spec config.PluginSpec, root string, log logger.Logger) (types.Plugin, error) {
	var opts copyfiles.Options
	if err := spec.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.Files) == 0 {
		return nil, fmt.Errorf("%s: no files to copy", spec.DisplayName())
	}
	return copyfiles.New(spec.Name, opts, root, log), nil
}

func newNotify(spec config.PluginSpec, root string, log logger.Logger) (types.Plugin, error) {
	var opts notify.Options
	if err := spec.Decode(&opts); err != nil {
		return nil, err
	}
	return notify.New(spec.Name, opts, nil, log), nil
}
