package config

import (
	"fmt"
	"os"

	"github.com/poltergeist/wraith/pkg/types"
)

// PluginBuilder turns a plugin declaration into a plugin instance
type PluginBuilder func(spec PluginSpec) (types.Plugin, error)

// AppDefinition is an app ready to be registered on the orchestrator
type AppDefinition struct {
	Name      string
	Generator types.ConfigGenerator
}

// Definitions builds the plugins of every app and returns one generator per app,
// in declaration order. Plugins are built once; the generator only expands options.
func (c *Config) Definitions(build PluginBuilder) ([]AppDefinition, error) {
	defs := make([]AppDefinition, 0, len(c.Apps))
	for _, app := range c.Apps {
		plugins := make([]types.Plugin, 0, len(app.Plugins))
		for _, spec := range app.Plugins {
			p, err := build(spec)
			if err != nil {
				return nil, fmt.Errorf("app '%s': %w", app.Name, err)
			}
			plugins = append(plugins, p)
		}
		defs = append(defs, AppDefinition{
			Name:      app.Name,
			Generator: app.generator(plugins),
		})
	}
	return defs, nil
}

func (a AppConfig) generator(plugins []types.Plugin) types.ConfigGenerator {
	raw := a.AppOptions
	return func(env types.EnvProps) types.AppOptions {
		opts := raw
		opts.Plugins = plugins
		opts.Input = expandAll(raw.Input, env)
		opts.Output = Expand(raw.Output, env)
		opts.PackageRoot = Expand(raw.PackageRoot, env)
		opts.SourcesRoot = Expand(raw.SourcesRoot, env)
		opts.HMRHost = Expand(raw.HMRHost, env)
		opts.HMRCert = Expand(raw.HMRCert, env)
		opts.HMRKey = Expand(raw.HMRKey, env)
		opts.Command = Expand(raw.Command, env)
		opts.PassEnvs = append([]string(nil), raw.PassEnvs...)
		if raw.PublicURL != nil {
			u := Expand(*raw.PublicURL, env)
			opts.PublicURL = &u
		}
		if raw.Engines != nil {
			opts.Engines = make(types.Engines, len(raw.Engines))
			for k, v := range raw.Engines {
				opts.Engines[k] = Expand(v, env)
			}
		}
		return opts
	}
}

// Expand replaces ${VAR} and $VAR with values from env. Unknown variables are left
// untouched so the bundle command can still resolve them from its own environment.
func Expand(s string, env types.EnvProps) string {
	return os.Expand(s, func(key string) string {
		if v, ok := env[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}

func expandAll(in []string, env types.EnvProps) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Expand(s, env)
	}
	return out
}
