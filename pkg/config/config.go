// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
)

// CurrentVersion is the only supported config file version
const CurrentVersion = "1.0"

// ConfigFileNames lists the file names searched for, in order
var ConfigFileNames = []string{"wraith.config.yaml", "wraith.config.yml", "wraith.config.json"}

// Config is the parsed wraith.config file
type Config struct {
	Version string      `json:"version" yaml:"version"`
	EnvFile string      `json:"envFile,omitempty" yaml:"envFile,omitempty"`
	Apps    []AppConfig `json:"apps" yaml:"apps"`
}

// AppConfig declares one app. String fields may reference env props as ${VAR}.
type AppConfig struct {
	Name             string `json:"name" yaml:"name"`
	types.AppOptions `yaml:",inline"`
	Plugins          []PluginSpec `json:"plugins,omitempty" yaml:"plugins,omitempty"`
}

// PluginSpec declares a built-in plugin by type. Options are decoded by the plugin itself.
type PluginSpec struct {
	Type    string                 `json:"type" yaml:"type"`
	Name    string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// DisplayName returns the plugin name, the type when no name is set
func (s PluginSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Type
}

// Decode converts the free-form options into a typed struct
func (s PluginSpec) Decode(out interface{}) error {
	if len(s.Options) == 0 {
		return nil
	}
	data, err := yaml.Marshal(s.Options)
	if err != nil {
		return fmt.Errorf("failed to encode %s options: %w", s.DisplayName(), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid %s options: %w", s.DisplayName(), err)
	}
	return nil
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns the first config file present in root
func (m *Manager) FindConfig(root string) (string, error) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", werrors.New(werrors.KindConfiguration, werrors.ExitInvalidOptions,
		fmt.Sprintf("no config file found in %s (run 'wraith init')", root))
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitInvalidOptions, "failed to read config file")
	}

	var cfg Config

	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitInvalidOptions, "failed to parse config file")
		}
		return m.validateConfig(&cfg)
	}

	// YAML is a superset of JSON, so anything else goes through the YAML decoder
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitInvalidOptions, "failed to parse config file")
	}
	return m.validateConfig(&cfg)
}

// ValidateConfig checks the structure of a configuration. Per-app option checks
// happen after resolution, when defaults are known.
func (m *Manager) ValidateConfig(cfg *Config) error {
	if cfg.Version != CurrentVersion {
		return configError("unsupported config version: %q", cfg.Version)
	}

	if len(cfg.Apps) == 0 {
		return configError("no apps defined")
	}

	names := make(map[string]bool)
	for i, app := range cfg.Apps {
		if app.Name == "" {
			return configError("app %d: missing name", i)
		}
		if names[app.Name] {
			return werrors.DuplicateApp(app.Name)
		}
		names[app.Name] = true

		for j, p := range app.Plugins {
			if p.Type == "" {
				return configError("app '%s': plugin %d: missing type", app.Name, j)
			}
		}
	}

	return nil
}

// SaveConfig writes a configuration as YAML
func (m *Manager) SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetDefaultConfig returns a starter configuration with one web app
func (m *Manager) GetDefaultConfig(name string) *Config {
	if name == "" {
		name = "app"
	}
	return &Config{
		Version: CurrentVersion,
		Apps: []AppConfig{
			{
				Name: name,
				AppOptions: types.AppOptions{
					Input:   []string{fmt.Sprintf("src/%s/*.{ts,tsx}", name)},
					Output:  fmt.Sprintf("dist/public/static/%s/", name),
					AppType: types.AppTypeWeb,
					Command: "npx esbuild ${WRAITH_ENTRIES} --bundle --outdir=${WRAITH_OUT_DIR}",
				},
				Plugins: []PluginSpec{
					{Type: "notify"},
				},
			},
		},
	}
}

func (m *Manager) validateConfig(cfg *Config) (*Config, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configError(format string, args ...interface{}) error {
	return werrors.New(werrors.KindConfiguration, werrors.ExitInvalidOptions, fmt.Sprintf(format, args...))
}
