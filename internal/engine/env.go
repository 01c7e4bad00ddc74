package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
)

// EnvStore owns the env props of a run. Readers always get copies.
type EnvStore struct {
	mu    sync.RWMutex
	props types.EnvProps
}

// NewEnvStore creates a store holding a copy of initial
func NewEnvStore(initial types.EnvProps) *EnvStore {
	return &EnvStore{props: initial.Clone()}
}

// Get returns one value
func (s *EnvStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.props[key]
	return v, ok
}

// Set stores one value
func (s *EnvStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
}

// Snapshot returns a copy of every value
func (s *EnvStore) Snapshot() types.EnvProps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.props.Clone()
}

// InjectBuildMode sets NODE_ENV for the mode
func (s *EnvStore) InjectBuildMode(mode types.BuildMode) {
	s.Set("NODE_ENV", mode.NodeEnv())
}

// buildEnv returns the env handed to the bundler and plugins of one build:
// the store with NODE_ENV, then pass-through process variables, then package metadata
func (o *Orchestrator) buildEnv(mode types.BuildMode, app *types.ExtendedAppOptions) types.EnvProps {
	o.env.InjectBuildMode(mode)
	env := o.env.Snapshot()

	for _, key := range app.PassEnvs {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	if meta, ok := o.readPackageMeta(app); ok {
		env["PACKAGE_NAME"] = meta.Name
		env["VERSION"] = meta.Version
	}
	return env
}

type packageMeta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// readPackageMeta reads package.json from the package root, falling back to the project root
func (o *Orchestrator) readPackageMeta(app *types.ExtendedAppOptions) (packageMeta, bool) {
	candidates := []string{filepath.Join(o.projectRoot, "package.json")}
	if app.PackageRoot != "" {
		candidates = append([]string{filepath.Join(o.resolvePath(app.PackageRoot), "package.json")}, candidates...)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta packageMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			o.logger.Warn("Invalid package.json",
				logger.WithField("path", path),
				logger.WithError(err))
			return packageMeta{}, false
		}
		return meta, true
	}
	return packageMeta{}, false
}
