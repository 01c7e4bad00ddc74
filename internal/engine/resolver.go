package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"dario.cat/mergo"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
	"github.com/poltergeist/wraith/pkg/utils"
	"github.com/poltergeist/wraith/pkg/validation"
)

// Resolve returns the extended options of an app. They are computed once, from
// the env props of the first call, and returned as-is afterwards. Callers must
// not modify the result.
func (o *Orchestrator) Resolve(ctx context.Context, name string) (*types.ExtendedAppOptions, error) {
	o.mu.RLock()
	generator, registered := o.generators[name]
	cached, done := o.resolved[name]
	o.mu.RUnlock()

	if !registered {
		return nil, werrors.AppNotRegistered(name)
	}
	if done {
		return cached, nil
	}

	v, err, _ := o.resolving.Do(name, func() (interface{}, error) {
		o.mu.RLock()
		cached, done := o.resolved[name]
		o.mu.RUnlock()
		if done {
			return cached, nil
		}

		opts, err := o.extend(name, generator(o.env.Snapshot()))
		if err != nil {
			return nil, err
		}

		o.mu.Lock()
		o.resolved[name] = opts
		o.mu.Unlock()
		return opts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ExtendedAppOptions), nil
}

// extend applies defaults, infers roots and validates
func (o *Orchestrator) extend(name string, raw types.AppOptions) (*types.ExtendedAppOptions, error) {
	defaults := types.AppOptions{
		Input:   []string{fmt.Sprintf("src/%s/*.{ts,tsx}", name)},
		Output:  fmt.Sprintf("dist/public/static/%s/", name),
		AppType: types.AppTypeWeb,
		Engines: types.Engines{"browsers": types.DefaultBrowsers},
	}

	// the generator may hand out shared maps and slices
	opts := raw
	opts.Input = append([]string(nil), raw.Input...)
	opts.PassEnvs = append([]string(nil), raw.PassEnvs...)
	opts.Plugins = append([]types.Plugin(nil), raw.Plugins...)
	opts.Engines = nil
	if raw.Engines != nil {
		opts.Engines = make(types.Engines, len(raw.Engines))
		for k, v := range raw.Engines {
			opts.Engines[k] = v
		}
	}
	if len(opts.Input) == 0 {
		opts.Input = nil
	}
	if len(opts.Plugins) == 0 {
		opts.Plugins = nil
	}
	// an explicit empty public URL is kept, so it is not left to mergo
	publicURL := "./"
	if raw.PublicURL != nil {
		publicURL = *raw.PublicURL
	}
	opts.PublicURL = &publicURL

	if err := mergo.Merge(&opts, defaults); err != nil {
		return nil, werrors.InvalidOptions(name, err.Error())
	}

	if opts.AppType == types.AppTypeNode && opts.LogLevel == "" {
		opts.LogLevel = types.LogLevelNone
	}

	if opts.PackageRoot == "" {
		root, err := o.inferPackageRoot(opts.Input)
		if err != nil {
			return nil, werrors.InvalidOptions(name, err.Error())
		}
		opts.PackageRoot = root
	}
	if opts.SourcesRoot == "" {
		opts.SourcesRoot = opts.PackageRoot
	}

	ext := &types.ExtendedAppOptions{AppOptions: opts, Name: name}

	result := validation.NewAppValidator(o.projectRoot).Validate(ext)
	for _, w := range result.Warnings() {
		o.appLogger(name).Warn(w.Message, logger.WithField("field", w.Field))
	}
	if err := result.Err(name); err != nil {
		return nil, err
	}

	o.logger.Debug("Resolved app options",
		logger.WithField("app", name),
		logger.WithField("packageRoot", ext.PackageRoot),
		logger.WithField("output", ext.Output))
	return ext, nil
}

// inferPackageRoot returns the shortest directory holding a file matched by the inputs
func (o *Orchestrator) inferPackageRoot(inputs []string) (string, error) {
	root := ""
	found := false
	for _, input := range inputs {
		files, err := utils.Glob(o.projectRoot, input)
		if err != nil {
			return "", fmt.Errorf("invalid input %q: %w", input, err)
		}
		for _, f := range files {
			dir := filepath.Dir(f)
			if !found || len(dir) < len(root) {
				root = dir
				found = true
			}
		}
	}
	return root, nil
}
