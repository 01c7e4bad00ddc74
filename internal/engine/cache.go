package engine

import (
	"context"
	"fmt"
	"path/filepath"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
	"github.com/poltergeist/wraith/pkg/utils"
)

// CommandClean is the action dispatched to plugins after Clean emptied an output directory
const CommandClean = "clean"

// ClearCache removes the shared bundler and orchestrator caches, then the
// package-root bundler cache of each targeted app. It returns the removed paths.
// Paths that are already gone are skipped.
func (o *Orchestrator) ClearCache(ctx context.Context, name string) ([]string, error) {
	targets, err := o.targets(name)
	if err != nil {
		return nil, err
	}

	candidates := []string{
		filepath.Join(o.projectRoot, o.settings.BundlerCacheDir),
		filepath.Join(o.projectRoot, o.settings.CacheDir),
	}
	for _, target := range targets {
		app, err := o.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}
		if app.PackageRoot == "" {
			continue
		}
		candidates = append(candidates, filepath.Join(o.resolvePath(app.PackageRoot), o.settings.BundlerCacheDir))
	}

	var removed []string
	seen := make(map[string]bool, len(candidates))
	for _, path := range candidates {
		if seen[path] {
			continue
		}
		seen[path] = true

		ok, err := utils.RemovePath(path)
		if err != nil {
			return removed, werrors.Internal(fmt.Errorf("remove %s: %w", path, err))
		}
		if ok {
			o.logger.Info("Removed cache", logger.WithField("path", path))
			removed = append(removed, path)
		}
	}
	return removed, nil
}

// Clean empties the output directory of each targeted app and dispatches the
// clean action. With keepNodeModules the output's node_modules is parked in the
// orchestrator cache first, where the next node packaging picks it up.
func (o *Orchestrator) Clean(ctx context.Context, name string, keepNodeModules bool, params []string, bypass []string) ([]string, error) {
	targets, err := o.targets(name)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, target := range targets {
		app, err := o.Resolve(ctx, target)
		if err != nil {
			return removed, err
		}
		log := o.appLogger(app.Name)
		output := o.resolvePath(app.Output)

		if keepNodeModules {
			modules := filepath.Join(output, "node_modules")
			if utils.DirectoryExists(modules) {
				cached := o.nodeModulesCache(app.Name)
				if _, err := utils.RemovePath(cached); err != nil {
					return removed, werrors.Internal(fmt.Errorf("remove %s: %w", cached, err))
				}
				if err := utils.MovePath(modules, cached); err != nil {
					return removed, werrors.Internal(fmt.Errorf("keep node_modules of %s: %w", app.Name, err))
				}
				log.Debug("Kept node modules", logger.WithField("cache", cached))
			}
		}

		ok, err := utils.RemovePath(output)
		if err != nil {
			return removed, werrors.Internal(fmt.Errorf("remove %s: %w", output, err))
		}
		if ok {
			log.Info("Removed output", logger.WithField("path", output))
			removed = append(removed, output)
		}

		if err := o.dispatch(ctx, app, types.Command{Name: CommandClean, Parameters: params}, bypass); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Action dispatches a named command to the action hook of each targeted app
func (o *Orchestrator) Action(ctx context.Context, command string, params []string, name string, bypass []string) error {
	targets, err := o.targets(name)
	if err != nil {
		return err
	}

	for _, target := range targets {
		app, err := o.Resolve(ctx, target)
		if err != nil {
			return err
		}
		if err := o.dispatch(ctx, app, types.Command{Name: command, Parameters: params}, bypass); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, app *types.ExtendedAppOptions, cmd types.Command, bypass []string) error {
	mode := o.Mode()
	return o.Call(ctx, HookCall{
		Hook:    types.HookAction,
		Mode:    mode,
		Command: cmd,
		App:     app,
		Env:     o.buildEnv(mode, app),
		Bypass:  bypass,
	})
}

// bundlerCacheDir is the bundler cache of an app, inside its package root
func (o *Orchestrator) bundlerCacheDir(app *types.ExtendedAppOptions) string {
	return filepath.Join(o.resolvePath(app.PackageRoot), o.settings.BundlerCacheDir)
}
