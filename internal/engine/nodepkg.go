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

// packageNodeModules ships package.json and node_modules next to the output of a
// node app. It runs before any bundler exists so nothing watches the copies.
func (o *Orchestrator) packageNodeModules(ctx context.Context, app *types.ExtendedAppOptions) error {
	if app.PackageRoot == "" {
		o.appLogger(app.Name).Debug("No package root, skipping node packaging")
		return nil
	}

	packageRoot := o.resolvePath(app.PackageRoot)
	output := o.resolvePath(app.Output)
	manifest := filepath.Join(packageRoot, "package.json")
	target := filepath.Join(output, "node_modules")

	if !utils.FileExists(manifest) || utils.PathExists(target) {
		return nil
	}

	log := o.appLogger(app.Name)
	if err := utils.EnsureDirectory(output); err != nil {
		return werrors.DependencyInstall(app.Name, err)
	}
	if err := utils.CopyFile(manifest, filepath.Join(output, "package.json")); err != nil {
		return werrors.DependencyInstall(app.Name, err)
	}

	source := filepath.Join(packageRoot, "node_modules")
	cached := o.nodeModulesCache(app.Name)

	switch {
	case !utils.DirectoryExists(source):
		if err := o.installer.Install(ctx, packageRoot); err != nil {
			return werrors.DependencyInstall(app.Name, err)
		}
		if err := utils.CopyDirectory(source, target); err != nil {
			return werrors.DependencyInstall(app.Name, fmt.Errorf("copy node_modules: %w", err))
		}
		log.Info("Installed node modules", logger.WithField("output", app.Output))

	case utils.DirectoryExists(cached):
		if err := utils.MovePath(cached, target); err != nil {
			return werrors.DependencyInstall(app.Name, fmt.Errorf("restore cached node_modules: %w", err))
		}
		log.Info("Restored node modules from cache", logger.WithField("output", app.Output))

	default:
		if err := utils.CopyDirectory(source, target); err != nil {
			return werrors.DependencyInstall(app.Name, fmt.Errorf("copy node_modules: %w", err))
		}
		log.Info("Copied node modules", logger.WithField("output", app.Output))
	}
	return nil
}

// nodeModulesCache is where clean parks the node_modules of an app
func (o *Orchestrator) nodeModulesCache(name string) string {
	return filepath.Join(o.projectRoot, o.settings.CacheDir, name, "node_modules")
}
