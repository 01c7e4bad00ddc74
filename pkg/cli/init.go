package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/poltergeist/wraith/pkg/config"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var appType string
	var force bool

	cmd := &cobra.Command{
		Use:   "init [app]",
		Short: "Initialize a new Wraith configuration",
		Long: `Create wraith.config.yaml in the project root with one app. The app type
is detected from the project files unless --type is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInit(firstArg(args), types.AppType(appType), force)
		},
	}

	cmd.Flags().StringVarP(&appType, "type", "t", "", "app type (web, node)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func (c *CLI) runInit(name string, appType types.AppType, force bool) error {
	configPath := c.config.ConfigFile
	if configPath == "" {
		configPath = filepath.Join(c.config.ProjectRoot, config.ConfigFileNames[0])
	}

	if _, err := os.Stat(configPath); err == nil && !force {
		return werrors.New(werrors.KindConfiguration, werrors.ExitInvalidOptions,
			"configuration already exists. Use --force to overwrite")
	}

	if appType == "" {
		appType = detectAppType(c.config.ProjectRoot)
		c.printInfo(fmt.Sprintf("Detected app type: %s", appType))
	} else if !appType.Valid() {
		return werrors.InvalidOptions(name, fmt.Sprintf("unknown app type %q (web, node)", appType))
	}

	manager := config.NewManager()
	cfg := createDefaultConfig(manager, name, appType)

	if err := manager.SaveConfig(configPath, cfg); err != nil {
		return werrors.Wrap(err, werrors.KindConfiguration, werrors.ExitInvalidOptions, "failed to write config")
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", configPath))
	c.printInfo("Edit the command of each app to call your bundler")
	return nil
}

// detectAppType looks for files that only one kind of app has. Web wins ties.
func detectAppType(root string) types.AppType {
	checks := []struct {
		file    string
		appType types.AppType
	}{
		{"index.html", types.AppTypeWeb},
		{"public/index.html", types.AppTypeWeb},
		{"vite.config.ts", types.AppTypeWeb},
		{"webpack.config.js", types.AppTypeWeb},
		{"src/server.ts", types.AppTypeNode},
		{"server.js", types.AppTypeNode},
		{"server.ts", types.AppTypeNode},
	}

	for _, check := range checks {
		if _, err := os.Stat(filepath.Join(root, check.file)); err == nil {
			return check.appType
		}
	}
	return types.AppTypeWeb
}

func createDefaultConfig(manager *config.Manager, name string, appType types.AppType) *config.Config {
	cfg := manager.GetDefaultConfig(name)
	if appType != types.AppTypeNode {
		return cfg
	}

	app := &cfg.Apps[0]
	app.AppType = types.AppTypeNode
	app.Input = []string{fmt.Sprintf("src/%s/index.ts", app.Name)}
	app.Output = fmt.Sprintf("dist/%s/", app.Name)
	app.PackageRoot = fmt.Sprintf("src/%s", app.Name)
	app.HardWatch = true
	app.Command = "npx esbuild ${WRAITH_ENTRIES} --bundle --platform=node --outdir=${WRAITH_OUT_DIR}"
	return cfg
}
