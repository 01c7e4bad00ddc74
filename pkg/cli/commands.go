package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/wraith/internal/engine"
	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/types"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	var bypass []string

	cmd := &cobra.Command{
		Use:   "build [app...]",
		Short: "Build apps once for production",
		Long: `Run a production build of the given apps, or every declared app, in
declaration order. Exit hooks run once all builds are done.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd.Context(), args, bypass)
		},
	}

	addBypassFlag(cmd.Flags(), &bypass)
	cmd.Flags().StringVar(&c.config.CPUProfile, "cpuprofile", "", "write a CPU profile to this file")

	return cmd
}

func (c *CLI) newClearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache [app]",
		Short: "Remove bundler and Wraith caches",
		Long: `Remove the shared bundler cache, the Wraith cache directory and the
bundler cache in the package root of each app, or of the given app only.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClearCache(cmd.Context(), firstArg(args))
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	var keepNodeModules bool
	var params []string
	var bypass []string

	cmd := &cobra.Command{
		Use:   "clean [app]",
		Short: "Remove build outputs",
		Long: `Empty the output directory of each app, or of the given app, then send
the "clean" action to its plugins.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runClean(cmd.Context(), firstArg(args), keepNodeModules, params, bypass)
		},
	}

	cmd.Flags().BoolVar(&keepNodeModules, "keep-node-modules", false, "park node_modules in the cache instead of deleting it")
	addParamFlag(cmd.Flags(), &params)
	addBypassFlag(cmd.Flags(), &bypass)

	return cmd
}

func (c *CLI) newActionCmd() *cobra.Command {
	var params []string
	var bypass []string

	cmd := &cobra.Command{
		Use:   "action <command> [app]",
		Short: "Send a named command to plugins",
		Long:  `Call the action hook of every plugin of each app, or of the given app, with a command and its parameters.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runAction(cmd.Context(), args[0], firstArg(args[1:]), params, bypass)
		},
	}

	addParamFlag(cmd.Flags(), &params)
	addBypassFlag(cmd.Flags(), &bypass)

	return cmd
}

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared apps with their resolved options",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList(cmd.Context())
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the build state of every app",
		Long:  `Display the state persisted by running or finished Wraith sessions, including build and restart counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runStatus()
		},
	}
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  `Check the configuration file, the env file and the resolved options of every app.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(cmd.Context())
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Wraith",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "🌫 Wraith v%s\n", c.config.Version)
		},
	}
}

// Implementation functions

func (c *CLI) runBuild(ctx context.Context, names []string, bypass []string) error {
	s, err := c.openSession(ctx, "build", sessionOptions{})
	if err != nil {
		return err
	}
	apps, err := s.apps(names)
	if err != nil {
		return s.finish(err)
	}
	if err := c.startProfile(s); err != nil {
		return s.finish(err)
	}
	s.controller.Listen(s.runtime.Context)

	var failed []string
	for _, name := range apps {
		if err := s.orchestrator.Build(s.runtime.Context, name, bypass); err != nil {
			return s.finish(err)
		}
		if s.orchestrator.State(name) == types.BuildStateFailed {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		c.printWarning(fmt.Sprintf("%d of %d app(s) failed to build: %s", len(failed), len(apps), strings.Join(failed, ", ")))
	} else {
		c.printSuccess(fmt.Sprintf("Built %d app(s)", len(apps)))
	}
	return s.finish(nil)
}

func (c *CLI) runClearCache(ctx context.Context, name string) error {
	s, err := c.openSession(ctx, "clear-cache", sessionOptions{})
	if err != nil {
		return err
	}

	removed, err := s.orchestrator.ClearCache(s.runtime.Context, name)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		c.printInfo("No cache to remove")
		return nil
	}
	c.printSuccess(fmt.Sprintf("Removed %d cache director%s", len(removed), plural(len(removed), "y", "ies")))
	return nil
}

func (c *CLI) runClean(ctx context.Context, name string, keepNodeModules bool, params []string, bypass []string) error {
	s, err := c.openSession(ctx, "clean", sessionOptions{})
	if err != nil {
		return err
	}

	removed, err := s.orchestrator.Clean(s.runtime.Context, name, keepNodeModules, params, bypass)
	for _, path := range removed {
		c.printInfo(fmt.Sprintf("Removed %s", c.relative(path)))
	}
	if err != nil {
		return err
	}
	c.printSuccess("Cleaned build outputs")
	return nil
}

func (c *CLI) runAction(ctx context.Context, command, name string, params []string, bypass []string) error {
	s, err := c.openSession(ctx, "action", sessionOptions{})
	if err != nil {
		return err
	}

	if err := s.orchestrator.Action(s.runtime.Context, command, params, name, bypass); err != nil {
		return err
	}
	c.printSuccess(fmt.Sprintf("Action %s done", types.Command{Name: command, Parameters: params}))
	return nil
}

func (c *CLI) runList(ctx context.Context) error {
	s, err := c.openSession(ctx, "list", sessionOptions{})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tOUTPUT\tPACKAGE ROOT\tHARD WATCH\tPLUGINS")
	fmt.Fprintln(w, "----\t----\t------\t------------\t----------\t-------")

	for _, name := range s.orchestrator.AppNames() {
		app, err := s.orchestrator.Resolve(s.runtime.Context, name)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t\t\t\t\n", name, color.RedString("invalid: %v", err))
			continue
		}

		hardWatch := "-"
		if app.HardWatch {
			hardWatch = "✓"
		}
		plugins := strings.Join(app.PluginNames(), ", ")
		if plugins == "" {
			plugins = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			app.Name,
			app.AppType,
			app.Output,
			app.PackageRoot,
			hardWatch,
			plugins,
		)
	}

	return w.Flush()
}

func (c *CLI) runStatus() error {
	sm := state.NewManager(c.cacheDir(), c.logger)

	states, err := sm.Discover()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}
	byApp := make(map[string]*state.AppState, len(states))
	for _, st := range states {
		byApp[st.App] = st
	}

	// Declared apps come first, in declaration order, even without state
	var names []string
	if cfg, _, err := c.loadConfig(); err == nil {
		for _, app := range cfg.Apps {
			names = append(names, app.Name)
		}
	}
	listed := make(map[string]bool, len(names))
	for _, name := range names {
		listed[name] = true
	}
	for _, st := range states {
		if !listed[st.App] {
			names = append(names, st.App)
		}
	}

	if len(names) == 0 {
		c.printWarning("No apps found. Run 'wraith init' to create a configuration.")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "APP\tSTATE\tMODE\tLAST BUILD\tBUILDS\tFAILURES\tRESTARTS")
	fmt.Fprintln(w, "---\t-----\t----\t----------\t------\t--------\t--------")

	for _, name := range names {
		status := types.BuildStateIdle
		mode := "-"
		lastBuild := "-"
		builds, failures, restarts := 0, 0, 0

		if st, ok := byApp[name]; ok {
			status = st.State
			if st.Mode != "" {
				mode = string(st.Mode)
			}
			if !st.LastBuildTime.IsZero() {
				lastBuild = st.LastBuildTime.Format("15:04:05")
			}
			builds = st.BuildCount
			failures = st.FailureCount
			restarts = st.RestartCount
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			name,
			colorState(status),
			mode,
			lastBuild,
			builds,
			failures,
			restarts,
		)
	}

	return w.Flush()
}

func (c *CLI) runValidate(ctx context.Context) error {
	s, err := c.openSession(ctx, "validate", sessionOptions{})
	if err != nil {
		return err
	}

	for _, name := range s.orchestrator.AppNames() {
		app, err := s.orchestrator.Resolve(s.runtime.Context, name)
		if err != nil {
			c.printError(fmt.Sprintf("%s: invalid", name))
			return err
		}
		c.printInfo(fmt.Sprintf("%s: %s app, %d plugin(s)", app.Name, app.AppType, len(app.Plugins)))
	}

	c.printSuccess("Configuration is valid")
	return nil
}

func (c *CLI) cacheDir() string {
	dir := c.config.CacheDir
	if dir == "" {
		dir = engine.DefaultCacheDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.config.ProjectRoot, dir)
}

func (c *CLI) relative(path string) string {
	root, err := filepath.Abs(c.config.ProjectRoot)
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func colorState(s types.BuildState) string {
	switch s {
	case types.BuildStateDone, types.BuildStateWatching:
		return color.GreenString(string(s))
	case types.BuildStateFailed:
		return color.RedString(string(s))
	case types.BuildStateBuilding, types.BuildStatePreparing, types.BuildStateRestarting:
		return color.YellowString(string(s))
	}
	return color.WhiteString(string(s))
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
