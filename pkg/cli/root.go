// Package cli provides the command-line interface for Wraith
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/poltergeist/wraith/internal/engine"
	"github.com/poltergeist/wraith/pkg/config"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/process"
)

// CLI encapsulates the command tree and everything it needs, without globals
type CLI struct {
	config  *Config
	rootCmd *cobra.Command
	viper   *viper.Viper
	logger  logger.Logger
	console *logger.ConsoleLogger
	out     io.Writer
	errOut  io.Writer
	// logOut is set when output is redirected, which disables log colors
	logOut io.Writer

	exit      process.ExitFunc
	overrides engine.Dependencies
	// controller of the open session, if any
	controller *process.Controller
}

// Option configures a CLI
type Option func(*CLI)

// WithExitFunc replaces os.Exit for the lifecycle controller
func WithExitFunc(fn process.ExitFunc) Option {
	return func(c *CLI) { c.exit = fn }
}

// WithDependencies overrides engine dependencies, mainly the bundler factory
func WithDependencies(deps engine.Dependencies) Option {
	return func(c *CLI) { c.overrides = deps }
}

// NewCLI creates a new CLI instance writing to stdout and stderr
func NewCLI(cfg *Config, opts ...Option) *CLI {
	return newCLI(cfg, os.Stdout, os.Stderr, nil, opts...)
}

// NewCLIWithOutput creates a CLI writing everything, logs included, to out and errOut
func NewCLIWithOutput(cfg *Config, out, errOut io.Writer, opts ...Option) *CLI {
	return newCLI(cfg, out, errOut, out, opts...)
}

func newCLI(cfg *Config, out, errOut, logOut io.Writer, opts ...Option) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := &CLI{
		config:  cfg,
		viper:   viper.New(),
		console: logger.NewConsoleLoggerWithOutput(out, errOut),
		out:     out,
		errOut:  errOut,
		logOut:  logOut,
		exit:    os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.setupCommands()
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with a context. A panic inside a command ends
// the run with ExitProcessFailure.
func (c *CLI) ExecuteContext(ctx context.Context, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = c.recovered(r)
		}
	}()
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) recovered(r interface{}) error {
	if c.controller == nil {
		return werrors.Internal(fmt.Errorf("panic: %v", r))
	}
	c.controller.FatalPanic(r)
	return &ExitError{Code: werrors.ExitProcessFailure}
}

// Verbose reports whether error details should be printed
func (c *CLI) Verbose() bool {
	return c.config.Verbosity == "debug" || c.config.Verbosity == "verbose"
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "wraith",
		Short: "Multi-app bundler orchestration with plugin hooks",
		Long: `🌫 Wraith - builds and watches several bundled apps from one process

Wraith resolves the options of every app declared in wraith.config.yaml,
runs their plugins around each build and restarts watchers when asked to.
Production builds run once; dev sessions keep watching until interrupted.`,

		PersistentPreRunE: c.initializeConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand, show help
			_ = cmd.Help()
		},
	}
	c.rootCmd.SetOut(c.out)
	c.rootCmd.SetErr(c.errOut)
	c.rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return werrors.InvalidOptions("", err.Error())
	})

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("🌫 Wraith v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newDevCmd())
	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newClearCacheCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newActionCmd())
	c.rootCmd.AddCommand(c.newListCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newWaitCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: wraith.config.yaml)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "project root directory")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (silent, error, warn, info, debug)")
	flags.StringVarP(&c.config.EnvFile, "env", "e", "", "load .env.<name> instead of .env")

	for key, flag := range map[string]string{
		"verbosity": "verbosity",
		"envFile":   "env",
	} {
		_ = c.viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initializeConfig layers the config file and WRAITH_* variables under the flags
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	v := c.viper

	if c.config.ConfigFile != "" {
		v.SetConfigFile(c.config.ConfigFile)
	} else {
		v.AddConfigPath(c.config.ProjectRoot)
		v.SetConfigName("wraith.config")
	}

	v.SetEnvPrefix("WRAITH")
	v.AutomaticEnv()
	for _, key := range []string{"cacheDir", "bundlerCacheDir", "installCommand", "envFile", "verbosity"} {
		_ = v.BindEnv(key)
	}

	// A missing file is reported by the commands that need one
	readErr := v.ReadInConfig()

	c.config.Verbosity = v.GetString("verbosity")
	c.config.EnvFile = v.GetString("envFile")
	c.config.CacheDir = v.GetString("cacheDir")
	c.config.BundlerCacheDir = v.GetString("bundlerCacheDir")
	c.config.InstallCommand = v.GetString("installCommand")

	if c.logOut != nil {
		c.logger = logger.CreateLoggerWithOutput("", c.config.Verbosity, c.logOut)
	} else {
		c.logger = logger.CreateLogger("", c.config.Verbosity)
	}

	if readErr == nil {
		c.logger.Debug("Using config file", logger.WithField("file", v.ConfigFileUsed()))
	}
	return nil
}

// configPath returns the config file to load, searching the project root when unset
func (c *CLI) configPath() (string, error) {
	if c.config.ConfigFile != "" {
		return c.config.ConfigFile, nil
	}
	return config.NewManager().FindConfig(c.config.ProjectRoot)
}

func (c *CLI) loadConfig() (*config.Config, string, error) {
	path, err := c.configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.NewManager().LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// User-facing output goes through the console logger so it stays readable at any verbosity

func (c *CLI) printSuccess(message string) { c.console.Success(message) }

func (c *CLI) printError(message string) { c.console.Error(message) }

func (c *CLI) printInfo(message string) { c.console.Info(message) }

func (c *CLI) printWarning(message string) { c.console.Warn(message) }
