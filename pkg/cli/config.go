package cli

import (
	"context"
	"time"

	wcontext "github.com/poltergeist/wraith/pkg/context"
)

// Config holds all CLI configuration. Flags bind to it; viper fills in values
// from the config file and WRAITH_* environment variables.
type Config struct {
	ConfigFile  string
	ProjectRoot string
	Verbosity   string
	Version     string

	// EnvFile selects .env.<name>; empty means .env
	EnvFile         string
	CacheDir        string
	BundlerCacheDir string
	InstallCommand  string

	MetricsAddr string
	CPUProfile  string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
		Verbosity:   "info",
	}
}

// RuntimeConfig holds runtime values of one command invocation
type RuntimeConfig struct {
	Config    *Config
	Context   context.Context
	StartTime time.Time
	SessionID string
}

// NewRuntimeConfig creates a runtime configuration carrying a fresh session ID
func NewRuntimeConfig(cfg *Config, ctx context.Context, operation string) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	ctx = wcontext.WithSessionID(ctx, "")
	ctx = wcontext.WithOperation(ctx, operation)
	ctx = wcontext.WithStartTime(ctx, start)

	return &RuntimeConfig{
		Config:    cfg,
		Context:   ctx,
		StartTime: start,
		SessionID: wcontext.GetSessionID(ctx),
	}
}

// WithTimeout creates a new context with timeout
func (rc *RuntimeConfig) WithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(rc.Context, timeout)
}
