// Package types provides core types shared by the Wraith orchestrator, its plugins and bundler adapters
package types

import (
	"fmt"
	"time"
)

// AppType represents the runtime an app is bundled for
type AppType string

const (
	AppTypeWeb  AppType = "web"
	AppTypeNode AppType = "node"
)

// Valid reports whether the app type is known
func (t AppType) Valid() bool {
	return t == AppTypeWeb || t == AppTypeNode
}

// BuildMode represents how a build is driven
type BuildMode string

const (
	BuildModeProduction BuildMode = "production"
	BuildModeDev        BuildMode = "dev"
)

// NodeEnv returns the NODE_ENV value injected for the mode
func (m BuildMode) NodeEnv() string {
	if m == BuildModeProduction {
		return "production"
	}
	return "development"
}

// LogLevel is the bundler log level
type LogLevel string

const (
	LogLevelNone    LogLevel = "none"
	LogLevelError   LogLevel = "error"
	LogLevelWarn    LogLevel = "warn"
	LogLevelInfo    LogLevel = "info"
	LogLevelVerbose LogLevel = "verbose"
)

// Valid reports whether the log level is known. The empty level means bundler default.
func (l LogLevel) Valid() bool {
	switch l {
	case "", LogLevelNone, LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelVerbose:
		return true
	}
	return false
}

// Hook names a lifecycle point at which plugins run
type Hook string

const (
	HookPrepare     Hook = "prepare"
	HookBeforeBuild Hook = "beforeBuild"
	HookAfterBuild  Hook = "afterBuild"
	HookAction      Hook = "action"
	HookExit        Hook = "exit"
)

// Hooks lists every hook in lifecycle order
var Hooks = []Hook{HookPrepare, HookBeforeBuild, HookAfterBuild, HookAction, HookExit}

// BuildState represents where an app is in the build state machine
type BuildState string

const (
	BuildStateIdle       BuildState = "idle"
	BuildStatePreparing  BuildState = "preparing"
	BuildStateBuilding   BuildState = "building"
	BuildStateWatching   BuildState = "watching"
	BuildStateRestarting BuildState = "restarting"
	BuildStateDone       BuildState = "done"
	BuildStateFailed     BuildState = "failed"
)

// EnvProps is the key/value environment handed to the bundler and plugins
type EnvProps map[string]string

// Clone returns an independent copy
func (e EnvProps) Clone() EnvProps {
	out := make(EnvProps, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Engines holds target runtime constraints such as "browsers" or "node"
type Engines map[string]string

// DefaultBrowsers is the browserslist query used when an app sets none
const DefaultBrowsers = "> .2% and last 20 versions, ios >= 11, chrome >= 80, not ie 11, edge >= 90"

// Plugin is anything that can be attached to an app. Which hooks it takes part in
// is decided by the capability interfaces it implements.
type Plugin interface {
	Name() string
}

// AppOptions is the raw, user supplied configuration of an app
type AppOptions struct {
	Input       []string `json:"input,omitempty" yaml:"input,omitempty"`
	Output      string   `json:"output,omitempty" yaml:"output,omitempty"`
	PackageRoot string   `json:"packageRoot,omitempty" yaml:"packageRoot,omitempty"`
	SourcesRoot string   `json:"sourcesRoot,omitempty" yaml:"sourcesRoot,omitempty"`
	// PublicURL is nil when unset so that an explicit empty string survives defaulting
	PublicURL  *string  `json:"publicUrl,omitempty" yaml:"publicUrl,omitempty"`
	AppType    AppType  `json:"appType,omitempty" yaml:"appType,omitempty"`
	PassEnvs   []string `json:"passEnvs,omitempty" yaml:"passEnvs,omitempty"`
	Plugins    []Plugin `json:"-" yaml:"-"`
	HardWatch  bool     `json:"hardWatch,omitempty" yaml:"hardWatch,omitempty"`
	Engines    Engines  `json:"engines,omitempty" yaml:"engines,omitempty"`
	LogLevel   LogLevel `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	HMRPort    int      `json:"hmrPort,omitempty" yaml:"hmrPort,omitempty"`
	HMRHost    string   `json:"hmrHost,omitempty" yaml:"hmrHost,omitempty"`
	HMRCert    string   `json:"hmrCert,omitempty" yaml:"hmrCert,omitempty"`
	HMRKey     string   `json:"hmrKey,omitempty" yaml:"hmrKey,omitempty"`
	ScopeHoist bool     `json:"scopeHoist,omitempty" yaml:"scopeHoist,omitempty"`
	Command    string   `json:"command,omitempty" yaml:"command,omitempty"`
}

// ExtendedAppOptions is AppOptions with every default applied and the app name attached
type ExtendedAppOptions struct {
	AppOptions
	Name string `json:"name"`
}

// PublicURLOrDefault returns the public URL, "./" when unset
func (o *ExtendedAppOptions) PublicURLOrDefault() string {
	if o.PublicURL == nil {
		return "./"
	}
	return *o.PublicURL
}

// PluginNames returns the names of the app's plugins in declaration order
func (o *ExtendedAppOptions) PluginNames() []string {
	names := make([]string, 0, len(o.Plugins))
	for _, p := range o.Plugins {
		names = append(names, p.Name())
	}
	return names
}

// ConfigGenerator produces the raw options of an app from the environment
type ConfigGenerator func(env EnvProps) AppOptions

// BuildEvent is what the bundler reports for one completed (re)build
type BuildEvent struct {
	Type         string        `json:"type"`
	ChangedFiles []string      `json:"changedFiles,omitempty"`
	Duration     time.Duration `json:"duration"`
	Output       string        `json:"output,omitempty"`
}

// Succeeded reports whether the event represents a successful build
func (e *BuildEvent) Succeeded() bool {
	return e != nil && e.Type == BuildEventSuccess
}

const (
	BuildEventSuccess = "buildSuccess"
	BuildEventFailure = "buildFailure"
)

// Command is a user-triggered action forwarded to action hooks
type Command struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters,omitempty"`
}

// String implements fmt.Stringer
func (c Command) String() string {
	if len(c.Parameters) == 0 {
		return c.Name
	}
	return fmt.Sprintf("%s %v", c.Name, c.Parameters)
}
