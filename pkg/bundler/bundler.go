// Package bundler defines the contract Wraith uses to drive an external bundler
// and ships an adapter that runs a bundle command and re-runs it on file changes.
package bundler

//go:generate mockgen -destination=../mocks/bundler_mock.go -package=mocks github.com/poltergeist/wraith/pkg/bundler Bundler,Subscription,Disposable

import (
	"context"
	"fmt"
	"strings"

	"github.com/poltergeist/wraith/pkg/types"
)

// Target is the runtime context the bundle is produced for
type Target string

const (
	TargetBrowser Target = "browser"
	TargetNode    Target = "node"
)

// OutputFormat is the module format of the bundle
type OutputFormat string

const (
	FormatGlobal   OutputFormat = "global"
	FormatCommonJS OutputFormat = "commonjs"
)

// HMROptions configures hot module replacement in dev mode
type HMROptions struct {
	Port int
	Host string
}

// ServeOptions configures the HTTPS dev server when a certificate pair is set
type ServeOptions struct {
	Cert string
	Key  string
}

// Options is everything a bundler instance is created with
type Options struct {
	App          string
	Entries      []string
	OutDir       string
	PublicURL    string
	Mode         types.BuildMode
	Target       Target
	OutputFormat OutputFormat
	Engines      types.Engines
	Optimize     bool
	SourceMaps   bool
	ScopeHoist   bool
	HMR          *HMROptions
	Serve        *ServeOptions
	Env          types.EnvProps
	LogLevel     types.LogLevel
	CacheDir     string
	WorkDir      string
	WatchRoot    string
	Command      string
}

// EventFunc receives one completed (re)build. Exactly one of event and err is set.
// Calls for one subscription never overlap.
type EventFunc func(event *types.BuildEvent, err error)

// Bundler runs one-shot builds or long-running watch sessions
type Bundler interface {
	Run(ctx context.Context) (*types.BuildEvent, error)
	Watch(ctx context.Context, fn EventFunc) (Subscription, error)
}

// Subscription ends a watch session. Unsubscribe must be safe to call from inside the EventFunc.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Disposable releases whatever a bundler instance holds (workers, caches)
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Factory creates a bundler and the handle that disposes it
type Factory func(opts Options) (Bundler, Disposable, error)

// BuildError is a failed build as reported by the bundler
type BuildError struct {
	App         string
	Diagnostics []string
	Output      string
	Cause       error
}

// Error implements the error interface
func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build of %s failed", e.App)
	if len(e.Diagnostics) > 0 {
		msg += ": " + strings.Join(e.Diagnostics, "; ")
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *BuildError) Unwrap() error {
	return e.Cause
}
