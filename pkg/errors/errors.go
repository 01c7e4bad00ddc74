// Package errors provides the tagged error type used across Wraith. Every error that
// can terminate the process carries a Kind and the exit code the CLI should use.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error by where it came from
type Kind string

const (
	// KindConfiguration covers registry, options and env file problems
	KindConfiguration Kind = "configuration"
	// KindPlugin is a failure a plugin declared on purpose
	KindPlugin Kind = "plugin"
	// KindBundler is a failure reported by or while creating the bundler
	KindBundler Kind = "bundler"
	// KindInternal covers everything else, including uncaught plugin errors
	KindInternal Kind = "internal"
)

// Process exit codes
const (
	ExitOK                = 0
	ExitAppNotRegistered  = 1
	ExitEnvFileMissing    = 2
	ExitPluginFailure     = 3
	ExitDependencyInstall = 4
	ExitDuplicateApp      = 6
	ExitInvalidOptions    = 7
	ExitProcessFailure    = 99
)

// Sentinel errors usable with errors.Is
var (
	ErrAppNotRegistered = stderrors.New("app not registered")
	ErrDuplicateApp     = stderrors.New("app already registered")
	ErrInvalidOptions   = stderrors.New("invalid app options")
	ErrEnvFileMissing   = stderrors.New("env file missing")
	ErrPluginFailure    = stderrors.New("uncaught plugin error")
	ErrInstallFailed    = stderrors.New("dependency install failed")
)

// Error is a tagged error. ExitCode zero means the error is informational and
// the caller may carry on; anything above zero terminates the run with that code.
type Error struct {
	Kind     Kind   `json:"kind"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	ExitCode int    `json:"exitCode"`
	Plugin   string `json:"plugin,omitempty"`
	App      string `json:"app,omitempty"`
	Cause    error  `json:"-"`

	sentinel error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Plugin != "" {
		msg = fmt.Sprintf("%s: %s", e.Plugin, msg)
	}
	if e.App != "" {
		msg = fmt.Sprintf("[%s] %s", e.App, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel the error was created with
func (e *Error) Is(target error) bool {
	return e.sentinel != nil && target == e.sentinel
}

// Fatal reports whether the error must terminate the run
func (e *Error) Fatal() bool {
	return e.ExitCode > 0
}

// WithApp attributes the error to an app
func (e *Error) WithApp(app string) *Error {
	e.App = app
	return e
}

// WithPlugin attributes the error to a plugin
func (e *Error) WithPlugin(name string) *Error {
	e.Plugin = name
	return e
}

// WithDetail attaches extra diagnostic text
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// New creates a tagged error
func New(kind Kind, exitCode int, message string) *Error {
	return &Error{Kind: kind, ExitCode: exitCode, Message: message}
}

// Wrap creates a tagged error around an existing one
func Wrap(err error, kind Kind, exitCode int, message string) *Error {
	return &Error{Kind: kind, ExitCode: exitCode, Message: message, Cause: err}
}

// As extracts a tagged error from an error chain
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal when it is not tagged
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind checks whether err is a tagged error of the given kind
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsFatal reports whether err should end the run. Untagged errors are always fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := As(err); ok {
		return e.Fatal()
	}
	return true
}

// Is re-exports errors.Is so importers need only one errors package
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// AppNotRegistered is returned when an operation names an unknown app
func AppNotRegistered(name string) *Error {
	return &Error{
		Kind:     KindConfiguration,
		ExitCode: ExitAppNotRegistered,
		Message:  fmt.Sprintf("app %q is not registered", name),
		App:      name,
		sentinel: ErrAppNotRegistered,
	}
}

// DuplicateApp is returned when an app name is registered twice
func DuplicateApp(name string) *Error {
	return &Error{
		Kind:     KindConfiguration,
		ExitCode: ExitDuplicateApp,
		Message:  fmt.Sprintf("app %q is already registered", name),
		App:      name,
		sentinel: ErrDuplicateApp,
	}
}

// InvalidOptions is returned when resolved app options fail validation
func InvalidOptions(app, message string) *Error {
	return &Error{
		Kind:     KindConfiguration,
		ExitCode: ExitInvalidOptions,
		Message:  message,
		App:      app,
		sentinel: ErrInvalidOptions,
	}
}

// EnvFileMissing is returned when a named env file cannot be found
func EnvFileMissing(path string) *Error {
	return &Error{
		Kind:     KindConfiguration,
		ExitCode: ExitEnvFileMissing,
		Message:  fmt.Sprintf("env file %s not found", path),
		sentinel: ErrEnvFileMissing,
	}
}

// PluginFailure is a failure a plugin raises on purpose. A zero exit code logs
// the message and lets the pipeline continue.
func PluginFailure(message string, exitCode int) *Error {
	return &Error{Kind: KindPlugin, ExitCode: exitCode, Message: message}
}

// UncaughtPlugin wraps anything a plugin returned or panicked with that was not a PluginFailure
func UncaughtPlugin(plugin string, cause error) *Error {
	return &Error{
		Kind:     KindInternal,
		ExitCode: ExitPluginFailure,
		Message:  "uncaught error",
		Plugin:   plugin,
		Cause:    cause,
		sentinel: ErrPluginFailure,
	}
}

// DependencyInstall is returned when installing node modules fails
func DependencyInstall(app string, cause error) *Error {
	return &Error{
		Kind:     KindInternal,
		ExitCode: ExitDependencyInstall,
		Message:  "failed to install dependencies",
		App:      app,
		Cause:    cause,
		sentinel: ErrInstallFailed,
	}
}

// Bundler wraps a failure to create or drive the bundler
func Bundler(app string, cause error) *Error {
	return &Error{
		Kind:     KindBundler,
		ExitCode: ExitProcessFailure,
		Message:  "bundler failure",
		App:      app,
		Cause:    cause,
	}
}

// Internal wraps an unexpected error
func Internal(cause error) *Error {
	return &Error{
		Kind:     KindInternal,
		ExitCode: ExitProcessFailure,
		Message:  "unexpected error",
		Cause:    cause,
	}
}
