// Package validation checks resolved app options before anything is built
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
	"github.com/poltergeist/wraith/pkg/utils"
)

// AppValidator validates app options against a project root
type AppValidator struct {
	projectRoot string
}

// NewAppValidator creates a new app validator
func NewAppValidator(projectRoot string) *AppValidator {
	return &AppValidator{
		projectRoot: projectRoot,
	}
}

// ValidationError represents a validation issue
type ValidationError struct {
	App     string
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents issue severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.App, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds an issue to the validation result
func (r *ValidationResult) AddError(app, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		App:     app,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Warnings returns the warning-level issues
func (r *ValidationResult) Warnings() []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == ValidationLevelWarning {
			out = append(out, e)
		}
	}
	return out
}

// Err returns a configuration error summarising every error-level issue, nil when valid
func (r *ValidationResult) Err(app string) error {
	if r.Valid {
		return nil
	}
	var msgs []string
	for _, e := range r.Errors {
		if e.Level == ValidationLevelError {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
		}
	}
	return werrors.InvalidOptions(app, strings.Join(msgs, "; "))
}

// Validate validates resolved app options
func (v *AppValidator) Validate(opts *types.ExtendedAppOptions) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateName(opts, result)
	v.validateType(opts, result)
	v.validateInput(opts, result)
	v.validateOutput(opts, result)
	v.validateHMR(opts, result)
	v.validatePlugins(opts, result)

	for i, name := range opts.PassEnvs {
		if strings.TrimSpace(name) == "" {
			result.AddError(opts.Name, "passEnvs", fmt.Sprintf("entry %d is empty", i), ValidationLevelError)
		}
	}

	return result
}

func (v *AppValidator) validateName(opts *types.ExtendedAppOptions, result *ValidationResult) {
	if opts.Name == "" {
		result.AddError("", "name", "app name is required", ValidationLevelError)
		return
	}
	if strings.ContainsAny(opts.Name, " /\\") {
		result.AddError(opts.Name, "name", "app name cannot contain spaces or path separators", ValidationLevelError)
	}
}

func (v *AppValidator) validateType(opts *types.ExtendedAppOptions, result *ValidationResult) {
	if !opts.AppType.Valid() {
		result.AddError(opts.Name, "appType", fmt.Sprintf("unknown app type %q", opts.AppType), ValidationLevelError)
	}
	if !opts.LogLevel.Valid() {
		result.AddError(opts.Name, "logLevel", fmt.Sprintf("unknown log level %q", opts.LogLevel), ValidationLevelError)
	}
}

func (v *AppValidator) validateInput(opts *types.ExtendedAppOptions, result *ValidationResult) {
	if len(opts.Input) == 0 {
		result.AddError(opts.Name, "input", "at least one input is required", ValidationLevelError)
		return
	}

	matched := false
	for _, in := range opts.Input {
		if strings.TrimSpace(in) == "" {
			result.AddError(opts.Name, "input", "empty input pattern", ValidationLevelError)
			continue
		}
		if files, err := utils.Glob(v.projectRoot, in); err == nil && len(files) > 0 {
			matched = true
		}
	}
	if !matched {
		result.AddError(opts.Name, "input", "inputs match no files", ValidationLevelWarning)
	}
}

func (v *AppValidator) validateOutput(opts *types.ExtendedAppOptions, result *ValidationResult) {
	if strings.TrimSpace(opts.Output) == "" {
		result.AddError(opts.Name, "output", "output directory is required", ValidationLevelError)
		return
	}

	// clean removes the output directory, so it must never be the project itself
	out := utils.ResolvePath(v.projectRoot, opts.Output)
	root, _ := filepath.Abs(v.projectRoot)
	if abs, err := filepath.Abs(out); err == nil && (abs == root || abs == filepath.Dir(abs)) {
		result.AddError(opts.Name, "output", "output directory cannot be the project root or filesystem root", ValidationLevelError)
	}
}

func (v *AppValidator) validateHMR(opts *types.ExtendedAppOptions, result *ValidationResult) {
	if (opts.HMRCert == "") != (opts.HMRKey == "") {
		result.AddError(opts.Name, "hmrCert", "hmrCert and hmrKey must be set together", ValidationLevelError)
	}
	for field, path := range map[string]string{"hmrCert": opts.HMRCert, "hmrKey": opts.HMRKey} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(utils.ResolvePath(v.projectRoot, path)); os.IsNotExist(err) {
			result.AddError(opts.Name, field, fmt.Sprintf("file does not exist: %s", path), ValidationLevelWarning)
		}
	}
	if opts.HMRPort < 0 || opts.HMRPort > 65535 {
		result.AddError(opts.Name, "hmrPort", fmt.Sprintf("port %d out of range", opts.HMRPort), ValidationLevelError)
	}
	if opts.AppType == types.AppTypeNode && opts.HMRPort != 0 {
		result.AddError(opts.Name, "hmrPort", "node apps do not use HMR", ValidationLevelWarning)
	}
}

func (v *AppValidator) validatePlugins(opts *types.ExtendedAppOptions, result *ValidationResult) {
	seen := make(map[string]bool)
	for i, p := range opts.Plugins {
		if p == nil {
			result.AddError(opts.Name, "plugins", fmt.Sprintf("plugin %d is nil", i), ValidationLevelError)
			continue
		}
		name := p.Name()
		if name == "" {
			result.AddError(opts.Name, "plugins", fmt.Sprintf("plugin %d has no name", i), ValidationLevelError)
			continue
		}
		if seen[name] {
			result.AddError(opts.Name, "plugins", fmt.Sprintf("plugin %q is declared twice; bypass will skip both", name), ValidationLevelWarning)
		}
		seen[name] = true
	}
}
