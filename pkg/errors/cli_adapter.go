package errors

import (
	"fmt"
	"strings"
)

// ExitCodeFor determines the process exit code for an error.
// Untagged errors are treated as uncaught and map to ExitProcessFailure.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	if e, ok := As(err); ok {
		if e.ExitCode > 0 {
			return e.ExitCode
		}
		return ExitOK
	}

	return ExitProcessFailure
}

// Format renders an error for terminal output
func Format(err error, verbose bool) string {
	if err == nil {
		return ""
	}

	e, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %v", err)
	}

	var b strings.Builder
	switch e.Kind {
	case KindConfiguration:
		b.WriteString(e.Error())
	case KindPlugin:
		b.WriteString(e.Error())
	default:
		fmt.Fprintf(&b, "%s: %s", e.Kind, e.Error())
	}

	if e.Detail != "" && (verbose || e.Kind == KindPlugin) {
		b.WriteString("\n")
		b.WriteString(e.Detail)
	}

	return b.String()
}
