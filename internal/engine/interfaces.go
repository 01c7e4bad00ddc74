// Package engine provides the core build orchestration engine for Wraith.
package engine

import (
	"context"
)

// Lifecycle ends the process. Errors raised where no caller can receive them,
// such as inside watch callbacks or restart tasks, are handed to Abort; panics
// recovered there go to Fatal.
type Lifecycle interface {
	Abort(err error)
	Fatal(err error)
	Terminate(ctx context.Context, code int)
}

// Installer installs the node dependencies of a package root
type Installer interface {
	Install(ctx context.Context, dir string) error
}
