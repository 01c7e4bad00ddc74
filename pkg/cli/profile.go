package cli

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
)

// startProfile writes a CPU profile for the lifetime of the session, readable
// with `go tool pprof`
func (c *CLI) startProfile(s *session) error {
	if c.config.CPUProfile == "" {
		return nil
	}

	f, err := os.Create(c.config.CPUProfile)
	if err != nil {
		return werrors.Internal(fmt.Errorf("failed to create CPU profile: %w", err))
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return werrors.Internal(fmt.Errorf("failed to start CPU profile: %w", err))
	}

	s.onShutdown(func(context.Context) {
		pprof.StopCPUProfile()
		if err := f.Close(); err != nil {
			s.logger.Warn("Failed to write CPU profile", logger.WithError(err))
			return
		}
		s.logger.Debug("Wrote CPU profile", logger.WithField("file", c.config.CPUProfile))
	})
	return nil
}
