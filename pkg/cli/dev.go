package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/poltergeist/wraith/internal/metrics"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
)

func (c *CLI) newDevCmd() *cobra.Command {
	var bypass []string

	cmd := &cobra.Command{
		Use:     "dev [app...]",
		Aliases: []string{"watch"},
		Short:   "Build apps and keep rebuilding them on change",
		Long: `Start a dev session for the given apps, or every declared app.

Each app is built once, then its bundler keeps watching the sources. Apps with
hardWatch get a fresh bundler after every change. Ctrl+C runs the exit hooks
and flushes bundler caches before quitting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDev(cmd.Context(), args, bypass)
		},
	}

	addBypassFlag(cmd.Flags(), &bypass)
	cmd.Flags().StringVar(&c.config.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().StringVar(&c.config.CPUProfile, "cpuprofile", "", "write a CPU profile to this file")

	return cmd
}

func (c *CLI) runDev(ctx context.Context, names []string, bypass []string) error {
	var opts sessionOptions
	var reg *prom.Registry
	if c.config.MetricsAddr != "" {
		reg = prom.NewRegistry()
		opts.metrics = metrics.NewPrometheusRecorder(reg)
	}

	s, err := c.openSession(ctx, "dev", opts)
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
	if reg != nil {
		c.serveMetrics(s, reg)
	}

	s.controller.Listen(s.runtime.Context)
	c.printInfo(fmt.Sprintf("Starting Wraith v%s", c.config.Version))

	for _, name := range apps {
		if s.controller.Terminating() {
			break
		}
		if err := s.orchestrator.Dev(s.runtime.Context, name, bypass); err != nil {
			if ctx.Err() != nil {
				return s.finish(nil)
			}
			return s.finish(err)
		}
	}

	if !s.controller.Terminating() {
		c.printSuccess(fmt.Sprintf("Watching %d app(s). Press Ctrl+C to stop.", len(apps)))
	}

	select {
	case <-s.controller.Done():
	case <-ctx.Done():
		return s.finish(nil)
	}

	if code := s.controller.ExitCode(); code != werrors.ExitOK {
		return &ExitError{Code: code}
	}
	c.printSuccess("Wraith stopped gracefully")
	return nil
}

// serveMetrics exposes reg on /metrics until the session shuts down
func (c *CLI) serveMetrics(s *session, reg *prom.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))

	server := &http.Server{
		Addr:              c.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.controller.Go(func() error {
		s.logger.Info("Serving metrics", logger.WithField("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", logger.WithError(err))
		}
		return nil
	})

	s.onShutdown(func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Failed to stop metrics server", logger.WithError(err))
		}
	})
}
