// Package process owns how a Wraith run ends: signal handling, graceful
// shutdown and the fatal paths that skip it.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
)

// ShutdownFunc performs graceful shutdown before the process exits
type ShutdownFunc func(ctx context.Context) error

// ExitFunc ends the process. os.Exit outside tests.
type ExitFunc func(code int)

// Controller handles process lifecycle and signals. Only one termination
// ever runs; later requests are ignored.
type Controller struct {
	logger   logger.Logger
	errOut   io.Writer
	exit     ExitFunc
	verbose  bool
	signals  []os.Signal
	shutdown ShutdownFunc

	mu          sync.Mutex
	listenOnce  sync.Once
	terminating atomic.Bool
	exitCode    atomic.Int32
	done        chan struct{}
	doneOnce    sync.Once
}

// Option configures a Controller
type Option func(*Controller)

// WithExitFunc replaces os.Exit
func WithExitFunc(fn ExitFunc) Option {
	return func(c *Controller) { c.exit = fn }
}

// WithErrorOutput sets where fatal errors are printed
func WithErrorOutput(w io.Writer) Option {
	return func(c *Controller) { c.errOut = w }
}

// WithVerbose prints error details on fatal paths
func WithVerbose(verbose bool) Option {
	return func(c *Controller) { c.verbose = verbose }
}

// WithSignals overrides the signals that trigger graceful shutdown
func WithSignals(signals ...os.Signal) Option {
	return func(c *Controller) { c.signals = signals }
}

// NewController creates a new lifecycle controller
func NewController(log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		logger:  log,
		errOut:  os.Stderr,
		exit:    os.Exit,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetShutdownHandler sets what runs on graceful termination
func (c *Controller) SetShutdownHandler(fn ShutdownFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = fn
}

// Listen installs signal handling. Calling it again has no effect.
// Handling stops when ctx is cancelled.
func (c *Controller) Listen(ctx context.Context) {
	c.listenOnce.Do(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, c.signals...)

		go func() {
			defer signal.Stop(sigChan)
			select {
			case <-ctx.Done():
			case <-c.done:
			case sig := <-sigChan:
				c.logger.Info("Received signal", logger.WithField("signal", sig))
				c.Terminate(context.Background(), werrors.ExitOK)
			}
		}()
	})
}

// Terminate shuts down gracefully and exits with code. If a termination is
// already in flight the call returns immediately.
func (c *Controller) Terminate(ctx context.Context, code int) {
	if !c.terminating.CompareAndSwap(false, true) {
		c.logger.Debug("Termination already in progress", logger.WithField("code", code))
		return
	}

	c.mu.Lock()
	shutdown := c.shutdown
	c.mu.Unlock()

	if shutdown != nil {
		c.logger.Info("Shutting down...")
		if err := shutdown(ctx); err != nil {
			c.print(err)
			if code == werrors.ExitOK {
				code = werrors.ExitCodeFor(err)
			}
		}
	}

	c.finish(code)
}

// Abort ends the run because of a fatal plugin or configuration error raised
// outside a synchronous call. Graceful shutdown is skipped.
func (c *Controller) Abort(err error) {
	if !c.terminating.CompareAndSwap(false, true) {
		c.logger.Debug("Abort ignored, already terminating", logger.WithError(err))
		return
	}
	c.print(err)
	c.finish(werrors.ExitCodeFor(err))
}

// Fatal ends the run because of an uncaught error. It always exits with ExitProcessFailure.
func (c *Controller) Fatal(err error) {
	c.terminating.Store(true)
	c.print(err)
	c.finish(werrors.ExitProcessFailure)
}

// Handle routes an error from a background task: fatal tagged errors abort with
// their own code, non-fatal ones are logged, anything else is uncaught.
func (c *Controller) Handle(err error) {
	if err == nil {
		return
	}
	if e, ok := werrors.As(err); ok {
		if e.Fatal() {
			c.Abort(err)
		} else {
			c.logger.Warn(e.Error())
		}
		return
	}
	c.Fatal(err)
}

// Recover converts a panic into Fatal. Use as `defer c.Recover()`.
func (c *Controller) Recover() {
	if r := recover(); r != nil {
		c.FatalPanic(r)
	}
}

// FatalPanic ends the run for a panic value recovered by the caller
func (c *Controller) FatalPanic(r interface{}) {
	c.logger.Error("Panic recovered",
		logger.WithField("panic", r),
		logger.WithField("stack_trace", string(debug.Stack())))
	c.Fatal(werrors.Internal(fmt.Errorf("panic: %v", r)))
}

// Go runs fn in a supervised goroutine: its error goes to Handle, a panic to Fatal
func (c *Controller) Go(fn func() error) {
	go func() {
		defer c.Recover()
		c.Handle(fn())
	}()
}

// Done is closed once the controller decided to exit
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Terminating reports whether a termination has started
func (c *Controller) Terminating() bool {
	return c.terminating.Load()
}

// ExitCode is the code the run ended with, valid once Done is closed
func (c *Controller) ExitCode() int {
	return int(c.exitCode.Load())
}

func (c *Controller) finish(code int) {
	c.doneOnce.Do(func() {
		c.exitCode.Store(int32(code))
		close(c.done)
	})
	c.exit(code)
}

func (c *Controller) print(err error) {
	fmt.Fprintln(c.errOut, werrors.Format(err, c.verbose))
}
