package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/types"
	"github.com/poltergeist/wraith/pkg/utils"
)

// DefaultSettleDelay is how long a watch session waits for file events to stop before rebuilding
const DefaultSettleDelay = 150 * time.Millisecond

const maxDiagnostics = 10

// ExecBundler runs a bundle command through the shell. Bundler options reach the
// command as WRAITH_* environment variables next to the app's env props.
type ExecBundler struct {
	opts       Options
	logger     logger.Logger
	settle     time.Duration
	exclusions *utils.ExclusionMatcher

	mu       sync.Mutex
	subs     map[*execSubscription]struct{}
	disposed bool
	wg       sync.WaitGroup
}

// NewExecFactory returns a Factory creating ExecBundlers. The bundler doubles as its own Disposable.
func NewExecFactory(log logger.Logger, settle time.Duration) Factory {
	return func(opts Options) (Bundler, Disposable, error) {
		b, err := NewExecBundler(opts, log, settle)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	}
}

// NewExecBundler creates a bundler for one app
func NewExecBundler(opts Options, log logger.Logger, settle time.Duration) (*ExecBundler, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("no bundle command configured for %s", opts.App)
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	exclusions := utils.GetDefaultExclusions()
	if opts.OutDir != "" {
		if rel, err := filepath.Rel(opts.WatchRoot, opts.OutDir); err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			exclusions = append(exclusions, filepath.ToSlash(rel), filepath.ToSlash(rel)+"/**")
		}
	}
	matcher, err := utils.NewExclusionMatcher(exclusions)
	if err != nil {
		return nil, fmt.Errorf("invalid exclusions: %w", err)
	}

	if log == nil {
		log = logger.Discard()
	}

	return &ExecBundler{
		opts:       opts,
		logger:     log.WithApp(opts.App),
		settle:     settle,
		exclusions: matcher,
		subs:       make(map[*execSubscription]struct{}),
	}, nil
}

// Run performs a single build
func (b *ExecBundler) Run(ctx context.Context) (*types.BuildEvent, error) {
	return b.build(ctx, nil)
}

// Watch builds once, then rebuilds whenever files under the watch root change.
// fn is called from a single goroutine per subscription.
func (b *ExecBundler) Watch(ctx context.Context, fn EventFunc) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil, errors.New("bundler already disposed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	root := b.watchRoot()
	if err := b.addTree(watcher, root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	sub := &execSubscription{bundler: b, cancel: cancel}
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go b.watchLoop(wctx, watcher, fn)

	b.logger.Debug("Watching for changes", logger.WithField("root", root))
	return sub, nil
}

// Dispose ends every watch session and waits for running builds to stop
func (b *ExecBundler) Dispose(ctx context.Context) error {
	b.mu.Lock()
	b.disposed = true
	for sub := range b.subs {
		sub.cancel()
	}
	b.subs = make(map[*execSubscription]struct{})
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type execSubscription struct {
	bundler *ExecBundler
	cancel  context.CancelFunc
}

// Unsubscribe stops the session without waiting, so it can run inside the EventFunc
func (s *execSubscription) Unsubscribe(ctx context.Context) error {
	s.cancel()
	s.bundler.mu.Lock()
	delete(s.bundler.subs, s)
	s.bundler.mu.Unlock()
	return nil
}

func (b *ExecBundler) watchRoot() string {
	if b.opts.WatchRoot != "" {
		return b.opts.WatchRoot
	}
	if b.opts.WorkDir != "" {
		return b.opts.WorkDir
	}
	return "."
}

func (b *ExecBundler) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fn EventFunc) {
	defer b.wg.Done()
	defer watcher.Close()

	b.emit(ctx, fn, nil)

	root := b.watchRoot()
	pending := make(map[string]struct{})
	var settled <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}

			rel, err := filepath.Rel(root, event.Name)
			if err != nil || b.exclusions.IsExcluded(rel) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create && utils.DirectoryExists(event.Name) {
				if err := b.addTree(watcher, event.Name); err != nil {
					b.logger.Warn("Failed to watch new directory",
						logger.WithField("path", event.Name),
						logger.WithError(err))
				}
			}

			pending[rel] = struct{}{}
			settled = time.After(b.settle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("Watcher error", logger.WithError(err))

		case <-settled:
			settled = nil
			changed := make([]string, 0, len(pending))
			for f := range pending {
				changed = append(changed, f)
			}
			sort.Strings(changed)
			pending = make(map[string]struct{})

			b.emit(ctx, fn, changed)
		}
	}
}

// emit builds and reports the result unless the session ended meanwhile
func (b *ExecBundler) emit(ctx context.Context, fn EventFunc, changed []string) {
	if ctx.Err() != nil {
		return
	}
	event, err := b.build(ctx, changed)
	if ctx.Err() != nil {
		return
	}
	fn(event, err)
}

func (b *ExecBundler) addTree(watcher *fsnotify.Watcher, dir string) error {
	root := b.watchRoot()
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(root, path); relErr == nil && rel != "." && b.exclusions.IsExcluded(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func (b *ExecBundler) build(ctx context.Context, changed []string) (*types.BuildEvent, error) {
	start := time.Now()

	logFile, err := b.openLogFile()
	if err != nil {
		b.logger.Debug("Build log unavailable", logger.WithError(err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	var output bytes.Buffer
	var sink io.Writer = &output
	if logFile != nil {
		fmt.Fprintf(logFile, "\n=== Build started at %s ===\n", start.Format("2006-01-02 15:04:05"))
		if len(changed) > 0 {
			fmt.Fprintf(logFile, "Changed files: %v\n", changed)
		}
		sink = io.MultiWriter(&output, logFile)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", b.opts.Command)
	cmd.Dir = b.opts.WorkDir
	cmd.Env = b.environment()
	cmd.Stdout = sink
	cmd.Stderr = sink

	b.logger.Debug("Running bundle command",
		logger.WithField("command", b.opts.Command),
		logger.WithField("changed", len(changed)))

	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil {
		if logFile != nil {
			fmt.Fprintf(logFile, "=== Build FAILED after %s ===\n", duration)
		}
		return nil, &BuildError{
			App:         b.opts.App,
			Diagnostics: diagnostics(output.String()),
			Output:      output.String(),
			Cause:       runErr,
		}
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "=== Build SUCCEEDED after %s ===\n", duration)
	}

	return &types.BuildEvent{
		Type:         types.BuildEventSuccess,
		ChangedFiles: changed,
		Duration:     duration,
		Output:       output.String(),
	}, nil
}

func (b *ExecBundler) openLogFile() (*os.File, error) {
	if b.opts.CacheDir == "" {
		return nil, nil
	}
	logDir := filepath.Join(b.opts.CacheDir, "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(filepath.Join(logDir, b.opts.App+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// environment merges the process env, the app env props and the WRAITH_* options
func (b *ExecBundler) environment() []string {
	env := os.Environ()
	for k, v := range b.opts.Env {
		env = append(env, k+"="+v)
	}

	o := b.opts
	vars := map[string]string{
		"WRAITH_APP":         o.App,
		"WRAITH_MODE":        string(o.Mode),
		"WRAITH_ENTRIES":     strings.Join(o.Entries, " "),
		"WRAITH_OUT_DIR":     o.OutDir,
		"WRAITH_PUBLIC_URL":  o.PublicURL,
		"WRAITH_TARGET":      string(o.Target),
		"WRAITH_FORMAT":      string(o.OutputFormat),
		"WRAITH_OPTIMIZE":    strconv.FormatBool(o.Optimize),
		"WRAITH_SOURCE_MAPS": strconv.FormatBool(o.SourceMaps),
		"WRAITH_SCOPE_HOIST": strconv.FormatBool(o.ScopeHoist),
		"WRAITH_LOG_LEVEL":   string(o.LogLevel),
		"WRAITH_CACHE_DIR":   o.CacheDir,
	}
	for name, value := range o.Engines {
		vars["WRAITH_ENGINE_"+strings.ToUpper(name)] = value
	}
	if o.HMR != nil {
		vars["WRAITH_HMR_PORT"] = strconv.Itoa(o.HMR.Port)
		vars["WRAITH_HMR_HOST"] = o.HMR.Host
	}
	if o.Serve != nil {
		vars["WRAITH_HTTPS_CERT"] = o.Serve.Cert
		vars["WRAITH_HTTPS_KEY"] = o.Serve.Key
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// diagnostics picks the lines of the build output that look like errors
func diagnostics(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(strings.ToLower(line), "error") {
			continue
		}
		lines = append(lines, line)
		if len(lines) == maxDiagnostics {
			break
		}
	}
	return lines
}
