package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/wraith/internal/metrics"
	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/bundler"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/mocks"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

func TestBuild_Production(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("recorder", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Build(context.Background(), "web", nil))

	assert.Equal(t, []types.Hook{types.HookPrepare, types.HookBeforeBuild, types.HookAfterBuild}, p.Hooks())
	calls := p.Calls()
	assert.Equal(t, types.BuildModeProduction, calls[2].Mode)
	require.NotNil(t, calls[2].Event)
	assert.NoError(t, calls[2].BuildErr)
	assert.Equal(t, "production", calls[2].Env["NODE_ENV"])

	require.Equal(t, 1, env.bundlers.Count())
	b := env.bundlers.Last()
	assert.Equal(t, 1, b.Runs())
	assert.Equal(t, bundler.TargetBrowser, b.Options.Target)
	assert.Equal(t, bundler.FormatGlobal, b.Options.OutputFormat)
	assert.True(t, b.Options.Optimize)
	assert.False(t, b.Options.SourceMaps)
	assert.Nil(t, b.Options.HMR)
	assert.Equal(t, filepath.Join(env.root, "dist/public/static/web"), b.Options.OutDir)
	assert.Equal(t, filepath.Join(env.root, DefaultBundlerCacheDir), b.Options.CacheDir)

	assert.Equal(t, types.BuildStateDone, env.o.State("web"))
	assert.Equal(t, types.BuildModeProduction, env.o.Mode())
}

func TestBuild_BundlerFailureGoesToAfterBuild(t *testing.T) {
	env := newTestEnv(t)
	env.bundlers.RunErr = &bundler.BuildError{App: "web", Diagnostics: []string{"src/web/index.ts:1:1: error"}}
	p := mocks.NewRecordingPlugin("recorder", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Build(context.Background(), "web", nil))

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Nil(t, calls[2].Event)
	var buildErr *bundler.BuildError
	assert.True(t, errors.As(calls[2].BuildErr, &buildErr))
	assert.Equal(t, types.BuildStateFailed, env.o.State("web"))
}

func TestBuild_FatalAfterBuildIsReturned(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("gate", nil).FailOn(types.HookAfterBuild, plugin.Fail("bundle too large", 9))
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	err := env.o.Build(context.Background(), "web", nil)
	assert.Equal(t, 9, werrors.ExitCodeFor(err))
}

func TestBuild_FatalBeforeBuildSkipsBundler(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("gate", nil).FailOn(types.HookBeforeBuild, plugin.Fail("dirty tree", 3))
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	err := env.o.Build(context.Background(), "web", nil)
	assert.Equal(t, 3, werrors.ExitCodeFor(err))
	assert.Equal(t, 0, env.bundlers.Last().Runs())
	assert.Equal(t, types.BuildStateFailed, env.o.State("web"))
}

func TestBuild_FactoryError(t *testing.T) {
	env := newTestEnv(t)
	env.bundlers.FactoryErr = errors.New("no bundler")
	env.register(t, "web", types.AppOptions{})

	err := env.o.Build(context.Background(), "web", nil)
	require.Error(t, err)
	assert.True(t, werrors.IsKind(err, werrors.KindBundler))
}

func TestBuild_UnknownApp(t *testing.T) {
	env := newTestEnv(t)
	err := env.o.Build(context.Background(), "missing", nil)
	assert.Equal(t, werrors.ExitAppNotRegistered, werrors.ExitCodeFor(err))
	assert.Equal(t, 0, env.bundlers.Count())
}

func TestBuild_PrepareRunsOnceForAllApps(t *testing.T) {
	env := newTestEnv(t)
	journal := &mocks.Journal{}
	a := mocks.NewRecordingPlugin("a", journal)
	b := mocks.NewRecordingPlugin("b", journal)
	env.register(t, "first", types.AppOptions{Plugins: []types.Plugin{a}})
	env.register(t, "second", types.AppOptions{Plugins: []types.Plugin{b}})

	ctx := context.Background()
	require.NoError(t, env.o.Build(ctx, "second", nil))
	require.NoError(t, env.o.Build(ctx, "first", nil))

	assert.Equal(t, []string{
		"a:prepare", "b:prepare",
		"b:beforeBuild", "b:afterBuild",
		"a:beforeBuild", "a:afterBuild",
	}, journal.Sequence())
}

func TestBuild_PrepareFailureIsSticky(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("p", nil).FailOn(types.HookPrepare, plugin.Fail("no toolchain", 4))
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	ctx := context.Background()
	assert.Equal(t, 4, werrors.ExitCodeFor(env.o.Build(ctx, "web", nil)))
	assert.Equal(t, 4, werrors.ExitCodeFor(env.o.Build(ctx, "web", nil)))
	assert.Equal(t, 1, p.Count(types.HookPrepare))
	assert.Equal(t, 0, env.bundlers.Count())
}

func TestBuild_Bypass(t *testing.T) {
	env := newTestEnv(t)
	skipped := mocks.NewRecordingPlugin("skipped", nil)
	kept := mocks.NewRecordingPlugin("kept", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{skipped, kept}})

	require.NoError(t, env.o.Build(context.Background(), "web", []string{"skipped"}))
	assert.Empty(t, skipped.Calls())
	assert.Len(t, kept.Calls(), 3)
}

func TestDev_SoftWatch(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("recorder", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))

	// the initial build: beforeBuild ahead of the bundler, afterBuild for the event
	assert.Equal(t, []types.Hook{types.HookPrepare, types.HookBeforeBuild, types.HookAfterBuild}, p.Hooks())
	watcherID := env.o.WatcherID("web")
	assert.NotEmpty(t, watcherID)
	assert.Equal(t, types.BuildStateWatching, env.o.State("web"))

	b := env.bundlers.Last()
	require.True(t, b.EmitSuccess("src/web/index.ts"))
	require.True(t, b.EmitSuccess("src/web/app.ts"))

	// every rebuild is bracketed by beforeBuild and afterBuild
	assert.Equal(t, 3, p.Count(types.HookBeforeBuild))
	assert.Equal(t, 3, p.Count(types.HookAfterBuild))
	assert.Equal(t, []types.Hook{
		types.HookPrepare,
		types.HookBeforeBuild, types.HookAfterBuild,
		types.HookBeforeBuild, types.HookAfterBuild,
		types.HookBeforeBuild, types.HookAfterBuild,
	}, p.Hooks())

	last := p.Calls()[6]
	require.NotNil(t, last.Event)
	assert.Equal(t, []string{"src/web/app.ts"}, last.Event.ChangedFiles)
	assert.Equal(t, "development", last.Env["NODE_ENV"])

	assert.Equal(t, 1, env.bundlers.Count())
	assert.Equal(t, watcherID, env.o.WatcherID("web"))
	assert.False(t, b.Unsubscribed())
}

func TestDev_BundlerOptions(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "web", types.AppOptions{HMRHost: "0.0.0.0", HMRCert: "certs/dev.pem", HMRKey: "certs/dev.key"})
	env.register(t, "pinned", types.AppOptions{HMRPort: 4000})
	env.register(t, "other", types.AppOptions{})
	env.register(t, "server", types.AppOptions{AppType: types.AppTypeNode})

	ctx := context.Background()
	for _, name := range []string{"web", "pinned", "other", "server"} {
		require.NoError(t, env.o.Dev(ctx, name, nil))
	}

	created := env.bundlers.Created()
	require.Len(t, created, 4)

	web := created[0].Options
	assert.Equal(t, bundler.TargetBrowser, web.Target)
	assert.True(t, web.SourceMaps)
	assert.False(t, web.Optimize)
	require.NotNil(t, web.HMR)
	assert.Equal(t, DefaultHMRPort, web.HMR.Port)
	assert.Equal(t, "0.0.0.0", web.HMR.Host)
	require.NotNil(t, web.Serve)
	assert.Equal(t, filepath.Join(env.root, "certs/dev.pem"), web.Serve.Cert)
	assert.Equal(t, filepath.Join(env.root, "certs/dev.key"), web.Serve.Key)

	assert.Equal(t, 4000, created[1].Options.HMR.Port)
	assert.Equal(t, DefaultHMRPort+1, created[2].Options.HMR.Port)
	assert.Nil(t, created[2].Options.Serve)

	server := created[3].Options
	assert.Equal(t, bundler.TargetNode, server.Target)
	assert.Equal(t, bundler.FormatCommonJS, server.OutputFormat)
	assert.Nil(t, server.HMR)
	assert.Equal(t, types.LogLevelNone, server.LogLevel)
}

func TestDev_HardWatchRestart(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("recorder", nil)
	env.register(t, "web", types.AppOptions{HardWatch: true, Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))
	assert.Equal(t, []types.Hook{types.HookPrepare, types.HookBeforeBuild, types.HookAfterBuild}, p.Hooks())

	first := env.bundlers.Last()
	firstID := env.o.WatcherID("web")
	require.NotEmpty(t, firstID)

	// a change ends the session; the restart builds a fresh bundler
	require.True(t, first.EmitSuccess("src/web/index.ts"))
	env.o.RestartQueue().WaitIdle()

	assert.True(t, first.Unsubscribed())
	assert.True(t, first.Disposed())
	require.Equal(t, 2, env.bundlers.Count())

	secondID := env.o.WatcherID("web")
	assert.NotEmpty(t, secondID)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, 1, env.o.RestartQueue().Completed())

	// no hooks for the change itself, then the full dev sequence again, without prepare
	assert.Equal(t, []types.Hook{
		types.HookPrepare,
		types.HookBeforeBuild, types.HookAfterBuild,
		types.HookBeforeBuild, types.HookAfterBuild,
	}, p.Hooks())

	st, ok := env.o.state.Get("web")
	require.True(t, ok)
	assert.Equal(t, 1, st.RestartCount)
	assert.Equal(t, secondID, st.WatcherID)
	assert.Equal(t, types.BuildStateWatching, st.State)

	// the old subscription is dead
	assert.False(t, first.EmitSuccess("src/web/late.ts"))
	assert.Empty(t, env.lifecycle.Aborts())
}

func TestDev_HardWatchKeepsHMRPort(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "web", types.AppOptions{HardWatch: true})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))
	require.True(t, env.bundlers.Last().EmitSuccess("a.ts"))
	env.o.RestartQueue().WaitIdle()

	created := env.bundlers.Created()
	require.Len(t, created, 2)
	assert.Equal(t, created[0].Options.HMR.Port, created[1].Options.HMR.Port)
}

func TestDev_InitialBuildFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bundlers.InitialErr = &bundler.BuildError{App: "web", Diagnostics: []string{"syntax error"}}
	p := mocks.NewRecordingPlugin("recorder", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Nil(t, calls[2].Event)
	assert.Error(t, calls[2].BuildErr)

	st, ok := env.o.state.Get("web")
	require.True(t, ok)
	assert.Equal(t, 1, st.FailureCount)
}

func TestDev_FatalHookOnFirstBuildIsReturned(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("gate", nil).FailOn(types.HookAfterBuild, plugin.Fail("stop", 6))
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	err := env.o.Dev(context.Background(), "web", nil)
	assert.Equal(t, 6, werrors.ExitCodeFor(err))
	assert.Empty(t, env.lifecycle.Aborts())
}

func TestDev_FatalHookOnRebuildAborts(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("gate", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))

	p.FailOn(types.HookAfterBuild, plugin.Fail("tests failed", 8))
	require.True(t, env.bundlers.Last().EmitSuccess("a.ts"))

	aborts := env.lifecycle.Aborts()
	require.Len(t, aborts, 1)
	assert.Equal(t, 8, werrors.ExitCodeFor(aborts[0]))
}

func TestDev_NonFatalHookOnRebuildContinues(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("lint", nil)
	env.register(t, "web", types.AppOptions{Plugins: []types.Plugin{p}})

	require.NoError(t, env.o.Dev(context.Background(), "web", nil))
	p.FailOn(types.HookBeforeBuild, plugin.Fail("style warnings", 0))
	require.True(t, env.bundlers.Last().EmitSuccess("a.ts"))

	assert.Empty(t, env.lifecycle.Aborts())
	assert.Equal(t, 2, p.Count(types.HookAfterBuild))
}

func TestDev_ContextCanceledBeforeFirstBuild(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := logger.Discard()
	root := t.TempDir()

	mockBundler := mocks.NewMockBundler(ctrl)
	mockSub := mocks.NewMockSubscription(ctrl)
	mockDisposable := mocks.NewMockDisposable(ctrl)

	// a bundler that never reports a build
	mockBundler.EXPECT().Watch(gomock.Any(), gomock.Any()).Return(mockSub, nil)
	mockSub.EXPECT().Unsubscribe(gomock.Any()).Return(nil)
	mockDisposable.EXPECT().Dispose(gomock.Any()).Return(nil)

	o := New(root, log, Dependencies{
		Bundlers: func(bundler.Options) (bundler.Bundler, bundler.Disposable, error) {
			return mockBundler, mockDisposable, nil
		},
		State:     state.NewManager(filepath.Join(root, DefaultCacheDir), log),
		Lifecycle: mocks.NewRecordingLifecycle(nil),
	}, Settings{})
	require.NoError(t, o.RegisterApp("web", func(types.EnvProps) types.AppOptions { return types.AppOptions{} }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := o.Dev(ctx, "web", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, o.WatcherID("web"))

	require.NoError(t, o.Shutdown(context.Background()))
	assert.Empty(t, o.WatcherID("web"))
}

func TestDev_WatchError(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := logger.Discard()
	root := t.TempDir()

	mockBundler := mocks.NewMockBundler(ctrl)
	mockBundler.EXPECT().Watch(gomock.Any(), gomock.Any()).Return(nil, errors.New("watch root missing"))

	o := New(root, log, Dependencies{
		Bundlers: func(bundler.Options) (bundler.Bundler, bundler.Disposable, error) {
			return mockBundler, nil, nil
		},
		State:     state.NewManager(filepath.Join(root, DefaultCacheDir), log),
		Lifecycle: mocks.NewRecordingLifecycle(nil),
	}, Settings{})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	require.NoError(t, o.RegisterApp("web", func(types.EnvProps) types.AppOptions { return types.AppOptions{} }))

	err := o.Dev(context.Background(), "web", nil)
	assert.True(t, werrors.IsKind(err, werrors.KindBundler))
	assert.Empty(t, o.WatcherID("web"))
}

// panicOnFailure is a metrics recorder that panics when a failed build is counted
type panicOnFailure struct {
	metrics.NoopRecorder
}

func (panicOnFailure) IncBuildOutcome(app, outcome string) {
	if outcome == metrics.OutcomeFailed {
		panic("outcome counter broke")
	}
}

func TestDev_CallbackPanicIsFatal(t *testing.T) {
	root := t.TempDir()
	log := logger.Discard()
	bundlers := mocks.NewFakeBundlers()
	lifecycle := mocks.NewRecordingLifecycle(nil)
	o := New(root, log, Dependencies{
		Bundlers:  bundlers.Factory,
		Metrics:   panicOnFailure{},
		State:     state.NewManager(filepath.Join(root, DefaultCacheDir), log),
		Lifecycle: lifecycle,
	}, Settings{})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	require.NoError(t, o.RegisterApp("web", func(types.EnvProps) types.AppOptions { return types.AppOptions{} }))

	require.NoError(t, o.Dev(context.Background(), "web", nil))

	b := bundlers.Last()
	require.NotPanics(t, func() {
		require.True(t, b.Emit(nil, errors.New("syntax error")))
	})

	fatals := lifecycle.Fatals()
	require.Len(t, fatals, 1)
	assert.Equal(t, werrors.ExitProcessFailure, werrors.ExitCodeFor(fatals[0]))
	assert.True(t, werrors.IsKind(fatals[0], werrors.KindInternal))
	assert.Contains(t, fatals[0].Error(), "outcome counter broke")
	assert.Contains(t, fatals[0].Error(), "[web]")
	assert.Empty(t, lifecycle.Aborts())

	// the session lock was released
	assert.True(t, b.Emit(nil, nil))
}
