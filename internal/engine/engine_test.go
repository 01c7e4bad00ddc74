package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltergeist/wraith/internal/state"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/mocks"
	"github.com/poltergeist/wraith/pkg/types"
)

type testEnv struct {
	root      string
	o         *Orchestrator
	bundlers  *mocks.FakeBundlers
	lifecycle *mocks.RecordingLifecycle
	installer *mocks.RecordingInstaller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	log := logger.Discard()
	env := &testEnv{
		root:      root,
		bundlers:  mocks.NewFakeBundlers(),
		lifecycle: mocks.NewRecordingLifecycle(nil),
		installer: mocks.NewRecordingInstaller(nil),
	}
	env.o = New(root, log, Dependencies{
		Bundlers:  env.bundlers.Factory,
		State:     state.NewManager(filepath.Join(root, DefaultCacheDir), log),
		Lifecycle: env.lifecycle,
		Installer: env.installer,
	}, Settings{Env: types.EnvProps{"API_URL": "http://localhost"}})

	t.Cleanup(func() {
		_ = env.o.Shutdown(context.Background())
	})
	return env
}

func (e *testEnv) register(t *testing.T, name string, opts types.AppOptions) {
	t.Helper()
	require.NoError(t, e.o.RegisterApp(name, func(types.EnvProps) types.AppOptions { return opts }))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logger.Discard()
	fakes := mocks.NewFakeBundlers()
	st := state.NewManager(t.TempDir(), log)
	lc := mocks.NewRecordingLifecycle(nil)

	assert.Panics(t, func() { New(".", log, Dependencies{State: st, Lifecycle: lc}, Settings{}) })
	assert.Panics(t, func() { New(".", log, Dependencies{Bundlers: fakes.Factory, Lifecycle: lc}, Settings{}) })
	assert.Panics(t, func() { New(".", log, Dependencies{Bundlers: fakes.Factory, State: st}, Settings{}) })
}

func TestRegisterApp(t *testing.T) {
	env := newTestEnv(t)

	first := func(types.EnvProps) types.AppOptions { return types.AppOptions{Output: "dist/first"} }
	second := func(types.EnvProps) types.AppOptions { return types.AppOptions{Output: "dist/second"} }

	require.NoError(t, env.o.RegisterApp("web", first))

	err := env.o.RegisterApp("web", second)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.ErrDuplicateApp))
	assert.Equal(t, werrors.ExitDuplicateApp, werrors.ExitCodeFor(err))

	// the first registration is kept
	app, err := env.o.Resolve(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "dist/first", app.Output)
	assert.Equal(t, []string{"web"}, env.o.AppNames())

	err = env.o.RegisterApp("nil", nil)
	assert.Equal(t, werrors.ExitInvalidOptions, werrors.ExitCodeFor(err))
	assert.False(t, env.o.IsRegistered("nil"))
}

func TestAppNames_RegistrationOrder(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		env.register(t, name, types.AppOptions{})
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, env.o.AppNames())
}

func TestResolve_UnknownApp(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.o.Resolve(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.ErrAppNotRegistered))
	assert.Equal(t, werrors.ExitAppNotRegistered, werrors.ExitCodeFor(err))
}

func TestResolve_Memoized(t *testing.T) {
	env := newTestEnv(t)

	var calls atomic.Int32
	require.NoError(t, env.o.RegisterApp("web", func(e types.EnvProps) types.AppOptions {
		calls.Add(1)
		return types.AppOptions{Output: "dist/" + e["API_URL"][7:]}
	}))

	ctx := context.Background()
	first, err := env.o.Resolve(ctx, "web")
	require.NoError(t, err)

	// later env changes never reach the generator again
	env.o.Env().Set("API_URL", "http://changed")

	var wg sync.WaitGroup
	results := make([]*types.ExtendedAppOptions, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.o.Resolve(ctx, "web")
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, first, r)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "dist/localhost", first.Output)
}

func TestResolve_ConcurrentFirstCall(t *testing.T) {
	env := newTestEnv(t)

	var calls atomic.Int32
	require.NoError(t, env.o.RegisterApp("web", func(types.EnvProps) types.AppOptions {
		calls.Add(1)
		return types.AppOptions{}
	}))

	var wg sync.WaitGroup
	results := make([]*types.ExtendedAppOptions, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.o.Resolve(context.Background(), "web")
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolve_Defaults(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "web", types.AppOptions{})
	env.register(t, "server", types.AppOptions{AppType: types.AppTypeNode})

	web, err := env.o.Resolve(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, []string{"src/web/*.{ts,tsx}"}, web.Input)
	assert.Equal(t, "dist/public/static/web/", web.Output)
	assert.Equal(t, types.AppTypeWeb, web.AppType)
	assert.Equal(t, types.DefaultBrowsers, web.Engines["browsers"])
	assert.Equal(t, "./", web.PublicURLOrDefault())
	assert.Empty(t, web.PackageRoot)
	assert.Empty(t, web.LogLevel)

	server, err := env.o.Resolve(context.Background(), "server")
	require.NoError(t, err)
	assert.Equal(t, types.LogLevelNone, server.LogLevel)
}

func TestResolve_KeepsExplicitValues(t *testing.T) {
	env := newTestEnv(t)
	empty := ""
	env.register(t, "web", types.AppOptions{
		Input:     []string{"client/main.ts"},
		Output:    "build/web",
		PublicURL: &empty,
		LogLevel:  types.LogLevelVerbose,
		Engines:   types.Engines{"browsers": "last 1 chrome version"},
	})

	app, err := env.o.Resolve(context.Background(), "web")
	require.NoError(t, err)
	assert.Equal(t, []string{"client/main.ts"}, app.Input)
	assert.Equal(t, "build/web", app.Output)
	assert.Equal(t, "", app.PublicURLOrDefault())
	assert.Equal(t, types.LogLevelVerbose, app.LogLevel)
	assert.Equal(t, "last 1 chrome version", app.Engines["browsers"])
}

func TestResolve_InfersPackageRoot(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.root, "packages/api/src/index.ts"), "")
	writeFile(t, filepath.Join(env.root, "packages/api/src/routes/users.ts"), "")
	writeFile(t, filepath.Join(env.root, "packages/api/main.ts"), "")

	env.register(t, "api", types.AppOptions{
		Input:   []string{"packages/api/**/*.ts"},
		AppType: types.AppTypeNode,
	})
	env.register(t, "custom", types.AppOptions{
		Input:       []string{"packages/api/**/*.ts"},
		SourcesRoot: "packages",
	})

	api, err := env.o.Resolve(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("packages/api"), api.PackageRoot)
	assert.Equal(t, api.PackageRoot, api.SourcesRoot)

	custom, err := env.o.Resolve(context.Background(), "custom")
	require.NoError(t, err)
	assert.Equal(t, "packages", custom.SourcesRoot)
}

func TestResolve_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "web", types.AppOptions{Output: ".", HMRCert: "cert.pem"})

	_, err := env.o.Resolve(context.Background(), "web")
	require.Error(t, err)
	assert.Equal(t, werrors.ExitInvalidOptions, werrors.ExitCodeFor(err))

	// nothing is memoized for a failed resolution
	_, err = env.o.Resolve(context.Background(), "web")
	assert.Error(t, err)
}

func TestResolve_GeneratorOutputIsCopied(t *testing.T) {
	env := newTestEnv(t)
	shared := types.AppOptions{
		Input:   []string{"src/a.ts"},
		Engines: types.Engines{"node": "18"},
	}
	env.register(t, "a", shared)

	app, err := env.o.Resolve(context.Background(), "a")
	require.NoError(t, err)

	shared.Input[0] = "mutated.ts"
	shared.Engines["node"] = "20"
	assert.Equal(t, "src/a.ts", app.Input[0])
	assert.Equal(t, "18", app.Engines["node"])
}

func TestBuildEnv(t *testing.T) {
	env := newTestEnv(t)
	writeFile(t, filepath.Join(env.root, "package.json"), `{"name":"root-pkg","version":"1.0.0"}`)
	writeFile(t, filepath.Join(env.root, "apps/web/package.json"), `{"name":"web-pkg","version":"2.3.4"}`)
	writeFile(t, filepath.Join(env.root, "apps/web/index.ts"), "")
	t.Setenv("WRAITH_TEST_PASSED", "yes")

	env.register(t, "web", types.AppOptions{
		Input:    []string{"apps/web/*.ts"},
		PassEnvs: []string{"WRAITH_TEST_PASSED", "WRAITH_TEST_UNSET"},
	})
	env.register(t, "other", types.AppOptions{})

	ctx := context.Background()
	web, err := env.o.Resolve(ctx, "web")
	require.NoError(t, err)
	other, err := env.o.Resolve(ctx, "other")
	require.NoError(t, err)

	props := env.o.buildEnv(types.BuildModeDev, web)
	assert.Equal(t, "development", props["NODE_ENV"])
	assert.Equal(t, "yes", props["WRAITH_TEST_PASSED"])
	assert.NotContains(t, props, "WRAITH_TEST_UNSET")
	assert.Equal(t, "web-pkg", props["PACKAGE_NAME"])
	assert.Equal(t, "2.3.4", props["VERSION"])
	assert.Equal(t, "http://localhost", props["API_URL"])

	props = env.o.buildEnv(types.BuildModeProduction, other)
	assert.Equal(t, "production", props["NODE_ENV"])
	assert.Equal(t, "root-pkg", props["PACKAGE_NAME"])
	assert.NotContains(t, props, "WRAITH_TEST_PASSED")

	// pass-through values never land in the shared store
	_, ok := env.o.Env().Get("WRAITH_TEST_PASSED")
	assert.False(t, ok)
}
