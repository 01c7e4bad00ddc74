package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/mocks"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

type afterBuildOnly struct {
	plugin.Base
	calls int
}

func (p *afterBuildOnly) AfterBuild(ctx context.Context, in *plugin.BuildInput) error {
	p.calls++
	return nil
}

func pipelineApp(plugins ...types.Plugin) *types.ExtendedAppOptions {
	return &types.ExtendedAppOptions{
		Name:       "web",
		AppOptions: types.AppOptions{Plugins: plugins},
	}
}

func TestCall_Pipeline(t *testing.T) {
	tests := []struct {
		name         string
		failures     map[int]error
		panics       map[int]interface{}
		expectCalled []string
		expectCode   int
		expectKind   werrors.Kind
	}{
		{
			name:         "all plugins run in declaration order",
			expectCalled: []string{"p0:prepare", "p1:prepare", "p2:prepare", "p3:prepare"},
		},
		{
			name:         "failure with exit code zero continues",
			failures:     map[int]error{1: plugin.Fail("lint warnings", 0)},
			expectCalled: []string{"p0:prepare", "p1:prepare", "p2:prepare", "p3:prepare"},
		},
		{
			name:         "failure with exit code stops the pipeline",
			failures:     map[int]error{1: plugin.Fail("type errors", 5)},
			expectCalled: []string{"p0:prepare", "p1:prepare"},
			expectCode:   5,
			expectKind:   werrors.KindPlugin,
		},
		{
			name:         "uncaught error is fatal",
			failures:     map[int]error{2: errors.New("boom")},
			expectCalled: []string{"p0:prepare", "p1:prepare", "p2:prepare"},
			expectCode:   werrors.ExitPluginFailure,
			expectKind:   werrors.KindInternal,
		},
		{
			name:         "panic is an uncaught error",
			panics:       map[int]interface{}{0: "nil map"},
			expectCalled: []string{"p0:prepare"},
			expectCode:   werrors.ExitPluginFailure,
			expectKind:   werrors.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			journal := &mocks.Journal{}

			var plugins []types.Plugin
			for i := 0; i < 4; i++ {
				p := mocks.NewRecordingPlugin("p"+string(rune('0'+i)), journal)
				if err, ok := tt.failures[i]; ok {
					p.FailOn(types.HookPrepare, err)
				}
				if v, ok := tt.panics[i]; ok {
					p.PanicOn(types.HookPrepare, v)
				}
				plugins = append(plugins, p)
			}

			err := env.o.Call(context.Background(), HookCall{
				Hook: types.HookPrepare,
				Mode: types.BuildModeProduction,
				App:  pipelineApp(plugins...),
			})

			assert.Equal(t, tt.expectCalled, journal.Sequence())
			if tt.expectCode == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.expectCode, werrors.ExitCodeFor(err))
			assert.Equal(t, tt.expectKind, werrors.KindOf(err))

			tagged, ok := werrors.As(err)
			require.True(t, ok)
			assert.Equal(t, "web", tagged.App)
			assert.NotEmpty(t, tagged.Plugin)
		})
	}
}

func TestCall_Bypass(t *testing.T) {
	env := newTestEnv(t)
	journal := &mocks.Journal{}
	lint := mocks.NewRecordingPlugin("lint", journal)
	notify := mocks.NewRecordingPlugin("notify", journal)

	err := env.o.Call(context.Background(), HookCall{
		Hook:   types.HookBeforeBuild,
		App:    pipelineApp(lint, nil, notify),
		Bypass: []string{"lint"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"notify:beforeBuild"}, journal.Sequence())
}

func TestCall_SkipsPluginsWithoutHook(t *testing.T) {
	env := newTestEnv(t)
	p := &afterBuildOnly{Base: plugin.Base{PluginName: "after"}}
	app := pipelineApp(p)

	ctx := context.Background()
	require.NoError(t, env.o.Call(ctx, HookCall{Hook: types.HookPrepare, App: app}))
	require.NoError(t, env.o.Call(ctx, HookCall{Hook: types.HookExit, App: app}))
	assert.Equal(t, 0, p.calls)

	require.NoError(t, env.o.Call(ctx, HookCall{Hook: types.HookAfterBuild, App: app}))
	assert.Equal(t, 1, p.calls)
}

func TestCall_PluginsGetEnvCopies(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("p", nil)
	props := types.EnvProps{"KEY": "value"}

	err := env.o.Call(context.Background(), HookCall{
		Hook:    types.HookAction,
		Command: types.Command{Name: "deploy", Parameters: []string{"--dry-run"}},
		App:     pipelineApp(p),
		Env:     props,
	})
	require.NoError(t, err)

	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "deploy", calls[0].Command.Name)
	assert.Equal(t, []string{"--dry-run"}, calls[0].Command.Parameters)

	calls[0].Env["KEY"] = "changed"
	assert.Equal(t, "value", props["KEY"])
}

func TestCall_FailureDetailIsKept(t *testing.T) {
	env := newTestEnv(t)
	p := mocks.NewRecordingPlugin("cmd", nil).
		FailOn(types.HookAfterBuild, plugin.FailWithDetail("command failed", "stderr output", 2))

	err := env.o.Call(context.Background(), HookCall{Hook: types.HookAfterBuild, App: pipelineApp(p)})
	tagged, ok := werrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "stderr output", tagged.Detail)
	assert.Equal(t, "cmd", tagged.Plugin)
	assert.Equal(t, 2, tagged.ExitCode)
}
