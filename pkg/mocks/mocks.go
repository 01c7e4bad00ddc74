// Package mocks provides test doubles for the orchestrator's collaborators
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

// Call is one hook invocation seen by a RecordingPlugin
type Call struct {
	Plugin   string
	Hook     types.Hook
	Mode     types.BuildMode
	App      string
	Command  types.Command
	Env      types.EnvProps
	Event    *types.BuildEvent
	BuildErr error
}

// Journal collects calls of several plugins in the order they happened
type Journal struct {
	mu    sync.Mutex
	calls []Call
}

// Record appends a call
func (j *Journal) Record(c Call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
}

// Calls returns a copy of every call
func (j *Journal) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Call(nil), j.calls...)
}

// Sequence returns "plugin:hook" for every call
func (j *Journal) Sequence() []string {
	calls := j.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, fmt.Sprintf("%s:%s", c.Plugin, c.Hook))
	}
	return out
}

// RecordingPlugin implements every hook and records each call
type RecordingPlugin struct {
	name    string
	journal *Journal

	mu     sync.Mutex
	calls  []Call
	errs   map[types.Hook]error
	panics map[types.Hook]interface{}
}

var (
	_ plugin.Preparer      = (*RecordingPlugin)(nil)
	_ plugin.BeforeBuilder = (*RecordingPlugin)(nil)
	_ plugin.AfterBuilder  = (*RecordingPlugin)(nil)
	_ plugin.Actioner      = (*RecordingPlugin)(nil)
	_ plugin.Exiter        = (*RecordingPlugin)(nil)
)

// NewRecordingPlugin creates a plugin that also records into journal when it is not nil
func NewRecordingPlugin(name string, journal *Journal) *RecordingPlugin {
	return &RecordingPlugin{
		name:    name,
		journal: journal,
		errs:    make(map[types.Hook]error),
		panics:  make(map[types.Hook]interface{}),
	}
}

// Name implements types.Plugin
func (p *RecordingPlugin) Name() string { return p.name }

// FailOn makes hook return err
func (p *RecordingPlugin) FailOn(hook types.Hook, err error) *RecordingPlugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[hook] = err
	return p
}

// PanicOn makes hook panic with v
func (p *RecordingPlugin) PanicOn(hook types.Hook, v interface{}) *RecordingPlugin {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.panics[hook] = v
	return p
}

// Calls returns a copy of every call
func (p *RecordingPlugin) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Count returns how often hook ran
func (p *RecordingPlugin) Count(hook types.Hook) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Hook == hook {
			n++
		}
	}
	return n
}

// Hooks returns the hooks in call order
func (p *RecordingPlugin) Hooks() []types.Hook {
	calls := p.Calls()
	out := make([]types.Hook, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Hook)
	}
	return out
}

// Prepare implements plugin.Preparer
func (p *RecordingPlugin) Prepare(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions) error {
	return p.record(Call{Hook: types.HookPrepare, Mode: mode, App: app.Name})
}

// BeforeBuild implements plugin.BeforeBuilder
func (p *RecordingPlugin) BeforeBuild(ctx context.Context, in *plugin.BuildInput) error {
	return p.record(Call{Hook: types.HookBeforeBuild, Mode: in.Mode, App: in.App.Name, Env: in.Env, Event: in.Event, BuildErr: in.BuildErr})
}

// AfterBuild implements plugin.AfterBuilder
func (p *RecordingPlugin) AfterBuild(ctx context.Context, in *plugin.BuildInput) error {
	return p.record(Call{Hook: types.HookAfterBuild, Mode: in.Mode, App: in.App.Name, Env: in.Env, Event: in.Event, BuildErr: in.BuildErr})
}

// Action implements plugin.Actioner
func (p *RecordingPlugin) Action(ctx context.Context, cmd types.Command, app *types.ExtendedAppOptions, env types.EnvProps) error {
	return p.record(Call{Hook: types.HookAction, Command: cmd, App: app.Name, Env: env})
}

// Exit implements plugin.Exiter
func (p *RecordingPlugin) Exit(ctx context.Context, mode types.BuildMode, app *types.ExtendedAppOptions, env types.EnvProps) error {
	return p.record(Call{Hook: types.HookExit, Mode: mode, App: app.Name, Env: env})
}

func (p *RecordingPlugin) record(c Call) error {
	c.Plugin = p.name

	p.mu.Lock()
	p.calls = append(p.calls, c)
	err := p.errs[c.Hook]
	v, panics := p.panics[c.Hook]
	p.mu.Unlock()

	if p.journal != nil {
		p.journal.Record(c)
	}
	if panics {
		panic(v)
	}
	return err
}

// RecordingLifecycle records Abort, Fatal and Terminate instead of ending the process
type RecordingLifecycle struct {
	mu           sync.Mutex
	aborts       []error
	fatals       []error
	terminations []int
	onTerminate  func(ctx context.Context) error
}

// NewRecordingLifecycle creates a lifecycle that runs shutdown, when set, on Terminate
func NewRecordingLifecycle(shutdown func(ctx context.Context) error) *RecordingLifecycle {
	return &RecordingLifecycle{onTerminate: shutdown}
}

// Abort records err
func (l *RecordingLifecycle) Abort(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aborts = append(l.aborts, err)
}

// Fatal records err
func (l *RecordingLifecycle) Fatal(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fatals = append(l.fatals, err)
}

// Fatals returns the recorded fatal errors
func (l *RecordingLifecycle) Fatals() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.fatals...)
}

// Terminate runs the shutdown function and records code
func (l *RecordingLifecycle) Terminate(ctx context.Context, code int) {
	l.mu.Lock()
	shutdown := l.onTerminate
	l.terminations = append(l.terminations, code)
	l.mu.Unlock()

	if shutdown != nil {
		_ = shutdown(ctx)
	}
}

// Aborts returns the recorded abort errors
func (l *RecordingLifecycle) Aborts() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.aborts...)
}

// Terminations returns the recorded exit codes
func (l *RecordingLifecycle) Terminations() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.terminations...)
}

// RecordingInstaller records install directories. Install runs fn when set.
type RecordingInstaller struct {
	mu   sync.Mutex
	dirs []string
	fn   func(dir string) error
}

// NewRecordingInstaller creates an installer backed by fn
func NewRecordingInstaller(fn func(dir string) error) *RecordingInstaller {
	return &RecordingInstaller{fn: fn}
}

// Install records dir and runs fn
func (i *RecordingInstaller) Install(ctx context.Context, dir string) error {
	i.mu.Lock()
	i.dirs = append(i.dirs, dir)
	fn := i.fn
	i.mu.Unlock()

	if fn != nil {
		return fn(dir)
	}
	return nil
}

// Dirs returns the directories Install ran in
func (i *RecordingInstaller) Dirs() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.dirs...)
}
