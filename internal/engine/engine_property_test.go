//go:build property

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/poltergeist/wraith/internal/state"
	"github.com/poltergeist/wraith/pkg/logger"
	"github.com/poltergeist/wraith/pkg/mocks"
	"github.com/poltergeist/wraith/pkg/plugin"
	"github.com/poltergeist/wraith/pkg/types"
)

func newPropertyOrchestrator(t *testing.T) *Orchestrator {
	root := t.TempDir()
	log := logger.Discard()
	o := New(root, log, Dependencies{
		Bundlers:  mocks.NewFakeBundlers().Factory,
		State:     state.NewManager(filepath.Join(root, DefaultCacheDir), log),
		Lifecycle: mocks.NewRecordingLifecycle(nil),
	}, Settings{})
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o
}

// TestOrchestratorProperties validates resolution and pipeline invariants
func TestOrchestratorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Property: every caller gets the same options and the generator runs once
	properties.Property("resolution is memoized", prop.ForAll(
		func(apps int, callers int) bool {
			o := newPropertyOrchestrator(t)
			counters := make([]*atomic.Int32, apps)
			for i := range counters {
				counters[i] = &atomic.Int32{}
				counter := counters[i]
				name := fmt.Sprintf("app%d", i)
				if err := o.RegisterApp(name, func(types.EnvProps) types.AppOptions {
					counter.Add(1)
					return types.AppOptions{}
				}); err != nil {
					return false
				}
			}

			results := make([][]*types.ExtendedAppOptions, apps)
			for i := range results {
				results[i] = make([]*types.ExtendedAppOptions, callers)
			}

			var wg sync.WaitGroup
			for i := 0; i < apps; i++ {
				for c := 0; c < callers; c++ {
					wg.Add(1)
					go func(i, c int) {
						defer wg.Done()
						results[i][c], _ = o.Resolve(context.Background(), fmt.Sprintf("app%d", i))
					}(i, c)
				}
			}
			wg.Wait()

			for i := 0; i < apps; i++ {
				if counters[i].Load() != 1 {
					return false
				}
				for c := 0; c < callers; c++ {
					if results[i][c] == nil || results[i][c] != results[i][0] {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 20),
	))

	// Property: the pipeline stops exactly after the first plugin failing with a positive code
	properties.Property("pipeline stops at the first fatal failure", prop.ForAll(
		func(codes []int) bool {
			o := newPropertyOrchestrator(t)
			journal := &mocks.Journal{}

			var plugins []types.Plugin
			stopAt := -1
			for i, code := range codes {
				p := mocks.NewRecordingPlugin(fmt.Sprintf("p%d", i), journal)
				if code >= 0 {
					p.FailOn(types.HookBeforeBuild, plugin.Fail("failure", code))
					if code > 0 && stopAt < 0 {
						stopAt = i
					}
				}
				plugins = append(plugins, p)
			}

			err := o.Call(context.Background(), HookCall{
				Hook: types.HookBeforeBuild,
				App:  &types.ExtendedAppOptions{Name: "web", AppOptions: types.AppOptions{Plugins: plugins}},
			})

			called := len(journal.Calls())
			if stopAt < 0 {
				return err == nil && called == len(codes)
			}
			return err != nil && called == stopAt+1
		},
		gen.SliceOf(gen.IntRange(-1, 3)),
	))

	properties.TestingRun(t)
}
