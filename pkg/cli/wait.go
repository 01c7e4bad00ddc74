package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/poltergeist/wraith/internal/state"
	werrors "github.com/poltergeist/wraith/pkg/errors"
	"github.com/poltergeist/wraith/pkg/types"
)

func (c *CLI) newWaitCmd() *cobra.Command {
	var timeout time.Duration
	var pollInterval time.Duration
	var status string

	cmd := &cobra.Command{
		Use:   "wait [app...]",
		Short: "Wait for apps to reach a build state",
		Long: `Poll the state written by another Wraith session until the given apps, or
every declared app, reach a state. Useful in CI to wait for a dev session's
first build before running tests against it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWait(cmd.Context(), args, types.BuildState(status), timeout, pollInterval)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Minute, "give up after this long (0 waits forever)")
	cmd.Flags().StringVarP(&status, "state", "s", string(types.BuildStateWatching), "state to wait for (watching, done, failed)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "polling interval")

	return cmd
}

// WaitResult represents the result of waiting for an app
type WaitResult struct {
	App      string
	State    types.BuildState
	Duration time.Duration
	Success  bool
	TimedOut bool
	Error    error
}

// waitableStates are the states a session settles in
var waitableStates = []types.BuildState{
	types.BuildStateWatching,
	types.BuildStateDone,
	types.BuildStateFailed,
}

func (c *CLI) runWait(ctx context.Context, names []string, target types.BuildState, timeout, pollInterval time.Duration) error {
	valid := false
	for _, s := range waitableStates {
		if s == target {
			valid = true
			break
		}
	}
	if !valid {
		return werrors.InvalidOptions("", fmt.Sprintf("invalid state %q (watching, done, failed)", target))
	}

	if len(names) == 0 {
		cfg, _, err := c.loadConfig()
		if err != nil {
			return err
		}
		for _, app := range cfg.Apps {
			names = append(names, app.Name)
		}
	}

	c.printInfo(fmt.Sprintf("Waiting for %d app(s) to reach state '%s'", len(names), target))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sm := state.NewManager(c.cacheDir(), c.logger)
	results := c.waitForApps(ctx, sm, names, target, pollInterval)
	return c.displayWaitResults(results)
}

// waitForApps polls state files until every app reached target or ctx ends.
// Apps without a state file yet are polled again.
func (c *CLI) waitForApps(ctx context.Context, sm *state.Manager, names []string, target types.BuildState, pollInterval time.Duration) []WaitResult {
	start := time.Now()
	results := make([]WaitResult, len(names))
	for i, name := range names {
		results[i] = WaitResult{App: name, State: types.BuildStateIdle}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	completed := make(map[string]bool, len(names))
	for {
		allCompleted := true
		for i, name := range names {
			if completed[name] {
				continue
			}

			st, err := sm.Read(name)
			if err != nil {
				allCompleted = false
				results[i].Error = err
				continue
			}
			results[i].Error = nil
			results[i].State = st.State

			if st.State == target {
				results[i].Success = true
				results[i].Duration = time.Since(start)
				completed[name] = true
				c.printSuccess(fmt.Sprintf("App '%s' reached state '%s'", name, target))
				continue
			}
			allCompleted = false
		}
		if allCompleted {
			return results
		}

		select {
		case <-ctx.Done():
			for i := range results {
				if !completed[results[i].App] {
					results[i].TimedOut = true
					results[i].Duration = time.Since(start)
				}
			}
			return results
		case <-ticker.C:
		}
	}
}

func (c *CLI) displayWaitResults(results []WaitResult) error {
	var missed []string
	for _, r := range results {
		switch {
		case r.Success:
			continue
		case r.TimedOut && r.Error != nil:
			c.printError(fmt.Sprintf("%s: no state (%v)", r.App, r.Error))
		case r.TimedOut:
			c.printError(fmt.Sprintf("%s: timed out in state '%s'", r.App, r.State))
		}
		missed = append(missed, r.App)
	}

	if len(missed) > 0 {
		return werrors.New(werrors.KindInternal, werrors.ExitProcessFailure,
			fmt.Sprintf("apps did not reach the expected state: %s", strings.Join(missed, ", ")))
	}
	c.printSuccess(fmt.Sprintf("%d app(s) ready", len(results)))
	return nil
}
