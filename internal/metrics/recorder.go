// Package metrics records build, hook and restart metrics. Components take a
// Recorder and default to NoopRecorder; the dev command swaps in the Prometheus
// recorder when --metrics-addr is set.
package metrics

import "time"

// Outcome labels for build counters
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Recorder defines observability hooks for the orchestrator
type Recorder interface {
	ObserveBuildDuration(app, mode string, d time.Duration)
	IncBuildOutcome(app, outcome string)
	ObserveHookDuration(hook string, d time.Duration)
	IncPluginFailure(plugin, hook string, fatal bool)
	IncRestart(app string)
	SetActiveWatchers(n int)
}

// NoopRecorder is a Recorder that does nothing
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(string, string)                     {}
func (NoopRecorder) ObserveHookDuration(string, time.Duration)          {}
func (NoopRecorder) IncPluginFailure(string, string, bool)              {}
func (NoopRecorder) IncRestart(string)                                  {}
func (NoopRecorder) SetActiveWatchers(int)                              {}
