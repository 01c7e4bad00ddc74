package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics
type PrometheusRecorder struct {
	buildDuration  *prom.HistogramVec
	buildOutcome   *prom.CounterVec
	hookDuration   *prom.HistogramVec
	pluginFailures *prom.CounterVec
	restarts       *prom.CounterVec
	activeWatchers prom.Gauge
}

// NewPrometheusRecorder constructs and registers the metrics on reg, a fresh registry when nil
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		buildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wraith",
			Name:      "build_duration_seconds",
			Help:      "Duration of bundler builds",
			Buckets:   prom.DefBuckets,
		}, []string{"app", "mode"}),
		buildOutcome: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wraith",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by app",
		}, []string{"app", "outcome"}),
		hookDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wraith",
			Name:      "hook_duration_seconds",
			Help:      "Duration of a full plugin pipeline run per hook",
			Buckets:   prom.DefBuckets,
		}, []string{"hook"}),
		pluginFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wraith",
			Name:      "plugin_failures_total",
			Help:      "Plugin failures by plugin, hook and whether they were fatal",
		}, []string{"plugin", "hook", "fatal"}),
		restarts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wraith",
			Name:      "hard_watch_restarts_total",
			Help:      "Hard watch restarts per app",
		}, []string{"app"}),
		activeWatchers: prom.NewGauge(prom.GaugeOpts{
			Namespace: "wraith",
			Name:      "active_watchers",
			Help:      "Number of live watch subscriptions",
		}),
	}
	reg.MustRegister(pr.buildDuration, pr.buildOutcome, pr.hookDuration, pr.pluginFailures, pr.restarts, pr.activeWatchers)
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(app, mode string, d time.Duration) {
	p.buildDuration.WithLabelValues(app, mode).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(app, outcome string) {
	p.buildOutcome.WithLabelValues(app, outcome).Inc()
}

func (p *PrometheusRecorder) ObserveHookDuration(hook string, d time.Duration) {
	p.hookDuration.WithLabelValues(hook).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPluginFailure(plugin, hook string, fatal bool) {
	p.pluginFailures.WithLabelValues(plugin, hook, strconv.FormatBool(fatal)).Inc()
}

func (p *PrometheusRecorder) IncRestart(app string) {
	p.restarts.WithLabelValues(app).Inc()
}

func (p *PrometheusRecorder) SetActiveWatchers(n int) {
	p.activeWatchers.Set(float64(n))
}

// HTTPHandler returns an http.Handler that serves the metrics of reg
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
