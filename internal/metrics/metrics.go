// Package metrics exposes the progress of maximization runs as Prometheus metrics.
//
// Each Metrics value owns a private registry, so several runs in one process do not
// collide. Batch runs write the registry to a textfile for the node exporter; the
// server serves it on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cwbudde/maximizer/internal/maximize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "maximize"

// Metrics collects run statistics. It implements maximize.Observer and is safe for
// concurrent use by all participants of a run.
type Metrics struct {
	registry *prometheus.Registry

	optimizerCalls       prometheus.Counter
	attempts             *prometheus.CounterVec
	functionEvals        prometheus.Counter
	startDraws           prometheus.Histogram
	searches             *prometheus.CounterVec
	aborts               *prometheus.CounterVec
	verificationFailures prometheus.Counter
	published            prometheus.Counter
	bestObjective        prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		optimizerCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "calls_total",
			Help:      "Total number of minimizer calls",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "attempts_total",
			Help:      "Minimizer attempts by result",
		}, []string{"result"}),
		functionEvals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "optimizer",
			Name:      "function_evaluations_total",
			Help:      "Objective evaluations reported by the minimizer",
		}),
		startDraws: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "start",
			Name:      "draws",
			Help:      "Reference draws needed to find a finite starting point",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "terminal_total",
			Help:      "Finished searches by terminal state",
		}, []string{"state", "forced"}),
		aborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Aborted runs by failure kind",
		}, []string{"kind"}),
		verificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "failures_total",
			Help:      "Maxima whose recomputed density did not match",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Published maxima",
		}),
		bestObjective: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_log_density",
			Help:      "Log-density of the last published maximum",
		}),
	}

	m.registry.MustRegister(
		m.optimizerCalls,
		m.attempts,
		m.functionEvals,
		m.startDraws,
		m.searches,
		m.aborts,
		m.verificationFailures,
		m.published,
		m.bestObjective,
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteToTextfile writes the registry to path for the node exporter textfile collector
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// OnStart records how many draws the starting point needed
func (m *Metrics) OnStart(_ int, s maximize.Start) {
	m.startDraws.Observe(float64(s.Draws))
}

// OnAttempt counts one minimizer call
func (m *Metrics) OnAttempt(_ int, a maximize.SearchAttempt) {
	m.optimizerCalls.Inc()
	m.functionEvals.Add(float64(a.Outcome.NFev))
	result := "failure"
	if a.Outcome.Success {
		result = "success"
	}
	m.attempts.WithLabelValues(result).Inc()
}

// OnSearchDone counts a finished search by its terminal state
func (m *Metrics) OnSearchDone(_ int, r maximize.SearchResult) {
	forced := "false"
	if r.Forced {
		forced = "true"
	}
	m.searches.WithLabelValues(r.State.String(), forced).Inc()
}

// OnPublished records the published maximum
func (m *Metrics) OnPublished(p *maximize.Product) {
	m.published.Inc()
	m.bestObjective.Set(p.Maximum.Value())
}

// RecordAbort counts a failed run. Errors that are not *maximize.Error count as "other".
func (m *Metrics) RecordAbort(err error) {
	if err == nil {
		return
	}
	var merr *maximize.Error
	if !errors.As(err, &merr) {
		m.aborts.WithLabelValues("other").Inc()
		return
	}
	if merr.Kind == maximize.ConsistencyFailure {
		m.verificationFailures.Inc()
	}
	m.aborts.WithLabelValues(strings.ReplaceAll(merr.Kind.String(), " ", "_")).Inc()
}
