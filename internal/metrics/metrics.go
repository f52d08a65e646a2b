// Package metrics exposes reconciliation counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/report"
	"github.com/agentstation/taxonsync/pkg/retry"
	"github.com/agentstation/taxonsync/pkg/sync"
)

// Namespace prefixes every metric name.
const Namespace = "taxonsync"

// Metrics holds the collectors of one process. A nil *Metrics is a no-op.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	tasks       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	relocations *prometheus.CounterVec
}

var _ sync.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by outcome.",
		}, []string{"dry_run", "outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tasks_total",
			Help:      "Entity tasks by platform, kind, operation and error class.",
		}, []string{"platform", "kind", "operation", "class"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retries_total",
			Help:      "Retried external calls by operation and error class.",
		}, []string{"operation", "class"}),
		relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "relocations_total",
			Help:      "Resources moved off a contested unique key.",
		}, []string{"platform", "kind"}),
	}
	m.registry.MustRegister(m.runs, m.runDuration, m.tasks, m.retries, m.relocations)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TaskFinished implements sync.Observer. Successful tasks are labeled "ok".
func (m *Metrics) TaskFinished(platform catalog.PlatformID, kind catalog.Kind, op catalog.Operation, err error) {
	if m == nil {
		return
	}
	class := "ok"
	if err != nil {
		class = errors.Classify(err).String()
	}
	m.tasks.WithLabelValues(platform.String(), kind.String(), op.String(), class).Inc()
}

// Relocated implements sync.Observer.
func (m *Metrics) Relocated(platform catalog.PlatformID, kind catalog.Kind, n int) {
	if m == nil {
		return
	}
	m.relocations.WithLabelValues(platform.String(), kind.String()).Add(float64(n))
}

// RunFinished implements sync.Observer.
func (m *Metrics) RunFinished(r *report.Report) {
	if m == nil || r == nil {
		return
	}
	m.runs.WithLabelValues(strconv.FormatBool(r.DryRun), outcome(r)).Inc()
	m.runDuration.Observe(r.Duration().Seconds())
}

// RetryNotify returns a hook counting retries, for retry.WithNotify.
func (m *Metrics) RetryNotify() retry.Notify {
	return func(op string, _ int, err error, _ time.Duration) {
		if m == nil {
			return
		}
		m.retries.WithLabelValues(op, errors.Classify(err).String()).Inc()
	}
}

func outcome(r *report.Report) string {
	switch {
	case r.Fatal != "":
		return "aborted"
	case r.Counts.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
