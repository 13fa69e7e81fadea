// Package metrics holds harvestbot's Prometheus collectors.
//
// All methods are safe on a nil *Metrics, so components can take an
// optional metrics handle without guarding every call.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "harvestbot"

// Metrics exposes the collectors that report runner and GitHub activity.
type Metrics struct {
	reg *prometheus.Registry

	runs            *prometheus.CounterVec
	taskInvocations *prometheus.CounterVec
	fullHarvests    *prometheus.CounterVec
	githubRequests  *prometheus.CounterVec
	runDuration     prometheus.Histogram
}

// New builds a Metrics instance on its own registry, with the Go runtime
// and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Runner invocations by trigger kind and result.",
		}, []string{"trigger", "result"}),
		taskInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_invocations_total",
			Help:      "Task-mode harvest invocations by result.",
		}, []string{"result"}),
		fullHarvests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "full_harvests_total",
			Help:      "Full harvest invocations by result.",
		}, []string{"result"}),
		githubRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "github_requests_total",
			Help:      "GitHub API request attempts by method and status code (0 = transport error).",
		}, []string{"method", "code"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.taskInvocations, m.fullHarvests, m.githubRequests, m.runDuration,
	)
	return m
}

// Registry returns the registry backing m (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Result labels shared by the counters.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultBusy      = "busy"
	ResultCoalesced = "coalesced"
	ResultDeferred  = "deferred"
)

// Result maps an error to the ok/error label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func (m *Metrics) ObserveRun(trigger, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(trigger, result).Inc()
	if took > 0 {
		m.runDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) ObserveTask(result string) {
	if m == nil {
		return
	}
	m.taskInvocations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveFullHarvest(result string) {
	if m == nil {
		return
	}
	m.fullHarvests.WithLabelValues(result).Inc()
}

// ObserveGitHub matches github.Config.OnResponse.
func (m *Metrics) ObserveGitHub(method string, status int) {
	if m == nil {
		return
	}
	m.githubRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
