// Package metrics exposes Prometheus collectors for the heartbeat and the
// executor. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cadence"

// Metrics holds the collectors registered for one daemon.
type Metrics struct {
	registry *prometheus.Registry

	ticks           prometheus.Counter
	skippedTicks    prometheus.Counter
	idleCycles      prometheus.Counter
	heartbeatErrors prometheus.Counter
	tasks           *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	sessions        *prometheus.CounterVec
	sessionSteps    prometheus.Histogram
	tension         prometheus.Gauge
	satisfaction    prometheus.Gauge
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Heartbeat ticks that ran.",
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_skipped_total",
			Help:      "Heartbeat ticks dropped because another tick was in flight.",
		}),
		idleCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "idle_cycles_total",
			Help:      "Ticks on which no source offered a task.",
		}),
		heartbeatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "heartbeat_errors_total",
			Help:      "Errors and panics caught at the tick boundary.",
		}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_total",
			Help:      "Organic tasks executed, by source and outcome status.",
		}, []string{"source", "status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome status.",
		}, []string{"status"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "sessions_total",
			Help:      "Goal sessions by terminal state.",
		}, []string{"state"}),
		sessionSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "session_steps",
			Help:      "Steps taken per goal session.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 15, 20, 30},
		}),
		tension: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "tension",
			Help:      "Current drive tension (0-1).",
		}),
		satisfaction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drive",
			Name:      "satisfaction",
			Help:      "Current drive satisfaction (0-1).",
		}),
	}
	reg.MustRegister(
		m.ticks, m.skippedTicks, m.idleCycles, m.heartbeatErrors,
		m.tasks, m.jobRuns, m.sessions, m.sessionSteps,
		m.tension, m.satisfaction,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TickStarted() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) Idle() {
	if m == nil {
		return
	}
	m.idleCycles.Inc()
}

func (m *Metrics) HeartbeatError() {
	if m == nil {
		return
	}
	m.heartbeatErrors.Inc()
}

// TaskFinished counts one organic task outcome.
func (m *Metrics) TaskFinished(source, status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(source, status).Inc()
}

// JobRun counts one scheduled job execution.
func (m *Metrics) JobRun(status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(status).Inc()
}

// SessionFinished records a goal session's terminal state and length.
func (m *Metrics) SessionFinished(state string, steps int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
	m.sessionSteps.Observe(float64(steps))
}

// Drive publishes the drive model's scalar state.
func (m *Metrics) Drive(tension, satisfaction float64) {
	if m == nil {
		return
	}
	m.tension.Set(tension)
	m.satisfaction.Set(satisfaction)
}
