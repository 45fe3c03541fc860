package server

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cwbudde/polywalk/internal/walk"
)

// Metrics holds the walk server's Prometheus collectors. Each server owns
// its registry so tests can create servers freely.
type Metrics struct {
	registry       *prometheus.Registry
	steps          prometheus.Counter
	waypoints      prometheus.Counter
	solverFailures *prometheus.CounterVec
	stepDuration   prometheus.Histogram
	activeWalks    prometheus.Gauge
	sessions       *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polywalk_steps_total",
			Help: "Completed walker steps across all sessions",
		}),
		waypoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polywalk_waypoints_total",
			Help: "Waypoints emitted across all sessions",
		}),
		solverFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polywalk_solver_failures_total",
			Help: "Steps whose linear program did not reach an optimum",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "polywalk_step_duration_seconds",
			Help:    "Time spent solving the per-step linear programs",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		activeWalks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "polywalk_active_walks",
			Help: "Sessions currently running",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polywalk_sessions_finished_total",
			Help: "Finished sessions by final state",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.steps, m.waypoints, m.solverFailures, m.stepDuration, m.activeWalks, m.sessions)
	return m
}

// ObserveStep records a walker StepReport.
func (m *Metrics) ObserveStep(report walk.StepReport) {
	if report.Err != nil {
		status := "failed"
		var lpErr *walk.InfeasibleOrUnboundedError
		if errors.As(report.Err, &lpErr) {
			status = lpErr.Status.String()
		}
		m.solverFailures.WithLabelValues(status).Inc()
		return
	}
	m.steps.Inc()
	m.stepDuration.Observe(report.Duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
