package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records run, step and gate counters for Prometheus.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	phaseTransitions  *prometheus.CounterVec
	stepsTotal        *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	validationsTotal  *prometheus.CounterVec
	patchesTotal      *prometheus.CounterVec
	resumesTotal      prometheus.Counter
	permissionDenials *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_runs_total",
				Help: "Total number of runs by final outcome",
			},
			[]string{"outcome"},
		),
		phaseTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_phase_transitions_total",
				Help: "Total number of orchestrator phase transitions by target phase",
			},
			[]string{"phase"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_steps_total",
				Help: "Total number of executed steps by capability and status",
			},
			[]string{"capability", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopilot_step_duration_seconds",
				Help:    "Duration of step execution in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"capability"},
		),
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_validations_total",
				Help: "Total number of validation passes by result",
			},
			[]string{"result"},
		),
		patchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_patches_total",
				Help: "Total number of patch attempts by result",
			},
			[]string{"result"},
		),
		resumesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "autopilot_resumes_total",
				Help: "Total number of resume attempts",
			},
		),
		permissionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_permission_denials_total",
				Help: "Total number of operations denied by the permission gate",
			},
			[]string{"operation"},
		),
		gatherer: reg,
	}
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePhase(phase string) {
	if m == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveStep(capability string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(capability, status(success)).Inc()
	m.stepDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

func (m *Metrics) ObserveValidation(success bool) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(status(success)).Inc()
}

func (m *Metrics) ObservePatch(applied bool) {
	if m == nil {
		return
	}
	m.patchesTotal.WithLabelValues(status(applied)).Inc()
}

func (m *Metrics) IncResume() {
	if m == nil {
		return
	}
	m.resumesTotal.Inc()
}

func (m *Metrics) IncPermissionDenied(operation string) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(operation).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
