package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/dynopt/internal/ocp"
)

const (
	namespace = "dynopt"
	subsystem = "ddp"
)

// SolverMetrics records solver events as prometheus collectors. It
// satisfies ddp.Recorder.
type SolverMetrics struct {
	Iterations         *prometheus.CounterVec
	LineSearchFailures prometheus.Counter
	Solves             *prometheus.CounterVec
	SolveDuration      prometheus.Histogram
	Regularization     prometheus.Gauge
}

// NewSolverMetrics creates the collectors and registers them on reg. A nil
// registerer leaves them unregistered.
func NewSolverMetrics(reg prometheus.Registerer) (*SolverMetrics, error) {
	m := &SolverMetrics{
		Iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "iterations_total",
			Help:      "Outer iterations run, by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		LineSearchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "line_search_failures_total",
			Help:      "Iterations whose step-size search accepted no step.",
		}),
		Solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solves_total",
			Help:      "Finished solves by final status.",
		}, []string{"status"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "solve_duration_seconds",
			Help:      "Wall time of complete solves.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Regularization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "regularization",
			Help:      "Current input Hessian regularization level.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Iterations, m.LineSearchFailures, m.Solves, m.SolveDuration, m.Regularization} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *SolverMetrics) ObserveIteration(algorithm string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.Iterations.WithLabelValues(algorithm, outcome).Inc()
}

func (m *SolverMetrics) ObserveLineSearchFailure() {
	m.LineSearchFailures.Inc()
}

func (m *SolverMetrics) ObserveRegularization(mu float64) {
	m.Regularization.Set(mu)
}

func (m *SolverMetrics) ObserveSolve(status ocp.Status, d time.Duration) {
	m.Solves.WithLabelValues(string(status)).Inc()
	m.SolveDuration.Observe(d.Seconds())
}
