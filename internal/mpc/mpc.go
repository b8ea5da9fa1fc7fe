// Package mpc runs the solver in a receding-horizon loop: every Advance
// shifts the horizon to the current time, warm starts from the previous
// policy and publishes the new solution.
package mpc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
)

type MPC struct {
	solver   *ddp.Solver
	settings Settings
	base     ocp.ModeSchedule
	logger   *zap.Logger
	callback func(ocp.PrimalSolution)

	metrics   []dynamo.Metric
	observers []dynamo.Observer

	mu       sync.RWMutex
	solution ocp.PrimalSolution
	solves   int
}

type Option func(*MPC)

func WithLogger(l *zap.Logger) Option {
	return func(m *MPC) { m.logger = l }
}

// WithCallback registers fn to receive every published solution. It runs on
// the goroutine that called Advance.
func WithCallback(fn func(ocp.PrimalSolution)) Option {
	return func(m *MPC) { m.callback = fn }
}

// New wraps solver. The solver's current mode schedule becomes the base
// schedule: absolute times, or one gait cycle when GaitPeriod is set.
func New(solver *ddp.Solver, settings Settings, opts ...Option) (*MPC, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	m := &MPC{
		solver:   solver,
		settings: settings,
		base:     solver.ModeSchedule(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *MPC) AddMetric(metric dynamo.Metric)       { m.metrics = append(m.metrics, metric) }
func (m *MPC) AddObserver(observer dynamo.Observer) { m.observers = append(m.observers, observer) }

func (m *MPC) Settings() Settings { return m.settings }

// Solution returns the latest published solution.
func (m *MPC) Solution() (ocp.PrimalSolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.solution.Empty() {
		return ocp.PrimalSolution{}, dynamo.ErrNoSolution
	}
	return m.solution, nil
}

// Solves counts published solutions.
func (m *MPC) Solves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.solves
}

// Reset drops the published solution so that the next Advance starts cold.
func (m *MPC) Reset() {
	m.mu.Lock()
	m.solution = ocp.PrimalSolution{}
	m.solves = 0
	m.mu.Unlock()
}

// Schedule returns the mode schedule used on [t0, tf].
func (m *MPC) Schedule(t0, tf float64) ocp.ModeSchedule {
	if m.settings.GaitPeriod > 0 {
		return tile(m.base, m.settings.GaitPeriod, t0, tf)
	}
	return m.base.Clip(t0, tf)
}

// Advance solves over [t, t+Horizon] from x. A failed solve leaves the
// published solution untouched.
func (m *MPC) Advance(ctx context.Context, t float64, x dynamo.State) (ocp.PrimalSolution, error) {
	tf := t + m.settings.Horizon
	if err := m.solver.SetModeSchedule(m.Schedule(t, tf)); err != nil {
		return ocp.PrimalSolution{}, fmt.Errorf("mpc: shift schedule to t=%g: %w", t, err)
	}

	prev, err := m.Solution()
	warm := prev.Controller
	if err != nil || m.settings.ColdStart {
		warm = nil
	}
	sol, err := m.solver.RunWithController(ctx, t, x, tf, ocp.Uniform(t, tf, m.settings.Partitions), warm)
	if err != nil {
		return sol, err
	}

	m.mu.Lock()
	m.solution = sol
	m.solves++
	m.mu.Unlock()
	m.logger.Debug("mpc solution published",
		zap.Float64("time", t),
		zap.String("status", string(sol.Status)),
		zap.Int("iterations", sol.Iterations),
		zap.Bool("warm", warm != nil),
	)
	if m.callback != nil {
		m.callback(sol)
	}
	return sol, nil
}
