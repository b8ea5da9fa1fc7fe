// Package experiment ties a configuration to a scenario instance and runs
// open-loop solves or closed-loop MPC on it.
package experiment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/ocp"
)

type Experiment struct {
	cfg      *config.Config
	instance *Instance
	registry *Registry
	logger   *zap.Logger
	recorder ddp.Recorder
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

func WithRecorder(r ddp.Recorder) Option {
	return func(e *Experiment) { e.recorder = r }
}

// New builds the configured scenario from reg.
func New(reg *Registry, cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inst, err := reg.Build(cfg.Scenario, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if cfg.InitialState != nil {
		if len(cfg.InitialState) != inst.Problem.StateDim() {
			return nil, fmt.Errorf("%w: initial_state has %d entries, %s has %d states",
				dynamo.ErrDimensionMismatch, len(cfg.InitialState), cfg.Scenario, inst.Problem.StateDim())
		}
		inst.InitialState = dynamo.State(cfg.InitialState).Clone()
	}
	e := &Experiment{cfg: cfg, instance: inst, registry: reg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Instance() *Instance { return e.instance }

// NewSolver returns a solver for the instance. Callers close it.
func (e *Experiment) NewSolver() (*ddp.Solver, error) {
	opts := []ddp.Option{
		ddp.WithLogger(e.logger.Named("ddp")),
		ddp.WithModeSchedule(e.instance.Schedule),
	}
	if e.recorder != nil {
		opts = append(opts, ddp.WithRecorder(e.recorder))
	}
	return ddp.New(e.instance.Problem, e.cfg.Solver, opts...)
}

// Outcome is the result of an open-loop solve.
type Outcome struct {
	Solution ocp.PrimalSolution
	Log      []ddp.IterationLog
	// Metrics are the default metrics evaluated along the solution.
	Metrics map[string]float64
	Elapsed time.Duration
}

// Solve runs one solve over [StartTime, FinalTime].
func (e *Experiment) Solve(ctx context.Context) (*Outcome, error) {
	solver, err := e.NewSolver()
	if err != nil {
		return nil, err
	}
	defer solver.Close()

	t0, tf := e.cfg.StartTime, e.cfg.FinalTime
	start := time.Now()
	sol, err := solver.Run(ctx, t0, e.instance.InitialState, tf, ocp.Uniform(t0, tf, e.cfg.Partitions))
	out := &Outcome{Solution: sol, Log: solver.IterationLog(), Elapsed: time.Since(start)}
	if sol.Trajectory.Len() > 0 {
		out.Metrics = Evaluate(e.registry.DefaultMetrics(e.instance), &sol.Trajectory)
	}
	return out, err
}

// Evaluate feeds every sample of tr to ms and collects their values.
func Evaluate(ms []dynamo.Metric, tr *ocp.Trajectory) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for k := 0; k < tr.Len(); k++ {
			m.Observe(tr.States[k], tr.Inputs[k], tr.Times[k])
		}
		out[m.Name()] = m.Value()
	}
	return out
}

// NewMPC returns the receding-horizon controller with the default metrics
// attached. Callers close the returned solver.
func (e *Experiment) NewMPC(opts ...mpc.Option) (*mpc.MPC, *ddp.Solver, error) {
	solver, err := e.NewSolver()
	if err != nil {
		return nil, nil, err
	}
	opts = append([]mpc.Option{mpc.WithLogger(e.logger.Named("mpc"))}, opts...)
	m, err := mpc.New(solver, e.cfg.MPC, opts...)
	if err != nil {
		solver.Close()
		return nil, nil, err
	}
	for _, metric := range e.registry.DefaultMetrics(e.instance) {
		m.AddMetric(metric)
	}
	return m, solver, nil
}

// RunMPC simulates the closed loop for Duration from the initial state.
func (e *Experiment) RunMPC(ctx context.Context, opts ...mpc.Option) (*mpc.Result, error) {
	m, solver, err := e.NewMPC(opts...)
	if err != nil {
		return nil, err
	}
	defer solver.Close()
	return m.Simulate(ctx, e.cfg.StartTime, e.instance.InitialState, e.cfg.Duration)
}

// RunBaseline solves once at the start, freezes the feedback gain of that
// solution into an LQR and runs the closed loop under it without replanning.
func (e *Experiment) RunBaseline(ctx context.Context) (*mpc.Result, error) {
	m, solver, err := e.NewMPC()
	if err != nil {
		return nil, err
	}
	defer solver.Close()
	t0, x0 := e.cfg.StartTime, e.instance.InitialState
	sol, err := m.Advance(ctx, t0, x0)
	if err != nil {
		return nil, err
	}
	lqr := control.FreezeAt(sol.Controller, t0, x0)
	return m.SimulatePolicy(ctx, lqr, t0, x0, e.cfg.Duration)
}
