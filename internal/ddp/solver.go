// Package ddp drives the SLQ / ILQR iteration over a partitioned horizon.
//
// Each outer iteration runs three phases on the solver's worker pool:
//
//  1. approximate: LQ models along the nominal trajectory, one task per
//     partition, followed by constraint projection
//  2. backward: the Riccati pass from the last partition to the first,
//     then gain extraction in parallel
//  3. step size: rollouts of the updated policy, batched over the pool
//
// A phase starts only after the previous one has finished on every
// worker. The accepted iterate is replaced by a single assignment, so a
// failure at any point returns the last consistent solution.
package ddp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/control"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/lq"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/riccati"
	"github.com/san-kum/dynopt/internal/rollout"
	"github.com/san-kum/dynopt/internal/sched"
)

// Solver runs the iteration for one problem. The worker pool and the
// per-partition workspaces are reused across solves. A Solver is not safe
// for concurrent Run calls; concurrent solves need separate solvers.
type Solver struct {
	problem  *ocp.Problem
	settings Settings
	schedule ocp.ModeSchedule

	pool     *sched.Pool
	arena    *sched.Arena[workspace]
	approx   *lq.Approximator
	terminal dynamo.QuadraticApproximation

	logger   *zap.Logger
	recorder Recorder

	state    IterationState
	log      []IterationLog
	solution ocp.PrimalSolution
}

// workspace is the arena slot of one partition.
type workspace struct {
	models   []lq.ModelData
	backward riccati.Partition
	policy   *control.LinearController
}

// iterate is one consistent nominal: partition trajectories, their
// concatenation, the policy that produced them and its performance.
type iterate struct {
	partitions  []ocp.Trajectory
	trajectory  ocp.Trajectory
	controller  *control.LinearController
	performance ocp.PerformanceIndex
}

type Option func(*Solver)

func WithLogger(l *zap.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(s *Solver) { s.recorder = r }
}

func WithModeSchedule(ms ocp.ModeSchedule) Option {
	return func(s *Solver) { s.schedule = ms }
}

func New(p *ocp.Problem, settings Settings, opts ...Option) (*Solver, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s := &Solver{
		problem:  p,
		settings: settings,
		schedule: ocp.SingleMode(0),
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := p.ValidateSchedule(s.schedule); err != nil {
		return nil, err
	}
	s.pool = sched.NewPool(settings.Threads)
	s.arena = sched.NewArena[workspace](0, nil)
	s.approx = lq.NewApproximator(p, settings.Penalties())
	s.state.Regularization = settings.RegularizationInit
	return s, nil
}

// Close stops the worker pool.
func (s *Solver) Close() error {
	return s.pool.Close()
}

func (s *Solver) Problem() *ocp.Problem { return s.problem }

func (s *Solver) Settings() Settings { return s.settings }

func (s *Solver) ModeSchedule() ocp.ModeSchedule { return s.schedule }

// SetModeSchedule replaces the schedule used by subsequent solves.
func (s *Solver) SetModeSchedule(ms ocp.ModeSchedule) error {
	if err := s.problem.ValidateSchedule(ms); err != nil {
		return err
	}
	s.schedule = ms
	return nil
}

// IterationLog returns the iterations of the last solve, starting with the
// initial rollout as iteration 0.
func (s *Solver) IterationLog() []IterationLog {
	return append([]IterationLog(nil), s.log...)
}

func (s *Solver) State() IterationState { return s.state }

// Solution returns the result of the last solve.
func (s *Solver) Solution() ocp.PrimalSolution { return s.solution }

// Run solves on [t0, tf] from x0, seeding the first rollout from the
// problem's operating points.
func (s *Solver) Run(ctx context.Context, t0 float64, x0 dynamo.State, tf float64, parts ocp.Partitioning) (ocp.PrimalSolution, error) {
	return s.RunWithController(ctx, t0, x0, tf, parts, nil)
}

// RunWithController is Run with the first rollout driven by warm. A nil
// warm controller falls back to the operating points.
func (s *Solver) RunWithController(ctx context.Context, t0 float64, x0 dynamo.State, tf float64,
	parts ocp.Partitioning, warm *control.LinearController) (ocp.PrimalSolution, error) {
	start := time.Now()
	sol, err := s.solve(ctx, t0, x0, tf, parts, warm)
	elapsed := time.Since(start)
	s.solution = sol
	s.recorder.ObserveSolve(sol.Status, elapsed)

	fields := []zap.Field{
		zap.String("algorithm", string(s.settings.Algorithm)),
		zap.String("status", string(sol.Status)),
		zap.Int("iterations", sol.Iterations),
		zap.Float64("cost", sol.Performance.TotalCost),
		zap.Float64("merit", sol.Performance.Merit),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		s.logger.Warn("solve failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("solve finished", fields...)
	}
	return sol, err
}

func (s *Solver) solve(ctx context.Context, t0 float64, x0 dynamo.State, tf float64,
	parts ocp.Partitioning, warm *control.LinearController) (ocp.PrimalSolution, error) {
	s.log = s.log[:0]
	s.state = IterationState{Regularization: s.settings.RegularizationInit}
	schedule := s.schedule.Clip(t0, tf)
	failed := ocp.PrimalSolution{Schedule: schedule, Status: ocp.StatusFailed}

	if err := parts.Validate(t0, tf); err != nil {
		return failed, s.annotate(err, dynamo.PhaseInitialization, -1)
	}
	if len(x0) != s.problem.StateDim() {
		err := fmt.Errorf("%w: initial state has %d entries, want %d", dynamo.ErrDimensionMismatch, len(x0), s.problem.StateDim())
		return failed, s.annotate(err, dynamo.PhaseInitialization, -1)
	}
	s.arena.Resize(parts.Count(), nil)
	engine := &rollout.Engine{
		Problem:  s.problem,
		Schedule: schedule,
		Settings: s.settings.RolloutSettings(),
		Origin:   t0,
	}

	var policy *control.LinearController
	if warm != nil {
		policy = warm.Flatten()
	} else {
		policy = s.initialController(t0, tf, schedule)
	}
	first := s.trial(engine, policy, parts, x0)(0, 1)
	if first.Err != nil {
		return failed, s.annotate(first.Err, dynamo.PhaseInitialization, -1)
	}
	cur := iterate{
		partitions:  first.Partitions,
		trajectory:  first.Trajectory,
		controller:  policy,
		performance: first.Performance,
	}
	s.record(IterationLog{Iteration: 0, Performance: cur.performance, Accepted: true, RolloutSteps: first.Steps})

	stepSize := s.settings.stepSize()
	stale := true
	for it := 1; it <= s.settings.MaxIterations; it++ {
		s.state.Iteration = it
		if err := ctx.Err(); err != nil {
			return s.primal(&cur, schedule, ocp.StatusCanceled, it-1), err
		}
		began := time.Now()

		if stale {
			if err := s.approximate(&cur); err != nil {
				return s.primal(&cur, schedule, ocp.StatusFailed, it), s.annotate(err, dynamo.PhaseApproximation, -1)
			}
			stale = false
		}
		decrease, err := s.backward(&cur)
		if err != nil {
			return s.primal(&cur, schedule, ocp.StatusFailed, it), err
		}
		update := s.concatenatePolicies()

		merit0 := cur.performance.Merit
		trial, tried, err := stepSize.Search(s.pool, merit0, decrease, s.trial(engine, update, parts, x0))
		entry := IterationLog{
			Iteration:        it,
			Regularization:   s.state.Regularization,
			ExpectedDecrease: decrease,
			Trials:           len(tried),
		}

		if err != nil {
			if !errors.Is(err, dynamo.ErrLineSearchFailed) {
				return s.primal(&cur, schedule, ocp.StatusFailed, it), s.annotate(err, dynamo.PhaseStepSize, -1)
			}
			if evalErr := modelFailure(tried); evalErr != nil {
				return s.primal(&cur, schedule, ocp.StatusFailed, it), s.annotate(evalErr, dynamo.PhaseRollout, -1)
			}
			entry.Performance = cur.performance
			entry.Duration = time.Since(began)
			s.record(entry)
			s.recorder.ObserveLineSearchFailure()

			if s.state.Failures == 0 && s.plateau(cur.performance, decrease) {
				return s.primal(&cur, schedule, ocp.StatusConverged, it), nil
			}
			next := s.settings.Escalate(s.state.Regularization)
			if next > s.settings.RegularizationMax {
				return s.primal(&cur, schedule, ocp.StatusFailed, it), s.annotate(err, dynamo.PhaseStepSize, -1)
			}
			s.logger.Debug("step rejected, raising regularization",
				zap.Int("iteration", it), zap.Float64("regularization", next))
			s.state.Regularization = next
			s.state.Failures++
			s.recorder.ObserveRegularization(next)
			continue
		}

		prev := cur
		cur = iterate{
			partitions:  trial.Partitions,
			trajectory:  trial.Trajectory,
			controller:  update.WithStep(trial.Alpha).Flatten(),
			performance: trial.Performance,
		}
		stale = true
		s.state.Failures = 0
		if stepSize.Strategy == linesearch.TrustRegion {
			s.state.Regularization = s.settings.Relax(s.state.Regularization)
			s.recorder.ObserveRegularization(s.state.Regularization)
		}

		entry.Step = trial.Alpha
		entry.Accepted = true
		entry.Performance = trial.Performance
		entry.RolloutSteps = trial.Steps
		entry.Duration = time.Since(began)
		s.record(entry)

		if s.converged(prev.performance, cur.performance) {
			return s.primal(&cur, schedule, ocp.StatusConverged, it), nil
		}
	}
	return s.primal(&cur, schedule, ocp.StatusMaxIterations, s.settings.MaxIterations), nil
}

// approximate builds and projects the LQ models of every partition.
func (s *Solver) approximate(cur *iterate) error {
	err := s.pool.Run(len(cur.partitions), func(_, i int) error {
		tr := &cur.partitions[i]
		w := s.arena.At(i)
		n := tr.Len()
		if cap(w.models) < n {
			w.models = make([]lq.ModelData, n)
		}
		w.models = w.models[:n]
		if err := s.approx.ApproximateRange(tr, 0, n, w.models); err != nil {
			return &dynamo.SolveError{Phase: dynamo.PhaseApproximation, Partition: i, Wrapped: err}
		}
		w.backward.Reset(n)
		w.backward.Index = i
		if err := riccati.ProjectRange(w.models, w.backward.Stages); err != nil {
			return &dynamo.SolveError{Phase: dynamo.PhaseApproximation, Partition: i, Wrapped: err}
		}
		return nil
	})
	if err != nil {
		return err
	}
	terminal, err := s.approx.Terminal(&cur.trajectory)
	if err != nil {
		return &dynamo.SolveError{Phase: dynamo.PhaseApproximation, Partition: len(cur.partitions) - 1, Wrapped: err}
	}
	s.terminal = terminal
	return nil
}

// backward runs the Riccati pass, raising the regularization until every
// input Hessian factorizes, and returns the predicted decrease.
func (s *Solver) backward(cur *iterate) (float64, error) {
	cfg := s.settings.riccati()
	for {
		mu := s.state.Regularization
		partition, err := s.backwardAt(cfg, cur, mu)
		if err == nil {
			var decrease float64
			for _, w := range s.arena.Slots() {
				decrease += w.backward.ExpectedDecrease
			}
			return decrease, nil
		}
		if !errors.Is(err, dynamo.ErrIndefiniteHessian) {
			return 0, s.annotate(err, dynamo.PhaseBackward, partition)
		}
		next := s.settings.Escalate(mu)
		if next > s.settings.RegularizationMax {
			return 0, s.annotate(err, dynamo.PhaseBackward, partition)
		}
		s.logger.Debug("input hessian indefinite, raising regularization",
			zap.Int("iteration", s.state.Iteration), zap.Int("partition", partition), zap.Float64("regularization", next))
		s.state.Regularization = next
		s.recorder.ObserveRegularization(next)
	}
}

func (s *Solver) backwardAt(cfg riccati.Settings, cur *iterate, mu float64) (int, error) {
	boundary := riccati.TerminalValue(s.terminal)
	for i := s.arena.Len() - 1; i >= 0; i-- {
		w := s.arena.At(i)
		if err := riccati.Solve(cfg, &w.backward, boundary, mu); err != nil {
			return i, err
		}
		boundary = w.backward.Start()
	}
	err := s.pool.Run(s.arena.Len(), func(_, i int) error {
		w := s.arena.At(i)
		if err := riccati.ExtractGains(cfg, &w.backward, mu); err != nil {
			return &dynamo.SolveError{Phase: dynamo.PhaseBackward, Partition: i, Wrapped: err}
		}
		w.policy = w.backward.Controller(&cur.partitions[i])
		return nil
	})
	if err != nil {
		var se *dynamo.SolveError
		if errors.As(err, &se) {
			return se.Partition, err
		}
		return -1, err
	}
	return -1, nil
}

func (s *Solver) concatenatePolicies() *control.LinearController {
	parts := make([]*control.LinearController, s.arena.Len())
	for i := range parts {
		parts[i] = s.arena.At(i).policy
	}
	return control.Concatenate(parts)
}

// trial returns the evaluator rolling out policy scaled by a step length.
func (s *Solver) trial(engine *rollout.Engine, policy *control.LinearController, parts ocp.Partitioning, x0 dynamo.State) linesearch.Evaluator {
	pen := s.settings.Penalties()
	return func(_ int, alpha float64) linesearch.Trial {
		out := linesearch.Trial{Alpha: alpha}
		results, err := engine.RunPartitions(policy.WithStep(alpha), parts, x0)
		for _, r := range results {
			out.Steps += r.Steps
		}
		if err != nil {
			out.Err = err
			return out
		}
		out.Partitions = rollout.Trajectories(results)
		out.Trajectory = ocp.Concatenate(out.Partitions)
		perf, err := s.problem.Evaluate(&out.Trajectory, pen)
		if err == nil {
			perf, err = s.problem.EvaluateFinal(&out.Trajectory, perf)
		}
		if err == nil && !perf.IsValid() {
			err = fmt.Errorf("%w: merit is %g", dynamo.ErrInvalidState, perf.Merit)
		}
		out.Performance = perf
		out.Err = err
		return out
	}
}

// initialController replays the operating-point inputs open loop. Event
// times carry a pre-event sample in the old mode.
func (s *Solver) initialController(t0, tf float64, schedule ocp.ModeSchedule) *control.LinearController {
	nx, nu := s.problem.StateDim(), s.problem.InputDim()
	events := schedule.EventsIn(t0, tf)
	times := rollout.Grid(t0, t0, tf, s.settings.TimeStep, events)
	zero := mat.NewDense(nu, nx, nil)
	input := func(t float64, mode int) dynamo.Control {
		if s.problem.OperatingPoints == nil {
			return make(dynamo.Control, nu)
		}
		_, u := s.problem.OperatingPoints.At(t, mode)
		if len(u) != nu {
			return make(dynamo.Control, nu)
		}
		return u
	}

	c := control.NewLinearController(len(times) + len(events))
	mode := schedule.ModeAt(t0)
	for _, t := range times {
		if next := schedule.ModeAt(t); next != mode {
			c.Append(t, zero, input(t, mode), make(dynamo.Control, nu))
			mode = next
		}
		c.Append(t, zero, input(t, mode), make(dynamo.Control, nu))
	}
	return c
}

func (s *Solver) converged(prev, cur ocp.PerformanceIndex) bool {
	rel := math.Abs(prev.TotalCost-cur.TotalCost) / max(math.Abs(cur.TotalCost), 1e-12)
	return rel < s.settings.MinRelCost && cur.ConstraintISE() < s.settings.ConstraintTolerance
}

// plateau reports a rejected step whose predicted gain was negligible: the
// nominal is already a local optimum. Only meaningful for an unescalated
// backward pass, since regularization shrinks the prediction.
func (s *Solver) plateau(perf ocp.PerformanceIndex, decrease float64) bool {
	return decrease <= s.settings.MinRelCost*max(math.Abs(perf.Merit), 1) &&
		perf.ConstraintISE() < s.settings.ConstraintTolerance
}

func (s *Solver) primal(cur *iterate, schedule ocp.ModeSchedule, status ocp.Status, iterations int) ocp.PrimalSolution {
	return ocp.PrimalSolution{
		Trajectory:  cur.trajectory,
		Controller:  cur.controller,
		Performance: cur.performance,
		Schedule:    schedule,
		Status:      status,
		Iterations:  iterations,
	}
}

func (s *Solver) record(entry IterationLog) {
	s.log = append(s.log, entry)
	s.recorder.ObserveIteration(string(s.settings.Algorithm), entry.Accepted)
	log := s.logger.Debug
	if s.settings.Display {
		log = s.logger.Info
	}
	log("iteration",
		zap.Int("iteration", entry.Iteration),
		zap.Bool("accepted", entry.Accepted),
		zap.Float64("cost", entry.Performance.TotalCost),
		zap.Float64("merit", entry.Performance.Merit),
		zap.Float64("constraint_ise", entry.Performance.ConstraintISE()),
		zap.Float64("step", entry.Step),
		zap.Float64("regularization", entry.Regularization),
		zap.Float64("expected_decrease", entry.ExpectedDecrease),
		zap.Duration("duration", entry.Duration),
	)
}

// annotate stamps the iteration context on err. Errors that already carry
// a SolveError keep their phase and partition.
func (s *Solver) annotate(err error, phase dynamo.Phase, partition int) error {
	var se *dynamo.SolveError
	if errors.As(err, &se) {
		se.Iteration = s.state.Iteration
		se.Regularization = s.state.Regularization
		return err
	}
	return &dynamo.SolveError{
		Phase:          phase,
		Partition:      partition,
		Iteration:      s.state.Iteration,
		Regularization: s.state.Regularization,
		Wrapped:        err,
	}
}

// modelFailure returns the first trial error raised by a model evaluator.
// Those abort the solve instead of counting as a rejected step.
func modelFailure(trials []linesearch.Trial) error {
	for _, tr := range trials {
		if tr.Err != nil && errors.Is(tr.Err, dynamo.ErrModelEvaluation) {
			return tr.Err
		}
	}
	return nil
}
