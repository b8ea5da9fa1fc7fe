package ddp_test

import (
	"context"
	"errors"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/qp"
	"github.com/san-kum/dynopt/internal/riccati"
)

const (
	horizonSteps = 50
	timeStep     = 0.01
	horizon      = horizonSteps * timeStep
	relTolerance = 2e-3
)

// relErr is ‖a-b‖ / max(‖b‖, 1e-6).
func relErr(a, b []float64) float64 {
	diff := make([]float64, len(a))
	floats.SubTo(diff, a, b)
	return floats.Norm(diff, 2) / math.Max(floats.Norm(b, 2), 1e-6)
}

func settingsFor(alg riccati.Algorithm, strategy linesearch.Strategy) ddp.Settings {
	s := ddp.DefaultSettings()
	s.Algorithm = alg
	s.Strategy = strategy
	s.TimeStep = timeStep
	s.MaxIterations = 10
	if alg == riccati.ILQR {
		// The discrete recursion is exact for the Euler transcription.
		s.Integrator = integrators.NameEuler
	}
	return s
}

// oracle is the QP optimum: the Euler transcription on the solver grid for
// ILQR, and a Richardson extrapolation of two transcriptions for SLQ.
type oracle struct {
	u0 []float64
	xT []float64
}

func solveOracle(p *ocp.Problem, alg riccati.Algorithm, x0 dynamo.State) oracle {
	solve := func(dt float64) (dynamo.Control, dynamo.State) {
		n := int(math.Round(horizon / dt))
		prog, err := qp.Transcribe(p, ocp.SingleMode(0), ocp.Penalties{}, 0, dt, n, x0)
		Expect(err).NotTo(HaveOccurred())
		sol, err := prog.Solve()
		Expect(err).NotTo(HaveOccurred())
		return sol.Trajectory.Inputs[0], sol.Trajectory.FinalState()
	}
	u, x := solve(timeStep)
	if alg == riccati.ILQR {
		return oracle{u0: u, xT: x}
	}
	uh, xh := solve(timeStep / 2)
	out := oracle{u0: make([]float64, len(u)), xT: make([]float64, len(x))}
	for i := range u {
		out.u0[i] = 2*uh[i] - u[i]
	}
	for i := range x {
		out.xT[i] = 2*xh[i] - x[i]
	}
	return out
}

func solve(p *ocp.Problem, s ddp.Settings, x0 dynamo.State, parts ocp.Partitioning) (ocp.PrimalSolution, *ddp.Solver) {
	solver, err := ddp.New(p, s)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(solver.Close)
	sol, err := solver.Run(context.Background(), 0, x0, horizon, parts)
	Expect(err).NotTo(HaveOccurred())
	return sol, solver
}

func expectMonotone(log []ddp.IterationLog) {
	prev := math.Inf(1)
	for _, entry := range log {
		if !entry.Accepted {
			continue
		}
		Expect(entry.Performance.Merit).To(BeNumerically("<=", prev+1e-9*math.Max(1, math.Abs(prev))),
			"iteration %d increased the merit", entry.Iteration)
		prev = entry.Performance.Merit
	}
}

var _ = Describe("unconstrained linear-quadratic problems", func() {
	var x0 dynamo.State

	BeforeEach(func() {
		rng := rand.New(rand.NewSource(GinkgoRandomSeed()))
		x0 = dynamo.State{2*rng.Float64() - 1, 2*rng.Float64() - 1}
	})

	DescribeTable("match the quadratic program optimum",
		func(alg riccati.Algorithm, strategy linesearch.Strategy, partitions int) {
			p := models.DoubleIntegratorProblem()
			sol, solver := solve(p, settingsFor(alg, strategy), x0, ocp.Uniform(0, horizon, partitions))

			Expect(sol.Status).To(Equal(ocp.StatusConverged))
			Expect(sol.Iterations).To(BeNumerically("<=", 3+partitions-1))

			want := solveOracle(p, alg, x0)
			Expect(relErr(sol.Trajectory.FinalState(), want.xT)).To(BeNumerically("<", relTolerance))
			Expect(relErr(sol.Trajectory.Inputs[0], want.u0)).To(BeNumerically("<", relTolerance))
			expectMonotone(solver.IterationLog())
		},
		Entry("SLQ, line search, one partition", riccati.SLQ, linesearch.LineSearch, 1),
		Entry("SLQ, line search, two partitions", riccati.SLQ, linesearch.LineSearch, 2),
		Entry("SLQ, trust region, one partition", riccati.SLQ, linesearch.TrustRegion, 1),
		Entry("SLQ, trust region, two partitions", riccati.SLQ, linesearch.TrustRegion, 2),
		Entry("ILQR, line search, one partition", riccati.ILQR, linesearch.LineSearch, 1),
		Entry("ILQR, line search, two partitions", riccati.ILQR, linesearch.LineSearch, 2),
		Entry("ILQR, trust region, one partition", riccati.ILQR, linesearch.TrustRegion, 1),
		Entry("ILQR, trust region, two partitions", riccati.ILQR, linesearch.TrustRegion, 2),
	)

	DescribeTable("agree across partition counts",
		func(alg riccati.Algorithm) {
			p := models.DoubleIntegratorProblem()
			one, _ := solve(p, settingsFor(alg, linesearch.LineSearch), x0, ocp.Uniform(0, horizon, 1))
			two, _ := solve(p, settingsFor(alg, linesearch.LineSearch), x0, ocp.Uniform(0, horizon, 2))

			Expect(relErr(two.Trajectory.FinalState(), one.Trajectory.FinalState())).To(BeNumerically("<", relTolerance))
			Expect(relErr(two.Trajectory.Inputs[0], one.Trajectory.Inputs[0])).To(BeNumerically("<", relTolerance))
			Expect(two.Performance.TotalCost).To(BeNumerically("~", one.Performance.TotalCost, relTolerance*one.Performance.TotalCost))
		},
		Entry("SLQ", riccati.SLQ),
		Entry("ILQR", riccati.ILQR),
	)

	It("reaches the transcription cost with ILQR", func() {
		p := models.DoubleIntegratorProblem()
		sol, _ := solve(p, settingsFor(riccati.ILQR, linesearch.LineSearch), x0, ocp.Uniform(0, horizon, 1))

		prog, err := qp.Transcribe(p, ocp.SingleMode(0), ocp.Penalties{}, 0, timeStep, horizonSteps, x0)
		Expect(err).NotTo(HaveOccurred())
		want, err := prog.Solve()
		Expect(err).NotTo(HaveOccurred())

		// Both trajectories scored by the same trapezoidal evaluation.
		wantPerf, err := p.Evaluate(&want.Trajectory, ocp.Penalties{})
		Expect(err).NotTo(HaveOccurred())
		wantPerf, err = p.EvaluateFinal(&want.Trajectory, wantPerf)
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Performance.TotalCost).To(BeNumerically("~", wantPerf.TotalCost, 10*relTolerance*wantPerf.TotalCost))
	})

	It("is idempotent when warm started from its own solution", func() {
		p := models.DoubleIntegratorProblem()
		s := settingsFor(riccati.SLQ, linesearch.LineSearch)
		solver, err := ddp.New(p, s)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		parts := ocp.Uniform(0, horizon, 2)
		first, err := solver.Run(context.Background(), 0, x0, horizon, parts)
		Expect(err).NotTo(HaveOccurred())
		again, err := solver.RunWithController(context.Background(), 0, x0, horizon, parts, first.Controller)
		Expect(err).NotTo(HaveOccurred())

		Expect(again.Status).To(Equal(ocp.StatusConverged))
		Expect(again.Iterations).To(BeNumerically("<=", 1))
		Expect(again.Performance.TotalCost).To(BeNumerically("<=", first.Performance.TotalCost*(1+1e-9)))
		Expect(first.Performance.TotalCost - again.Performance.TotalCost).To(
			BeNumerically("<=", s.MinRelCost*first.Performance.TotalCost))
	})
})

var _ = Describe("state-input constrained problems", func() {
	It("match the constrained quadratic program with ILQR", func() {
		rng := rand.New(rand.NewSource(3))
		p := models.RandomLinearProblem(rng, 3, 2, 1)
		x0 := dynamo.State{0.5, -0.5, 0.25}
		s := settingsFor(riccati.ILQR, linesearch.LineSearch)
		s.MaxIterations = 6
		sol, solver := solve(p, s, x0, ocp.Uniform(0, horizon, 2))

		Expect(sol.Status).To(Equal(ocp.StatusConverged))
		want := solveOracle(p, riccati.ILQR, x0)
		Expect(relErr(sol.Trajectory.FinalState(), want.xT)).To(BeNumerically("<", relTolerance))
		Expect(relErr(sol.Trajectory.Inputs[0], want.u0)).To(BeNumerically("<", relTolerance))
		Expect(sol.Performance.StateInputEqISE).To(BeNumerically("<", s.ConstraintTolerance))
		expectMonotone(solver.IterationLog())
	})
})

var _ = Describe("degenerate horizons", func() {
	x0 := dynamo.State{0.3, -0.1}

	It("accepts a zero-length horizon", func() {
		solver, err := ddp.New(models.DoubleIntegratorProblem(), ddp.DefaultSettings())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		sol, err := solver.Run(context.Background(), 1, x0, 1, ocp.Partitioning{1, 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Status).To(Equal(ocp.StatusConverged))
		Expect(sol.Trajectory.Len()).To(Equal(1))
		Expect(sol.Trajectory.FinalState()).To(Equal(x0))
		Expect(sol.Performance.TotalCost).To(BeNumerically("~", 0.5*2*(0.09+0.01), 1e-12))
	})

	It("accepts a single-mode horizon without events", func() {
		sol, _ := solve(models.DoubleIntegratorProblem(), settingsFor(riccati.SLQ, linesearch.LineSearch), x0, ocp.Uniform(0, horizon, 1))
		Expect(sol.Trajectory.PostEventIndices).To(BeEmpty())
		Expect(sol.Schedule.Modes).To(Equal([]int{0}))
	})

	It("accepts every sample as its own partition", func() {
		s := settingsFor(riccati.ILQR, linesearch.LineSearch)
		fine, _ := solve(models.DoubleIntegratorProblem(), s, x0, ocp.Uniform(0, horizon, horizonSteps))
		coarse, _ := solve(models.DoubleIntegratorProblem(), s, x0, ocp.Uniform(0, horizon, 1))

		Expect(fine.Trajectory.Len()).To(Equal(coarse.Trajectory.Len()))
		Expect(relErr(fine.Trajectory.FinalState(), coarse.Trajectory.FinalState())).To(BeNumerically("<", 1e-6))
	})
})

var _ = Describe("nonlinear and switched problems", func() {
	It("decreases the merit monotonically on the pendulum swing-up", func() {
		s := settingsFor(riccati.SLQ, linesearch.LineSearch)
		s.TimeStep = 0.02
		s.MaxIterations = 8
		solver, err := ddp.New(models.PendulumSwingUpProblem(), s)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		sol, err := solver.Run(context.Background(), 0, dynamo.State{0, 0}, 2, ocp.Uniform(0, 2, 4))
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Status).To(BeElementOf(ocp.StatusConverged, ocp.StatusMaxIterations))

		log := solver.IterationLog()
		Expect(log[0].Iteration).To(Equal(0))
		Expect(sol.Performance.Merit).To(BeNumerically("<", log[0].Performance.Merit))
		expectMonotone(log)
	})

	It("records exact event samples on a walking gait", func() {
		b := models.NewPlanarBiped()
		p := b.Problem(0.8)
		gait := b.Gait(0, 0.6, 0.2, 0.1)
		s := settingsFor(riccati.SLQ, linesearch.LineSearch)
		s.TimeStep = 0.02
		s.MaxIterations = 4
		solver, err := ddp.New(p, s, ddp.WithModeSchedule(gait))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		x0 := dynamo.State{0, 0.8, 0, 0, 0, 0}
		// The partition boundary avoids the event times.
		sol, err := solver.Run(context.Background(), 0, x0, 0.6, ocp.Partitioning{0, 0.25, 0.6})
		Expect(err).NotTo(HaveOccurred())

		tr := sol.Trajectory
		Expect(tr.PostEventIndices).NotTo(BeEmpty())
		for _, idx := range tr.PostEventIndices {
			Expect(tr.Times[idx]).To(Equal(tr.Times[idx-1]))
			Expect(tr.States[idx]).To(Equal(tr.States[idx-1]))
			Expect(tr.Modes[idx]).To(Equal(gait.ModeAt(tr.Times[idx])))
		}
		// Swing legs carry no force.
		for k := range tr.Times {
			for leg := 0; leg < 2; leg++ {
				if tr.Modes[k]&(1<<leg) == 0 {
					Expect(math.Abs(tr.Inputs[k][2*leg+1])).To(BeNumerically("<", 1e-6))
				}
			}
		}
		expectMonotone(solver.IterationLog())
	})
})

var _ = Describe("failures", func() {
	It("reports an unresolved indefinite hessian with its context", func() {
		p := models.DoubleIntegratorProblem()
		p.Variants[0].Cost = models.NewQuadraticCost(models.Identity(2, 1), models.Identity(1, -1))
		s := settingsFor(riccati.SLQ, linesearch.LineSearch)
		s.RegularizationMax = 0.1
		solver, err := ddp.New(p, s)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		sol, err := solver.Run(context.Background(), 0, dynamo.State{1, 0}, horizon, ocp.Uniform(0, horizon, 2))
		Expect(errors.Is(err, dynamo.ErrIndefiniteHessian)).To(BeTrue())
		var se *dynamo.SolveError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.Phase).To(Equal(dynamo.PhaseBackward))
		Expect(se.Partition).To(Equal(1))
		Expect(se.Regularization).To(BeNumerically("<=", s.RegularizationMax))
		Expect(sol.Status).To(Equal(ocp.StatusFailed))
		// The initial rollout is still a consistent solution.
		Expect(sol.Trajectory.Len()).To(Equal(horizonSteps + 1))
	})

	It("rejects a diverging trial and accepts a shorter step", func() {
		s := settingsFor(riccati.ILQR, linesearch.LineSearch)
		s.MaxIterations = 1
		parts := ocp.Uniform(0, horizon, 1)
		full, _ := solve(models.DoubleIntegratorProblem(), s, dynamo.State{1, 0}, parts)
		peak := 0.0
		for _, u := range full.Trajectory.Inputs {
			peak = math.Max(peak, math.Abs(u[0]))
		}
		Expect(peak).To(BeNumerically(">", 0))

		p := models.DoubleIntegratorProblem()
		p.Variants[0].Dynamics = saturatingActuator{LinearSystem: doubleIntegrator(), limit: 0.7 * peak}
		sol, solver := solve(p, s, dynamo.State{1, 0}, parts)

		log := solver.IterationLog()
		Expect(log).To(HaveLen(2))
		Expect(log[1].Accepted).To(BeTrue())
		Expect(log[1].Step).To(Equal(0.5))
		Expect(log[1].Trials).To(BeNumerically(">=", 2))
		Expect(log[1].Performance.Merit).To(BeNumerically("<", log[0].Performance.Merit))
		Expect(sol.Status).NotTo(Equal(ocp.StatusFailed))
		Expect(sol.Trajectory.FinalState().IsValid()).To(BeTrue())
	})

	It("fails at the regularization ceiling when no step is ever accepted", func() {
		p := models.DoubleIntegratorProblem()
		p.Variants[0].Dynamics = saturatingActuator{LinearSystem: doubleIntegrator(), limit: 0}
		s := settingsFor(riccati.ILQR, linesearch.LineSearch)
		s.MaxIterations = 50
		s.RegularizationMax = 0.05
		solver, err := ddp.New(p, s)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		sol, err := solver.Run(context.Background(), 0, dynamo.State{1, 0}, horizon, ocp.Uniform(0, horizon, 2))
		Expect(errors.Is(err, dynamo.ErrLineSearchFailed)).To(BeTrue())
		var se *dynamo.SolveError
		Expect(errors.As(err, &se)).To(BeTrue())
		Expect(se.Phase).To(Equal(dynamo.PhaseStepSize))
		Expect(se.Partition).To(Equal(-1))
		Expect(se.Regularization).To(BeNumerically(">", 0))
		Expect(se.Regularization).To(BeNumerically("<=", s.RegularizationMax))

		Expect(sol.Status).To(Equal(ocp.StatusFailed))
		Expect(sol.Iterations).To(BeNumerically("<", s.MaxIterations))

		log := solver.IterationLog()
		Expect(log).To(HaveLen(sol.Iterations + 1))
		for i, entry := range log[1:] {
			Expect(entry.Accepted).To(BeFalse(), "iteration %d", entry.Iteration)
			if i > 0 {
				Expect(entry.Regularization).To(BeNumerically(">", log[i].Regularization))
			}
		}

		// The iteration-0 rollout comes back untouched.
		Expect(sol.Performance.Merit).To(Equal(log[0].Performance.Merit))
		for _, u := range sol.Trajectory.Inputs {
			Expect(u[0]).To(BeZero())
		}
		Expect(sol.Trajectory.FinalState()).To(Equal(dynamo.State{1, 0}))
	})

	It("aborts on model evaluation errors", func() {
		p := models.DoubleIntegratorProblem()
		p.Variants[0].Dynamics = failingDynamics{models.NewLinearSystem(mat.NewDense(2, 2, nil), mat.NewDense(2, 1, nil))}
		solver, err := ddp.New(p, ddp.DefaultSettings())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		sol, err := solver.Run(context.Background(), 0, dynamo.State{1, 0}, horizon, ocp.Uniform(0, horizon, 1))
		Expect(errors.Is(err, dynamo.ErrModelEvaluation)).To(BeTrue())
		Expect(errors.Is(err, errSensor)).To(BeTrue())
		Expect(sol.Status).To(Equal(ocp.StatusFailed))
	})

	It("stops between iterations when canceled", func() {
		solver, err := ddp.New(models.DoubleIntegratorProblem(), ddp.DefaultSettings())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sol, err := solver.Run(ctx, 0, dynamo.State{1, 0}, horizon, ocp.Uniform(0, horizon, 1))
		Expect(err).To(MatchError(context.Canceled))
		Expect(sol.Status).To(Equal(ocp.StatusCanceled))
		Expect(sol.Iterations).To(Equal(0))
		Expect(sol.Empty()).To(BeFalse())
	})

	It("rejects partitions that do not tile the horizon", func() {
		solver, err := ddp.New(models.DoubleIntegratorProblem(), ddp.DefaultSettings())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(solver.Close)

		_, err = solver.Run(context.Background(), 0, dynamo.State{1, 0}, 1, ocp.Partitioning{0, 0.5})
		Expect(errors.Is(err, dynamo.ErrInvalidPartitioning)).To(BeTrue())
	})
})

func doubleIntegrator() *models.LinearSystem {
	return models.NewLinearSystem(
		mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		mat.NewDense(2, 1, []float64{0, 1}),
	)
}

// saturatingActuator blows up whenever |u| exceeds limit.
type saturatingActuator struct {
	*models.LinearSystem
	limit float64
}

func (a saturatingActuator) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if math.Abs(u[0]) > a.limit {
		return dynamo.State{math.NaN(), math.NaN()}, nil
	}
	return a.LinearSystem.Flow(t, x, u)
}

var errSensor = errors.New("sensor model offline")

type failingDynamics struct{ *models.LinearSystem }

func (failingDynamics) Flow(t float64, x dynamo.State, u dynamo.Control) (dynamo.State, error) {
	if t > 0.2 {
		return nil, errSensor
	}
	return make(dynamo.State, 2), nil
}
