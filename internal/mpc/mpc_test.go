package mpc_test

import (
	"context"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/riccati"
)

func newSolver(p *ocp.Problem, opts ...ddp.Option) *ddp.Solver {
	s := ddp.DefaultSettings()
	s.Algorithm = riccati.ILQR
	s.TimeStep = 0.02
	s.MaxIterations = 5
	solver, err := ddp.New(p, s, opts...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(solver.Close)
	return solver
}

var _ = Describe("MPC", func() {
	var (
		solver   *ddp.Solver
		settings mpc.Settings
	)

	BeforeEach(func() {
		solver = newSolver(models.DoubleIntegratorProblem())
		settings = mpc.DefaultSettings()
		settings.Horizon = 0.5
		settings.ReplanPeriod = 0.1
	})

	It("has no solution before the first advance", func() {
		m, err := mpc.New(solver, settings)
		Expect(err).NotTo(HaveOccurred())
		_, err = m.Solution()
		Expect(err).To(MatchError(dynamo.ErrNoSolution))
	})

	It("publishes every solution to pollers and the callback", func() {
		var pushed atomic.Int32
		m, err := mpc.New(solver, settings,
			mpc.WithLogger(zaptest.NewLogger(GinkgoT())),
			mpc.WithCallback(func(ocp.PrimalSolution) { pushed.Add(1) }))
		Expect(err).NotTo(HaveOccurred())

		first, err := m.Advance(context.Background(), 0, dynamo.State{1, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Trajectory.Times[0]).To(Equal(0.0))
		Expect(first.Trajectory.FinalTime()).To(BeNumerically("~", 0.5, 1e-12))

		x := first.Trajectory.StateAt(0.1)
		second, err := m.Advance(context.Background(), 0.1, x)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Trajectory.Times[0]).To(Equal(0.1))
		Expect(second.Trajectory.FinalTime()).To(BeNumerically("~", 0.6, 1e-12))
		// The shifted warm start is already close to optimal.
		Expect(second.Iterations).To(BeNumerically("<=", first.Iterations))

		latest, err := m.Solution()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest.Trajectory.Times).To(Equal(second.Trajectory.Times))
		Expect(m.Solves()).To(Equal(2))
		Expect(pushed.Load()).To(BeEquivalentTo(2))

		m.Reset()
		_, err = m.Solution()
		Expect(err).To(MatchError(dynamo.ErrNoSolution))
	})

	It("regulates the plant in closed loop", func() {
		m, err := mpc.New(solver, settings)
		Expect(err).NotTo(HaveOccurred())
		effort := metrics.NewControlEffort()
		final := metrics.NewFinalError(dynamo.State{0, 0})
		m.AddMetric(effort)
		m.AddMetric(final)

		x0 := dynamo.State{1, 0}
		res, err := m.Simulate(context.Background(), 0, x0, 2)
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Solves).To(Equal(20))
		Expect(res.Failures).To(BeZero())
		Expect(res.Trajectory.Times[0]).To(Equal(0.0))
		Expect(res.Trajectory.FinalTime()).To(BeNumerically("~", 2, 1e-9))
		Expect(res.Trajectory.FinalState().Norm()).To(BeNumerically("<", 0.75*x0.Norm()))
		Expect(res.Metrics).To(HaveKey("control_effort"))
		Expect(res.Metrics["control_effort"]).To(BeNumerically(">", 0))
		Expect(res.Metrics["final_error"]).To(BeNumerically("<", x0.Norm()))
	})

	It("does better than holding the operating point", func() {
		m, err := mpc.New(solver, settings)
		Expect(err).NotTo(HaveOccurred())
		track := metrics.NewTracking(dynamo.State{0, 0})
		m.AddMetric(track)

		closed, err := m.Simulate(context.Background(), 0, dynamo.State{1, 0}, 1)
		Expect(err).NotTo(HaveOccurred())

		hold := solver.Problem().OperatingPoints
		_, u := hold.At(0, 0)
		open, err := m.SimulatePolicy(context.Background(), constant(u), 0, dynamo.State{1, 0}, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(closed.Metrics["tracking_rms"]).To(BeNumerically("<", open.Metrics["tracking_rms"]))
	})

	It("stops when the context is canceled", func() {
		m, err := mpc.New(solver, settings)
		Expect(err).NotTo(HaveOccurred())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = m.Simulate(ctx, 0, dynamo.State{1, 0}, 1)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("repeats a periodic gait over every horizon", func() {
		b := models.NewPlanarBiped()
		cycle := b.Gait(0, 0.6, 0.2, 0.1)
		gaitSolver := newSolver(b.Problem(0.8), ddp.WithModeSchedule(cycle))
		settings.Horizon = 0.3
		settings.GaitPeriod = 0.6
		m, err := mpc.New(gaitSolver, settings)
		Expect(err).NotTo(HaveOccurred())

		// Right stance, then the next cycle's double stance at 0.6 and left
		// stance at 0.7.
		sol, err := m.Advance(context.Background(), 0.5, dynamo.State{0, 0.8, 0, 0, 0, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(sol.Schedule).To(Equal(m.Schedule(0.5, 0.5+settings.Horizon)))
		Expect(sol.Schedule.Modes).To(Equal([]int{models.RightStance, models.DoubleStance, models.LeftStance}))
		Expect(sol.Schedule.ModeAt(0.75)).To(Equal(models.LeftStance))
		Expect(sol.Trajectory.PostEventIndices).NotTo(BeEmpty())
	})
})

type constant dynamo.Control

func (c constant) Compute(dynamo.State, float64) dynamo.Control {
	return dynamo.Control(c).Clone()
}
