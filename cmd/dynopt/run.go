package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/qp"
	"github.com/san-kum/dynopt/internal/riccati"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/viz"
)

const (
	chartWidth  = 60
	chartHeight = 8
)

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	e, cleanup, err := newExperiment(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("solving %s (%s, %s, %d partitions)...\n", cfg.Scenario, cfg.Solver.Algorithm, cfg.Solver.Strategy, cfg.Partitions)
	out, err := e.Solve(cmd.Context())
	if out == nil {
		return err
	}

	styles := viz.NewStyles(viz.ThemeCyberpunk)
	fmt.Println(styles.Summary(cfg.Scenario, out.Solution, out.Metrics))
	if chart := viz.MeritChart(out.Log, chartWidth, chartHeight); chart != "" {
		fmt.Println(chart)
	}
	fmt.Printf("completed in %v\n", out.Elapsed)

	if !noSave && !out.Solution.Empty() {
		id, serr := saveRun(cfg, storage.KindSolve, &storage.Run{
			Metadata: storage.RunMetadata{
				Status:       out.Solution.Status,
				Iterations:   out.Solution.Iterations,
				Performance:  out.Solution.Performance,
				Schedule:     out.Solution.Schedule,
				Metrics:      out.Metrics,
				IterationLog: out.Log,
				Elapsed:      out.Elapsed,
			},
			Trajectory: out.Solution.Trajectory,
			Controller: out.Solution.Controller,
		})
		if serr != nil {
			return serr
		}
		fmt.Printf("run id: %s\n", id)
	}
	return err
}

func saveRun(cfg *config.Config, kind storage.Kind, run *storage.Run) (string, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return "", err
	}
	md := &run.Metadata
	md.Scenario, md.Kind, md.Seed = cfg.Scenario, kind, cfg.Seed
	md.StartTime, md.FinalTime, md.Partitions = cfg.StartTime, cfg.FinalTime, cfg.Partitions
	md.Settings = cfg.Solver
	return st.Save(run)
}

func runMPC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	e, cleanup, err := newExperiment(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("running %s under MPC for %.2fs (horizon %.2fs, replan every %.3fs)...\n",
		cfg.Scenario, cfg.Duration, cfg.MPC.Horizon, cfg.MPC.ReplanPeriod)
	start := time.Now()
	res, err := e.RunMPC(cmd.Context())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	styles := viz.NewStyles(viz.ThemeCyberpunk)
	fmt.Println(styles.ClosedLoop(cfg.Scenario+" mpc", res))
	if res.Trajectory.Len() > 1 {
		fmt.Println(viz.ComponentChart(&res.Trajectory, 0, false, chartWidth, chartHeight))
	}
	fmt.Printf("completed in %v\n", elapsed)

	if baseline, _ := cmd.Flags().GetBool("baseline"); baseline {
		base, err := e.RunBaseline(cmd.Context())
		if err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		printComparison(res.Metrics, base.Metrics)
	}

	if noSave {
		return nil
	}
	status := ocp.StatusConverged
	if res.Failures > 0 {
		status = ocp.StatusFailed
	}
	id, err := saveRun(cfg, storage.KindMPC, &storage.Run{
		Metadata: storage.RunMetadata{
			Status:     status,
			Iterations: res.Solves,
			Metrics:    res.Metrics,
			Elapsed:    elapsed,
		},
		Trajectory: res.Trajectory,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", id)
	return nil
}

func printComparison(mpcMetrics, baseline map[string]float64) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nMETRIC\tMPC\tFROZEN LQR")
	for _, name := range sortedKeys(mpcMetrics) {
		fmt.Fprintf(w, "%s\t%.6g\t%.6g\n", name, mpcMetrics[name], baseline[name])
	}
	w.Flush()
}

func runLive(cmd *cobra.Command, args []string) error {
	if logLevel == "" {
		logLevel = "error"
	}
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	e, cleanup, err := newExperiment(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	fps, _ := cmd.Flags().GetInt("fps")
	speed, _ := cmd.Flags().GetFloat64("speed")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	p := tea.NewProgram(viz.NewLiveModel(cfg.Scenario, cancel), tea.WithAltScreen())
	feed := viz.NewFeed(p.Send, fps, speed)

	m, solver, err := e.NewMPC(mpc.WithCallback(feed.Solution))
	if err != nil {
		return err
	}
	defer solver.Close()
	m.AddObserver(feed)

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := m.Simulate(ctx, cfg.StartTime, e.Instance().InitialState, cfg.Duration)
		p.Send(viz.DoneMsg{Result: res, Err: err})
	}()

	_, err = p.Run()
	cancel()
	<-done
	return err
}

// runVerify checks the solver against the transcribed QP on the solver's
// time grid. SLQ integrates the Riccati equation in continuous time, so its
// reference is the Richardson extrapolation of two QP grids.
func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	tol, _ := cmd.Flags().GetFloat64("tol")
	e, cleanup, err := newExperiment(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := e.Solve(cmd.Context())
	if err != nil {
		return err
	}
	inst := e.Instance()
	t0, tf, dt := cfg.StartTime, cfg.FinalTime, cfg.Solver.TimeStep
	oracle := func(dt float64) (dynamo.Control, dynamo.State, error) {
		n := max(int(math.Round((tf-t0)/dt)), 1)
		prog, err := qp.Transcribe(inst.Problem, inst.Schedule, cfg.Solver.Penalties(), t0, dt, n, inst.InitialState)
		if err != nil {
			return nil, nil, err
		}
		sol, err := prog.Solve()
		if err != nil {
			return nil, nil, err
		}
		return sol.Trajectory.Inputs[0], sol.Trajectory.FinalState(), nil
	}
	u0, xT, err := oracle(dt)
	if err != nil {
		return err
	}
	if cfg.Solver.Algorithm == riccati.SLQ {
		uh, xh, err := oracle(dt / 2)
		if err != nil {
			return err
		}
		floats.AddScaled(floats.ScaleTo(uh, 2, uh), -1, u0)
		floats.AddScaled(floats.ScaleTo(xh, 2, xh), -1, xT)
		u0, xT = uh, xh
	}

	tr := out.Solution.Trajectory
	checks := []struct {
		name           string
		got, reference []float64
	}{
		{"initial input", tr.Inputs[0], u0},
		{"final state", tr.FinalState(), xT},
	}
	fmt.Printf("%s: %s status %s after %d iterations (reference is exact for linear-quadratic problems)\n",
		cfg.Scenario, cfg.Solver.Algorithm, out.Solution.Status, out.Solution.Iterations)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUANTITY\tSOLVER\tREFERENCE\tREL ERR")
	worst := 0.0
	for _, c := range checks {
		rel := floats.Distance(c.got, c.reference, 2) / math.Max(floats.Norm(c.reference, 2), 1e-12)
		worst = math.Max(worst, rel)
		fmt.Fprintf(w, "%s\t%v\t%v\t%.2e\n", c.name, fmtVec(c.got), fmtVec(c.reference), rel)
	}
	w.Flush()
	if worst > tol {
		return fmt.Errorf("relative error %.2e exceeds tolerance %.2e", worst, tol)
	}
	fmt.Println("ok")
	return nil
}

func fmtVec(v []float64) string {
	s := "["
	for i, x := range v {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%.5g", x)
	}
	return s + "]"
}
