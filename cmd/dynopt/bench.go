package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/automation"
	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/optim"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/telemetry"
)

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	params, _ := cmd.Flags().GetStringArray("param")
	workers, _ := cmd.Flags().GetInt("workers")
	if len(params) == 0 {
		params = []string{"algorithm=slq,ilqr", "strategy=line-search,trust-region"}
	}
	axes := make([]optim.Axis, len(params))
	for i, p := range params {
		if axes[i], err = optim.ParseAxis(p); err != nil {
			return err
		}
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := experiment.NewRegistry()
	solve := func(ctx context.Context, c *config.Config) (ocp.PrimalSolution, error) {
		e, err := experiment.New(reg, c, experiment.WithLogger(logger.With(zap.String("solver", string(c.Solver.Algorithm)))))
		if err != nil {
			return ocp.PrimalSolution{}, err
		}
		out, err := e.Solve(ctx)
		if out == nil {
			return ocp.PrimalSolution{}, err
		}
		return out.Solution, err
	}

	grid := optim.NewGrid(axes...)
	fmt.Printf("benchmarking %s over %d settings with %d workers...\n", cfg.Scenario, len(grid.Points()), workers)
	runs, err := grid.Benchmark(cmd.Context(), cfg, workers, solve)
	if err != nil {
		return err
	}

	best, ok := optim.Best(runs)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARAMS\tSTATUS\tITERS\tMERIT\tTIME\t")
	for _, r := range runs {
		marker := ""
		if ok && sameParams(r, best) {
			marker = "*"
		}
		status := string(r.Status)
		if r.Err != nil {
			status = "error: " + r.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.6g\t%v\t%s\n",
			formatParams(r), status, r.Iterations, r.Performance.Merit, r.Elapsed.Round(100*time.Microsecond), marker)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no setting converged")
	}
	fmt.Printf("\nbest: %s\n", formatParams(best))
	return nil
}

func formatParams(r optim.Run) string {
	parts := make([]string, 0, len(r.Params))
	for _, k := range r.Keys() {
		parts = append(parts, k+"="+r.Params[k])
	}
	return strings.Join(parts, " ")
}

func sameParams(a, b optim.Run) bool {
	return formatParams(a) == formatParams(b)
}

func runBatch(cmd *cobra.Command, args []string) error {
	b, err := automation.LoadBatch(args[0])
	if err != nil {
		return err
	}
	level := logLevel
	if level == "" {
		level = "info"
	}
	logger, err := telemetry.NewLogger(level, logJSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	results, err := automation.RunBatch(cmd.Context(), b, experiment.NewRegistry(), logger)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSCENARIO\tKIND\tRESULT")
	failed := 0
	for i, r := range results {
		var summary string
		switch {
		case r.Err != nil:
			failed++
			summary = "error: " + r.Err.Error()
		case r.Outcome != nil:
			summary = fmt.Sprintf("%s in %d iterations, merit %.6g", r.Outcome.Solution.Status, r.Outcome.Solution.Iterations, r.Outcome.Solution.Performance.Merit)
		case r.ClosedLoop != nil:
			summary = fmt.Sprintf("%d solves, %d failed, final |x| %.4g", r.ClosedLoop.Solves, r.ClosedLoop.Failures, r.ClosedLoop.Trajectory.FinalState().Norm())
		}
		kind := r.Step.Kind
		if kind == "" {
			kind = storage.KindSolve
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.Step.Scenario, kind, summary)
	}
	w.Flush()
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed", failed, len(results))
	}
	return nil
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	f := cmd.Flags()
	trials, _ := f.GetInt("trials")
	perturb, _ := f.GetFloat64("perturb")
	workers, _ := f.GetInt("workers")
	bound, _ := f.GetFloat64("bound")

	fmt.Printf("running %d closed-loop trials of %s (perturbation ±%g)...\n", trials, cfg.Scenario, perturb)
	results, err := automation.RunMonteCarlo(cmd.Context(), automation.MonteCarloConfig{
		Base:         cfg,
		Perturbation: perturb,
		Trials:       trials,
		Seed:         cfg.Seed,
		Workers:      workers,
		Bound:        bound,
	}, experiment.NewRegistry())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tx0\tFINAL |x|\tFAILED SOLVES\tSTABLE")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%d\t%s\t-\t-\terror: %v\n", r.TrialID, fmtVec(r.InitialState), r.Err)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%.4g\t%d\t%t\n", r.TrialID, fmtVec(r.InitialState), r.FinalState.Norm(), r.Failures, r.Stable)
	}
	w.Flush()
	stable, unstable := automation.MonteCarloStats(results)
	fmt.Printf("\nstable: %d  unstable: %d\n", stable, unstable)
	return nil
}
