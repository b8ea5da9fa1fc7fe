package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/riccati"
	"github.com/san-kum/dynopt/internal/telemetry"
)

var (
	dataDir     string
	configFile  string
	preset      string
	logLevel    string
	logJSON     bool
	metricsAddr string

	algorithm     string
	strategy      string
	integrator    string
	finalTime     float64
	partitions    int
	maxIterations int
	threads       int
	seed          int64
	duration      float64
	horizon       float64
	replanPeriod  float64
	noSave        bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dynopt",
		Short:         "multi-mode optimal control with SLQ/ILQR and MPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".dynopt", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "log as JSON")

	solveCmd := &cobra.Command{
		Use:   "solve [scenario]",
		Short: "solve the optimal control problem once",
		Args:  cobra.ExactArgs(1),
		RunE:  runSolve,
	}
	solverFlags(solveCmd)

	mpcCmd := &cobra.Command{
		Use:   "mpc [scenario]",
		Short: "run the closed loop under model predictive control",
		Args:  cobra.ExactArgs(1),
		RunE:  runMPC,
	}
	solverFlags(mpcCmd)
	mpcFlags(mpcCmd)
	mpcCmd.Flags().Bool("baseline", false, "also run a frozen-gain LQR for comparison")

	liveCmd := &cobra.Command{
		Use:   "live [scenario]",
		Short: "run MPC with a live terminal view",
		Args:  cobra.ExactArgs(1),
		RunE:  runLive,
	}
	solverFlags(liveCmd)
	mpcFlags(liveCmd)
	liveCmd.Flags().Int("fps", 30, "frame rate")
	liveCmd.Flags().Float64("speed", 1, "simulated seconds per wall second (0 runs unpaced)")

	verifyCmd := &cobra.Command{
		Use:   "verify [scenario]",
		Short: "compare the solver with the transcribed QP solution",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	solverFlags(verifyCmd)
	verifyCmd.Flags().Float64("tol", 5e-3, "relative tolerance")

	benchCmd := &cobra.Command{
		Use:   "bench [scenario]",
		Short: "benchmark solver settings over a parameter grid",
		Args:  cobra.ExactArgs(1),
		RunE:  runBench,
	}
	solverFlags(benchCmd)
	benchCmd.Flags().StringArray("param", nil, "grid axis as key=v1,v2 (repeatable)")
	benchCmd.Flags().Int("workers", 2, "concurrent solves")

	batchCmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "run a scripted batch of solves and closed loops",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	monteCarloCmd := &cobra.Command{
		Use:   "montecarlo [scenario]",
		Short: "closed-loop robustness over perturbed initial states",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	solverFlags(monteCarloCmd)
	mpcFlags(monteCarloCmd)
	monteCarloCmd.Flags().Int("trials", 20, "number of trials")
	monteCarloCmd.Flags().Float64("perturb", 0.1, "maximum perturbation per state component")
	monteCarloCmd.Flags().Int("workers", 4, "concurrent trials")
	monteCarloCmd.Flags().Float64("bound", 1e6, "state norm counted as unstable")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "summarize a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "write PNG plots of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().String("out", "", "output directory (default: the run directory)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run data to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().String("out", "-", "output file, - for stdout")

	presetsCmd := &cobra.Command{
		Use:   "presets [scenario]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "list scenarios",
		Run: func(cmd *cobra.Command, args []string) {
			for _, s := range experiment.NewRegistry().List() {
				fmt.Printf("%-20s %s\n", s.Name, s.Description)
			}
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write the default (or preset) configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  initConfig,
	}
	initCmd.Flags().String("scenario", config.DefaultScenario, "scenario for --preset")

	rootCmd.AddCommand(solveCmd, mpcCmd, liveCmd, verifyCmd, benchCmd, batchCmd, monteCarloCmd, listCmd, showCmd, plotCmd, exportJSONCmd, presetsCmd, scenariosCmd, initCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func solverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&algorithm, "algorithm", "", "slq or ilqr")
	f.StringVar(&strategy, "strategy", "", "line-search or trust-region")
	f.StringVar(&integrator, "integrator", "", "rollout integrator")
	f.Float64Var(&finalTime, "final-time", config.DefaultFinalTime, "horizon end")
	f.IntVar(&partitions, "partitions", config.DefaultPartitions, "time partitions")
	f.IntVar(&maxIterations, "max-iter", 0, "maximum iterations")
	f.IntVar(&threads, "threads", 0, "worker threads")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.BoolVar(&noSave, "no-save", false, "do not store the run")
}

func mpcFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64Var(&duration, "time", config.DefaultDuration, "closed-loop duration")
	f.Float64Var(&horizon, "horizon", 0, "MPC horizon length")
	f.Float64Var(&replanPeriod, "replan", 0, "replanning period")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// loadConfig layers the configuration: defaults or preset, then the config
// file, then flags the user set explicitly.
func loadConfig(cmd *cobra.Command, scenario string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.Scenario = scenario
	if preset != "" {
		p := config.GetPreset(scenario, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(scenario))
		}
		cfg = p
	}
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		cfg.Scenario = scenario
	}

	f := cmd.Flags()
	if f.Changed("algorithm") {
		cfg.Solver.Algorithm = riccati.Algorithm(algorithm)
	}
	if f.Changed("strategy") {
		cfg.Solver.Strategy = linesearch.Strategy(strategy)
	}
	if f.Changed("integrator") {
		cfg.Solver.Integrator = integrator
	}
	if f.Changed("final-time") {
		cfg.FinalTime = finalTime
	}
	if f.Changed("partitions") {
		cfg.Partitions = partitions
	}
	if f.Changed("max-iter") {
		cfg.Solver.MaxIterations = maxIterations
	}
	if f.Changed("threads") {
		cfg.Solver.Threads = threads
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	if f.Changed("time") {
		cfg.Duration = duration
	}
	if f.Changed("horizon") {
		cfg.MPC.Horizon = horizon
	}
	if f.Changed("replan") {
		cfg.MPC.ReplanPeriod = replanPeriod
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logJSON {
		cfg.Log.JSON = true
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return telemetry.NewLogger(cfg.Log.Level, cfg.Log.JSON)
}

// newExperiment wires logging and solver metrics into an experiment. The
// returned cleanup flushes the logger and stops the metrics endpoint.
func newExperiment(ctx context.Context, cfg *config.Config) (*experiment.Experiment, func(), error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	reg := prometheus.NewRegistry()
	solverMetrics, err := telemetry.NewSolverMetrics(reg)
	if err != nil {
		return nil, nil, err
	}
	e, err := experiment.New(experiment.NewRegistry(), cfg,
		experiment.WithLogger(logger),
		experiment.WithRecorder(solverMetrics),
	)
	if err != nil {
		return nil, nil, err
	}
	stopServer := serveMetrics(ctx, reg, logger)
	return e, func() {
		stopServer()
		_ = logger.Sync()
	}, nil
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry, logger *zap.Logger) func() {
	if metricsAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", metricsAddr))
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
