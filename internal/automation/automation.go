// Package automation runs scripted batches of solves and Monte Carlo
// robustness studies of the closed loop.
package automation

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/storage"
)

// Batch is a scripted sequence of runs.
type Batch struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step is one run of a batch: a scenario, optionally a preset, and the kind
// of run. Overrides are applied on top as a config document.
type Step struct {
	Scenario  string       `yaml:"scenario"`
	Preset    string       `yaml:"preset"`
	Kind      storage.Kind `yaml:"kind"`
	Overrides yaml.Node    `yaml:"overrides"`
}

// LoadBatch reads a batch file. Unknown keys are rejected.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var b Batch
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("automation: %s: %w", path, err)
	}
	if len(b.Steps) == 0 {
		return nil, fmt.Errorf("automation: %s has no steps", path)
	}
	return &b, nil
}

// Config resolves the step's configuration.
func (s Step) Config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if s.Preset != "" {
		if cfg = config.GetPreset(s.Scenario, s.Preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset %s for %s", s.Preset, s.Scenario)
		}
	}
	cfg.Scenario = s.Scenario
	if !s.Overrides.IsZero() {
		if err := s.Overrides.Decode(cfg); err != nil {
			return nil, fmt.Errorf("overrides: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// StepResult holds what one step produced. Exactly one of Outcome and
// ClosedLoop is set unless Err is.
type StepResult struct {
	Step       Step
	Outcome    *experiment.Outcome
	ClosedLoop *mpc.Result
	Err        error
}

// RunBatch executes the steps in order. Step failures are recorded and the
// batch continues; cancellation stops it.
func RunBatch(ctx context.Context, b *Batch, reg *experiment.Registry, logger *zap.Logger) ([]StepResult, error) {
	results := make([]StepResult, 0, len(b.Steps))
	for i, step := range b.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		logger.Info("batch step", zap.String("batch", b.Name), zap.Int("step", i+1),
			zap.Int("of", len(b.Steps)), zap.String("scenario", step.Scenario), zap.String("kind", string(step.Kind)))
		res := StepResult{Step: step}
		res.Outcome, res.ClosedLoop, res.Err = runStep(ctx, step, reg, logger)
		if res.Err != nil {
			logger.Warn("batch step failed", zap.Int("step", i+1), zap.Error(res.Err))
		}
		results = append(results, res)
	}
	return results, nil
}

func runStep(ctx context.Context, step Step, reg *experiment.Registry, logger *zap.Logger) (*experiment.Outcome, *mpc.Result, error) {
	cfg, err := step.Config()
	if err != nil {
		return nil, nil, err
	}
	e, err := experiment.New(reg, cfg, experiment.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	switch step.Kind {
	case storage.KindSolve, "":
		out, err := e.Solve(ctx)
		return out, nil, err
	case storage.KindMPC:
		res, err := e.RunMPC(ctx)
		return nil, res, err
	default:
		return nil, nil, fmt.Errorf("unknown kind %q", step.Kind)
	}
}

// MonteCarloConfig perturbs the initial state of Base uniformly by up to
// ±Perturbation per component and runs the closed loop for each trial.
type MonteCarloConfig struct {
	Base         *config.Config
	Perturbation float64
	Trials       int
	Seed         int64
	Workers      int
	// Bound is the state norm above which a trial counts as unstable.
	Bound float64
}

type MonteCarloResult struct {
	TrialID      int
	InitialState dynamo.State
	FinalState   dynamo.State
	Metrics      map[string]float64
	Failures     int
	Stable       bool
	Err          error
}

// RunMonteCarlo runs the trials concurrently. The perturbations depend only
// on Seed, so results are reproducible whatever the worker count.
func RunMonteCarlo(ctx context.Context, cfg MonteCarloConfig, reg *experiment.Registry) ([]MonteCarloResult, error) {
	if cfg.Trials < 1 {
		return nil, fmt.Errorf("automation: need at least one trial, got %d", cfg.Trials)
	}
	inst, err := reg.Build(cfg.Base.Scenario, cfg.Base.Seed)
	if err != nil {
		return nil, err
	}
	base := inst.InitialState
	if cfg.Base.InitialState != nil {
		base = dynamo.State(cfg.Base.InitialState)
	}
	bound := cfg.Bound
	if bound <= 0 {
		bound = 1e6
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	starts := make([]dynamo.State, cfg.Trials)
	for i := range starts {
		starts[i] = base.Clone()
		for j := range starts[i] {
			starts[i][j] += (rng.Float64() - 0.5) * 2 * cfg.Perturbation
		}
	}

	results := make([]MonteCarloResult, cfg.Trials)
	eg, ctx := errgroup.WithContext(ctx)
	if cfg.Workers > 0 {
		eg.SetLimit(cfg.Workers)
	}
	for i, x0 := range starts {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = runTrial(ctx, reg, cfg.Base, i, x0, bound)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func runTrial(ctx context.Context, reg *experiment.Registry, base *config.Config, id int, x0 dynamo.State, bound float64) MonteCarloResult {
	res := MonteCarloResult{TrialID: id, InitialState: x0}
	cfg := base.Clone()
	cfg.InitialState = x0
	e, err := experiment.New(reg, cfg)
	if err != nil {
		res.Err = err
		return res
	}
	cl, err := e.RunMPC(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.FinalState = cl.Trajectory.FinalState()
	res.Metrics = cl.Metrics
	res.Failures = cl.Failures
	n := res.FinalState.Norm()
	res.Stable = !math.IsNaN(n) && n < bound
	return res
}

// MonteCarloStats counts stable trials; errored trials count as unstable.
func MonteCarloStats(results []MonteCarloResult) (stableCount int, unstableCount int) {
	for _, r := range results {
		if r.Stable && r.Err == nil {
			stableCount++
		} else {
			unstableCount++
		}
	}
	return
}
