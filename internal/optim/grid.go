// Package optim benchmarks solver settings over a grid of values.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/ocp"
)

// Axis varies one solver setting, named by its YAML key.
type Axis struct {
	Name   string
	Values []string
}

// ParseAxis parses "key=v1,v2,...".
func ParseAxis(s string) (Axis, error) {
	name, values, ok := strings.Cut(s, "=")
	if !ok || name == "" || values == "" {
		return Axis{}, fmt.Errorf("optim: axis %q is not key=v1,v2", s)
	}
	return Axis{Name: strings.TrimSpace(name), Values: strings.Split(values, ",")}, nil
}

type Grid struct {
	axes []Axis
}

func NewGrid(axes ...Axis) *Grid {
	return &Grid{axes: axes}
}

// Points enumerates every combination in row-major order.
func (g *Grid) Points() []map[string]string {
	points := []map[string]string{{}}
	for _, axis := range g.axes {
		next := make([]map[string]string, 0, len(points)*len(axis.Values))
		for _, p := range points {
			for _, v := range axis.Values {
				q := make(map[string]string, len(p)+1)
				for k, pv := range p {
					q[k] = pv
				}
				q[axis.Name] = strings.TrimSpace(v)
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// Apply overlays point onto base through the settings' YAML keys.
func Apply(base ddp.Settings, point map[string]string) (ddp.Settings, error) {
	overlay := make(map[string]any, len(point))
	for k, v := range point {
		var val any
		if err := yaml.Unmarshal([]byte(v), &val); err != nil {
			return base, fmt.Errorf("optim: value %q of %s: %w", v, k, err)
		}
		overlay[k] = val
	}
	data, err := yaml.Marshal(overlay)
	if err != nil {
		return base, err
	}
	out := base
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil {
		return base, fmt.Errorf("optim: apply %v: %w", point, err)
	}
	return out, out.Validate()
}

// Run is one benchmarked solve.
type Run struct {
	Params      map[string]string
	Status      ocp.Status
	Iterations  int
	Performance ocp.PerformanceIndex
	Elapsed     time.Duration
	Err         error
}

// Solver is what the benchmark calls for every grid point.
type Solver func(ctx context.Context, cfg *config.Config) (ocp.PrimalSolution, error)

// Benchmark solves base under every grid point, at most workers at a time.
// Solver errors are recorded per run; only cancellation aborts.
func (g *Grid) Benchmark(ctx context.Context, base *config.Config, workers int, solve Solver) ([]Run, error) {
	points := g.Points()
	runs := make([]Run, len(points))

	eg, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		eg.SetLimit(workers)
	}
	for i, point := range points {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			run := Run{Params: point}
			cfg := base.Clone()
			settings, err := Apply(base.Solver, point)
			if err != nil {
				run.Err = err
			} else {
				cfg.Solver = settings
				start := time.Now()
				sol, err := solve(ctx, cfg)
				run.Elapsed = time.Since(start)
				run.Status, run.Iterations, run.Performance, run.Err = sol.Status, sol.Iterations, sol.Performance, err
			}
			runs[i] = run
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return runs, err
	}
	return runs, nil
}

// Best returns the converged run with the lowest merit, ties broken by
// wall time. ok is false when no run converged.
func Best(runs []Run) (best Run, ok bool) {
	merit := math.Inf(1)
	for _, r := range runs {
		if r.Err != nil || r.Status != ocp.StatusConverged {
			continue
		}
		m := r.Performance.Merit
		if !ok || m < merit-1e-12*math.Abs(merit) || (math.Abs(m-merit) <= 1e-12*math.Abs(merit) && r.Elapsed < best.Elapsed) {
			best, merit, ok = r, m, true
		}
	}
	return best, ok
}

// Keys returns the sorted parameter names of a run.
func (r Run) Keys() []string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
