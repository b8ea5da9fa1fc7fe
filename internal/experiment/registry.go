package experiment

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/ocp"
)

// Instance is a concrete problem ready to solve.
type Instance struct {
	Problem      *ocp.Problem
	Schedule     ocp.ModeSchedule
	InitialState dynamo.State
	// Target is the regulation point used by tracking metrics.
	Target dynamo.State
	// Energy is set for models with a mechanical energy.
	Energy metrics.Energetic
}

// Scenario builds instances of one problem family.
type Scenario struct {
	Name        string
	Description string
	Build       func(seed int64) (*Instance, error)
}

type Registry struct {
	scenarios map[string]Scenario
}

func NewRegistry() *Registry {
	r := &Registry{scenarios: make(map[string]Scenario)}

	r.Register(Scenario{
		Name:        "double-integrator",
		Description: "regulate a double integrator to the origin",
		Build: func(int64) (*Instance, error) {
			return &Instance{
				Problem:      models.DoubleIntegratorProblem(),
				Schedule:     ocp.SingleMode(0),
				InitialState: dynamo.State{1, 0},
				Target:       dynamo.State{0, 0},
			}, nil
		},
	})
	r.Register(Scenario{
		Name:        "pendulum",
		Description: "swing a torque-limited pendulum to the upright position",
		Build: func(int64) (*Instance, error) {
			p := models.PendulumSwingUpProblem()
			return &Instance{
				Problem:      p,
				Schedule:     ocp.SingleMode(0),
				InitialState: dynamo.State{0, 0},
				Target:       dynamo.State{math.Pi, 0},
				Energy:       models.NewPendulum(),
			}, nil
		},
	})
	r.Register(Scenario{
		Name:        "cartpole",
		Description: "balance the pole over the cart origin",
		Build: func(int64) (*Instance, error) {
			return &Instance{
				Problem:      models.CartPoleBalanceProblem(),
				Schedule:     ocp.SingleMode(0),
				InitialState: dynamo.State{0, 0, 0.2, 0},
				Target:       make(dynamo.State, 4),
			}, nil
		},
	})
	r.Register(Scenario{
		Name:        "drone",
		Description: "fly a planar quadrotor to hover at (1, 2) within thrust limits",
		Build: func(int64) (*Instance, error) {
			return &Instance{
				Problem:      models.DroneHoverProblem(1, 2),
				Schedule:     ocp.SingleMode(0),
				InitialState: make(dynamo.State, 6),
				Target:       dynamo.State{1, 2, 0, 0, 0, 0},
			}, nil
		},
	})
	r.Register(Scenario{
		Name:        "biped",
		Description: "hold a planar biped's posture through a walking contact schedule",
		Build: func(int64) (*Instance, error) {
			const height = 0.8
			b := models.NewPlanarBiped()
			return &Instance{
				Problem:      b.Problem(height),
				Schedule:     b.Gait(0, 0.6, 0.2, 0.1),
				InitialState: dynamo.State{0.05, height - 0.05, 0, 0, 0, 0},
				Target:       dynamo.State{0, height, 0, 0, 0, 0},
			}, nil
		},
	})
	r.Register(Scenario{
		Name:        "random-lq",
		Description: "random constrained linear-quadratic problem (3 states, 2 inputs)",
		Build: func(seed int64) (*Instance, error) {
			rng := rand.New(rand.NewSource(seed))
			p := models.RandomLinearProblem(rng, 3, 2, 1)
			x0 := dynamo.State{rng.Float64() - 0.5, rng.Float64() - 0.5, rng.Float64() - 0.5}
			return &Instance{
				Problem:      p,
				Schedule:     ocp.SingleMode(0),
				InitialState: x0,
				Target:       make(dynamo.State, 3),
			}, nil
		},
	})
	return r
}

func (r *Registry) Register(s Scenario) {
	r.scenarios[s.Name] = s
}

func (r *Registry) Get(name string) (Scenario, error) {
	s, ok := r.scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario: %s", name)
	}
	return s, nil
}

// Build instantiates the named scenario.
func (r *Registry) Build(name string, seed int64) (*Instance, error) {
	s, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	inst, err := s.Build(seed)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return inst, nil
}

func (r *Registry) List() []Scenario {
	out := make([]Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stabilityBound is the per-component deviation from the target that
// counts a closed-loop sample as unstable.
const stabilityBound = 10.0

// DefaultMetrics returns the closed-loop metrics reported for inst.
func (r *Registry) DefaultMetrics(inst *Instance) []dynamo.Metric {
	out := []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewPeakInput(),
	}
	if inst.Target != nil {
		out = append(out,
			metrics.NewStabilityAround(inst.Target, stabilityBound),
			metrics.NewTracking(inst.Target),
			metrics.NewFinalError(inst.Target),
		)
	} else {
		out = append(out, metrics.NewStability(stabilityBound))
	}
	if inst.Energy != nil {
		out = append(out, metrics.NewEnergyDrift(inst.Energy))
	}
	return out
}
