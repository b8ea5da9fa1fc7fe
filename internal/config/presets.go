package config

import (
	"sort"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/linesearch"
	"github.com/san-kum/dynopt/internal/mpc"
	"github.com/san-kum/dynopt/internal/riccati"
)

func solver(mutate func(*ddp.Settings)) ddp.Settings {
	s := ddp.DefaultSettings()
	mutate(&s)
	return s
}

func horizon(h float64, parts int, replan float64) mpc.Settings {
	s := mpc.DefaultSettings()
	s.Horizon, s.Partitions, s.ReplanPeriod = h, parts, replan
	return s
}

var Presets = map[string]map[string]*Config{
	"double-integrator": {
		"slq": {
			Scenario: "double-integrator", FinalTime: 1, Partitions: 2, Duration: 3,
			Solver: ddp.DefaultSettings(), MPC: horizon(1, 2, 0.05),
		},
		"ilqr": {
			Scenario: "double-integrator", FinalTime: 1, Partitions: 2, Duration: 3,
			Solver: solver(func(s *ddp.Settings) {
				s.Algorithm = riccati.ILQR
				s.Integrator = integrators.NameEuler
			}),
			MPC: horizon(1, 2, 0.05),
		},
		"trust-region": {
			Scenario: "double-integrator", FinalTime: 1, Partitions: 4, Duration: 3,
			Solver: solver(func(s *ddp.Settings) { s.Strategy = linesearch.TrustRegion }),
			MPC:    horizon(1, 4, 0.05),
		},
	},
	"pendulum": {
		"swing-up": {
			Scenario: "pendulum", FinalTime: 3, Partitions: 4, Duration: 5,
			Solver: solver(func(s *ddp.Settings) {
				s.TimeStep = 0.02
				s.MaxIterations = 30
			}),
			MPC: horizon(2, 4, 0.05),
		},
		"swing-up-ilqr": {
			Scenario: "pendulum", FinalTime: 3, Partitions: 4, Duration: 5,
			Solver: solver(func(s *ddp.Settings) {
				s.Algorithm = riccati.ILQR
				s.Integrator = integrators.NameRK4
				s.TimeStep = 0.02
				s.MaxIterations = 30
			}),
			MPC: horizon(2, 4, 0.05),
		},
	},
	"cartpole": {
		"balance": {
			Scenario: "cartpole", InitialState: []float64{0, 0, 0.3, 0}, FinalTime: 2, Partitions: 2, Duration: 5,
			Solver: solver(func(s *ddp.Settings) { s.TimeStep = 0.02 }),
			MPC:    horizon(1.5, 2, 0.05),
		},
	},
	"drone": {
		"hover": {
			Scenario: "drone", FinalTime: 2, Partitions: 4, Duration: 4,
			Solver: solver(func(s *ddp.Settings) {
				s.TimeStep = 0.02
				s.MaxIterations = 20
			}),
			MPC: horizon(1.5, 3, 0.05),
		},
	},
	"biped": {
		"walk": {
			Scenario: "biped", FinalTime: 1.2, Partitions: 4, Duration: 2.4,
			Solver: solver(func(s *ddp.Settings) {
				s.TimeStep = 0.02
				s.MaxIterations = 10
			}),
			MPC: func() mpc.Settings {
				m := horizon(0.6, 3, 0.05)
				m.GaitPeriod = 0.6
				return m
			}(),
		},
	},
	"random-lq": {
		"constrained": {
			Scenario: "random-lq", FinalTime: 1, Partitions: 2, Duration: 2, Seed: 7,
			Solver: solver(func(s *ddp.Settings) {
				s.Algorithm = riccati.ILQR
				s.Integrator = integrators.NameEuler
			}),
			MPC: horizon(1, 2, 0.1),
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(scenario, preset string) *Config {
	scenarioPresets, ok := Presets[scenario]
	if !ok {
		return nil
	}
	cfg, ok := scenarioPresets[preset]
	if !ok {
		return nil
	}
	out := cfg.Clone()
	out.Log = LogConfig{Level: "info"}
	return out
}

// ListPresets returns the preset names of a scenario in sorted order.
func ListPresets(scenario string) []string {
	scenarioPresets, ok := Presets[scenario]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scenarioPresets))
	for name := range scenarioPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scenarios lists every scenario with presets.
func Scenarios() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
