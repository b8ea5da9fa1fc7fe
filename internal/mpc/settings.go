package mpc

import "fmt"

type Settings struct {
	// Horizon is the length of every solve.
	Horizon    float64 `yaml:"horizon"`
	Partitions int     `yaml:"partitions"`
	// ReplanPeriod is the closed-loop interval between solves in Simulate.
	ReplanPeriod float64 `yaml:"replan_period"`
	// GaitPeriod > 0 repeats the mode schedule, given on [0, GaitPeriod),
	// over every horizon.
	GaitPeriod float64 `yaml:"gait_period"`
	ColdStart  bool    `yaml:"cold_start"`
}

func DefaultSettings() Settings {
	return Settings{
		Horizon:      1,
		Partitions:   2,
		ReplanPeriod: 0.05,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.Horizon <= 0:
		return fmt.Errorf("mpc: horizon must be positive, got %g", s.Horizon)
	case s.Partitions < 1:
		return fmt.Errorf("mpc: partitions must be at least 1, got %d", s.Partitions)
	case s.ReplanPeriod <= 0:
		return fmt.Errorf("mpc: replan_period must be positive, got %g", s.ReplanPeriod)
	case s.GaitPeriod < 0:
		return fmt.Errorf("mpc: gait_period must not be negative, got %g", s.GaitPeriod)
	}
	return nil
}
