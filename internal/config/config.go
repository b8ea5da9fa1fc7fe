package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/ddp"
	"github.com/san-kum/dynopt/internal/mpc"
)

const (
	DefaultScenario   = "double-integrator"
	DefaultFinalTime  = 1.0
	DefaultPartitions = 2
	DefaultDuration   = 3.0
)

type Config struct {
	Scenario string `yaml:"scenario"`
	// InitialState overrides the scenario's initial state when set.
	InitialState []float64    `yaml:"initial_state,omitempty"`
	StartTime    float64      `yaml:"start_time"`
	FinalTime    float64      `yaml:"final_time"`
	Partitions   int          `yaml:"partitions"`
	Seed         int64        `yaml:"seed"`
	Solver       ddp.Settings `yaml:"solver"`
	MPC          mpc.Settings `yaml:"mpc"`
	// Duration is the closed-loop simulation length.
	Duration float64   `yaml:"duration"`
	Log      LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() *Config {
	return &Config{
		Scenario:   DefaultScenario,
		FinalTime:  DefaultFinalTime,
		Partitions: DefaultPartitions,
		Solver:     ddp.DefaultSettings(),
		MPC:        mpc.DefaultSettings(),
		Duration:   DefaultDuration,
		Log:        LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults; keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.Scenario == "" {
		return fmt.Errorf("config: scenario is required")
	}
	if c.FinalTime < c.StartTime {
		return fmt.Errorf("config: final_time %g precedes start_time %g", c.FinalTime, c.StartTime)
	}
	if c.Partitions < 1 {
		return fmt.Errorf("config: partitions must be at least 1, got %d", c.Partitions)
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("config: solver: %w", err)
	}
	if err := c.MPC.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Clone returns a deep copy, so that presets are never mutated by callers.
func (c *Config) Clone() *Config {
	out := *c
	out.InitialState = append([]float64(nil), c.InitialState...)
	return &out
}
