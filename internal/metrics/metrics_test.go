package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/models"
)

var (
	_ dynamo.Metric = (*ControlEffort)(nil)
	_ dynamo.Metric = (*PeakInput)(nil)
	_ dynamo.Metric = (*Tracking)(nil)
	_ dynamo.Metric = (*FinalError)(nil)
	_ dynamo.Metric = (*Stability)(nil)
	_ dynamo.Metric = (*EnergyDrift)(nil)
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, dynamo.Control{1, -2}, 0)
	m.Observe(nil, dynamo.Control{0, 1}, 0.1)
	m.Observe(nil, dynamo.Control{3}, 0.1)

	if got := m.Value(); math.Abs(got-0.3) > 1e-12 {
		t.Errorf("expected effort 0.3, got %f", got)
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero effort after reset")
	}
}

func TestPeakInput(t *testing.T) {
	m := NewPeakInput()
	m.Observe(nil, dynamo.Control{0.5, -3}, 0)
	m.Observe(nil, dynamo.Control{2}, 0)
	if m.Value() != 3 {
		t.Errorf("expected peak 3, got %f", m.Value())
	}
}

func TestTracking(t *testing.T) {
	tests := []struct {
		name    string
		indices []int
		want    float64
	}{
		{"all components", nil, math.Sqrt((25.0 + 1.0) / 2)},
		{"first component", []int{0}, math.Sqrt((9.0 + 1.0) / 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTracking(dynamo.State{1, 1}, tt.indices...)
			m.Observe(dynamo.State{4, 5}, nil, 0)
			m.Observe(dynamo.State{0, 1}, nil, 0.1)
			if got := m.Value(); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestFinalError(t *testing.T) {
	m := NewFinalError(dynamo.State{0, 0})
	m.Observe(dynamo.State{10, 0}, nil, 0)
	m.Observe(dynamo.State{3, 4}, nil, 1)
	if m.Value() != 5 {
		t.Errorf("expected 5, got %f", m.Value())
	}
}

func TestStability(t *testing.T) {
	m := NewStability(1)
	if m.Value() != 1 {
		t.Error("expected full stability without samples")
	}
	m.Observe(dynamo.State{0.5, 0.5}, nil, 0)
	m.Observe(dynamo.State{0.5, 2}, nil, 0)
	m.Observe(dynamo.State{math.NaN(), 0}, nil, 0)
	m.Observe(dynamo.State{0, 0}, nil, 0)
	if m.Value() != 0.5 {
		t.Errorf("expected 0.5, got %f", m.Value())
	}
	if !m.Diverged() {
		t.Error("expected NaN sample to mark divergence")
	}
	m.Reset()
	if m.Diverged() || m.Value() != 1 {
		t.Error("expected reset to clear divergence")
	}
}

func TestStabilityAround(t *testing.T) {
	m := NewStabilityAround(dynamo.State{math.Pi}, 0.5)
	m.Observe(dynamo.State{3, 0.4}, nil, 0)
	m.Observe(dynamo.State{0, 0}, nil, 0.1)
	m.Observe(dynamo.State{math.Pi, 0.6}, nil, 0.2)
	m.Observe(dynamo.State{math.Pi, -0.1}, nil, 0.3)
	if m.Value() != 0.5 {
		t.Errorf("expected 0.5, got %f", m.Value())
	}
	if m.Diverged() {
		t.Error("unexpected divergence")
	}
}

func TestEnergyDrift(t *testing.T) {
	p := models.NewPendulum()
	m := NewEnergyDrift(p)

	x := dynamo.State{math.Pi / 2, 0}
	m.Observe(x, nil, 0)
	m.Observe(x, nil, 0.1)
	if m.Value() != 0 {
		t.Errorf("expected no drift, got %f", m.Value())
	}

	m.Observe(dynamo.State{math.Pi / 2, 1}, nil, 0.2)
	if m.Value() <= 0 {
		t.Error("expected drift after kinetic energy was added")
	}
	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero drift after reset")
	}
}
