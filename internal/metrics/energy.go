package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Energetic models expose their mechanical energy.
type Energetic interface {
	Energy(x dynamo.State) float64
}

// EnergyDrift is the largest relative deviation of the energy from its
// first observed value.
type EnergyDrift struct {
	model    Energetic
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift(model Energetic) *EnergyDrift {
	return &EnergyDrift{model: model}
}

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(x dynamo.State, u dynamo.Control, t float64) {
	energy := e.model.Energy(x)
	if e.samples == 0 {
		e.initial = energy
	}
	e.samples++
	if e.initial != 0 {
		e.maxDrift = math.Max(e.maxDrift, math.Abs(energy-e.initial)/math.Abs(e.initial))
	}
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() {
	e.initial = 0
	e.maxDrift = 0
	e.samples = 0
}
