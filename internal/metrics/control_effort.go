package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// ControlEffort is the time integral of |u|² by the trapezoidal rule.
// Repeated times, as at mode events, add nothing.
type ControlEffort struct {
	integral float64
	prevT    float64
	prevSq   float64
	started  bool
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(x dynamo.State, u dynamo.Control, t float64) {
	sq := 0.0
	for _, v := range u {
		sq += v * v
	}
	if c.started {
		c.integral += 0.5 * (c.prevSq + sq) * (t - c.prevT)
	}
	c.prevT, c.prevSq, c.started = t, sq, true
}

func (c *ControlEffort) Value() float64 { return c.integral }

func (c *ControlEffort) Reset() { *c = ControlEffort{} }

// PeakInput is the largest input magnitude seen.
type PeakInput struct {
	peak float64
}

func NewPeakInput() *PeakInput { return &PeakInput{} }

func (p *PeakInput) Name() string { return "peak_input" }

func (p *PeakInput) Observe(x dynamo.State, u dynamo.Control, t float64) {
	for _, val := range u {
		p.peak = math.Max(p.peak, math.Abs(val))
	}
}

func (p *PeakInput) Value() float64 { return p.peak }

func (p *PeakInput) Reset() { p.peak = 0 }
