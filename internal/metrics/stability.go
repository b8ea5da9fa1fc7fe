package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Stability is the fraction of samples inside the box |x_i - c_i| <= bound
// around a center c. Non-finite samples count as outside and mark the run
// diverged.
type Stability struct {
	center   dynamo.State
	bound    float64
	inside   int
	samples  int
	diverged bool
}

// NewStability boxes the state around the origin.
func NewStability(bound float64) *Stability {
	return &Stability{bound: bound}
}

// NewStabilityAround boxes the state around center; missing components of
// center are zero.
func NewStabilityAround(center dynamo.State, bound float64) *Stability {
	return &Stability{center: center.Clone(), bound: bound}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) Observe(x dynamo.State, u dynamo.Control, t float64) {
	s.samples++
	if !x.IsValid() {
		s.diverged = true
		return
	}
	for i, v := range x {
		c := 0.0
		if i < len(s.center) {
			c = s.center[i]
		}
		if math.Abs(v-c) > s.bound {
			return
		}
	}
	s.inside++
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1
	}
	return float64(s.inside) / float64(s.samples)
}

// Diverged reports whether a non-finite state was observed.
func (s *Stability) Diverged() bool { return s.diverged }

func (s *Stability) Reset() {
	s.inside, s.samples, s.diverged = 0, 0, false
}
