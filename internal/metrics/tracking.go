package metrics

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Tracking is the RMS distance of the state to a target, optionally
// restricted to a subset of state indices.
type Tracking struct {
	target  dynamo.State
	indices []int
	sumSq   float64
	samples int
}

func NewTracking(target dynamo.State, indices ...int) *Tracking {
	return &Tracking{target: target.Clone(), indices: indices}
}

func (tr *Tracking) Name() string { return "tracking_rms" }

func (tr *Tracking) Observe(x dynamo.State, u dynamo.Control, t float64) {
	var d float64
	if len(tr.indices) == 0 {
		for i := range x {
			e := x[i] - tr.target[i]
			d += e * e
		}
	} else {
		for _, i := range tr.indices {
			e := x[i] - tr.target[i]
			d += e * e
		}
	}
	tr.sumSq += d
	tr.samples++
}

func (tr *Tracking) Value() float64 {
	if tr.samples == 0 {
		return 0
	}
	return math.Sqrt(tr.sumSq / float64(tr.samples))
}

func (tr *Tracking) Reset() {
	tr.sumSq = 0
	tr.samples = 0
}

// FinalError is the distance to the target at the last observed sample.
type FinalError struct {
	target dynamo.State
	last   float64
}

func NewFinalError(target dynamo.State) *FinalError {
	return &FinalError{target: target.Clone()}
}

func (f *FinalError) Name() string { return "final_error" }

func (f *FinalError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	f.last = x.Sub(f.target).Norm()
}

func (f *FinalError) Value() float64 { return f.last }

func (f *FinalError) Reset() { f.last = 0 }
