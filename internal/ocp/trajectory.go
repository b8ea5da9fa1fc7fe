package ocp

import "github.com/san-kum/dynopt/internal/dynamo"

// Trajectory is a time-ordered sequence of samples. At a mode event the time
// appears twice: the pre-event sample followed by the post-event sample,
// whose index is recorded in PostEventIndices.
type Trajectory struct {
	Times            []float64
	States           []dynamo.State
	Inputs           []dynamo.Control
	Modes            []int
	PostEventIndices []int
}

func NewTrajectory(capacity int) Trajectory {
	return Trajectory{
		Times:  make([]float64, 0, capacity),
		States: make([]dynamo.State, 0, capacity),
		Inputs: make([]dynamo.Control, 0, capacity),
		Modes:  make([]int, 0, capacity),
	}
}

func (tr *Trajectory) Len() int { return len(tr.Times) }

func (tr *Trajectory) Append(t float64, x dynamo.State, u dynamo.Control, mode int) {
	tr.Times = append(tr.Times, t)
	tr.States = append(tr.States, x)
	tr.Inputs = append(tr.Inputs, u)
	tr.Modes = append(tr.Modes, mode)
}

// MarkEvent records that the last appended sample is a post-event sample.
func (tr *Trajectory) MarkEvent() {
	tr.PostEventIndices = append(tr.PostEventIndices, len(tr.Times)-1)
}

func (tr *Trajectory) FinalState() dynamo.State {
	if len(tr.States) == 0 {
		return nil
	}
	return tr.States[len(tr.States)-1]
}

func (tr *Trajectory) FinalTime() float64 {
	if len(tr.Times) == 0 {
		return 0
	}
	return tr.Times[len(tr.Times)-1]
}

// StateAt linearly interpolates the state at t.
func (tr *Trajectory) StateAt(t float64) dynamo.State {
	i, w := dynamo.Locate(tr.Times, t)
	if i < 0 {
		return nil
	}
	if w == 0 || i+1 >= len(tr.States) {
		return tr.States[i].Clone()
	}
	return dynamo.Lerp(tr.States[i], tr.States[i+1], w)
}

// InputAt linearly interpolates the input at t.
func (tr *Trajectory) InputAt(t float64) dynamo.Control {
	i, w := dynamo.Locate(tr.Times, t)
	if i < 0 {
		return nil
	}
	if w == 0 || i+1 >= len(tr.Inputs) {
		return tr.Inputs[i].Clone()
	}
	return dynamo.Lerp(tr.Inputs[i], tr.Inputs[i+1], w)
}

// Concatenate joins partition trajectories. The first sample of every later
// partition duplicates the final sample of its predecessor and replaces it,
// unless the modes differ, in which case the boundary is an event and both
// samples are kept.
func Concatenate(parts []Trajectory) Trajectory {
	total := 0
	for _, p := range parts {
		total += p.Len()
	}
	out := NewTrajectory(total)
	for k, p := range parts {
		event := false
		if k > 0 && out.Len() > 0 && p.Len() > 0 && out.Modes[out.Len()-1] != p.Modes[0] {
			event = true
		} else if k > 0 && out.Len() > 0 && p.Len() > 0 {
			last := out.Len() - 1
			out.Times = out.Times[:last]
			out.States = out.States[:last]
			out.Inputs = out.Inputs[:last]
			out.Modes = out.Modes[:last]
			if n := len(out.PostEventIndices); n > 0 && out.PostEventIndices[n-1] == last {
				out.PostEventIndices = out.PostEventIndices[:n-1]
			}
		}
		offset := out.Len()
		if event {
			out.PostEventIndices = append(out.PostEventIndices, offset)
		}
		out.Times = append(out.Times, p.Times...)
		out.States = append(out.States, p.States...)
		out.Inputs = append(out.Inputs, p.Inputs...)
		out.Modes = append(out.Modes, p.Modes...)
		for _, idx := range p.PostEventIndices {
			out.PostEventIndices = append(out.PostEventIndices, idx+offset)
		}
	}
	return out
}
