package control

import "github.com/san-kum/dynopt/internal/dynamo"

// Feedforward ignores the state and returns a scheduled input.
type Feedforward struct {
	Input func(t float64) dynamo.Control
}

func NewFeedforward(input func(t float64) dynamo.Control) *Feedforward {
	return &Feedforward{Input: input}
}

func (f *Feedforward) Compute(x dynamo.State, t float64) dynamo.Control {
	return f.Input(t)
}
