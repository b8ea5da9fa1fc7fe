package integrators

import "github.com/san-kum/dynopt/internal/dynamo"

// tableau is an explicit Runge-Kutta scheme: stage i evaluates the flow at
// t + c[i]·dt on x + dt·Σ_j a[i][j]·k_j, and the step is x + dt·Σ_i b[i]·k_i.
type tableau struct {
	a    [][]float64
	b, c []float64
}

var (
	eulerTableau = tableau{
		a: [][]float64{{}},
		b: []float64{1},
		c: []float64{0},
	}
	rk4Tableau = tableau{
		a: [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
		b: []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
		c: []float64{0, 0.5, 0.5, 1},
	}
)

// Explicit is a fixed-step explicit Runge-Kutta integrator. It reuses stage
// buffers between steps and must not be shared between goroutines.
type Explicit struct {
	name   string
	tab    tableau
	stages []dynamo.State
	probe  dynamo.State
}

func NewEuler() *Explicit { return &Explicit{name: NameEuler, tab: eulerTableau} }

func NewRK4() *Explicit { return &Explicit{name: NameRK4, tab: rk4Tableau} }

func (e *Explicit) Name() string { return e.name }

func (e *Explicit) buffers(n int) {
	if len(e.probe) == n && len(e.stages) == len(e.tab.b) {
		return
	}
	e.probe = make(dynamo.State, n)
	e.stages = make([]dynamo.State, len(e.tab.b))
	for i := range e.stages {
		e.stages[i] = make(dynamo.State, n)
	}
}

func (e *Explicit) Step(sys dynamo.System, x dynamo.State, t, dt float64) (dynamo.State, error) {
	e.buffers(len(x))
	for i, row := range e.tab.a {
		copy(e.probe, x)
		for j, aij := range row {
			if aij == 0 {
				continue
			}
			for m := range e.probe {
				e.probe[m] += dt * aij * e.stages[j][m]
			}
		}
		k, err := sys.Derive(e.probe, t+e.tab.c[i]*dt)
		if err != nil {
			return nil, err
		}
		copy(e.stages[i], k)
	}

	out := x.Clone()
	for i, bi := range e.tab.b {
		for m := range out {
			out[m] += dt * bi * e.stages[i][m]
		}
	}
	return out, nil
}
