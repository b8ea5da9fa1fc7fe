package dynamo

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Vec returns a gonum view sharing the backing array of s.
func (s State) Vec() *mat.VecDense {
	return mat.NewVecDense(len(s), s)
}

type Control []float64

func (c Control) Clone() Control {
	out := make(Control, len(c))
	copy(out, c)
	return out
}

func (c Control) IsValid() bool {
	return State(c).IsValid()
}

func (c Control) Vec() *mat.VecDense {
	return mat.NewVecDense(len(c), c)
}

// LinearApproximation is the first-order model of a vector function:
// f(x+dx, u+du) ~ F + A dx + B du.
type LinearApproximation struct {
	A *mat.Dense
	B *mat.Dense
	F *mat.VecDense
}

// QuadraticApproximation is the second-order model of a scalar function.
// Lu, Luu and Lux are nil for functions of the state only.
type QuadraticApproximation struct {
	L   float64
	Lx  *mat.VecDense
	Lu  *mat.VecDense
	Lxx *mat.Dense
	Luu *mat.Dense
	Lux *mat.Dense
}

// ConstraintApproximation linearizes a vector constraint as
// Value + Dx dx + Du du. Du is nil for state-only constraints.
type ConstraintApproximation struct {
	Value *mat.VecDense
	Dx    *mat.Dense
	Du    *mat.Dense
}

// Len returns the number of constraint rows; a nil approximation has none.
func (c *ConstraintApproximation) Len() int {
	if c == nil || c.Value == nil {
		return 0
	}
	return c.Value.Len()
}

// SquaredNorm returns the squared Euclidean norm of the constraint value.
func (c *ConstraintApproximation) SquaredNorm() float64 {
	if c.Len() == 0 {
		return 0
	}
	return mat.Dot(c.Value, c.Value)
}

type Dynamics interface {
	StateDim() int
	InputDim() int
	Flow(t float64, x State, u Control) (State, error)
	LinearApproximation(t float64, x State, u Control) (LinearApproximation, error)
}

type Cost interface {
	Cost(t float64, x State, u Control) (float64, error)
	QuadraticApproximation(t float64, x State, u Control) (QuadraticApproximation, error)
}

type FinalCost interface {
	FinalCost(t float64, x State) (float64, error)
	FinalQuadraticApproximation(t float64, x State) (QuadraticApproximation, error)
}

// Constraint evaluators return nil approximations for absent constraint
// classes. Inequalities follow the convention g(t, x, u) >= 0.
type Constraint interface {
	StateInputEquality(t float64, x State, u Control) (*ConstraintApproximation, error)
	StateEquality(t float64, x State) (*ConstraintApproximation, error)
	Inequality(t float64, x State, u Control) (*ConstraintApproximation, error)
}

// System is a closed-loop vector field dX/dt = f(X, t).
type System interface {
	Derive(x State, t float64) (State, error)
}

type SystemFunc func(x State, t float64) (State, error)

func (f SystemFunc) Derive(x State, t float64) (State, error) { return f(x, t) }

type Integrator interface {
	Step(sys System, x State, t float64, dt float64) (State, error)
}

// Tolerance bounds the local error of adaptive integration.
type Tolerance struct {
	Abs float64
	Rel float64
}

type AdaptiveIntegrator interface {
	Integrator
	// StepAdaptive attempts one step of length dt and returns the new state,
	// the suggested next step and whether the step met the tolerance.
	StepAdaptive(sys System, x State, t, dt float64, tol Tolerance) (State, float64, bool, error)
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

// Locate returns the largest index i with times[i] <= t together with the
// interpolation weight towards i+1. Times may repeat at discrete events; a
// query at an event time resolves to the post-event sample.
func Locate(times []float64, t float64) (int, float64) {
	n := len(times)
	if n == 0 {
		return -1, 0
	}
	if t <= times[0] {
		idx := sort.Search(n, func(i int) bool { return times[i] > times[0] }) - 1
		return idx, 0
	}
	if t >= times[n-1] {
		return n - 1, 0
	}
	i := sort.Search(n, func(i int) bool { return times[i] > t }) - 1
	span := times[i+1] - times[i]
	if span <= 0 {
		return i, 0
	}
	return i, (t - times[i]) / span
}

// LocateLeft is the left-continuous counterpart of Locate: a query at an
// event time resolves to the pre-event sample.
func LocateLeft(times []float64, t float64) (int, float64) {
	n := len(times)
	if n == 0 {
		return -1, 0
	}
	if t <= times[0] {
		return 0, 0
	}
	if t > times[n-1] {
		return n - 1, 0
	}
	i := sort.Search(n, func(i int) bool { return times[i] >= t }) - 1
	span := times[i+1] - times[i]
	if span <= 0 {
		return i + 1, 0
	}
	return i, (t - times[i]) / span
}

// Lerp linearly interpolates between a and b into a new vector.
func Lerp(a, b []float64, w float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (1-w)*a[i] + w*b[i]
	}
	return out
}

// CheckDims reports ErrDimensionMismatch when x or u has an unexpected size.
func CheckDims(x State, u Control, nx, nu int) error {
	if len(x) != nx || (u != nil && len(u) != nu) {
		return fmt.Errorf("%w: got state %d input %d, want %d/%d", ErrDimensionMismatch, len(x), len(u), nx, nu)
	}
	return nil
}
