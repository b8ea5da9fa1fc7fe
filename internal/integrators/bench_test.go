package integrators

import (
	"testing"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func BenchmarkStep(b *testing.B) {
	for _, name := range Names() {
		b.Run(name, func(b *testing.B) {
			integrator, err := New(name)
			if err != nil {
				b.Fatal(err)
			}
			x := dynamo.State{1.0, 0.0}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				x, _ = integrator.Step(dynamo.SystemFunc(harmonic), x, 0, 0.01)
			}
		})
	}
}

// Riccati-sized state: a 4x4 value function flattened with its vector and
// scalar parts.
func riccatiLike(x dynamo.State, t float64) (dynamo.State, error) {
	dx := make(dynamo.State, len(x))
	for i := range x {
		dx[i] = -0.1*x[i] + 0.01*x[(i+1)%len(x)]
	}
	return dx, nil
}

func BenchmarkIntegrateODE45_Riccati4(b *testing.B) {
	x0 := make(dynamo.State, 16+4+1)
	for i := range x0 {
		x0[i] = float64(i) * 0.1
	}
	opts := Options{Tolerance: dynamo.Tolerance{Abs: 1e-10, Rel: 1e-7}, InitialStep: 1e-3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var stats Stats
		_, _ = Integrate(NewRK45(), dynamo.SystemFunc(riccatiLike), x0, 0, 0.01, opts, &stats)
	}
}
