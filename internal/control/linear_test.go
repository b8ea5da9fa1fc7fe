package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func twoSampleController() *LinearController {
	c := NewLinearController(2)
	c.Append(0, mat.NewDense(1, 2, []float64{-1, 0}), dynamo.Control{1}, dynamo.Control{2})
	c.Append(1, mat.NewDense(1, 2, []float64{-3, 0}), dynamo.Control{3}, dynamo.Control{4})
	return c
}

func TestLinearControllerCompute(t *testing.T) {
	c := twoSampleController()
	x := dynamo.State{1, 5}

	tests := []struct {
		name string
		t    float64
		want float64
	}{
		{"first sample", 0, 1 + 2 - 1},
		{"last sample", 1, 3 + 4 - 3},
		{"midpoint", 0.5, 0.5*(1+2-1) + 0.5*(3+4-3)},
		{"before start clamps", -1, 2},
		{"after end clamps", 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := c.Compute(x, tt.t)
			require.Len(t, u, 1)
			assert.InDelta(t, tt.want, u[0], 1e-12)
		})
	}
}

func TestWithStepScalesDeltaOnly(t *testing.T) {
	c := twoSampleController()
	half := c.WithStep(0.5)

	assert.Equal(t, 1.0, c.Step, "original must be untouched")
	u := half.Compute(dynamo.State{0, 0}, 0)
	assert.InDelta(t, 1+0.5*2, u[0], 1e-12)

	flat := half.Flatten()
	assert.InDelta(t, u[0], flat.Compute(dynamo.State{0, 0}, 0)[0], 1e-12)
	assert.Equal(t, 0.0, flat.Delta[0][0])
}

func TestConcatenateEventResolvesToLaterPartition(t *testing.T) {
	a := NewOpenLoop([]float64{0, 1}, []dynamo.Control{{0}, {0}}, 1)
	b := NewOpenLoop([]float64{1, 2}, []dynamo.Control{{10}, {10}}, 1)
	c := Concatenate([]*LinearController{a, b})

	require.Equal(t, 4, c.Len())
	assert.InDelta(t, 10.0, c.Compute(dynamo.State{0}, 1)[0], 1e-12)
	assert.InDelta(t, 0.0, c.Compute(dynamo.State{0}, 0.999)[0], 1e-12)
}

func TestFreezeAt(t *testing.T) {
	c := twoSampleController()
	l := FreezeAt(c, 0, dynamo.State{0, 0})
	u := l.Compute(dynamo.State{2, 0}, 3)
	assert.InDelta(t, 3-2, u[0], 1e-12)
}
