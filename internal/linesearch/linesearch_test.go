package linesearch

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/ocp"
	"github.com/san-kum/dynopt/internal/sched"
)

func TestSteps(t *testing.T) {
	s := DefaultSettings()
	steps := s.Steps()
	require.Len(t, steps, 14)
	assert.Equal(t, 1.0, steps[0])
	assert.InDelta(t, math.Pow(0.5, 13), steps[13], 1e-15)
	for i := 1; i < len(steps); i++ {
		assert.Less(t, steps[i], steps[i-1])
	}

	s.Strategy = TrustRegion
	assert.Equal(t, []float64{1}, s.Steps())

	s = Settings{Strategy: LineSearch, MinStep: 0.25, ContractionRate: 0.5}
	assert.Equal(t, []float64{1, 0.5, 0.25}, s.Steps())
}

func TestSufficient(t *testing.T) {
	s := DefaultSettings()
	s.ArmijoCoefficient = 0.1
	tests := []struct {
		name              string
		alpha, merit, dec float64
		want              bool
	}{
		{"decrease meets armijo", 1, 8.9, 10, true},
		{"decrease below armijo", 1, 9.5, 10, false},
		{"smaller step relaxes test", 0.25, 9.7, 10, true},
		{"negative prediction needs no increase", 1, 10, -3, true},
		{"increase", 1, 10.1, 0, false},
		{"nan", 1, math.NaN(), 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Sufficient(10, tt.dec, tt.alpha, tt.merit))
		})
	}
}

// quadraticMerit is 10 - 4α + 2α², minimal at α = 1.
func quadraticMerit(alpha float64) float64 {
	return 10 - 4*alpha + 2*alpha*alpha
}

func TestSearchAcceptsLargestStep(t *testing.T) {
	pool := sched.NewPool(3)
	defer pool.Close()
	s := DefaultSettings()

	eval := func(worker int, alpha float64) Trial {
		if alpha > 0.3 {
			return Trial{Alpha: alpha, Err: dynamo.ErrRunaway}
		}
		return Trial{Alpha: alpha, Performance: ocp.PerformanceIndex{Merit: quadraticMerit(alpha)}}
	}
	best, tried, err := s.Search(pool, 10, 2, eval)
	require.NoError(t, err)
	assert.Equal(t, 0.25, best.Alpha)
	// The first batch (1, 0.5, 0.25) already holds the answer.
	assert.Len(t, tried, 3)
}

func TestSearchFails(t *testing.T) {
	pool := sched.NewPool(4)
	defer pool.Close()
	s := Settings{Strategy: LineSearch, MinStep: 0.1, ContractionRate: 0.5, ArmijoCoefficient: 1e-4}

	eval := func(worker int, alpha float64) Trial {
		return Trial{Alpha: alpha, Performance: ocp.PerformanceIndex{Merit: 11}}
	}
	_, tried, err := s.Search(pool, 10, 1, eval)
	assert.True(t, errors.Is(err, dynamo.ErrLineSearchFailed))
	assert.Len(t, tried, 4)
}

func TestTrustRegionTakesFullStep(t *testing.T) {
	pool := sched.NewPool(2)
	defer pool.Close()
	s := DefaultSettings()
	s.Strategy = TrustRegion

	var alphas []float64
	eval := func(worker int, alpha float64) Trial {
		alphas = append(alphas, alpha)
		return Trial{Alpha: alpha, Performance: ocp.PerformanceIndex{Merit: 9}}
	}
	best, _, err := s.Search(pool, 10, 1, eval)
	require.NoError(t, err)
	assert.Equal(t, 1.0, best.Alpha)
	assert.Equal(t, []float64{1}, alphas)
}

func TestParseStrategy(t *testing.T) {
	st, err := ParseStrategy("trust-region")
	require.NoError(t, err)
	assert.Equal(t, TrustRegion, st)
	_, err = ParseStrategy("newton")
	assert.Error(t, err)
}
