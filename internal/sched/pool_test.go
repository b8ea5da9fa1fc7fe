package sched

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVisitsEveryIndexOnce(t *testing.T) {
	p := NewPool(3)
	defer p.Close()

	for _, n := range []int{0, 1, 3, 17} {
		hits := make([]int32, n)
		err := p.Run(n, func(worker, i int) error {
			atomic.AddInt32(&hits[i], 1)
			return nil
		})
		require.NoError(t, err)
		for i, h := range hits {
			assert.Equal(t, int32(1), h, "index %d", i)
		}
	}
}

func TestRunIsABarrier(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	var finished atomic.Int32
	for phase := 0; phase < 5; phase++ {
		require.NoError(t, p.Run(8, func(worker, i int) error {
			finished.Add(1)
			return nil
		}))
		assert.Equal(t, int32(8*(phase+1)), finished.Load())
	}
}

func TestWorkerIDsAreInRange(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var mu sync.Mutex
	seen := map[int]bool{}
	require.NoError(t, p.Run(20, func(worker, i int) error {
		mu.Lock()
		seen[worker] = true
		mu.Unlock()
		return nil
	}))
	for w := range seen {
		assert.True(t, w >= 0 && w < p.Size())
	}
}

func TestRunCombinesErrors(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	errA := errors.New("partition 1 failed")
	errB := errors.New("partition 3 failed")
	err := p.Run(4, func(worker, i int) error {
		switch i {
		case 1:
			return errA
		case 3:
			return errB
		}
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestRunRecoversPanics(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	err := p.Run(3, func(worker, i int) error {
		if i == 2 {
			panic("singular stage")
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task 2 panicked: singular stage")

	// The pool survives the panic.
	assert.NoError(t, p.Run(3, func(worker, i int) error { return nil }))
}

func TestClose(t *testing.T) {
	p := NewPool(0)
	assert.Positive(t, p.Size())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Run(1, func(worker, i int) error { return nil }), ErrClosed)
}

func TestArena(t *testing.T) {
	a := NewArena(3, func(i int) []float64 { return make([]float64, i+1) })
	require.Equal(t, 3, a.Len())
	assert.Len(t, *a.At(2), 3)

	(*a.At(0))[0] = 7
	a.Resize(5, func(i int) []float64 { return []float64{float64(i)} })
	assert.Equal(t, 7.0, a.Slots()[0][0])
	assert.Equal(t, []float64{4}, a.Slots()[4])

	a.Resize(1, nil)
	assert.Equal(t, 1, a.Len())
}
