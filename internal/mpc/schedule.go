package mpc

import (
	"math"

	"github.com/san-kum/dynopt/internal/ocp"
)

// tile repeats the gait cycle base, defined on [0, period), over [t0, tf].
// A cycle boundary is an event only when the mode changes across it.
func tile(base ocp.ModeSchedule, period, t0, tf float64) ocp.ModeSchedule {
	first := math.Floor(t0 / period)
	modes := []int{base.ModeAt(t0 - first*period)}
	var events []float64
	push := func(t float64, mode int) {
		if t <= t0 || t >= tf || mode == modes[len(modes)-1] {
			return
		}
		events = append(events, t)
		modes = append(modes, mode)
	}
	for k := first; k*period < tf; k++ {
		start := k * period
		push(start, base.ModeAt(0))
		for i, te := range base.EventTimes {
			if te > 0 && te < period {
				push(start+te, base.Modes[i+1])
			}
		}
	}
	return ocp.ModeSchedule{EventTimes: events, Modes: modes}
}
