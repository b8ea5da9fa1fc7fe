package ocp

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// ModeSchedule assigns a mode to every time: Modes[i] is active on
// [EventTimes[i-1], EventTimes[i]), with the first and last modes extending
// to the horizon bounds.
type ModeSchedule struct {
	EventTimes []float64 `json:"event_times" yaml:"event_times"`
	Modes      []int     `json:"modes" yaml:"modes"`
}

func SingleMode(mode int) ModeSchedule {
	return ModeSchedule{Modes: []int{mode}}
}

func NewModeSchedule(eventTimes []float64, modes []int) (ModeSchedule, error) {
	s := ModeSchedule{
		EventTimes: append([]float64(nil), eventTimes...),
		Modes:      append([]int(nil), modes...),
	}
	return s, s.Validate()
}

func (s ModeSchedule) Validate() error {
	if len(s.Modes) != len(s.EventTimes)+1 {
		return fmt.Errorf("%w: %d modes for %d events", dynamo.ErrInvalidSchedule, len(s.Modes), len(s.EventTimes))
	}
	for i := 1; i < len(s.EventTimes); i++ {
		if s.EventTimes[i] <= s.EventTimes[i-1] {
			return fmt.Errorf("%w: event times not strictly increasing at %d", dynamo.ErrInvalidSchedule, i)
		}
	}
	for _, m := range s.Modes {
		if m < 0 {
			return fmt.Errorf("%w: negative mode %d", dynamo.ErrInvalidSchedule, m)
		}
	}
	return nil
}

// ModeAt returns the mode active at t. Event times belong to the mode that
// starts there.
func (s ModeSchedule) ModeAt(t float64) int {
	if len(s.Modes) == 0 {
		return 0
	}
	idx := sort.Search(len(s.EventTimes), func(i int) bool { return s.EventTimes[i] > t })
	return s.Modes[idx]
}

// EventsIn returns the event times strictly inside (t0, tf).
func (s ModeSchedule) EventsIn(t0, tf float64) []float64 {
	var out []float64
	for _, te := range s.EventTimes {
		if te > t0 && te < tf {
			out = append(out, te)
		}
	}
	return out
}

// Clip returns the schedule restricted to [t0, tf] so that it spans exactly
// that horizon.
func (s ModeSchedule) Clip(t0, tf float64) ModeSchedule {
	events := s.EventsIn(t0, tf)
	modes := make([]int, 0, len(events)+1)
	modes = append(modes, s.ModeAt(t0))
	for _, te := range events {
		modes = append(modes, s.ModeAt(te))
	}
	return ModeSchedule{EventTimes: events, Modes: modes}
}

// Shift moves every event by dt; used when a periodic gait is replayed.
func (s ModeSchedule) Shift(dt float64) ModeSchedule {
	events := make([]float64, len(s.EventTimes))
	for i, te := range s.EventTimes {
		events[i] = te + dt
	}
	return ModeSchedule{EventTimes: events, Modes: append([]int(nil), s.Modes...)}
}
