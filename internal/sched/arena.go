package sched

// Arena holds one pre-allocated slot per partition. During a phase task i
// touches only slot i.
type Arena[T any] struct {
	slots []T
}

// NewArena allocates n slots initialized by init; a nil init leaves zero
// values.
func NewArena[T any](n int, init func(i int) T) *Arena[T] {
	a := &Arena[T]{}
	a.Resize(n, init)
	return a
}

func (a *Arena[T]) Len() int { return len(a.slots) }

// At returns a pointer to slot i.
func (a *Arena[T]) At(i int) *T { return &a.slots[i] }

// Slots exposes the backing slice in partition order.
func (a *Arena[T]) Slots() []T { return a.slots }

// Resize keeps the first min(n, Len()) slots and initializes any new ones.
func (a *Arena[T]) Resize(n int, init func(i int) T) {
	old := len(a.slots)
	if n <= old {
		a.slots = a.slots[:n]
		return
	}
	grown := make([]T, n)
	copy(grown, a.slots)
	a.slots = grown
	if init == nil {
		return
	}
	for i := old; i < n; i++ {
		a.slots[i] = init(i)
	}
}
