package ocp

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Partitioning holds the boundaries of contiguous time partitions. Partition
// i covers [p[i], p[i+1]].
type Partitioning []float64

// Uniform splits [t0, tf] into n partitions of equal length.
func Uniform(t0, tf float64, n int) Partitioning {
	if n < 1 {
		n = 1
	}
	p := make(Partitioning, n+1)
	for i := 0; i <= n; i++ {
		p[i] = t0 + (tf-t0)*float64(i)/float64(n)
	}
	p[n] = tf
	return p
}

func (p Partitioning) Count() int {
	if len(p) < 2 {
		return 0
	}
	return len(p) - 1
}

func (p Partitioning) Span(i int) (float64, float64) {
	return p[i], p[i+1]
}

// Validate checks that p tiles [t0, tf]. A zero-length horizon is accepted as
// a single zero-length partition.
func (p Partitioning) Validate(t0, tf float64) error {
	if len(p) < 2 {
		return fmt.Errorf("%w: need at least two boundaries", dynamo.ErrInvalidPartitioning)
	}
	if p[0] != t0 || p[len(p)-1] != tf {
		return fmt.Errorf("%w: boundaries [%g, %g] do not match horizon [%g, %g]",
			dynamo.ErrInvalidPartitioning, p[0], p[len(p)-1], t0, tf)
	}
	if t0 == tf {
		if len(p) != 2 {
			return fmt.Errorf("%w: zero-length horizon takes one partition", dynamo.ErrInvalidPartitioning)
		}
		return nil
	}
	for i := 1; i < len(p); i++ {
		if p[i] <= p[i-1] {
			return fmt.Errorf("%w: boundaries not strictly increasing at %d", dynamo.ErrInvalidPartitioning, i)
		}
	}
	return nil
}

// Locate returns the partition containing t; boundary times belong to the
// later partition except at the horizon end.
func (p Partitioning) Locate(t float64) int {
	n := p.Count()
	if n == 0 {
		return -1
	}
	i := sort.Search(len(p), func(i int) bool { return p[i] > t }) - 1
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
