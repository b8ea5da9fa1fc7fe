// Package sched runs the per-partition phases of a solve on a fixed set of
// worker goroutines.
//
// A [Pool] is created once per solver and reused for every iteration. Each
// call to [Pool.Run] is one phase: it hands out task indices and returns only
// after every task finished, so consecutive phases never overlap. Tasks write
// their results into their own slot of an [Arena] and share nothing else.
package sched

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

var ErrClosed = errors.New("sched: pool is closed")

// TaskFunc runs task index on the given worker. Worker ids are in
// [0, Size()) and stable for the lifetime of the pool, so callers may keep
// per-worker scratch state.
type TaskFunc func(worker, index int) error

type task struct {
	index int
	fn    TaskFunc
	errs  []error
	done  *sync.WaitGroup
}

type Pool struct {
	size    int
	tasks   chan task
	workers sync.WaitGroup
	closed  atomic.Bool
	once    sync.Once
	mu      sync.RWMutex
}

// NewPool starts size workers. A non-positive size uses GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	p := &Pool{size: size, tasks: make(chan task, size)}
	p.workers.Add(size)
	for w := 0; w < size; w++ {
		go p.work(w)
	}
	return p
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) work(worker int) {
	defer p.workers.Done()
	for t := range p.tasks {
		t.errs[t.index] = call(worker, t)
		t.done.Done()
	}
}

func call(worker int, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sched: task %d panicked: %v\n%s", t.index, r, debug.Stack())
		}
	}()
	return t.fn(worker, t.index)
}

// Run executes fn for every index in [0, n) and waits for all of them. The
// returned error combines every task error in index order. Run must not be
// called from inside a task.
func (p *Pool) Run(n int, fn TaskFunc) error {
	if n <= 0 {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}

	errs := make([]error, n)
	var done sync.WaitGroup
	done.Add(n)
	for i := 0; i < n; i++ {
		p.tasks <- task{index: i, fn: fn, errs: errs, done: &done}
	}
	done.Wait()
	return multierr.Combine(errs...)
}

// Close stops the workers after in-flight phases complete. It is safe to
// call more than once.
func (p *Pool) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		close(p.tasks)
		p.mu.Unlock()
		p.workers.Wait()
	})
	return nil
}
