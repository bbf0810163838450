// Package parallel provides the worker pool that runs a network's samples.
package parallel

import (
	"fmt"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// DefaultSize returns the number of logical cores.
func DefaultSize() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return 1
}

// Pool is a fixed set of goroutines, each identified by its worker index.
// Every call blocks until all workers are done, so consecutive calls are
// separated by a barrier.
type Pool struct {
	size  int
	tasks []chan func(worker int)
	wg    sync.WaitGroup

	mu       sync.Mutex // serialises Run calls
	panicked interface{}
	pmu      sync.Mutex
	closed   bool
}

// New starts a pool of size workers. A non-positive size selects DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize()
	}
	p := &Pool{size: size, tasks: make([]chan func(int), size)}
	for w := range p.tasks {
		p.tasks[w] = make(chan func(int))
		go p.work(w)
	}
	return p
}

func (p *Pool) work(worker int) {
	for fn := range p.tasks[worker] {
		p.call(fn, worker)
	}
}

func (p *Pool) call(fn func(int), worker int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.pmu.Lock()
			if p.panicked == nil {
				p.panicked = fmt.Errorf("parallel: worker %d: %v", worker, r)
			}
			p.pmu.Unlock()
		}
	}()
	fn(worker)
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Run calls fn once on every worker and waits for all of them. A panic in
// any worker is re-raised in the caller once every worker has returned.
func (p *Pool) Run(fn func(worker int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		panic("parallel: Run on closed pool")
	}
	p.wg.Add(p.size)
	for _, ch := range p.tasks {
		ch <- fn
	}
	p.wg.Wait()

	if r := p.panicked; r != nil {
		p.panicked = nil
		panic(r)
	}
}

// For runs fn for every i in [0, n). Worker w handles the indices with
// i % Size() == w, in increasing order.
func (p *Pool) For(n int, fn func(worker, i int)) {
	if n <= 0 {
		return
	}
	p.Run(func(worker int) {
		for i := worker; i < n; i += p.size {
			fn(worker, i)
		}
	})
}

// Close stops the workers. The pool cannot be used afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.tasks {
		close(ch)
	}
}
