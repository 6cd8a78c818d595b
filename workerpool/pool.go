// Package workerpool provides a bounded concurrency pool used for
// fire-and-forget background work (remote cache pushes) and for any
// batched I/O the wrapper pipeline needs to parallelize. Go spawns one
// goroutine per call, bounded by a semaphore channel and drained through a
// sync.WaitGroup; Run is built on golang.org/x/sync/errgroup.
package workerpool

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs work items with a bounded number of concurrent goroutines. The
// bound is shared across every call to Go for the lifetime of the Pool, not
// reset per call.
//
// Go itself never blocks on the concurrency limit: it always spawns a
// goroutine immediately, which then waits on an internal semaphore before
// running fn. errgroup.Group.SetLimit's own Go blocks the caller once the
// limit is reached, which is wrong for fire-and-forget submission from a
// hot path.
type Pool struct {
	limit int
	sem   chan struct{} // nil when unbounded
	wg    sync.WaitGroup
}

// New creates a Pool that runs at most limit goroutines concurrently. A
// limit of 0 or less means unbounded.
func New(limit int) *Pool {
	p := &Pool{limit: limit}
	if limit > 0 {
		p.sem = make(chan struct{}, limit)
	}
	return p
}

// Default returns a Pool sized for typical background work (remote pushes,
// auxiliary file I/O): max(4, GOMAXPROCS), matching the concurrency the
// original thread pool's default construction used.
func Default() *Pool {
	n := runtime.GOMAXPROCS(0)
	if n < 4 {
		n = 4
	}
	return New(n)
}

// SingleThreaded returns a Pool that runs one goroutine at a time, useful
// for serializing access to a resource (e.g. a single IO device) while
// still going through the same Pool API as concurrent work.
func SingleThreaded() *Pool {
	return New(1)
}

// Go schedules fn to run and returns immediately, never blocking the
// caller even if the pool is already at its concurrency limit: the
// goroutine it spawns waits on the internal semaphore, not the caller.
// fn's error, if any, is swallowed rather than surfaced anywhere: Go is for
// fire-and-forget work; callers that need the result should use Run
// instead.
func (p *Pool) Go(fn func() error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if p.sem != nil {
			p.sem <- struct{}{}
			defer func() { <-p.sem }()
		}
		_ = fn() //nolint:errcheck // fire-and-forget: Go has no error return to give it to
	}()
}

// Wait blocks until every goroutine scheduled via Go has returned. It is
// intended for graceful shutdown, draining pending remote pushes before
// process exit.
func (p *Pool) Wait() error {
	p.wg.Wait()
	return nil
}

// Run runs each of fns with bounded concurrency and returns the first
// error encountered, canceling ctx for the remaining goroutines (the
// errgroup.WithContext idiom). Unlike Go, Run's group is independent of
// the pool's persistent fire-and-forget group.
func (p *Pool) Run(ctx context.Context, fns ...func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}
	return g.Wait()
}
