// Package sched bounds the number of concurrently executing operator bodies.
//
// A goroutine that executes on behalf of the pool holds a worker token, which
// travels in its context.Context. Blocking on another computation goes through
// Suspend, which hands the token back to the pool for the duration of the wait
// so that pending work can make progress. Pending work is never bounded, only
// running work is.
package sched

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type tokenKey struct{}

// token is a held worker slot. It is owned by one goroutine at a time; the
// atomic only guards against misuse from goroutines spawned with the same
// context.
type token struct {
	pool *Pool
	held atomic.Bool
}

// Pool is a bounded set of worker slots.
type Pool struct {
	size int64
	sem  *semaphore.Weighted

	running   atomic.Int64
	suspended atomic.Int64
	executed  atomic.Int64
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	Workers   int
	Running   int
	Suspended int
	Executed  int64
}

// New returns a pool with n worker slots. n < 1 is treated as 1.
func New(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{
		size: int64(n),
		sem:  semaphore.NewWeighted(int64(n)),
	}
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Stats returns current pool usage.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.size),
		Running:   int(p.running.Load()),
		Suspended: int(p.suspended.Load()),
		Executed:  p.executed.Load(),
	}
}

// Holding reports whether ctx carries a held slot of this pool.
func (p *Pool) Holding(ctx context.Context) bool {
	tok, _ := ctx.Value(tokenKey{}).(*token)
	return tok != nil && tok.pool == p && tok.held.Load()
}

// Run executes fn in a worker slot. If ctx already holds a slot of this pool,
// fn runs in that slot. Otherwise Run blocks until a slot is free or ctx is
// done.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.Holding(ctx) {
		p.executed.Add(1)
		return fn(ctx)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	tok := &token{pool: p}
	tok.held.Store(true)
	p.running.Add(1)
	p.executed.Add(1)
	defer p.release(tok)

	return fn(context.WithValue(ctx, tokenKey{}, tok))
}

// Go runs fn on a new goroutine in its own worker slot. done is invoked with
// the result, including the acquire error if ctx ends before a slot frees up.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context) error, done func(error)) {
	// The new goroutine must not share the caller's slot.
	ctx = context.WithValue(ctx, tokenKey{}, (*token)(nil))
	go func() {
		done(p.Run(ctx, fn))
	}()
}

// Suspend calls wait after handing the caller's slot back to the pool and
// reacquires it afterwards. The context passed to wait holds no slot, so
// work started inside it acquires its own. If ctx holds no slot, wait is
// called directly.
//
// If ctx ends while reacquiring, Suspend returns the error from wait if any,
// otherwise ctx.Err(). The slot then stays released.
func Suspend(ctx context.Context, wait func(ctx context.Context) error) error {
	tok, _ := ctx.Value(tokenKey{}).(*token)
	if tok == nil || !tok.held.CompareAndSwap(true, false) {
		return wait(ctx)
	}
	p := tok.pool
	p.running.Add(-1)
	p.suspended.Add(1)
	p.sem.Release(1)

	err := wait(context.WithValue(ctx, tokenKey{}, (*token)(nil)))

	p.suspended.Add(-1)
	if aerr := p.sem.Acquire(ctx, 1); aerr != nil {
		if err == nil {
			err = aerr
		}
		return err
	}
	tok.held.Store(true)
	p.running.Add(1)
	return err
}

func (p *Pool) release(tok *token) {
	if tok.held.CompareAndSwap(true, false) {
		p.running.Add(-1)
		p.sem.Release(1)
	}
}
