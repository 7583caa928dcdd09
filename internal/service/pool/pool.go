// Package pool provides the process-wide semaphore that bounds concurrent
// calls to the text generation provider.
package pool

import "context"

// MaxSize is the largest permitted pool.
const MaxSize = 128

// Pool is a counting semaphore. A single Pool is shared by every order
// being generated, so the bound holds across orders, not per order.
type Pool struct {
	sem chan struct{}
}

// New creates a pool with at least one slot and at most MaxSize slots.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	if size > MaxSize {
		size = MaxSize
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Acquire reserves one slot, blocking until a slot is free or ctx is done.
// It returns ctx.Err() if acquisition is aborted.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	<-p.sem
}

// Do runs fn while holding a slot. The slot is released however fn returns.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.sem) }

// InUse returns the number of currently held slots.
func (p *Pool) InUse() int { return len(p.sem) }
