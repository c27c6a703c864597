// Package pool runs blocking backend calls on a bounded set of slots shared
// by every pipeline run in the process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the slot count used when Options.Size is not positive.
const DefaultSize = 4

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("pool: closed")

// Options configures a Pool.
type Options struct {
	Size        int
	CallTimeout time.Duration // 0 disables the per-call deadline
}

// Stats is a point-in-time view of slot usage.
type Stats struct {
	Capacity int `json:"capacity"`
	InFlight int `json:"in_flight"`
	Waiting  int `json:"waiting"`
}

// Pool is a fixed-size set of execution slots. Submissions beyond capacity
// wait in arrival order; nothing is retried or dropped.
type Pool struct {
	sem         *semaphore.Weighted
	size        int
	callTimeout time.Duration

	inFlight atomic.Int64
	waiting  atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Pool. It is meant to be created once at startup and shared.
func New(opts Options) *Pool {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		sem:         semaphore.NewWeighted(int64(size)),
		size:        size,
		callTimeout: opts.CallTimeout,
	}
}

// Submit waits for a free slot, runs op on it, and waits for op to finish.
// If ctx ends first the caller gets ctx.Err() right away; the slot is held
// until op itself returns.
func (p *Pool) Submit(ctx context.Context, op func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		p.wg.Done()
		return err
	}

	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.callTimeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
	}

	done := make(chan error, 1)
	p.inFlight.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.inFlight.Add(-1)
		defer cancel()
		done <- run(opCtx, op)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func run(ctx context.Context, op func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

// Do is Submit for operations that produce a value.
func Do[T any](ctx context.Context, p *Pool, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Submit(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Stats reports current usage.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.size,
		InFlight: int(p.inFlight.Load()),
		Waiting:  int(p.waiting.Load()),
	}
}

// Close stops accepting work and waits for accepted submissions to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
