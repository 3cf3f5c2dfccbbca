// Package pool provides reusable-object pools for decode buffers and
// parser scratch objects. Pools are explicit instances owned by their
// component, never process-wide singletons, so multiple independent
// clients can coexist in one process.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a typed checkout/return pool. A checked-out object is exclusively
// owned by the holder until returned. Exhaustion is never an error: a miss
// allocates a fresh object and is only visible in the stats.
type Pool[T any] struct {
	inner sync.Pool
	alloc func() T
	reset func(T)

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a pool. reset is applied on every return and may be nil.
func New[T any](alloc func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		alloc: alloc,
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	v := p.inner.Get()
	if v == nil {
		p.misses.Add(1)
		return p.alloc()
	}
	p.hits.Add(1)
	return v.(T)
}

func (p *Pool[T]) Put(v T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.inner.Put(v)
}

// Stats reports checkout hits and misses since creation.
func (p *Pool[T]) Stats() (hits, misses int64) {
	return p.hits.Load(), p.misses.Load()
}
