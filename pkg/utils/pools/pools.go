// Package pools recycles scratch slices on hot numeric paths.
package pools

import "sync"

// SlicePool is a pool of slices with a minimum capacity
type SlicePool[T any] struct {
	pool sync.Pool
	size int
}

// NewSlicePool creates a pool whose fresh slices have capacity size
func NewSlicePool[T any](size int) *SlicePool[T] {
	p := &SlicePool[T]{size: size}
	p.pool.New = func() any {
		s := make([]T, 0, size)
		return &s
	}
	return p
}

// Get returns an empty slice with capacity of at least n
func (p *SlicePool[T]) Get(n int) []T {
	s := *(p.pool.Get().(*[]T))
	if cap(s) < n {
		return make([]T, 0, max(n, p.size))
	}
	return s[:0]
}

// Put returns a slice to the pool. Undersized slices are left to the GC.
func (p *SlicePool[T]) Put(s []T) {
	if cap(s) < p.size {
		return
	}
	s = s[:0]
	p.pool.Put(&s)
}

// Float64s is shared by return and statistics computations
var Float64s = NewSlicePool[float64](512)
