// File: pool/objpool.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import (
	"sync"

	"github.com/momentics/pdxuds/api"
)

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

var _ api.ObjectPool[[]byte] = (*SyncPool[[]byte])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// SlicePool recycles byte slices whose required length varies per use,
// such as request-payload buffers sized by each frame's send_len.
type SlicePool struct {
	inner *SyncPool[[]byte]
}

var _ api.BytePool = (*SlicePool)(nil)

// NewSlicePool creates a SlicePool whose fresh allocations have
// defaultCap capacity.
func NewSlicePool(defaultCap int) *SlicePool {
	return &SlicePool{
		inner: NewSyncPool(func() []byte {
			return make([]byte, 0, defaultCap)
		}),
	}
}

// Acquire returns a slice of exactly n bytes backed by pooled storage when
// a large enough array is available; an undersized pooled array goes back
// to the pool and a fresh allocation takes its place.
func (p *SlicePool) Acquire(n int) []byte {
	buf := p.inner.Get()
	if cap(buf) < n {
		p.inner.Put(buf[:0])
		return make([]byte, n)
	}
	return buf[:n]
}

// Release returns buf's backing array for reuse. Nil slices are ignored.
func (p *SlicePool) Release(buf []byte) {
	if buf == nil {
		return
	}
	p.inner.Put(buf[:0])
}
