// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pooling contracts for per-message scratch reuse. Request payloads are
// sized by each frame's send_len, so the byte-pool contract is
// length-driven rather than capacity-driven, and a payload buffer lives
// for the whole lifetime of its in-flight message, not a single call.

package api

// BytePool recycles payload buffers across in-flight messages.
type BytePool interface {
	// Acquire returns a slice of exactly n bytes. The backing array may
	// be larger and may have carried a previous payload; callers must
	// overwrite all n bytes before reading.
	Acquire(n int) []byte

	// Release returns a buffer for reuse. Call only once the owning
	// message has been completed (replied to or released), and do not
	// retain a reference afterwards.
	Release(buf []byte)
}

// ObjectPool provides generic pooling of transiently allocated Go objects.
type ObjectPool[T any] interface {
	// Get returns an available instance from the pool.
	Get() T

	// Put returns an instance for reuse.
	Put(obj T)
}
