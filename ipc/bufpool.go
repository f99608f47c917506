// File: ipc/bufpool.go
// Author: momentics <momentics@gmail.com>
//
// Request-payload buffers are recycled through a pool.SlicePool: a payload
// buffer lives from recvPayload until the owning MessageState is released,
// so under steady dispatch the same backing arrays cycle between in-flight
// messages instead of being reallocated per frame.

package ipc

import "github.com/momentics/pdxuds/pool"

const payloadPoolDefaultCap = 4096

var payloadBufPool = pool.NewSlicePool(payloadPoolDefaultCap)

// acquirePayloadBuf returns a buffer of exactly n bytes, reusing a pooled
// backing array when it is large enough.
func acquirePayloadBuf(n int) []byte {
	return payloadBufPool.Acquire(n)
}

// releasePayloadBuf returns buf's backing array to the pool for reuse.
func releasePayloadBuf(buf []byte) {
	payloadBufPool.Release(buf)
}
