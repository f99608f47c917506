// Package pool
// Author: momentics <momentics@gmail.com>
//
// Generic object pooling used by the IPC endpoint to recycle per-message
// scratch buffers (request payload byte slices) across the
// lifetime of an Endpoint. See objpool.go for the sync.Pool-backed
// generic ObjectPool implementation.
package pool
