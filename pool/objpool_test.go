// File: pool/objpool_test.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "testing"

func TestSyncPoolRoundTrip(t *testing.T) {
	p := NewSyncPool(func() int { return 42 })
	if got := p.Get(); got != 42 {
		t.Fatalf("expected creator value 42, got %d", got)
	}
	p.Put(7)
	// sync.Pool gives no retrieval guarantee, but whatever comes back must
	// be one of the values that went in (or a fresh creation).
	got := p.Get()
	if got != 7 && got != 42 {
		t.Errorf("unexpected pooled value %d", got)
	}
}

func TestSlicePoolExactLength(t *testing.T) {
	p := NewSlicePool(64)

	buf := p.Acquire(10)
	if len(buf) != 10 || cap(buf) < 10 {
		t.Fatalf("unexpected slice shape: len=%d cap=%d", len(buf), cap(buf))
	}
	p.Release(buf)

	big := p.Acquire(1024)
	if len(big) != 1024 {
		t.Fatalf("expected oversized request honored, got len=%d", len(big))
	}
	p.Release(big)

	p.Release(nil) // must be a no-op
}
