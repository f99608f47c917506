package ipc

import "testing"

func TestDefaultChannelManagerRoundTrip(t *testing.T) {
	mgr := NewDefaultChannelManager(4)

	handle := mgr.CreateHandle(NewOwnedFd(10), NewOwnedFd(11))
	if handle.value != 10 {
		t.Fatalf("expected handle value 10, got %d", handle.value)
	}

	ev, ok := mgr.EventFdFor(10)
	if !ok || ev.Int() != 11 {
		t.Fatalf("expected event fd 11, got %d ok=%v", ev.Int(), ok)
	}

	borrow := handle.Borrow()
	if borrow.Value() != 10 || !borrow.Valid() {
		t.Errorf("unexpected borrow: %+v", borrow)
	}

	mgr.Forget(10)
	if _, ok := mgr.EventFdFor(10); ok {
		t.Error("expected EventFdFor to fail after Forget")
	}
}

func TestBorrowedChannelHandleValidity(t *testing.T) {
	if !BorrowChannel(0).Valid() {
		t.Error("channel 0 borrow should be valid (only negative values are the sentinel)")
	}
	if BorrowChannel(-1).Valid() {
		t.Error("negative borrow should be invalid")
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[uint32]uint32{1: 1, 2: 2, 3: 4, 5: 8, 16: 16, 17: 32}
	for in, want := range cases {
		if got := nextPowerOfTwo(in); got != want {
			t.Errorf("nextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}
