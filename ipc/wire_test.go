package ipc

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestRequestHeaderRoundTrip(t *testing.T) {
	want := requestHeaderWire{
		Op:           42,
		SendLen:      5,
		MaxRecvLen:   128,
		IsImpulse:    false,
		FdCount:      2,
		ChannelCount: 1,
	}
	copy(want.Impulse[:], "unused")

	got, err := decodeRequestHeader(encodeRequestHeader(&want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestDecodeRequestHeaderTruncated(t *testing.T) {
	if _, err := decodeRequestHeader(make([]byte, requestHeaderWireSize-1)); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	want := responseHeaderWire{RetCode: -1, RecvLen: 7, FdCount: 0, ChannelCount: 0}
	got, err := decodeResponseHeader(encodeResponseHeader(&want))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v want %+v", got, want)
	}
}

// TestSendRecvWithRights exercises the SCM_RIGHTS path over a real
// socketpair: an fd for a pipe's write end is sent alongside the header
// bytes, and the peer recovers a distinct but equally-valid descriptor.
func TestSendRecvWithRights(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(pipeFds[0])
	defer unix.Close(pipeFds[1])

	payload := []byte("header-bytes")
	if err := sendWithRights(fds[0], payload, []int{pipeFds[1]}); err != nil {
		t.Fatal(err)
	}

	data, recvFds, _, err := recvHeaderWithAncillary(fds[1], len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("payload mismatch: got %q want %q", data, payload)
	}
	if len(recvFds) != 1 {
		t.Fatalf("expected 1 received fd, got %d", len(recvFds))
	}
	defer unix.Close(recvFds[0])

	var st1, st2 unix.Stat_t
	if err := unix.Fstat(pipeFds[1], &st1); err != nil {
		t.Fatal(err)
	}
	if err := unix.Fstat(recvFds[0], &st2); err != nil {
		t.Fatal(err)
	}
	if st1.Ino != st2.Ino || st1.Dev != st2.Dev {
		t.Error("received fd does not refer to the same kernel object")
	}
}

func TestRecvHeaderWithAncillaryShutdown(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[1])
	unix.Close(fds[0])

	if _, _, _, err := recvHeaderWithAncillary(fds[1], requestHeaderWireSize); !isErrno(err, unix.ESHUTDOWN) {
		t.Errorf("expected ESHUTDOWN, got %v", err)
	}
}
