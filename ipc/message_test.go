package ipc

import "testing"

func TestMessageStateReadWriteRoundTrip(t *testing.T) {
	s := newMessageState()
	s.requestData = []byte("hello")

	buf := make([]byte, 3)
	n := s.ReadMessageData(buf)
	if n != 3 || string(buf) != "hel" {
		t.Fatalf("first read: n=%d buf=%q", n, buf)
	}
	buf2 := make([]byte, 10)
	n2 := s.ReadMessageData(buf2)
	if n2 != 2 || string(buf2[:n2]) != "lo" {
		t.Fatalf("second read: n=%d buf=%q", n2, buf2[:n2])
	}
	if n3 := s.ReadMessageData(buf2); n3 != 0 {
		t.Errorf("expected 0 at end of payload, got %d", n3)
	}

	s.WriteMessageData([]byte("HE"))
	s.WriteMessageData([]byte("LLO"))
	if string(s.responseData) != "HELLO" {
		t.Errorf("response data = %q", s.responseData)
	}
}

func TestGetFileHandlePassThroughAndConsume(t *testing.T) {
	s := newMessageState()
	s.requestFds = []OwnedFd{NewOwnedFd(99)}

	h, err := s.GetFileHandle(-1)
	if err != nil || h.Valid() {
		t.Fatalf("negative ref should pass through empty: %v %v", h, err)
	}

	h2, err := s.GetFileHandle(0)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Fd() != 99 {
		t.Errorf("expected fd 99, got %d", h2.Fd())
	}

	// Second materialization of the same ref must yield the empty state.
	h3, err := s.GetFileHandle(0)
	if err != nil {
		t.Fatal(err)
	}
	if h3.Valid() {
		t.Error("expected empty handle on second GetFileHandle for same ref")
	}
}

func TestGetFileHandleOutOfRange(t *testing.T) {
	s := newMessageState()
	if _, err := s.GetFileHandle(5); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestPushFileHandlePassThroughAndAppend(t *testing.T) {
	s := newMessageState()

	if ref := s.PushFileHandle(BorrowedFd(-1)); ref != -1 {
		t.Errorf("expected pass-through -1, got %d", ref)
	}
	ref := s.PushFileHandle(BorrowedFd(7))
	if ref != 0 {
		t.Errorf("expected first allocated ref 0, got %d", ref)
	}
	ref2 := s.PushFileHandle(BorrowedFd(8))
	if ref2 != 1 {
		t.Errorf("expected second allocated ref 1, got %d", ref2)
	}
	if len(s.responseFds) != 2 || s.responseFds[0] != 7 || s.responseFds[1] != 8 {
		t.Errorf("unexpected responseFds: %v", s.responseFds)
	}
}

type fakeChannelManager struct {
	events map[int32]BorrowedFd
}

func (f *fakeChannelManager) CreateHandle(dataFd, eventFd OwnedFd) LocalChannelHandle {
	return LocalChannelHandle{dataFd: dataFd, eventFd: eventFd, value: int32(dataFd.Fd())}
}

func (f *fakeChannelManager) EventFdFor(dataFd int32) (BorrowedFd, bool) {
	ev, ok := f.events[dataFd]
	return ev, ok
}

func (f *fakeChannelManager) Forget(dataFd int32) { delete(f.events, dataFd) }

func TestPushChannelHandleLocalUnknown(t *testing.T) {
	s := newMessageState()
	mgr := &fakeChannelManager{events: map[int32]BorrowedFd{}}
	if _, err := s.PushChannelHandleLocal(BorrowChannel(5), mgr); err != ErrUnknownChannel {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestPushChannelHandleLocalKnown(t *testing.T) {
	s := newMessageState()
	mgr := &fakeChannelManager{events: map[int32]BorrowedFd{5: BorrowedFd(6)}}
	ref, err := s.PushChannelHandleLocal(BorrowChannel(5), mgr)
	if err != nil {
		t.Fatal(err)
	}
	if ref != 0 {
		t.Errorf("expected ref 0, got %d", ref)
	}
	got := s.responseChannels[0]
	if got.DataFd != 5 || got.EventFd != 6 {
		t.Errorf("unexpected outgoing channel info: %+v", got)
	}
}

func TestPushChannelHandleRaw(t *testing.T) {
	s := newMessageState()
	if _, err := s.PushChannelHandleRaw(BorrowedFd(-1), BorrowedFd(9)); err != ErrUnknownChannel {
		t.Errorf("expected ErrUnknownChannel for invalid borrow, got %v", err)
	}
	ref, err := s.PushChannelHandleRaw(BorrowedFd(3), BorrowedFd(4))
	if err != nil {
		t.Fatal(err)
	}
	if ref != 0 {
		t.Errorf("expected ref 0, got %d", ref)
	}
}

func TestGetChannelHandlePassThroughAndConsume(t *testing.T) {
	s := newMessageState()
	s.requestChannels = []receivedChannel{{DataFd: NewOwnedFd(11), EventFd: NewOwnedFd(12)}}
	mgr := &fakeChannelManager{events: map[int32]BorrowedFd{}}

	h, err := s.GetChannelHandle(-1, mgr)
	if err != nil || !h.Empty() {
		t.Fatalf("negative ref should pass through empty: %+v %v", h, err)
	}

	h2, err := s.GetChannelHandle(0, mgr)
	if err != nil {
		t.Fatal(err)
	}
	if h2.dataFd.Fd() != 11 || h2.eventFd.Fd() != 12 {
		t.Errorf("unexpected materialized handle: %+v", h2)
	}
	if s.requestChannels[0].DataFd.Valid() {
		t.Error("expected requestChannels entry cleared after materialization")
	}

	if _, err := s.GetChannelHandle(5, mgr); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestPushChannelHandleRemotePassThrough(t *testing.T) {
	s := newMessageState()
	ref := s.PushChannelHandleRemote(RemoteChannelHandle{Value: -3})
	if ref != -3 {
		t.Errorf("expected pass-through -3, got %d", ref)
	}
	if len(s.responseChannels) != 0 {
		t.Error("remote handle must not allocate a response list entry")
	}
}
