package ipc

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestChannelTableAllocationNeverZeroOrDuplicate(t *testing.T) {
	tbl := newChannelTable()
	seen := make(map[int32]bool)
	for i := int32(0); i < 100; i++ {
		id := tbl.insert(i, i+1000, nil)
		if id == 0 {
			t.Fatal("allocated id 0")
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestChannelTableWraparound(t *testing.T) {
	tbl := newChannelTable()
	tbl.nextID = int32(1<<31 - 1) // math.MaxInt32; the allocation after it wraps
	id := tbl.insert(1, 2, nil)
	if id != 1<<31-1 {
		t.Fatalf("expected MaxInt32, got %d", id)
	}
	id2 := tbl.insert(3, 4, nil)
	if id2 != 1 {
		t.Fatalf("expected wrap to 1, got %d", id2)
	}
}

func TestChannelTableRemoveAndLookup(t *testing.T) {
	tbl := newChannelTable()
	id := tbl.insert(10, 20, "state")

	if _, _, _, ok := tbl.get(id); !ok {
		t.Fatal("expected channel present after insert")
	}
	if got, ok := tbl.idForFd(10); !ok || got != id {
		t.Fatalf("idForFd mismatch: got %d ok=%v", got, ok)
	}

	dataFd, eventFd, ok := tbl.remove(id)
	if !ok || dataFd != 10 || eventFd != 20 {
		t.Fatalf("unexpected remove result: %d %d %v", dataFd, eventFd, ok)
	}
	if _, _, _, ok := tbl.get(id); ok {
		t.Error("channel still present after remove")
	}
	if _, ok := tbl.idForFd(10); ok {
		t.Error("fd mapping still present after remove")
	}
}

func TestChannelTableSetState(t *testing.T) {
	tbl := newChannelTable()
	id := tbl.insert(1, 2, nil)
	if !tbl.setState(id, "attached") {
		t.Fatal("setState on live channel should succeed")
	}
	_, _, state, _ := tbl.get(id)
	if state != "attached" {
		t.Errorf("expected attached state, got %v", state)
	}
	if tbl.setState(id+999, "x") {
		t.Error("setState on unknown channel should fail")
	}
}

func TestEventSetSignalAndDrain(t *testing.T) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fd)

	tbl := newChannelTable()
	id := tbl.insert(100, int32(fd), nil)

	if tbl.modifyEvents(id+1, 0, 1) {
		t.Error("modifyEvents on unknown channel should fail")
	}

	// Setting a bit makes the event fd readable.
	if !tbl.modifyEvents(id, 0, 0x1) {
		t.Fatal("modifyEvents on live channel should succeed")
	}
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil || n != 8 {
		t.Fatalf("expected readable event fd after set: n=%d err=%v", n, err)
	}

	// Set a second bit while the first is still cached: mask stays
	// non-zero, so no extra signal is written.
	unix.Write(fd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	tbl.modifyEvents(id, 0, 0x2)

	// Clearing all bits drains the fd.
	tbl.modifyEvents(id, 0x3, 0)
	if _, err := unix.Read(fd, buf[:]); err != unix.EAGAIN {
		t.Errorf("expected drained event fd (EAGAIN), got %v", err)
	}
}
