// File: ipc/channel.go
// Author: momentics <momentics@gmail.com>
//
// The channel table: id -> channelData and data_fd -> id, kept mutually
// consistent under one mutex. The critical sections do no I/O, so a single
// lock is enough at this scale.

package ipc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// eventSet owns a channel's event fd and caches the event bits currently
// signalled to the client. The event fd is readable while any bit is set;
// clearing the last bit drains it.
type eventSet struct {
	fd   int32
	mask uint32
}

// modifyEvents clears then sets bits in the cached mask, making the event
// fd readable or drained to match. Write/read errors on the (non-blocking)
// eventfd are ignored: a full counter is already readable and an empty one
// already drained.
func (es *eventSet) modifyEvents(clearMask, setMask uint32) {
	old := es.mask
	es.mask = (es.mask &^ clearMask) | setMask
	var buf [8]byte
	switch {
	case old == 0 && es.mask != 0:
		buf[0] = 1
		unix.Write(int(es.fd), buf[:])
	case old != 0 && es.mask == 0:
		unix.Read(int(es.fd), buf[:])
	}
}

// channelData is the endpoint-side bookkeeping for one open channel.
type channelData struct {
	dataFd int32 // the channel's data socket fd; also the byFd key
	events eventSet
	state  interface{}
}

// channelTable is the single-mutex id<->fd map described above.
type channelTable struct {
	mu     sync.Mutex
	byID   map[int32]*channelData
	byFd   map[int32]int32 // data_fd -> id
	nextID int32
}

func newChannelTable() *channelTable {
	return &channelTable{
		byID: make(map[int32]*channelData),
		byFd: make(map[int32]int32),
		// id 0 is never assigned; first allocated id is 1.
		nextID: 1,
	}
}

// allocateLocked finds the next unused id, starting from nextID and
// wrapping past math.MaxInt32 back to 1. Must be called with mu held.
func (t *channelTable) allocateLocked() int32 {
	id := t.nextID
	for {
		if id <= 0 {
			id = 1
		}
		if _, exists := t.byID[id]; !exists {
			break
		}
		id++
	}
	t.nextID = id + 1
	return id
}

// insert registers a new channel with a fresh data fd and event fd,
// returning its allocated id.
func (t *channelTable) insert(dataFd, eventFd int32, state interface{}) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.allocateLocked()
	cd := &channelData{dataFd: dataFd, events: eventSet{fd: eventFd}, state: state}
	t.byID[id] = cd
	t.byFd[dataFd] = id
	return id
}

// remove deletes a channel by id, returning its data/event fds so the
// caller can close them, and reports whether it existed.
func (t *channelTable) remove(id int32) (dataFd, eventFd int32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, exists := t.byID[id]
	if !exists {
		return 0, 0, false
	}
	delete(t.byID, id)
	delete(t.byFd, cd.dataFd)
	return cd.dataFd, cd.events.fd, true
}

// idForFd reports the channel id owning dataFd, if any.
func (t *channelTable) idForFd(dataFd int32) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byFd[dataFd]
	return id, ok
}

// get returns a snapshot of a channel's fds and state by id.
func (t *channelTable) get(id int32) (dataFd, eventFd int32, state interface{}, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, exists := t.byID[id]
	if !exists {
		return 0, 0, nil, false
	}
	return cd.dataFd, cd.events.fd, cd.state, true
}

// modifyEvents applies a clear/set pair to a channel's event set, under
// the table lock, reporting whether the channel exists.
func (t *channelTable) modifyEvents(id int32, clearMask, setMask uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, exists := t.byID[id]
	if !exists {
		return false
	}
	cd.events.modifyEvents(clearMask, setMask)
	return true
}

// setState replaces the opaque per-channel state for id, reporting whether
// the channel still exists.
func (t *channelTable) setState(id int32, state interface{}) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, exists := t.byID[id]
	if !exists {
		return false
	}
	cd.state = state
	return true
}

// forEach calls fn for every live channel, under the table lock. fn must
// not call back into the table.
func (t *channelTable) forEach(fn func(id int32, cd *channelData)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cd := range t.byID {
		fn(id, cd)
	}
}
