// File: ipc/channelmgr.go
// Author: momentics <momentics@gmail.com>
//
// The client-side channel registry ("Channel Manager") is a collaborator
// the endpoint only ever talks to through the ChannelManager interface,
// injected at construction. DefaultChannelManager is a small sharded
// in-process implementation good enough for same-process loopback (a
// service pushing a channel to itself, or tests); a real client channel
// factory would supply its own.

package ipc

import "sync"

// LocalChannelHandle is a client-side handle over a channel this process
// received (e.g. as the result of PushChannel on some other endpoint, or a
// channel pushed to us inside a reply). It owns both descriptors until
// passed to a ChannelManager or otherwise consumed.
type LocalChannelHandle struct {
	dataFd  OwnedFd
	eventFd OwnedFd
	value   int32 // pass-through sentinel when no descriptors are owned
}

// Empty reports whether the handle owns no descriptors (e.g. a negative
// pass-through value materialized from GetChannelHandle).
func (h *LocalChannelHandle) Empty() bool { return !h.dataFd.Valid() }

// Borrow produces a BorrowedChannelHandle over this handle's channel. The
// borrow's Value is the handle's data_fd number, which doubles as the
// Channel Manager lookup key.
func (h *LocalChannelHandle) Borrow() BorrowedChannelHandle {
	if !h.dataFd.Valid() {
		return BorrowedChannelHandle{value: h.value}
	}
	return BorrowedChannelHandle{value: int32(h.dataFd.Fd())}
}

// Close releases both owned descriptors.
func (h *LocalChannelHandle) Close() {
	h.dataFd.Close()
	h.eventFd.Close()
}

// BorrowedChannelHandle is a non-owning reference to a channel, keyed by
// its data_fd number. Valid handles must not outlive the LocalChannelHandle
// (or registry entry) they were borrowed from.
type BorrowedChannelHandle struct {
	value int32
}

// BorrowChannel wraps a raw data_fd number as a borrowed channel handle.
func BorrowChannel(dataFd int32) BorrowedChannelHandle {
	return BorrowedChannelHandle{value: dataFd}
}

// Valid reports whether the borrow names a real channel.
func (h BorrowedChannelHandle) Valid() bool { return h.value >= 0 }

// Value returns the underlying data_fd number.
func (h BorrowedChannelHandle) Value() int32 { return h.value }

// RemoteChannelHandle is the reference returned by PushChannel: a small
// integer naming a slot in the current message's outgoing channel-info
// list. It carries no descriptors of its own — the endpoint that issued it
// already wrote the descriptors into the reply.
type RemoteChannelHandle struct {
	Value int32
}

// ChannelManager is the client-side channel registry the endpoint consults
// when a message pushes or retrieves a channel that this process holds as
// a client (as opposed to the channel table in channel.go, which tracks
// channels this endpoint serves). Injected at construction so tests can
// substitute a fake (Design Note "Global channel manager").
type ChannelManager interface {
	// CreateHandle registers a freshly received (data_fd, event_fd) pair
	// and returns a client-side handle over it.
	CreateHandle(dataFd, eventFd OwnedFd) LocalChannelHandle

	// EventFdFor looks up the event fd associated with a channel
	// previously registered via CreateHandle, keyed by its data_fd.
	EventFdFor(dataFd int32) (BorrowedFd, bool)

	// Forget removes a channel from the registry once its handle has
	// been consumed (closed or pushed onward).
	Forget(dataFd int32)
}

// DefaultChannelManager is a sharded, mutex-protected in-process
// ChannelManager.
type DefaultChannelManager struct {
	shards []*channelMgrShard
	mask   uint32
}

// The registry holds borrows only: the LocalChannelHandle returned by
// CreateHandle keeps ownership of both descriptors, and a handle must be
// Forgotten before (or when) it is closed.
type channelMgrShard struct {
	mu   sync.RWMutex
	byFd map[int32]BorrowedFd // data_fd -> borrowed event_fd
}

// NewDefaultChannelManager constructs a manager with shardCount shards
// (rounded up to a power of two; 16 if shardCount <= 0).
func NewDefaultChannelManager(shardCount int) *DefaultChannelManager {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*channelMgrShard, n)
	for i := range shards {
		shards[i] = &channelMgrShard{byFd: make(map[int32]BorrowedFd)}
	}
	return &DefaultChannelManager{shards: shards, mask: n - 1}
}

func (m *DefaultChannelManager) shard(dataFd int32) *channelMgrShard {
	return m.shards[uint32(dataFd)&m.mask]
}

// CreateHandle implements ChannelManager.
func (m *DefaultChannelManager) CreateHandle(dataFd, eventFd OwnedFd) LocalChannelHandle {
	fd := int32(dataFd.Fd())
	ev := eventFd.Borrow()
	sh := m.shard(fd)
	sh.mu.Lock()
	sh.byFd[fd] = ev
	sh.mu.Unlock()
	return LocalChannelHandle{dataFd: dataFd, eventFd: eventFd, value: fd}
}

// EventFdFor implements ChannelManager.
func (m *DefaultChannelManager) EventFdFor(dataFd int32) (BorrowedFd, bool) {
	sh := m.shard(dataFd)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	ev, ok := sh.byFd[dataFd]
	if !ok {
		return BorrowedFd(-1), false
	}
	return ev, true
}

// Forget implements ChannelManager.
func (m *DefaultChannelManager) Forget(dataFd int32) {
	sh := m.shard(dataFd)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.byFd, dataFd)
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
