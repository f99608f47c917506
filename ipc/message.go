// File: ipc/message.go
// Author: momentics <momentics@gmail.com>
//
// Message and MessageState: the per-in-flight-request scratch the
// dispatcher-facing API operates on. Each in-flight message owns exactly
// one MessageState, freed when the reply is sent (or, for impulses, when
// the dispatcher calls Release).

package ipc

import (
	"fmt"

	"github.com/momentics/pdxuds/api"
)

// Reserved opcodes. All other opcode values are opaque to the endpoint.
const (
	OpChannelOpen  int32 = -1
	OpChannelClose int32 = -2
)

// IMPULSE_MESSAGE_ID is the sentinel message id carried by impulses, which
// are one-way and never replied to.
const IMPULSE_MESSAGE_ID int64 = -1

// FileReference indexes into a message's outgoing fd list. A negative
// value is a pass-through sentinel carrying a raw fd number unchanged.
type FileReference int32

// ChannelReference indexes into a message's outgoing channel-info list.
// A negative value passes through unchanged.
type ChannelReference int32

// MessageInfo is the immutable header info a dispatched Message carries.
type MessageInfo struct {
	PID     int32
	TID     int32
	CID     int32 // channel id
	MID     int64 // message id, or IMPULSE_MESSAGE_ID
	EUID    int32
	EGID    int32
	Op      int32
	Flags   int32
	Service api.Service
	Channel api.Channel
	SendLen uint32
	RecvLen uint32 // max_recv_len from the request
	FDCount int
	Impulse [ImpulsePayloadSize]byte
}

// Message is handed to the service dispatcher for each request frame (or
// synthesized for a channel close). Its State is mutable scratch owned
// exclusively by this Message until the dispatcher calls MessageReply.
type Message struct {
	MessageInfo
	State *MessageState
}

// ChannelId returns the channel this message belongs to.
func (m *Message) ChannelId() int32 { return m.CID }

// Release frees the message's scratch state. MessageReply does this
// implicitly; dispatchers must call it themselves for impulse messages,
// which are one-way and never replied to. Safe to call more than once.
func (m *Message) Release() {
	if m.State != nil {
		m.State.release()
	}
}

// GetOp returns the message's opcode.
func (m *Message) GetOp() int32 { return m.Op }

// receivedChannel is a materialized entry from a request's channel-info
// list: a data fd and event fd pair owned by this message until consumed.
type receivedChannel struct {
	DataFd  OwnedFd
	EventFd OwnedFd
}

// outgoingChannelInfo is a response channel-info entry: a borrowed
// (data_fd, event_fd) pair the kernel duplicates into the peer on send.
type outgoingChannelInfo struct {
	DataFd  BorrowedFd
	EventFd BorrowedFd
}

// MessageState holds the received request, the response under
// construction, and bookkeeping needed to keep pushed fds alive until the
// reply is transmitted. All operations are single-threaded with respect to
// the owning Message.
type MessageState struct {
	// received request
	requestFds      []OwnedFd
	requestChannels []receivedChannel
	requestData     []byte
	requestReadPos  int

	// response under construction. Both lists hold non-owning borrows: the
	// kernel duplicates them into the peer on sendmsg, so the endpoint
	// never closes them itself (ownership of the originals, if any, is
	// tracked separately in socketsToClose).
	responseFds      []BorrowedFd
	responseChannels []outgoingChannelInfo
	responseData     []byte

	// fds that must outlive the reply send (e.g. the client half of a
	// pushed socketpair, duplicated ownership not yet handed to the
	// kernel via sendmsg).
	socketsToClose []OwnedFd
}

func newMessageState() *MessageState {
	return &MessageState{}
}

// release closes any fds the message still owns (received fds that were
// never consumed by the service, plus the holding area) once the message
// is completed.
func (s *MessageState) release() {
	for i := range s.requestFds {
		s.requestFds[i].Close()
	}
	for i := range s.requestChannels {
		s.requestChannels[i].DataFd.Close()
		s.requestChannels[i].EventFd.Close()
	}
	for i := range s.socketsToClose {
		s.socketsToClose[i].Close()
	}
	releasePayloadBuf(s.requestData)
	s.requestData = nil
}

// ReadMessageData copies up to len(p) unread request payload bytes into p,
// advancing the read cursor. Returns 0 at end of payload.
func (s *MessageState) ReadMessageData(p []byte) int {
	remaining := len(s.requestData) - s.requestReadPos
	if remaining <= 0 {
		return 0
	}
	n := copy(p, s.requestData[s.requestReadPos:])
	s.requestReadPos += n
	return n
}

// WriteMessageData appends p to the response payload buffer.
func (s *MessageState) WriteMessageData(p []byte) int {
	s.responseData = append(s.responseData, p...)
	return len(p)
}

// GetFileHandle materializes FileReference ref as an owned handle: a
// negative ref is a pass-through sentinel (returned empty, its numeric
// value discarded — callers needing the raw passthrough value use ref
// itself); a non-negative ref transfers ownership out of the received fd
// list. Subsequent calls for the same ref return an empty handle.
func (s *MessageState) GetFileHandle(ref FileReference) (OwnedFd, error) {
	if ref < 0 {
		return OwnedFd{}, nil
	}
	idx := int(ref)
	if idx >= len(s.requestFds) {
		return OwnedFd{}, fmt.Errorf("ipc: file reference %d out of range (have %d)", ref, len(s.requestFds))
	}
	h := s.requestFds[idx]
	s.requestFds[idx] = OwnedFd{}
	return h, nil
}

// GetChannelHandle materializes ChannelReference ref via the supplied
// ChannelManager, constructing a client-side LocalChannelHandle from the
// received (data_fd, event_fd) pair. A negative ref passes through as an
// empty handle tagged with ref's numeric value.
func (s *MessageState) GetChannelHandle(ref ChannelReference, mgr ChannelManager) (LocalChannelHandle, error) {
	if ref < 0 {
		return LocalChannelHandle{value: int32(ref)}, nil
	}
	idx := int(ref)
	if idx >= len(s.requestChannels) {
		return LocalChannelHandle{}, fmt.Errorf("ipc: channel reference %d out of range (have %d)", ref, len(s.requestChannels))
	}
	rc := s.requestChannels[idx]
	s.requestChannels[idx] = receivedChannel{}
	return mgr.CreateHandle(rc.DataFd, rc.EventFd), nil
}

// PushFileHandle appends handle to the outgoing fd list and returns its
// reference; an empty handle passes its (already-negative) numeric value
// through unchanged without allocating a list entry.
func (s *MessageState) PushFileHandle(handle BorrowedFd) FileReference {
	if !handle.Valid() {
		return FileReference(handle)
	}
	s.responseFds = append(s.responseFds, handle)
	return FileReference(len(s.responseFds) - 1)
}

// PushChannelHandleLocal pushes a channel embedded as a client-side
// borrowed handle: the event fd is looked up via mgr, failing if the
// handle's data_fd is unknown to it.
func (s *MessageState) PushChannelHandleLocal(handle BorrowedChannelHandle, mgr ChannelManager) (ChannelReference, error) {
	if !handle.Valid() {
		return ChannelReference(handle.value), nil
	}
	eventFd, ok := mgr.EventFdFor(handle.value)
	if !ok {
		return 0, ErrUnknownChannel
	}
	s.responseChannels = append(s.responseChannels, outgoingChannelInfo{
		DataFd:  BorrowedFd(handle.value),
		EventFd: eventFd,
	})
	return ChannelReference(len(s.responseChannels) - 1), nil
}

// PushChannelHandleRaw pushes a raw borrowed (data_fd, event_fd) pair
// directly, with no Channel Manager lookup.
func (s *MessageState) PushChannelHandleRaw(dataFd, eventFd BorrowedFd) (ChannelReference, error) {
	if !dataFd.Valid() || !eventFd.Valid() {
		return 0, ErrUnknownChannel
	}
	s.responseChannels = append(s.responseChannels, outgoingChannelInfo{
		DataFd:  dataFd,
		EventFd: eventFd,
	})
	return ChannelReference(len(s.responseChannels) - 1), nil
}

// PushChannelHandleRemote passes a RemoteChannelHandle's numeric value
// through without allocating a response list entry: the handle already
// names a slot the peer's own endpoint filled in for us.
func (s *MessageState) PushChannelHandleRemote(handle RemoteChannelHandle) ChannelReference {
	return ChannelReference(handle.Value)
}
