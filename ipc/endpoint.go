// File: ipc/endpoint.go
// Author: momentics <momentics@gmail.com>
//
// Endpoint: lifecycle, dispatch loop, and reply path. One listening UDS
// socket multiplexes many client channels; a one-shot epoll set hands out
// one event per MessageReceive call, and MessageReply rearms the channel
// once its response is on the wire.

package ipc

import (
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/pdxuds/api"
	"github.com/momentics/pdxuds/control"
)

// Endpoint is the server-side UDS IPC endpoint: one listening socket,
// a channel table, a readiness multiplexer, and a cancellation eventfd.
type Endpoint struct {
	cfg EndpointConfig

	listenFd  int32
	cancelFd  int32
	readiness *readinessSet
	channels  *channelTable
	nextMsgID int64

	service api.Service
	mgr     ChannelManager
	metrics *MetricsSink
	traceOn atomic.Bool

	// pendingCloses absorbs channel ids awaiting synthesized CHANNEL_CLOSE
	// delivery (see Shutdown). Drained by MessageReceive before going back
	// to the readiness wait. The queue itself is unsynchronized; pendingMu
	// covers it across dispatcher threads.
	pendingMu     sync.Mutex
	pendingCloses *queue.Queue
}

// NewEndpoint constructs an Endpoint per the config, binding or adopting
// the listening socket, creating the cancellation eventfd, and building
// the readiness set. On error nothing partially-built is handed out;
// every fd created so far is closed before returning.
func NewEndpoint(cfg EndpointConfig, service api.Service) (*Endpoint, error) {
	listenFd, err := acquireListeningSocket(cfg.Path, cfg.Backlog)
	if err != nil {
		return nil, err
	}

	cancelFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(int(listenFd))
		return nil, wrapErrno("eventfd", err)
	}

	rs, err := newReadinessSet(listenFd, int32(cancelFd))
	if err != nil {
		unix.Close(int(listenFd))
		unix.Close(cancelFd)
		return nil, err
	}

	mgr := cfg.ChannelManager
	if mgr == nil {
		mgr = NewDefaultChannelManager(16)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetricsSink(control.NewMetricsRegistry())
	}

	e := &Endpoint{
		cfg:           cfg,
		listenFd:      listenFd,
		cancelFd:      int32(cancelFd),
		readiness:     rs,
		channels:      newChannelTable(),
		service:       service,
		mgr:           mgr,
		metrics:       metrics,
		pendingCloses: queue.New(),
	}
	e.traceOn.Store(cfg.Trace)
	return e, nil
}

// acquireListeningSocket either binds a fresh AF_UNIX socket at path, or
// adopts a pre-created fd named by the suffix of an init-socket path.
func acquireListeningSocket(path string, backlog int) (int32, error) {
	if strings.HasPrefix(path, InitSocketPrefix) {
		return adoptInitSocket(strings.TrimPrefix(path, InitSocketPrefix))
	}
	return bindListeningSocket(path, backlog)
}

func bindListeningSocket(path string, backlog int) (int32, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, wrapErrno("socket", err)
	}
	_ = unix.Unlink(path)
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return 0, wrapErrno("bind", err)
	}
	if backlog <= 0 {
		backlog = 1
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return 0, wrapErrno("listen", err)
	}
	return int32(fd), nil
}

// adoptInitSocket looks up a listening fd handed out by the system init
// service under the well-known ANDROID_SOCKET_<name> environment variable
// convention.
func adoptInitSocket(name string) (int32, error) {
	v := os.Getenv("ANDROID_SOCKET_" + name)
	if v == "" {
		return 0, wrapErrno("adopt init socket", unix.EINVAL)
	}
	var fd int
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, wrapErrno("adopt init socket", unix.EINVAL)
		}
		fd = fd*10 + int(c-'0')
	}
	return int32(fd), nil
}

func (e *Endpoint) trace(format string, args ...any) {
	if e.traceOn.Load() {
		log.Printf("ipc: "+format, args...)
	}
}

// SetTrace toggles verbose per-channel debug logging at runtime, e.g. from
// a control.ConfigStore reload hook.
func (e *Endpoint) SetTrace(on bool) { e.traceOn.Store(on) }

// SetService replaces the non-owning Service reference.
func (e *Endpoint) SetService(service api.Service) { e.service = service }

// SetChannel attaches opaque per-channel state to id, implementing the
// "Non-owning back-references" Design Note.
func (e *Endpoint) SetChannel(cid int32, state api.Channel) error {
	if !e.channels.setState(cid, state) {
		return ErrUnknownChannel
	}
	return nil
}

// GetChannelState returns the opaque state last attached via SetChannel.
func (e *Endpoint) GetChannelState(cid int32) (api.Channel, error) {
	_, _, state, ok := e.channels.get(cid)
	if !ok {
		return nil, ErrUnknownChannel
	}
	if state == nil {
		return nil, nil
	}
	return state.(api.Channel), nil
}

// GetChannelSocketFd returns a borrow of the channel's data socket.
func (e *Endpoint) GetChannelSocketFd(cid int32) (BorrowedFd, error) {
	dataFd, _, _, ok := e.channels.get(cid)
	if !ok {
		return BorrowedFd(-1), ErrUnknownChannel
	}
	return BorrowedFd(dataFd), nil
}

// GetChannelEventFd returns a borrow of the channel's event fd.
func (e *Endpoint) GetChannelEventFd(cid int32) (BorrowedFd, error) {
	_, eventFd, _, ok := e.channels.get(cid)
	if !ok {
		return BorrowedFd(-1), ErrUnknownChannel
	}
	return BorrowedFd(eventFd), nil
}

// GetChannelId returns the channel id owning dataFd.
func (e *Endpoint) GetChannelId(dataFd BorrowedFd) (int32, error) {
	id, ok := e.channels.idForFd(int32(dataFd))
	if !ok {
		return 0, ErrUnknownChannel
	}
	return id, nil
}

// CheckChannel has no defined contract and always fails with EFAULT.
func (e *Endpoint) CheckChannel(cid int32) error {
	return ErrCheckChannelUnimplemented
}

// CloseChannel tears down cid immediately: removes it from the table,
// deregisters its data fd from the readiness set, and closes both fds.
// Any readiness-set error is reported after the table entry is gone.
func (e *Endpoint) CloseChannel(cid int32) error {
	dataFd, eventFd, ok := e.channels.remove(cid)
	if !ok {
		return ErrUnknownChannel
	}
	err := e.readiness.remove(dataFd)
	unix.Close(int(dataFd))
	unix.Close(int(eventFd))
	e.metrics.channelClosed()
	e.trace("closed channel %d", cid)
	return err
}

// ModifyChannelEvents clears then sets event bits on cid's event set,
// signalling or draining the channel's event fd as the mask transitions.
func (e *Endpoint) ModifyChannelEvents(cid int32, clearMask, setMask uint32) error {
	if !e.channels.modifyEvents(cid, clearMask, setMask) {
		return ErrUnknownChannel
	}
	return nil
}

// Cancel writes 1 to the cancellation eventfd. Any MessageReceive blocked
// in the readiness wait returns ErrShutdown immediately; future calls keep
// doing so until the eventfd is drained or the Endpoint is closed. The
// endpoint never drains it itself.
func (e *Endpoint) Cancel() error {
	buf := make([]byte, 8)
	buf[0] = 1
	_, err := unix.Write(int(e.cancelFd), buf)
	if err != nil && err != unix.EAGAIN {
		return wrapErrno("write cancel eventfd", err)
	}
	return nil
}

// Shutdown requests a graceful drain: every currently-open channel id is
// queued for synthesized CHANNEL_CLOSE delivery through the normal
// MessageReceive/MessageReply protocol, so the service gets to run its
// usual per-channel teardown logic (freeing Channel state, etc.) instead
// of having its fds yanked out from under it. Call Cancel afterwards (or
// let dispatcher threads drain pendingCloses first) and finish with Close
// once MessageReceive reports ErrShutdown with no channels left.
func (e *Endpoint) Shutdown() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.channels.forEach(func(id int32, cd *channelData) {
		e.pendingCloses.Add(id)
	})
}

// nextPendingClose pops one queued channel id, if any.
func (e *Endpoint) nextPendingClose() (int32, bool) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if e.pendingCloses.Length() == 0 {
		return 0, false
	}
	return e.pendingCloses.Remove().(int32), true
}

// Close tears down the Endpoint: closes every live channel, the readiness
// set, the listening socket, and the cancellation eventfd. Use after
// Shutdown has drained (or in tests/abrupt teardown where graceful
// per-channel CHANNEL_CLOSE delivery is unnecessary).
func (e *Endpoint) Close() error {
	e.channels.forEach(func(id int32, cd *channelData) {
		unix.Close(int(cd.dataFd))
		unix.Close(int(cd.events.fd))
	})
	e.readiness.close()
	unix.Close(int(e.listenFd))
	return wrapErrno("close cancel eventfd", unix.Close(int(e.cancelFd)))
}

// AcceptConnection accepts one pending connection, enables SO_PASSCRED,
// registers it under a freshly allocated channel id, and immediately
// attempts to read its first request frame — the CHANNEL_OPEN convention:
// the first frame on a new channel rides the same readiness event that
// surfaced the connect.
func (e *Endpoint) AcceptConnection() (*Message, error) {
	fd, _, err := unix.Accept4(int(e.listenFd), unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, wrapErrno("accept4", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return nil, wrapErrno("setsockopt SO_PASSCRED", err)
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(fd)
		return nil, wrapErrno("eventfd", err)
	}

	cid := e.channels.insert(int32(fd), int32(eventFd), nil)
	if err := e.readiness.addOneShot(int32(fd), readinessInterestChannel); err != nil {
		e.channels.remove(cid)
		unix.Close(fd)
		unix.Close(eventFd)
		return nil, err
	}
	e.metrics.channelOpened()
	e.trace("accepted channel %d (fd=%d)", cid, fd)

	return e.receiveForChannel(cid, int32(fd))
}

// PushChannel creates a socketpair, enables SO_PASSCRED on the server-side
// half, registers that half as a new channel, and pushes the client-side
// half plus the new channel's event fd into msg's response channel-info
// list. The client half is held in msg.State's socketsToClose area until
// the reply is transmitted, since the kernel only duplicates it on
// sendmsg; closing it earlier would ship a dead descriptor.
func (e *Endpoint) PushChannel(msg *Message, flags int) (ChannelReference, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, wrapErrno("socketpair", err)
	}
	serverFd, clientFd := fds[0], fds[1]

	if err := unix.SetsockoptInt(serverFd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(serverFd)
		unix.Close(clientFd)
		return 0, wrapErrno("setsockopt SO_PASSCRED", err)
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(serverFd)
		unix.Close(clientFd)
		return 0, wrapErrno("eventfd", err)
	}

	cid := e.channels.insert(int32(serverFd), int32(eventFd), nil)
	if err := e.readiness.addOneShot(int32(serverFd), readinessInterestChannel); err != nil {
		e.channels.remove(cid)
		unix.Close(serverFd)
		unix.Close(clientFd)
		unix.Close(eventFd)
		return 0, err
	}
	e.metrics.channelOpened()
	e.trace("pushed channel %d (server fd=%d, client fd=%d)", cid, serverFd, clientFd)

	ref, err := msg.State.PushChannelHandleRaw(BorrowedFd(clientFd), BorrowedFd(eventFd))
	if err != nil {
		return 0, err
	}
	msg.State.socketsToClose = append(msg.State.socketsToClose, NewOwnedFd(clientFd))
	return ref, nil
}

// MessageReceive drains exactly one readiness event: a cancellation is
// reported as ErrShutdown, a listening-socket event turns into an accepted
// channel's first message, a hangup synthesizes CHANNEL_CLOSE, and
// anything else is one request frame off a channel socket.
func (e *Endpoint) MessageReceive() (*Message, error) {
	for {
		cid, queued := e.nextPendingClose()
		if !queued {
			break
		}
		if msg, ok := e.synthesizeClose(cid); ok {
			return msg, nil
		}
	}

	ev, err := e.readiness.wait(e.cfg.Blocking)
	if err != nil {
		return nil, err
	}

	switch ev.kind {
	case readinessCancel:
		return nil, ErrShutdown
	case readinessListener:
		msg, err := e.AcceptConnection()
		if rerr := e.readiness.rearm(e.listenFd, readinessInterestListener); rerr != nil {
			return nil, rerr
		}
		return msg, err
	default:
		cid, ok := e.channels.idForFd(ev.fd)
		if !ok {
			return nil, ErrUnknownChannel
		}
		if ev.hangup {
			if msg, ok := e.synthesizeClose(cid); ok {
				return msg, nil
			}
			return nil, ErrUnknownChannel
		}
		return e.receiveForChannel(cid, ev.fd)
	}
}

// receiveForChannel reads one RequestHeader plus payload off dataFd and
// builds the corresponding Message, or synthesizes a CHANNEL_CLOSE on a
// clean shutdown observed mid-read. Any other read error tears the
// channel down and propagates.
func (e *Endpoint) receiveForChannel(cid, dataFd int32) (*Message, error) {
	hdrBuf, fds, cred, err := recvHeaderWithAncillary(int(dataFd), requestHeaderWireSize)
	if err != nil {
		if isErrno(err, unix.ESHUTDOWN) {
			if msg, ok := e.synthesizeClose(cid); ok {
				return msg, nil
			}
		}
		e.teardownChannel(cid)
		return nil, err
	}
	hdr, err := decodeRequestHeader(hdrBuf)
	if err != nil {
		e.teardownChannel(cid)
		return nil, err
	}

	state := newMessageState()
	n := int(hdr.FdCount)
	if n > len(fds) {
		n = len(fds)
	}
	for i := 0; i < n; i++ {
		state.requestFds = append(state.requestFds, NewOwnedFd(fds[i]))
	}
	remaining := fds[n:]
	for i := 0; i+1 < len(remaining) && len(state.requestChannels) < int(hdr.ChannelCount); i += 2 {
		state.requestChannels = append(state.requestChannels, receivedChannel{
			DataFd:  NewOwnedFd(remaining[i]),
			EventFd: NewOwnedFd(remaining[i+1]),
		})
	}

	var mid int64
	if hdr.IsImpulse {
		mid = IMPULSE_MESSAGE_ID
	} else if hdr.SendLen > 0 {
		payload, err := recvPayload(int(dataFd), int(hdr.SendLen))
		if err != nil {
			if isErrno(err, unix.ESHUTDOWN) {
				if msg, ok := e.synthesizeClose(cid); ok {
					return msg, nil
				}
			}
			e.teardownChannel(cid)
			return nil, err
		}
		state.requestData = payload
	}

	pid, euid, egid := int32(-1), int32(-1), int32(-1)
	if cred != nil {
		pid, euid, egid = cred.PID, int32(cred.UID), int32(cred.GID)
	}
	if !hdr.IsImpulse {
		mid = atomic.AddInt64(&e.nextMsgID, 1)
	}
	var channelState api.Channel
	if _, _, cs, ok := e.channels.get(cid); ok && cs != nil {
		channelState = cs.(api.Channel)
	}

	msg := &Message{
		MessageInfo: MessageInfo{
			PID: pid, TID: -1, CID: cid, MID: mid,
			EUID: euid, EGID: egid,
			Op: hdr.Op, SendLen: hdr.SendLen, RecvLen: hdr.MaxRecvLen,
			FDCount: n, Impulse: hdr.Impulse,
			Service: e.service, Channel: channelState,
		},
		State: state,
	}

	if hdr.IsImpulse {
		e.metrics.impulseDispatched()
		if err := e.readiness.rearm(dataFd, readinessInterestChannel); err != nil {
			return nil, err
		}
	} else {
		e.metrics.messageDispatched()
	}
	return msg, nil
}

// synthesizeClose builds the synthetic CHANNEL_CLOSE message for cid:
// op=CHANNEL_CLOSE, fresh mid, credentials -1, no payload, the channel's
// current state pointer. The channel is left registered (but disarmed)
// until the service's reply triggers teardown.
func (e *Endpoint) synthesizeClose(cid int32) (*Message, bool) {
	_, _, state, ok := e.channels.get(cid)
	if !ok {
		return nil, false
	}
	var channelState api.Channel
	if state != nil {
		channelState = state.(api.Channel)
	}
	msg := &Message{
		MessageInfo: MessageInfo{
			CID: cid, MID: atomic.AddInt64(&e.nextMsgID, 1),
			PID: -1, TID: -1, EUID: -1, EGID: -1,
			Op:      OpChannelClose,
			Service: e.service,
			Channel: channelState,
		},
		State: newMessageState(),
	}
	e.trace("synthesized CHANNEL_CLOSE for channel %d", cid)
	return msg, true
}

// teardownChannel is CloseChannel for paths that cannot act on the close
// result (error-path cleanup, reply-driven teardown).
func (e *Endpoint) teardownChannel(cid int32) {
	_ = e.CloseChannel(cid)
}

// MessageReply completes msg. CHANNEL_CLOSE replies tear the channel down
// with no wire I/O; a rejected CHANNEL_OPEN (negative return code) closes
// the channel; an accepted CHANNEL_OPEN pushes the channel's event fd and
// reinterprets the return code as that fd's reference. Everything else
// sends the response header plus payload and rearms the channel.
func (e *Endpoint) MessageReply(msg *Message, retCode int32) error {
	defer msg.State.release()

	dataFd, eventFd, _, ok := e.channels.get(msg.CID)
	if !ok {
		return ErrChannelClosed
	}

	switch {
	case msg.Op == OpChannelClose:
		return e.CloseChannel(msg.CID)

	case msg.Op == OpChannelOpen && retCode < 0:
		return e.CloseChannel(msg.CID)

	case msg.Op == OpChannelOpen:
		ref := msg.State.PushFileHandle(BorrowedFd(eventFd))
		msg.State.responseData = nil
		if err := e.sendReply(msg, dataFd, int32(ref)); err != nil {
			return err
		}
		return e.readiness.rearm(dataFd, readinessInterestChannel)
	}

	err := e.sendReply(msg, dataFd, retCode)
	if err != nil {
		return err
	}
	return e.readiness.rearm(dataFd, readinessInterestChannel)
}

// sendReply assembles and transmits the ResponseHeader plus payload.
func (e *Endpoint) sendReply(msg *Message, dataFd int32, retCode int32) error {
	s := msg.State
	hdr := responseHeaderWire{
		RetCode:      retCode,
		RecvLen:      uint32(len(s.responseData)),
		FdCount:      uint32(len(s.responseFds)),
		ChannelCount: uint32(len(s.responseChannels)),
	}

	fds := make([]int, 0, len(s.responseFds)+2*len(s.responseChannels))
	for _, h := range s.responseFds {
		fds = append(fds, h.Int())
	}
	for _, ch := range s.responseChannels {
		fds = append(fds, ch.DataFd.Int(), ch.EventFd.Int())
	}

	if err := sendWithRights(int(dataFd), encodeResponseHeader(&hdr), fds); err != nil {
		return err
	}
	if len(s.responseData) > 0 {
		if err := sendPayload(int(dataFd), s.responseData); err != nil {
			return err
		}
	}
	return nil
}

// MessageReplyFd pushes handle into the outgoing fd list, then replies
// with the resulting FileReference as the return code.
func (e *Endpoint) MessageReplyFd(msg *Message, handle BorrowedFd) error {
	ref := msg.State.PushFileHandle(handle)
	return e.MessageReply(msg, int32(ref))
}

// MessageReplyChannelHandleLocal pushes a client-side borrowed channel
// handle, then replies with the resulting ChannelReference.
func (e *Endpoint) MessageReplyChannelHandleLocal(msg *Message, handle BorrowedChannelHandle) error {
	ref, err := msg.State.PushChannelHandleLocal(handle, e.mgr)
	if err != nil {
		return err
	}
	return e.MessageReply(msg, int32(ref))
}

// MessageReplyChannelHandleRaw pushes a raw (data_fd, event_fd) borrowed
// pair, then replies with the resulting ChannelReference.
func (e *Endpoint) MessageReplyChannelHandleRaw(msg *Message, dataFd, eventFd BorrowedFd) error {
	ref, err := msg.State.PushChannelHandleRaw(dataFd, eventFd)
	if err != nil {
		return err
	}
	return e.MessageReply(msg, int32(ref))
}

// MessageReplyChannelHandleRemote passes a RemoteChannelHandle through,
// then replies with the resulting ChannelReference.
func (e *Endpoint) MessageReplyChannelHandleRemote(msg *Message, handle RemoteChannelHandle) error {
	ref := msg.State.PushChannelHandleRemote(handle)
	return e.MessageReply(msg, int32(ref))
}
