// File: ipc/readiness_linux.go
// Author: momentics <momentics@gmail.com>
//
// One-shot, level-triggered readiness multiplexer. A channel fd's epoll
// registration doubles as a per-channel lock: armed means unlocked,
// event-delivered means locked until the reply path rearms it. That
// serialises message handling per channel across any number of dispatcher
// threads without any further locking.

package ipc

import "golang.org/x/sys/unix"

const (
	readinessInterestChannel  = unix.EPOLLIN | unix.EPOLLRDHUP
	readinessInterestListener = unix.EPOLLIN | unix.EPOLLRDHUP
)

// readinessKind tags the origin of a delivered readiness event so the
// dispatch loop (endpoint.go) can classify it without a second lookup.
type readinessKind int

const (
	readinessCancel readinessKind = iota
	readinessListener
	readinessChannel
)

// readinessEvent is one drained epoll_wait result, pre-classified.
type readinessEvent struct {
	kind   readinessKind
	fd     int32 // the fd the event arrived on
	hangup bool  // EPOLLRDHUP or EPOLLHUP was set alongside (or instead of) EPOLLIN
}

// readinessSet wraps one epoll instance plus the two well-known fds every
// Endpoint registers alongside its channels.
type readinessSet struct {
	epfd     int
	listenFd int32
	cancelFd int32
}

func newReadinessSet(listenFd, cancelFd int32) (*readinessSet, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, wrapErrno("epoll_create1", err)
	}
	rs := &readinessSet{epfd: epfd, listenFd: listenFd, cancelFd: cancelFd}

	if err := rs.addOneShot(listenFd, readinessInterestListener); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	// The cancellation eventfd is registered level-triggered and persistent
	// (never one-shot, never rearmed): once written, it stays readable
	// until an external party drains it.
	if err := rs.add(cancelFd, unix.EPOLLIN); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return rs, nil
}

func (rs *readinessSet) add(fd int32, events uint32) error {
	ev := unix.EpollEvent{Events: events, Fd: fd}
	return wrapErrno("epoll_ctl add", unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev))
}

func (rs *readinessSet) addOneShot(fd int32, events uint32) error {
	return rs.add(fd, events|unix.EPOLLONESHOT)
}

// rearm re-registers fd for one more event after it has fired. Called from
// exactly three places: after accept, after an impulse receive, and after
// a non-close reply. Nothing else may resurrect a channel in the set.
func (rs *readinessSet) rearm(fd int32, events uint32) error {
	ev := unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: fd}
	return wrapErrno("epoll_ctl mod", unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev))
}

// remove deregisters fd. A zeroed-but-non-nil event is passed to EpollCtl
// even though EPOLL_CTL_DEL ignores it: pre-2.6.9 kernels read it anyway
// (man 2 epoll_ctl BUGS).
func (rs *readinessSet) remove(fd int32) error {
	var ev unix.EpollEvent
	return wrapErrno("epoll_ctl del", unix.EpollCtl(rs.epfd, unix.EPOLL_CTL_DEL, int(fd), &ev))
}

// wait blocks (or, if blocking is false, polls with a zero timeout) for
// exactly one readiness event and classifies it. Returns ErrTimedOut if
// non-blocking and nothing is ready.
func (rs *readinessSet) wait(blocking bool) (readinessEvent, error) {
	var events [1]unix.EpollEvent
	timeout := -1
	if !blocking {
		timeout = 0
	}
	for {
		n, err := unix.EpollWait(rs.epfd, events[:], timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return readinessEvent{}, wrapErrno("epoll_wait", err)
		}
		if n == 0 {
			return readinessEvent{}, ErrTimedOut
		}
		ev := events[0]
		hangup := ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0
		switch ev.Fd {
		case rs.cancelFd:
			return readinessEvent{kind: readinessCancel, fd: ev.Fd, hangup: hangup}, nil
		case rs.listenFd:
			return readinessEvent{kind: readinessListener, fd: ev.Fd, hangup: hangup}, nil
		default:
			return readinessEvent{kind: readinessChannel, fd: ev.Fd, hangup: hangup}, nil
		}
	}
}

// close releases the epoll instance. Registered fds are not touched; their
// owners (Endpoint, ChannelData) close them independently.
func (rs *readinessSet) close() error {
	return wrapErrno("close epoll fd", unix.Close(rs.epfd))
}
