// File: ipc/errors.go
// Author: momentics <momentics@gmail.com>
//
// Error kinds surfaced by the endpoint, as conventional POSIX codes. Any
// other socket I/O or readiness-set failure is propagated as its
// unix.Errno, wrapped with call-site context (errors.Is still matches it).

package ipc

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors for the endpoint's documented error kinds.
var (
	// ErrUnknownChannel is returned for an unknown channel id, or an unknown
	// channel reference passed to PushChannelHandle.
	ErrUnknownChannel = unix.EINVAL

	// ErrChannelClosed is returned when a reply is attempted on a channel
	// that has already been closed.
	ErrChannelClosed = unix.EBADF

	// ErrCheckChannelUnimplemented is returned by CheckChannel, which has
	// no defined contract.
	ErrCheckChannelUnimplemented = unix.EFAULT

	// ErrTimedOut is returned by a non-blocking MessageReceive with no
	// ready event.
	ErrTimedOut = unix.ETIMEDOUT

	// ErrShutdown is returned after Cancel, or when a peer closes its
	// connection while a header read is in progress.
	ErrShutdown = unix.ESHUTDOWN
)

// wrapErrno attaches call-site context to a raw unix.Errno without losing
// errors.Is comparability against the errno itself.
func wrapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ipc: %s: %w", op, err)
}

// isErrno reports whether err is (or wraps) the given unix.Errno.
func isErrno(err error, errno unix.Errno) bool {
	return errors.Is(err, errno)
}
