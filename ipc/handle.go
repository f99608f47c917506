// File: ipc/handle.go
// Author: momentics <momentics@gmail.com>
//
// Raw-fd ownership types: OwnedFd is a move-only exclusively-owned
// descriptor, BorrowedFd a non-owning duplicate of the number. Naked ints
// never cross a component boundary except while building ancillary-data
// messages in wire.go.

package ipc

import "golang.org/x/sys/unix"

// BorrowedFd is a non-owning duplicate of a file descriptor number. It
// must not outlive the handle it was borrowed from.
type BorrowedFd int

// Valid reports whether the borrow names a real descriptor.
func (b BorrowedFd) Valid() bool { return b >= 0 }

// Int returns the raw descriptor number.
func (b BorrowedFd) Int() int { return int(b) }

// OwnedFd is a move-only, exclusively-owned file descriptor. The zero value
// is not valid; use NewOwnedFd or Take on an existing one.
type OwnedFd struct {
	fd    int
	valid bool
}

// NewOwnedFd wraps a raw descriptor as an owned handle.
func NewOwnedFd(fd int) OwnedFd {
	if fd < 0 {
		return OwnedFd{}
	}
	return OwnedFd{fd: fd, valid: true}
}

// Valid reports whether the handle currently owns a descriptor.
func (h *OwnedFd) Valid() bool { return h.valid }

// Fd returns the raw descriptor number, or -1 if empty.
func (h *OwnedFd) Fd() int {
	if !h.valid {
		return -1
	}
	return h.fd
}

// Borrow produces a non-owning duplicate of the fd number.
func (h *OwnedFd) Borrow() BorrowedFd {
	if !h.valid {
		return BorrowedFd(-1)
	}
	return BorrowedFd(h.fd)
}

// Take moves ownership out of h, leaving h empty, and returns the fd that
// was owned (or -1 if h was already empty).
func (h *OwnedFd) Take() int {
	if !h.valid {
		return -1
	}
	fd := h.fd
	h.fd = -1
	h.valid = false
	return fd
}

// Duplicate returns a new OwnedFd referring to a freshly dup'd descriptor,
// leaving h untouched.
func (h *OwnedFd) Duplicate() (OwnedFd, error) {
	if !h.valid {
		return OwnedFd{}, nil
	}
	dupFd, err := unix.Dup(h.fd)
	if err != nil {
		return OwnedFd{}, wrapErrno("dup", err)
	}
	return NewOwnedFd(dupFd), nil
}

// Close releases the descriptor if still owned. Safe to call more than
// once; subsequent calls are no-ops.
func (h *OwnedFd) Close() error {
	if !h.valid {
		return nil
	}
	fd := h.fd
	h.fd = -1
	h.valid = false
	return unix.Close(fd)
}
