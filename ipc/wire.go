// File: ipc/wire.go
// Author: momentics <momentics@gmail.com>
//
// Request/response frame encoding over a channel's stream socket. Headers
// are fixed-size and hand-encoded with encoding/binary; fd lists ride as
// SCM_RIGHTS ancillary data attached to the header frame, and peer
// credentials arrive as SCM_CREDENTIALS on every request because the
// endpoint enables SO_PASSCRED on every channel socket it owns.

package ipc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// ImpulsePayloadSize is the fixed inline block carried by impulse requests.
const ImpulsePayloadSize = 32

// requestHeaderWireSize is the encoded size of requestHeaderWire, excluding
// ancillary data and the variable-length payload body.
const requestHeaderWireSize = 4 + 4 + 4 + 1 + ImpulsePayloadSize + 4 + 4

// responseHeaderWireSize is the encoded size of responseHeaderWire.
const responseHeaderWireSize = 4 + 4 + 4 + 4

// Credentials carries the peer identity delivered via SCM_CREDENTIALS.
type Credentials struct {
	PID int32
	UID uint32
	GID uint32
}

// requestHeaderWire is the fixed-size portion of a request frame, as it
// appears on the wire (before fd/channel-info materialization).
type requestHeaderWire struct {
	Op           int32
	SendLen      uint32
	MaxRecvLen   uint32
	IsImpulse    bool
	Impulse      [ImpulsePayloadSize]byte
	FdCount      uint32
	ChannelCount uint32
}

func encodeRequestHeader(h *requestHeaderWire) []byte {
	buf := make([]byte, requestHeaderWireSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.Op))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.SendLen)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.MaxRecvLen)
	off += 4
	if h.IsImpulse {
		buf[off] = 1
	}
	off++
	copy(buf[off:], h.Impulse[:])
	off += ImpulsePayloadSize
	binary.LittleEndian.PutUint32(buf[off:], h.FdCount)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ChannelCount)
	return buf
}

func decodeRequestHeader(buf []byte) (requestHeaderWire, error) {
	var h requestHeaderWire
	if len(buf) < requestHeaderWireSize {
		return h, fmt.Errorf("ipc: truncated request header: got %d want %d", len(buf), requestHeaderWireSize)
	}
	off := 0
	h.Op = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.SendLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.MaxRecvLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.IsImpulse = buf[off] != 0
	off++
	copy(h.Impulse[:], buf[off:off+ImpulsePayloadSize])
	off += ImpulsePayloadSize
	h.FdCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ChannelCount = binary.LittleEndian.Uint32(buf[off:])
	return h, nil
}

// responseHeaderWire is the fixed-size portion of a response frame.
type responseHeaderWire struct {
	RetCode      int32
	RecvLen      uint32
	FdCount      uint32
	ChannelCount uint32
}

func encodeResponseHeader(h *responseHeaderWire) []byte {
	buf := make([]byte, responseHeaderWireSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(h.RetCode))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.RecvLen)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.FdCount)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], h.ChannelCount)
	return buf
}

func decodeResponseHeader(buf []byte) (responseHeaderWire, error) {
	var h responseHeaderWire
	if len(buf) < responseHeaderWireSize {
		return h, fmt.Errorf("ipc: truncated response header: got %d want %d", len(buf), responseHeaderWireSize)
	}
	off := 0
	h.RetCode = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	h.RecvLen = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.FdCount = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	h.ChannelCount = binary.LittleEndian.Uint32(buf[off:])
	return h, nil
}

// recvHeaderWithAncillary reads exactly wantLen bytes plus any SCM_RIGHTS
// and SCM_CREDENTIALS ancillary data attached to the same datagram. A
// clean peer close surfaces as ErrShutdown; anything shorter than a full
// header is a framing error.
func recvHeaderWithAncillary(fd int, wantLen int) (data []byte, fds []int, cred *Credentials, err error) {
	buf := make([]byte, wantLen)
	oob := make([]byte, unix.CmsgSpace(64*4)+unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, _, _, rerr := unix.Recvmsg(fd, buf, oob, 0)
	if rerr != nil {
		return nil, nil, nil, wrapErrno("recvmsg", rerr)
	}
	if n == 0 {
		return nil, nil, nil, ErrShutdown
	}
	if n < wantLen {
		return nil, nil, nil, fmt.Errorf("ipc: short header read: got %d want %d", n, wantLen)
	}

	if oobn > 0 {
		cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr != nil {
			return nil, nil, nil, wrapErrno("parse control message", perr)
		}
		for _, cmsg := range cmsgs {
			switch {
			case cmsg.Header.Type == unix.SCM_RIGHTS:
				rights, rerr := unix.ParseUnixRights(&cmsg)
				if rerr != nil {
					return nil, nil, nil, wrapErrno("parse unix rights", rerr)
				}
				fds = append(fds, rights...)
			case cmsg.Header.Type == unix.SCM_CREDENTIALS:
				ucred, cerr := unix.ParseUnixCredentials(&cmsg)
				if cerr != nil {
					return nil, nil, nil, wrapErrno("parse unix credentials", cerr)
				}
				cred = &Credentials{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
			}
		}
	}
	return buf[:n], fds, cred, nil
}

// recvPayload reads exactly n bytes of payload body from fd into a pooled
// buffer (returned to the pool by MessageState.release). A short read
// (other than a clean close on the first byte) is a framing error.
func recvPayload(fd int, n int) ([]byte, error) {
	buf := acquirePayloadBuf(n)
	read := 0
	for read < n {
		m, err := unix.Read(fd, buf[read:])
		if err != nil {
			releasePayloadBuf(buf)
			return nil, wrapErrno("read payload", err)
		}
		if m == 0 {
			releasePayloadBuf(buf)
			if read == 0 {
				return nil, ErrShutdown
			}
			return nil, fmt.Errorf("ipc: truncated payload: got %d want %d", read, n)
		}
		read += m
	}
	return buf, nil
}

// sendWithRights writes data as the message body and attaches fds (if any)
// as SCM_RIGHTS ancillary data in one sendmsg call.
func sendWithRights(fd int, data []byte, fds []int) error {
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	return wrapErrno("sendmsg", unix.Sendmsg(fd, data, oob, nil, 0))
}

// sendPayload writes n bytes of plain payload body with no ancillary data.
func sendPayload(fd int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	written := 0
	for written < len(data) {
		n, err := unix.Write(fd, data[written:])
		if err != nil {
			return wrapErrno("write payload", err)
		}
		written += n
	}
	return nil
}
