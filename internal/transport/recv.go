//go:build darwin || linux

package transport

import (
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// Message describes one datagram read by ReceiveMessage.
type Message struct {
	N     int            // payload bytes stored
	OOBN  int            // ancillary bytes stored
	Flags int            // recvmsg result flags
	From  netip.AddrPort // sender, invalid when the kernel reported none
}

// Truncated reports whether part of the payload was discarded.
func (m Message) Truncated() bool {
	return m.Flags&unix.MSG_TRUNC != 0
}

// ControlTruncated reports whether part of the ancillary data was discarded.
func (m Message) ControlTruncated() bool {
	return m.Flags&unix.MSG_CTRUNC != 0
}

// ReceiveMessage reads one datagram from fd without blocking. It returns
// unix.EAGAIN when nothing is queued. Errors are the raw errno so callers can
// tell readiness from failure.
func ReceiveMessage(fd uintptr, p, oob []byte) (Message, error) {
	for {
		n, oobn, flags, from, err := unix.Recvmsg(int(fd), p, oob, unix.MSG_DONTWAIT)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Message{}, err
		}
		return Message{N: n, OOBN: oobn, Flags: flags, From: addrPortFromSockaddr(from)}, nil
	}
}

// Pending checks fd for a queued datagram without consuming it. When ready is
// true and err is nil, size is the payload size of that datagram or -1 if the
// system cannot tell. A non-nil err is a pending socket error, which the peek
// has already cleared.
func Pending(fd uintptr) (size int, ready bool, err error) {
	var b [1]byte
	for {
		_, _, err = unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		if err != unix.EINTR {
			break
		}
	}
	switch err {
	case nil:
	case unix.EAGAIN:
		return 0, false, nil
	default:
		return 0, true, err
	}

	size, err = available(int(fd))
	if err != nil {
		return -1, true, nil
	}
	return size, true, nil
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			addr = addr.WithZone(strconv.FormatUint(uint64(sa.ZoneId), 10))
		}
		return netip.AddrPortFrom(addr, uint16(sa.Port))
	}
	return netip.AddrPort{}
}
