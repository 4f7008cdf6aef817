//go:build darwin || linux

// Package packet implements the received datagram: one buffer holding the
// ancillary records followed by the payload, and a non-owning reference to
// the socket it arrived on for replies. The sender address is decoded from
// the sockaddr recvmsg returns and kept beside the buffer, not in it.
package packet

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/raisov/Transceiver/internal/ancillary"
	dgerrors "github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/internal/metrics"
	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

const (
	// DefaultAncillaryLength fits the destination and interface records of
	// either family with room to spare.
	DefaultAncillaryLength = 128
	// MinAncillaryLength is the smallest ancillary allowance accepted.
	MinAncillaryLength = 64
	// DefaultDataLength is the largest UDP payload over IPv4.
	DefaultDataLength = 65507
)

// Config sizes datagram buffers.
type Config struct {
	MaxDataLength      int             // payload bytes kept, the rest is truncated
	MaxAncillaryLength int             // ancillary bytes kept
	Directory          netif.Directory // resolves receiving interfaces, netif.System if nil
}

func (c Config) withDefaults() Config {
	if c.MaxDataLength <= 0 {
		c.MaxDataLength = DefaultDataLength
	}
	if c.MaxAncillaryLength <= 0 {
		c.MaxAncillaryLength = DefaultAncillaryLength
	}
	if c.MaxAncillaryLength < MinAncillaryLength {
		c.MaxAncillaryLength = MinAncillaryLength
	}
	if c.Directory == nil {
		c.Directory = netif.System
	}
	return c
}

// Origin identifies the socket a datagram arrived on. It does not own Conn.
type Origin struct {
	Conn   *net.UDPConn
	Local  netip.AddrPort // bound address
	Remote netip.AddrPort // connected peer, invalid when unconnected
}

// OriginOf captures the addresses of c.
func OriginOf(c *net.UDPConn) Origin {
	o := Origin{Conn: c}
	o.Local, _ = transport.LocalAddrPort(c)
	o.Remote, _ = transport.RemoteAddrPort(c)
	return o
}

// Datagram is one received datagram.
type Datagram struct {
	buf       []byte // ancillary region, then payload region
	oobLen    int    // size of the ancillary region
	n, oobn   int
	flags     int
	sender    netip.AddrPort
	origin    Origin
	directory netif.Directory
}

// Receive reads one queued datagram from fd without blocking. size is the
// expected payload size, capped at cfg.MaxDataLength; a negative size means
// unknown and reserves the maximum.
func Receive(fd uintptr, size int, cfg Config, origin Origin) (*Datagram, error) {
	cfg = cfg.withDefaults()
	if size < 0 || size > cfg.MaxDataLength {
		size = cfg.MaxDataLength
	}

	d := &Datagram{
		buf:       make([]byte, cfg.MaxAncillaryLength+size),
		oobLen:    cfg.MaxAncillaryLength,
		origin:    origin,
		directory: cfg.Directory,
	}
	msg, err := transport.ReceiveMessage(fd, d.buf[d.oobLen:], d.buf[:d.oobLen])
	if err != nil {
		return nil, &dgerrors.NetworkError{Operation: "receive", Err: err, Details: origin.Local.String()}
	}
	d.n, d.oobn, d.flags, d.sender = msg.N, msg.OOBN, msg.Flags, msg.From

	if msg.Truncated() {
		metrics.Truncated.WithValues("data").Inc()
	}
	if msg.ControlTruncated() {
		metrics.Truncated.WithValues("ancillary").Inc()
		ancillaryTruncated(d)
	}
	return d, nil
}

func ancillaryTruncated(d *Datagram) {
	logrus.WithFields(logrus.Fields{
		"function":  "Receive",
		"local":     d.origin.Local.String(),
		"sender":    d.sender.String(),
		"allowance": d.oobLen,
	}).Error("ancillary data truncated, increase the ancillary buffer size")
	if debugTruncation {
		panic("packet: ancillary data truncated")
	}
}

// Read waits for one datagram on c. The deadline and cancellation of ctx
// apply.
func Read(ctx context.Context, c *net.UDPConn, cfg Config) (*Datagram, error) {
	select {
	case <-ctx.Done():
		return nil, &dgerrors.NetworkError{
			Operation: "receive",
			Err:       ctx.Err(),
			Details:   "context canceled before receive",
		}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.SetReadDeadline(deadline); err != nil {
			return nil, &dgerrors.NetworkError{Operation: "set read timeout", Err: err}
		}
		defer c.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	raw, err := c.SyscallConn()
	if err != nil {
		return nil, &dgerrors.NetworkError{Operation: "receive", Err: err}
	}

	origin := OriginOf(c)
	var (
		d    *Datagram
		rerr error
	)
	err = raw.Read(func(fd uintptr) bool {
		size, ready, perr := transport.Pending(fd)
		if !ready {
			return false
		}
		if perr != nil {
			rerr = &dgerrors.NetworkError{Operation: "receive", Err: perr, Details: origin.Local.String()}
			return true
		}
		d, rerr = Receive(fd, size, cfg, origin)
		return !errors.Is(rerr, unix.EAGAIN)
	})
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &dgerrors.NetworkError{Operation: "receive", Err: err, Details: origin.Local.String()}
	}
	return d, rerr
}

// Data returns the payload, possibly truncated.
func (d *Datagram) Data() []byte {
	return d.buf[d.oobLen : d.oobLen+d.n]
}

// DataTruncated reports whether the payload did not fit the buffer.
func (d *Datagram) DataTruncated() bool {
	return d.flags&unix.MSG_TRUNC != 0
}

// AncillaryDataTruncated reports whether the ancillary records did not fit
// the buffer.
func (d *Datagram) AncillaryDataTruncated() bool {
	return d.flags&unix.MSG_CTRUNC != 0
}

// Sender returns the address the datagram came from.
func (d *Datagram) Sender() (netip.AddrPort, bool) {
	return d.sender, d.sender.IsValid()
}

// Origin returns the socket the datagram arrived on.
func (d *Datagram) Origin() Origin {
	return d.origin
}

// Records iterates over the ancillary records in buffer order.
func (d *Datagram) Records() iter.Seq[ancillary.Record] {
	return ancillary.Records(d.buf[:d.oobn])
}

// DestinationIPv4 returns the destination address of an IPv4 datagram.
func (d *Datagram) DestinationIPv4() (netip.Addr, bool) {
	for rec := range d.Records() {
		if addr, ok := transport.IPv4.Destination(rec); ok {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// DestinationIPv6 returns the destination address of an IPv6 datagram.
func (d *Datagram) DestinationIPv6() (netip.Addr, bool) {
	for rec := range d.Records() {
		if info, ok := transport.IPv6.PacketInfo(rec); ok {
			return info.Addr, true
		}
	}
	return netip.Addr{}, false
}

// InterfaceIndex returns the index of the receiving interface, 0 if no
// record names it.
func (d *Datagram) InterfaceIndex() int {
	for rec := range d.Records() {
		if idx, ok := transport.IPv4.InterfaceIndex(rec); ok {
			return idx
		}
		if idx, ok := transport.IPv6.InterfaceIndex(rec); ok {
			return idx
		}
	}
	return 0
}

// ReceivingInterface looks up the receiving interface in the directory.
func (d *Datagram) ReceivingInterface() (netif.Interface, error) {
	idx := d.InterfaceIndex()
	if idx == 0 {
		return netif.Interface{}, &dgerrors.InterfaceError{}
	}
	return netif.ByIndex(d.directory, idx)
}
