//go:build darwin || linux

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/raisov/Transceiver/internal/errors"
)

// Options are socket options applied after the socket is created and before
// it is bound or connected.
type Options struct {
	Reuse      bool // SO_REUSEADDR and SO_REUSEPORT
	Broadcast  bool // SO_BROADCAST
	PacketInfo bool // request destination and interface records
	Interface  int  // pin egress to this interface index, 0 for none
}

func (o Options) control(f *Family) func(network, address string, c syscall.RawConn) error {
	return func(_, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = o.apply(int(fd), f)
		}); err != nil {
			return err
		}
		if serr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "control",
				"address":  address,
				"family":   f.Name,
			}).WithError(serr).Debug("socket option rejected")
		}
		return serr
	}
}

func (o Options) apply(fd int, f *Family) error {
	if o.Reuse {
		if err := setReuse(fd); err != nil {
			return &errors.NetworkError{Operation: "set socket option", Err: err, Details: "address reuse"}
		}
	}
	if o.Broadcast {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return &errors.NetworkError{Operation: "set socket option", Err: err, Details: "SO_BROADCAST"}
		}
	}
	if o.PacketInfo {
		if err := enablePacketInfo(fd, f); err != nil {
			return err
		}
	}
	if o.Interface > 0 {
		if err := bindToInterface(fd, f, o.Interface); err != nil {
			return &errors.NetworkError{
				Operation: "set socket option",
				Err:       err,
				Details:   fmt.Sprintf("bind to interface %d", o.Interface),
			}
		}
	}
	return nil
}

func enablePacketInfo(fd int, f *Family) error {
	for _, opt := range f.packetInfoOptions {
		if err := unix.SetsockoptInt(fd, f.Level, opt, 1); err != nil {
			return &errors.NetworkError{
				Operation: "set socket option",
				Err:       err,
				Details:   fmt.Sprintf("%s packet info option %d", f.Name, opt),
			}
		}
	}
	return nil
}

// Listen creates a UDP socket of family f with opts applied and binds it to
// laddr. A zero port asks the system for an ephemeral one.
func Listen(ctx context.Context, f *Family, laddr netip.AddrPort, opts Options) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: opts.control(f)}
	pc, err := lc.ListenPacket(ctx, f.Network, laddr.String())
	if err != nil {
		return nil, &errors.NetworkError{Operation: "bind", Err: err, Details: laddr.String()}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"local":    pc.LocalAddr().String(),
		"options":  fmt.Sprintf("%+v", opts),
	}).Debug("socket bound")

	return pc.(*net.UDPConn), nil
}

// Dial creates a UDP socket of family f with opts applied and connects it to
// raddr. The system chooses the local address and port.
func Dial(ctx context.Context, f *Family, raddr netip.AddrPort, opts Options) (*net.UDPConn, error) {
	d := net.Dialer{Control: opts.control(f)}
	c, err := d.DialContext(ctx, f.Network, raddr.String())
	if err != nil {
		return nil, &errors.NetworkError{Operation: "connect", Err: err, Details: raddr.String()}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"local":    c.LocalAddr().String(),
		"remote":   c.RemoteAddr().String(),
		"options":  fmt.Sprintf("%+v", opts),
	}).Debug("socket connected")

	return c.(*net.UDPConn), nil
}

// EnablePacketInfo turns on destination and interface records on an existing
// socket.
func EnablePacketInfo(c *net.UDPConn, f *Family) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return &errors.NetworkError{Operation: "set socket option", Err: err, Details: "packet info"}
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = enablePacketInfo(int(fd), f)
	}); err != nil {
		return &errors.NetworkError{Operation: "set socket option", Err: err, Details: "packet info"}
	}
	return serr
}

// Duplicate returns an independent connection on a duplicate of the
// descriptor underlying c. Closing one leaves the other open.
func Duplicate(c *net.UDPConn) (*net.UDPConn, error) {
	file, err := c.File()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "duplicate descriptor", Err: err}
	}
	defer file.Close()

	pc, err := net.FilePacketConn(file)
	if err != nil {
		return nil, &errors.NetworkError{Operation: "duplicate descriptor", Err: err}
	}
	uc, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, &errors.NetworkError{
			Operation: "duplicate descriptor",
			Err:       fmt.Errorf("unexpected connection type %T", pc),
		}
	}
	return uc, nil
}

// LocalAddrPort returns the bound address of c, if any.
func LocalAddrPort(c *net.UDPConn) (netip.AddrPort, bool) {
	return addrPortOf(c.LocalAddr())
}

// RemoteAddrPort returns the connected peer of c, if any.
func RemoteAddrPort(c *net.UDPConn) (netip.AddrPort, bool) {
	return addrPortOf(c.RemoteAddr())
}

func addrPortOf(a net.Addr) (netip.AddrPort, bool) {
	ua, ok := a.(*net.UDPAddr)
	if !ok || ua == nil {
		return netip.AddrPort{}, false
	}
	ap := ua.AddrPort()
	if !ap.Addr().IsValid() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}
