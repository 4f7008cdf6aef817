//go:build darwin || linux

// Package receiver listens for datagrams on a port, either on local
// addresses or on a multicast group, and delivers them to a handler.
package receiver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/raisov/Transceiver/datagram"
	"github.com/raisov/Transceiver/internal/dispatch"
	"github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/internal/packet"
	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

// Receiver owns one socket per bound address, or one multicast socket.
type Receiver struct {
	port      uint16
	ifi       *netif.Interface
	addrs     []netip.Addr
	directory netif.Directory
	cfg       packet.Config

	conns  []*net.UDPConn
	group  netip.Addr
	joined []netif.Interface

	mu       sync.Mutex
	handler  datagram.Handler
	bindings []*dispatch.Binding
	closed   bool
}

func newReceiver(port uint16, opts []Option) (*Receiver, error) {
	r := &Receiver{
		port:      port,
		directory: netif.System,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	r.cfg.Directory = r.directory
	return r, nil
}

// New creates a receiver bound to port on every address of the configured
// interface, on the WithAddresses set, or on every address of every
// interface. IPv4 interfaces with a broadcast address also get a socket on
// it so directed broadcasts are received.
//
// The limited broadcast 255.255.255.255, which a transmitter created without
// host or interface sends to, is delivered on Linux only to sockets bound to
// the wildcard address; pass WithAddresses(netip.IPv4Unspecified()) to
// receive it.
//
// With port 0 the first socket picks an ephemeral port and every other
// address is bound to the same one.
//
// Binding is all-or-nothing: if any address fails, the sockets opened so far
// are closed and the error is returned.
func New(ctx context.Context, port uint16, opts ...Option) (*Receiver, error) {
	r, err := newReceiver(port, opts)
	if err != nil {
		return nil, err
	}

	addrs, err := r.bindAddresses()
	if err != nil {
		return nil, err
	}

	for _, addr := range addrs {
		c, err := transport.Listen(ctx, transport.FamilyOf(addr), netip.AddrPortFrom(addr, port),
			transport.Options{Reuse: true, PacketInfo: true})
		if err != nil {
			r.closeConns()
			return nil, err
		}
		r.conns = append(r.conns, c)
		if port == 0 {
			if local, ok := transport.LocalAddrPort(c); ok {
				port = local.Port()
				r.port = port
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"port":     port,
		"sockets":  len(r.conns),
	}).Info("receiver bound")

	return r, nil
}

// bindAddresses lists the local addresses to bind, link-local ones scoped to
// their interface.
func (r *Receiver) bindAddresses() ([]netip.Addr, error) {
	if len(r.addrs) > 0 {
		return r.addrs, nil
	}

	var ifaces []netif.Interface
	if r.ifi != nil {
		ifaces = []netif.Interface{*r.ifi}
	} else {
		all, err := r.directory.Interfaces()
		if err != nil {
			return nil, fmt.Errorf("failed to list interfaces: %w", err)
		}
		ifaces = all
	}

	var addrs []netip.Addr
	for _, ifi := range ifaces {
		for _, a := range ifi.Addrs() {
			addrs = append(addrs, transport.WithScope(a, ifi.Index))
		}
		if ifi.Broadcast.IsValid() {
			addrs = append(addrs, ifi.Broadcast)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no local addresses to bind: %w", errors.ErrInterfaceNotFound)
	}
	return addrs, nil
}

// NewMulticast creates a receiver for group, a numeric multicast address,
// on port. The group is joined on the configured interface, or on every
// interface that supports multicast, is not point-to-point and has an
// address of the group's family. A failed join fails construction.
func NewMulticast(ctx context.Context, port uint16, group string, opts ...Option) (*Receiver, error) {
	r, err := newReceiver(port, opts)
	if err != nil {
		return nil, err
	}

	addr, err := netip.ParseAddr(group)
	if err != nil {
		return nil, &errors.ResolutionError{Host: group, Err: err}
	}
	addr = addr.Unmap()
	if !transport.IsMulticast(addr) {
		return nil, &errors.ResolutionError{Host: group, Err: fmt.Errorf("%s is not a multicast group", addr)}
	}
	r.group = addr
	fam := transport.FamilyOf(addr)

	// A link-local group can only be bound with a scope.
	bindAddr := addr
	if transport.IsLinkLocal(addr) && fam == transport.IPv6 {
		if r.ifi != nil {
			bindAddr = transport.WithScope(addr, r.ifi.Index)
		} else {
			bindAddr = fam.Wildcard
		}
	}

	c, err := transport.Listen(ctx, fam, netip.AddrPortFrom(bindAddr, port), transport.Options{Reuse: true, PacketInfo: true})
	if err != nil {
		return nil, err
	}
	r.conns = []*net.UDPConn{c}

	ifaces, err := r.directory.Interfaces()
	if err != nil {
		r.closeConns()
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	r.joined, err = joinGroup(fam.Multicast(c), joinTargets(ifaces, addr, r.ifi), addr)
	if err != nil {
		r.closeConns()
		return nil, err
	}

	names := make([]string, 0, len(r.joined))
	for _, ifi := range r.joined {
		names = append(names, ifi.Name)
	}
	logrus.WithFields(logrus.Fields{
		"function":   "NewMulticast",
		"group":      addr.String(),
		"port":       port,
		"interfaces": names,
	}).Info("multicast receiver joined")

	return r, nil
}

// groupJoiner is the membership part of ipv4.PacketConn and ipv6.PacketConn.
type groupJoiner interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
}

// joinTargets selects the interfaces a group is joined on.
func joinTargets(ifaces []netif.Interface, group netip.Addr, explicit *netif.Interface) []netif.Interface {
	if explicit != nil {
		return []netif.Interface{*explicit}
	}
	var targets []netif.Interface
	for _, ifi := range ifaces {
		if !ifi.SupportsMulticast() || ifi.IsPointToPoint() || len(ifi.AddrsOf(group)) == 0 {
			continue
		}
		targets = append(targets, ifi)
	}
	return targets
}

func joinGroup(j groupJoiner, targets []netif.Interface, group netip.Addr) ([]netif.Interface, error) {
	ga := &net.UDPAddr{IP: group.AsSlice()}
	joined := make([]netif.Interface, 0, len(targets))
	for _, ifi := range targets {
		if err := j.JoinGroup(ifi.Net(), ga); err != nil {
			return nil, &errors.NetworkError{
				Operation: "join group",
				Err:       err,
				Details:   fmt.Sprintf("%s on %s", group, ifi.Name),
			}
		}
		joined = append(joined, ifi)
	}
	return joined, nil
}

// LocalAddrs returns the bound address of every socket.
func (r *Receiver) LocalAddrs() []netip.AddrPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]netip.AddrPort, 0, len(r.conns))
	for _, c := range r.conns {
		if a, ok := transport.LocalAddrPort(c); ok {
			out = append(out, a)
		}
	}
	return out
}

// Group returns the multicast group, invalid for a unicast receiver.
func (r *Receiver) Group() netip.Addr {
	return r.group
}

// Joined returns the interfaces the multicast group was joined on.
func (r *Receiver) Joined() []netif.Interface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]netif.Interface(nil), r.joined...)
}

// Handler returns the installed handler.
func (r *Receiver) Handler() datagram.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// SetHandler installs h on every socket. The first non-nil handler registers
// the sockets; nil suspends delivery until the next handler. Registration
// failures are reported to h.OnError.
func (r *Receiver) SetHandler(h datagram.Handler) {
	if err := r.setHandler(h); err != nil {
		logrus.WithFields(logrus.Fields{"function": "SetHandler"}).WithError(err).Warn("handler not installed")
		h.OnError(err)
	}
}

func (r *Receiver) setHandler(h datagram.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		if h == nil {
			return nil
		}
		return errors.ErrNotReady
	}

	if h != nil && r.bindings == nil {
		bindings := make([]*dispatch.Binding, 0, len(r.conns))
		for _, c := range r.conns {
			b, err := dispatch.Bind(c, r.cfg)
			if err != nil {
				for _, b := range bindings {
					b.Close(nil)
				}
				return err
			}
			bindings = append(bindings, b)
		}
		r.bindings = bindings
	}

	for _, b := range r.bindings {
		b.SetHandler(h)
	}
	r.handler = h
	return nil
}

// Close releases every socket. It does not wait for a running handler and
// may be called from one.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.handler = nil
	for _, b := range r.bindings {
		b.Close(nil)
	}
	r.bindings = nil
	return r.closeConns()
}

func (r *Receiver) closeConns() error {
	var first error
	for _, c := range r.conns {
		if err := c.Close(); err != nil && first == nil {
			first = &errors.NetworkError{Operation: "close socket", Err: err, Details: c.LocalAddr().String()}
		}
	}
	r.conns = nil
	return first
}
