//go:build darwin || linux

// Package transmitter sends datagrams to one destination and, optionally,
// delivers the replies to a handler.
//
// The destination may be a unicast host, a broadcast address or a multicast
// group. Sends go through a connected primary socket. Replies are received on
// an auxiliary path that exists only while a handler is set: for unicast it is
// the primary socket itself, whose connection already filters out everything
// but the destination; for broadcast and multicast, where replies come from
// any host, it is a second socket sharing the primary's local address and port.
package transmitter

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
	"github.com/raisov/Transceiver/internal/metrics"
	"github.com/raisov/Transceiver/internal/packet"
	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

// Transmitter sends datagrams to a fixed destination.
type Transmitter struct {
	port      uint16
	host      string
	ifi       *netif.Interface
	directory netif.Directory
	resolver  transport.Resolver
	cfg       packet.Config

	fam    *transport.Family
	kind   transport.Kind
	conn   *net.UDPConn
	local  netip.AddrPort
	remote netip.AddrPort

	mu      sync.Mutex
	handler datagram.Handler
	binding *dispatch.Binding
	closed  bool
}

// New creates a transmitter sending to port on the configured host.
//
// The destination is classified once: broadcast destinations get
// SO_BROADCAST, multicast destinations get loopback and an outgoing
// interface. For both, the primary socket allows address reuse so the reply
// socket can share its port.
func New(ctx context.Context, port uint16, opts ...Option) (*Transmitter, error) {
	t := &Transmitter{
		port:      port,
		directory: netif.System,
		resolver:  net.DefaultResolver,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	t.cfg.Directory = t.directory

	dst, err := t.destination(ctx)
	if err != nil {
		return nil, err
	}
	ifaces, err := t.directory.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	t.fam = transport.FamilyOf(dst)
	t.kind = transport.Classify(dst, ifaces)

	sockOpts := transport.Options{
		Reuse:     t.kind != transport.Unicast,
		Broadcast: t.kind == transport.Broadcast,
	}
	switch {
	case t.ifi != nil:
		sockOpts.Interface = t.ifi.Index
		dst = transport.WithScope(dst, t.ifi.Index)
	case transport.IsLinkLocal(dst):
		sockOpts.Interface = transport.ScopeIndex(dst, t.directory)
	}

	conn, err := transport.Dial(ctx, t.fam, netip.AddrPortFrom(dst, port), sockOpts)
	if err != nil {
		return nil, err
	}
	t.conn = conn
	t.local, _ = transport.LocalAddrPort(conn)
	t.remote, _ = transport.RemoteAddrPort(conn)

	if t.kind == transport.Multicast {
		if err := t.configureMulticast(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"local":    t.local.String(),
		"remote":   t.remote.String(),
		"kind":     t.kind.String(),
	}).Info("transmitter ready")

	return t, nil
}

// destination picks the address datagrams are sent to.
func (t *Transmitter) destination(ctx context.Context) (netip.Addr, error) {
	switch {
	case t.host != "":
		return transport.Resolve(ctx, t.resolver, t.host)
	case t.ifi != nil && t.ifi.Broadcast.IsValid():
		return t.ifi.Broadcast, nil
	default:
		return transport.IPv4.Limited, nil
	}
}

func (t *Transmitter) configureMulticast() error {
	mc := t.fam.Multicast(t.conn)
	if err := mc.SetMulticastLoopback(true); err != nil {
		return &errors.NetworkError{Operation: "set socket option", Err: err, Details: "multicast loopback"}
	}

	var ifi netif.Interface
	if t.ifi != nil {
		ifi = *t.ifi
	} else {
		found, err := netif.ByAddress(t.directory, t.local.Addr())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "configureMulticast",
				"local":    t.local.String(),
			}).WithError(err).Warn("outgoing multicast interface left to the system")
			return nil
		}
		ifi = found
	}
	if err := mc.SetMulticastInterface(ifi.Net()); err != nil {
		return &errors.NetworkError{
			Operation: "set socket option",
			Err:       err,
			Details:   fmt.Sprintf("multicast interface %s", ifi.Name),
		}
	}
	return nil
}

// LocalAddr returns the address and port datagrams are sent from.
func (t *Transmitter) LocalAddr() netip.AddrPort {
	return t.local
}

// RemoteAddr returns the destination.
func (t *Transmitter) RemoteAddr() netip.AddrPort {
	return t.remote
}

// Handler returns the reply handler, nil when none is set.
func (t *Transmitter) Handler() datagram.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// SetHandler sets the handler for replies. The first non-nil handler opens
// the reply path; setting nil closes it. Failures opening the path are
// reported to h.OnError and leave no handler set.
func (t *Transmitter) SetHandler(h datagram.Handler) {
	err := t.setHandler(h)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SetHandler",
			"local":    t.local.String(),
		}).WithError(err).Warn("reply path not opened")
		h.OnError(err)
	}
}

func (t *Transmitter) setHandler(h datagram.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		if h == nil {
			return nil
		}
		return errors.ErrNotReady
	}

	switch {
	case h == nil:
		if t.binding != nil {
			t.binding.Close(nil)
			t.binding = nil
		}
	case t.binding != nil:
		t.binding.SetHandler(h)
	default:
		b, err := t.openReplyPath()
		if err != nil {
			t.handler = nil
			return err
		}
		t.binding = b
		b.SetHandler(h)
	}
	t.handler = h
	return nil
}

func (t *Transmitter) openReplyPath() (*dispatch.Binding, error) {
	ifi, err := netif.ByAddress(t.directory, t.local.Addr())
	if err != nil {
		return nil, err
	}

	aux := t.conn
	if t.kind == transport.Unicast {
		if err := transport.EnablePacketInfo(t.conn, t.fam); err != nil {
			return nil, err
		}
	} else {
		aux, err = transport.Listen(context.Background(), t.fam, t.local, transport.Options{Reuse: true, PacketInfo: true})
		if err != nil {
			return nil, err
		}
		// The binding keeps its own descriptor.
		defer aux.Close()
	}

	b, err := dispatch.Bind(aux, t.cfg)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "openReplyPath",
		"local":     t.local.String(),
		"interface": ifi.Name,
		"kind":      t.kind.String(),
	}).Debug("reply path open")

	return b, nil
}

// Send transmits data as one datagram. It returns ErrNotReady when the
// transmitter is closed.
func (t *Transmitter) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || t.conn == nil || !t.local.IsValid() || !t.remote.IsValid() {
		return errors.ErrNotReady
	}

	select {
	case <-ctx.Done():
		return &errors.NetworkError{
			Operation: "send",
			Err:       ctx.Err(),
			Details:   "context canceled before send",
		}
	default:
	}

	n, err := t.conn.Write(data)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(data), t.remote),
		}
	}
	if n != len(data) {
		return &errors.NetworkError{
			Operation: "send",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(data)),
			Details:   "incomplete transmission",
		}
	}

	metrics.DatagramsSent.Inc()
	metrics.BytesSent.Inc(float64(n))
	return nil
}

// Close releases the sockets. It does not wait for a running handler and may
// be called from one.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.handler = nil
	if t.binding != nil {
		t.binding.Close(nil)
		t.binding = nil
	}

	if err := t.conn.Close(); err != nil {
		return &errors.NetworkError{
			Operation: "close socket",
			Err:       err,
			Details:   "failed to close UDP connection",
		}
	}
	return nil
}
