//go:build darwin || linux

package packet

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"

	dgerrors "github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/internal/metrics"
	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

// Reply sends data back to the sender of d.
//
// A datagram received on a wildcard or multicast address gives no usable
// source address, so the reply goes out through a fresh socket bound to the
// receiving interface and the system picks the source address there. Any
// other datagram is answered through the socket it arrived on, so the reply
// carries the address the sender talked to.
//
// A datagram without a sender is logged and dropped.
func (d *Datagram) Reply(ctx context.Context, data []byte) error {
	to, ok := d.Sender()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Reply",
			"local":    d.origin.Local.String(),
		}).Warn("datagram has no sender, reply dropped")
		return nil
	}

	local := d.origin.Local.Addr()
	if !local.IsValid() || transport.IsWildcard(local) || transport.IsMulticast(local) {
		if ifi, err := d.ReceivingInterface(); err == nil {
			return d.replyThrough(ctx, ifi, to, data)
		}
	}
	return d.replyDirect(to, data)
}

func (d *Datagram) replyThrough(ctx context.Context, ifi netif.Interface, to netip.AddrPort, data []byte) error {
	fam := transport.FamilyOf(to.Addr())
	c, err := transport.Listen(ctx, fam, netip.AddrPortFrom(fam.Wildcard, 0), transport.Options{Interface: ifi.Index})
	if err != nil {
		return err
	}
	defer c.Close()

	logrus.WithFields(logrus.Fields{
		"function":  "Reply",
		"interface": ifi.Name,
		"to":        to.String(),
	}).Debug("replying through interface-bound socket")

	n, err := c.WriteToUDPAddrPort(data, to)
	if err := written(n, len(data), err, to); err != nil {
		return err
	}
	metrics.Replies.WithValues("interface").Inc()
	return nil
}

func (d *Datagram) replyDirect(to netip.AddrPort, data []byte) error {
	c := d.origin.Conn
	if c == nil {
		return &dgerrors.NetworkError{Operation: "reply", Err: dgerrors.ErrNoDestination, Details: "no socket to reply through"}
	}

	var (
		n   int
		err error
	)
	if d.origin.Remote.IsValid() {
		if !sameEndpoint(d.origin.Remote, to) {
			return &dgerrors.NetworkError{
				Operation: "reply",
				Err:       net.ErrWriteToConnected,
				Details:   fmt.Sprintf("socket is connected to %s, sender is %s", d.origin.Remote, to),
			}
		}
		n, err = c.Write(data)
	} else {
		n, err = c.WriteToUDPAddrPort(data, to)
	}
	if err := written(n, len(data), err, to); err != nil {
		return err
	}
	metrics.Replies.WithValues("origin").Inc()
	return nil
}

func sameEndpoint(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap().WithZone("") == b.Addr().Unmap().WithZone("")
}

func written(n, want int, err error, to netip.AddrPort) error {
	if err != nil {
		return &dgerrors.NetworkError{
			Operation: "reply",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", want, to),
		}
	}
	if n != want {
		return &dgerrors.NetworkError{
			Operation: "reply",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, want),
			Details:   "incomplete transmission",
		}
	}
	return nil
}
