//go:build darwin || linux

package receiver

import (
	"fmt"
	"net/netip"

	"github.com/raisov/Transceiver/netif"
)

// Option is a functional option for configuring a Receiver.
type Option func(*Receiver) error

// WithInterface restricts the receiver to ifi: its addresses are bound, or
// for a multicast receiver, the group is joined on it alone.
func WithInterface(ifi netif.Interface) Option {
	return func(r *Receiver) error {
		r.ifi = &ifi
		return nil
	}
}

// WithAddresses binds exactly addrs instead of the interface addresses. A
// wildcard address receives on every interface, broadcasts included.
func WithAddresses(addrs ...netip.Addr) Option {
	return func(r *Receiver) error {
		if len(addrs) == 0 {
			return fmt.Errorf("address list cannot be empty")
		}
		r.addrs = append([]netip.Addr(nil), addrs...)
		return nil
	}
}

// WithDirectory replaces the system interface directory.
func WithDirectory(d netif.Directory) Option {
	return func(r *Receiver) error {
		if d == nil {
			return fmt.Errorf("directory cannot be nil")
		}
		r.directory = d
		return nil
	}
}

// WithMaxDatagramSize limits the payload kept from each datagram.
func WithMaxDatagramSize(n int) Option {
	return func(r *Receiver) error {
		if n <= 0 {
			return fmt.Errorf("max datagram size must be positive, got %d", n)
		}
		r.cfg.MaxDataLength = n
		return nil
	}
}

// WithAncillaryBufferSize sets the room reserved for ancillary records.
func WithAncillaryBufferSize(n int) Option {
	return func(r *Receiver) error {
		if n <= 0 {
			return fmt.Errorf("ancillary buffer size must be positive, got %d", n)
		}
		r.cfg.MaxAncillaryLength = n
		return nil
	}
}
