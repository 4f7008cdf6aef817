//go:build darwin || linux

package transmitter

import (
	"fmt"

	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

// Option is a functional option for configuring a Transmitter.
//
// Options are applied by New before any socket is created. An option that
// returns an error aborts construction.
//
// Example:
//
//	tx, err := transmitter.New(ctx, 9000,
//	    transmitter.WithHost("192.168.1.20"),
//	    transmitter.WithMaxDatagramSize(1500),
//	)
type Option func(*Transmitter) error

// WithHost sets the destination host: an IPv4 or IPv6 literal, or a name
// resolved through the configured Resolver. Without a host the transmitter
// broadcasts, on the interface's broadcast address when WithInterface is
// given and on 255.255.255.255 otherwise.
func WithHost(host string) Option {
	return func(t *Transmitter) error {
		t.host = host
		return nil
	}
}

// WithInterface pins the transmitter to ifi: outgoing datagrams leave
// through it and multicast is sent on it.
func WithInterface(ifi netif.Interface) Option {
	return func(t *Transmitter) error {
		t.ifi = &ifi
		return nil
	}
}

// WithDirectory replaces the system interface directory.
func WithDirectory(d netif.Directory) Option {
	return func(t *Transmitter) error {
		if d == nil {
			return fmt.Errorf("directory cannot be nil")
		}
		t.directory = d
		return nil
	}
}

// WithResolver replaces net.DefaultResolver for host name lookups.
func WithResolver(r transport.Resolver) Option {
	return func(t *Transmitter) error {
		if r == nil {
			return fmt.Errorf("resolver cannot be nil")
		}
		t.resolver = r
		return nil
	}
}

// WithMaxDatagramSize limits the payload kept from each reply. Longer
// replies are truncated and flagged.
func WithMaxDatagramSize(n int) Option {
	return func(t *Transmitter) error {
		if n <= 0 {
			return fmt.Errorf("max datagram size must be positive, got %d", n)
		}
		t.cfg.MaxDataLength = n
		return nil
	}
}

// WithAncillaryBufferSize sets the room reserved for ancillary records of
// each reply.
func WithAncillaryBufferSize(n int) Option {
	return func(t *Transmitter) error {
		if n <= 0 {
			return fmt.Errorf("ancillary buffer size must be positive, got %d", n)
		}
		t.cfg.MaxAncillaryLength = n
		return nil
	}
}
