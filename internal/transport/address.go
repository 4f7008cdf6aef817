//go:build darwin || linux

package transport

import (
	"context"
	"net/netip"
	"strconv"

	"github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/netif"
)

// Kind is the delivery class of a destination address.
type Kind int

const (
	Unicast Kind = iota
	Broadcast
	Multicast
)

func (k Kind) String() string {
	switch k {
	case Broadcast:
		return "broadcast"
	case Multicast:
		return "multicast"
	default:
		return "unicast"
	}
}

// IsWildcard reports whether addr is the unspecified address of its family.
func IsWildcard(addr netip.Addr) bool {
	return addr.Unmap().IsUnspecified()
}

// IsMulticast reports whether addr is a multicast group address.
func IsMulticast(addr netip.Addr) bool {
	return addr.Unmap().IsMulticast()
}

// IsLinkLocal reports whether addr is valid only on one link.
func IsLinkLocal(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast()
}

// IsBroadcast reports whether addr is the limited broadcast address or the
// directed broadcast address of one of ifaces.
func IsBroadcast(addr netip.Addr, ifaces []netif.Interface) bool {
	addr = addr.Unmap()
	if !addr.Is4() {
		return false
	}
	if addr == IPv4.Limited {
		return true
	}
	for _, ifi := range ifaces {
		if ifi.Broadcast.IsValid() && ifi.Broadcast == addr {
			return true
		}
	}
	return false
}

// Classify returns the delivery class of addr.
func Classify(addr netip.Addr, ifaces []netif.Interface) Kind {
	switch {
	case IsMulticast(addr):
		return Multicast
	case IsBroadcast(addr, ifaces):
		return Broadcast
	default:
		return Unicast
	}
}

// ScopeIndex returns the interface index named by the zone of addr, or 0 when
// addr has no zone or the zone does not name an interface of d.
func ScopeIndex(addr netip.Addr, d netif.Directory) int {
	zone := addr.Zone()
	if zone == "" {
		return 0
	}
	if n, err := strconv.Atoi(zone); err == nil {
		return n
	}
	ifi, err := netif.ByName(d, zone)
	if err != nil {
		return 0
	}
	return ifi.Index
}

// WithScope gives an IPv6 link-local address the numeric zone of index.
// Other addresses are returned unchanged.
func WithScope(addr netip.Addr, index int) netip.Addr {
	if !addr.Is6() || addr.Is4In6() || !IsLinkLocal(addr) || index == 0 {
		return addr
	}
	return addr.WithZone(strconv.Itoa(index))
}

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolve turns host into one address. Literals are parsed without a lookup.
// Otherwise the first address returned by r wins; which one that is depends
// on the resolver.
func Resolve(ctx context.Context, r Resolver, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap(), nil
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, &errors.ResolutionError{Host: host, Err: err}
	}
	if len(addrs) == 0 {
		return netip.Addr{}, &errors.ResolutionError{Host: host}
	}
	return addrs[0].Unmap(), nil
}
