// Package netif describes network interfaces as the transceiver sees them.
//
// Interfaces are never cached: every lookup asks the Directory again, because
// addresses come and go and two snapshots may be ordered differently. Tests
// substitute a Static directory for the system one.
package netif

import (
	"net"
	"net/netip"

	dgerrors "github.com/raisov/Transceiver/internal/errors"
)

// ErrNotFound is returned by the lookup helpers when nothing matches.
var ErrNotFound = dgerrors.ErrInterfaceNotFound

// Interface is one network interface snapshot.
type Interface struct {
	Index     int       // kernel interface index, used as routing scope id
	Name      string    // e.g. "eth0"
	Flags     net.Flags // capability flags
	IPv4      []netip.Addr
	IPv6      []netip.Addr
	Broadcast netip.Addr // directed broadcast address, invalid when none
}

// SupportsMulticast reports whether the interface can join multicast groups.
func (i Interface) SupportsMulticast() bool {
	return i.Flags&net.FlagMulticast != 0
}

// IsPointToPoint reports whether the interface is a point-to-point link.
func (i Interface) IsPointToPoint() bool {
	return i.Flags&net.FlagPointToPoint != 0
}

// IsLoopback reports whether the interface is a loopback interface.
func (i Interface) IsLoopback() bool {
	return i.Flags&net.FlagLoopback != 0
}

// Addrs returns the IPv4 addresses followed by the IPv6 addresses.
func (i Interface) Addrs() []netip.Addr {
	addrs := make([]netip.Addr, 0, len(i.IPv4)+len(i.IPv6))
	addrs = append(addrs, i.IPv4...)
	return append(addrs, i.IPv6...)
}

// AddrsOf returns the addresses of the same protocol family as like.
func (i Interface) AddrsOf(like netip.Addr) []netip.Addr {
	if like.Unmap().Is4() {
		return i.IPv4
	}
	return i.IPv6
}

// Contains reports whether addr is configured on the interface. Zones and
// IPv4-mapped forms are ignored.
func (i Interface) Contains(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, a := range i.AddrsOf(addr) {
		if a.Unmap().WithZone("") == addr {
			return true
		}
	}
	return false
}

// Net converts the snapshot into the form expected by golang.org/x/net.
func (i Interface) Net() *net.Interface {
	return &net.Interface{Index: i.Index, Name: i.Name, Flags: i.Flags}
}

// Directory enumerates network interfaces.
type Directory interface {
	Interfaces() ([]Interface, error)
}

// DirectoryFunc adapts a function to the Directory interface.
type DirectoryFunc func() ([]Interface, error)

// Interfaces calls f.
func (f DirectoryFunc) Interfaces() ([]Interface, error) {
	return f()
}

// Static is a fixed directory, mostly useful as a test fixture.
type Static []Interface

// Interfaces returns a copy of the fixture.
func (s Static) Interfaces() ([]Interface, error) {
	out := make([]Interface, len(s))
	copy(out, s)
	return out, nil
}

// ByIndex returns the first interface with the given index.
func ByIndex(d Directory, index int) (Interface, error) {
	ifaces, err := d.Interfaces()
	if err != nil {
		return Interface{}, err
	}
	for _, ifi := range ifaces {
		if ifi.Index == index {
			return ifi, nil
		}
	}
	return Interface{}, &dgerrors.InterfaceError{Index: index}
}

// ByName returns the first interface with the given name.
func ByName(d Directory, name string) (Interface, error) {
	ifaces, err := d.Interfaces()
	if err != nil {
		return Interface{}, err
	}
	for _, ifi := range ifaces {
		if ifi.Name == name {
			return ifi, nil
		}
	}
	return Interface{}, &dgerrors.InterfaceError{Name: name}
}

// ByAddress returns the first interface whose address list contains addr.
func ByAddress(d Directory, addr netip.Addr) (Interface, error) {
	ifaces, err := d.Interfaces()
	if err != nil {
		return Interface{}, err
	}
	for _, ifi := range ifaces {
		if ifi.Contains(addr) {
			return ifi, nil
		}
	}
	return Interface{}, &dgerrors.InterfaceError{Addr: addr}
}
