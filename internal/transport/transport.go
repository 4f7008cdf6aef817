//go:build darwin || linux

// Package transport is the socket primitive underneath the transmitter and
// receiver: socket creation with pre-bind options, descriptor duplication,
// non-blocking recvmsg, and address classification.
//
// IPv4 and IPv6 differ only in constants (option levels, record types, the
// x/net multicast adapter). Those constants live in a Family value so every
// algorithm above this package is written once.
package transport

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/raisov/Transceiver/internal/ancillary"
)

// Family is the tagged variant over IPv4 and IPv6.
type Family struct {
	Name     string     // "IPv4" or "IPv6"
	Network  string     // network name for the net package
	Level    int        // IPPROTO_IP or IPPROTO_IPV6
	Wildcard netip.Addr // unspecified address
	Limited  netip.Addr // limited broadcast address, invalid for IPv6

	// PacketInfoType is the record type of the portable packet-info record.
	PacketInfoType int
	// DestinationType and InterfaceType are the legacy destination-address
	// and receive-interface record types, -1 where the platform has none.
	DestinationType int
	InterfaceType   int

	packetInfoOptions []int // options enabled at Level to request records
	boundIfOption     int   // per-family egress binding option, 0 if unused
}

// FamilyOf returns the family of addr. IPv4-mapped addresses are IPv4.
func FamilyOf(addr netip.Addr) *Family {
	if addr.Unmap().Is4() {
		return IPv4
	}
	return IPv6
}

// Is4 reports whether f is IPv4.
func (f *Family) Is4() bool {
	return f == IPv4
}

func (f *Family) String() string {
	return f.Name
}

// MulticastConn is the part of ipv4.PacketConn and ipv6.PacketConn used for
// group membership and outgoing multicast configuration.
type MulticastConn interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
	SetMulticastInterface(ifi *net.Interface) error
	SetMulticastLoopback(on bool) error
}

// Multicast wraps c with the x/net adapter of the family.
func (f *Family) Multicast(c net.PacketConn) MulticastConn {
	if f.Is4() {
		return ipv4.NewPacketConn(c)
	}
	return ipv6.NewPacketConn(c)
}

// PacketInfo decodes rec if it is this family's packet-info record.
func (f *Family) PacketInfo(rec ancillary.Record) (ancillary.PacketInfo, bool) {
	if rec.Level != f.Level || rec.Type != f.PacketInfoType {
		return ancillary.PacketInfo{}, false
	}
	if f.Is4() {
		return ancillary.PacketInfo4(rec.Data)
	}
	return ancillary.PacketInfo6(rec.Data)
}

// Destination decodes the destination address carried by rec, if rec is a
// legacy destination-address record or a packet-info record of this family.
func (f *Family) Destination(rec ancillary.Record) (netip.Addr, bool) {
	if rec.Level == f.Level && rec.Type == f.DestinationType {
		return ancillary.DestinationAddr4(rec.Data)
	}
	if info, ok := f.PacketInfo(rec); ok {
		return info.Addr, true
	}
	return netip.Addr{}, false
}

// InterfaceIndex decodes the receiving interface index carried by rec, if rec
// is a legacy receive-interface record or a packet-info record of this family.
func (f *Family) InterfaceIndex(rec ancillary.Record) (int, bool) {
	if rec.Level == f.Level && rec.Type == f.InterfaceType {
		return ancillary.InterfaceIndexFromLink(rec.Data)
	}
	if info, ok := f.PacketInfo(rec); ok {
		return info.IfIndex, true
	}
	return 0, false
}
