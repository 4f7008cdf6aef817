package transport

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// Darwin delivers both the legacy IP_RECVDSTADDR/IP_RECVIF records and the
// portable IP_PKTINFO record for IPv4; all three are requested.
var (
	IPv4 = &Family{
		Name:              "IPv4",
		Network:           "udp4",
		Level:             unix.IPPROTO_IP,
		Wildcard:          netip.IPv4Unspecified(),
		Limited:           netip.AddrFrom4([4]byte{255, 255, 255, 255}),
		PacketInfoType:    unix.IP_PKTINFO,
		DestinationType:   unix.IP_RECVDSTADDR,
		InterfaceType:     unix.IP_RECVIF,
		packetInfoOptions: []int{unix.IP_RECVDSTADDR, unix.IP_RECVIF, unix.IP_RECVPKTINFO},
		boundIfOption:     unix.IP_BOUND_IF,
	}

	IPv6 = &Family{
		Name:              "IPv6",
		Network:           "udp6",
		Level:             unix.IPPROTO_IPV6,
		Wildcard:          netip.IPv6Unspecified(),
		PacketInfoType:    unix.IPV6_PKTINFO,
		DestinationType:   -1,
		InterfaceType:     -1,
		packetInfoOptions: []int{unix.IPV6_RECVPKTINFO},
		boundIfOption:     unix.IPV6_BOUND_IF,
	}
)
