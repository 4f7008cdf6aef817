package transport

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// Linux reports the destination and interface of IPv4 packets only through
// IP_PKTINFO; there are no legacy records.
var (
	IPv4 = &Family{
		Name:              "IPv4",
		Network:           "udp4",
		Level:             unix.IPPROTO_IP,
		Wildcard:          netip.IPv4Unspecified(),
		Limited:           netip.AddrFrom4([4]byte{255, 255, 255, 255}),
		PacketInfoType:    unix.IP_PKTINFO,
		DestinationType:   -1,
		InterfaceType:     -1,
		packetInfoOptions: []int{unix.IP_PKTINFO},
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
	}
)
