//go:build darwin || linux

package ancillary

import (
	"encoding/binary"
	"net/netip"
)

// Sizes of the kernel structures carried in packet records.
const (
	sizeofInet4Pktinfo = 12 // ifindex, spec_dst, addr
	sizeofInet6Pktinfo = 20 // addr, ifindex
	sizeofDatalinkHead = 4  // len, family, index
)

// PacketInfo is the content of an IP_PKTINFO or IPV6_PKTINFO record.
type PacketInfo struct {
	Addr    netip.Addr // destination address of the packet header
	IfIndex int        // receiving interface, 0 when unknown
}

// PacketInfo4 decodes an IPv4 packet-info record.
func PacketInfo4(data []byte) (PacketInfo, bool) {
	if len(data) < sizeofInet4Pktinfo {
		return PacketInfo{}, false
	}
	return PacketInfo{
		Addr:    netip.AddrFrom4([4]byte(data[8:12])),
		IfIndex: int(int32(binary.NativeEndian.Uint32(data[0:4]))),
	}, true
}

// PacketInfo6 decodes an IPv6 packet-info record.
func PacketInfo6(data []byte) (PacketInfo, bool) {
	if len(data) < sizeofInet6Pktinfo {
		return PacketInfo{}, false
	}
	return PacketInfo{
		Addr:    netip.AddrFrom16([16]byte(data[0:16])),
		IfIndex: int(binary.NativeEndian.Uint32(data[16:20])),
	}, true
}

// DestinationAddr4 decodes a legacy IPv4 destination-address record.
func DestinationAddr4(data []byte) (netip.Addr, bool) {
	if len(data) < 4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(data[0:4])), true
}

// InterfaceIndexFromLink decodes the index of a legacy receive-interface
// record, which carries a link-level socket address.
func InterfaceIndexFromLink(data []byte) (int, bool) {
	if len(data) < sizeofDatalinkHead {
		return 0, false
	}
	return int(binary.NativeEndian.Uint16(data[2:4])), true
}
