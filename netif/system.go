package netif

import (
	"net"
	"net/netip"

	sockaddr "github.com/hashicorp/go-sockaddr"
	"github.com/sirupsen/logrus"
)

// System is the directory of the host's interfaces.
var System Directory = systemDirectory{}

type systemDirectory struct{}

// Interfaces enumerates the host's (interface, address) pairs and folds them
// into one Interface per index, preserving the enumeration order. Interfaces
// without any address are not reported.
func (systemDirectory) Interfaces() ([]Interface, error) {
	ifAddrs, err := sockaddr.GetAllInterfaces()
	if err != nil {
		return nil, err
	}

	var out []Interface
	pos := make(map[int]int)
	for _, ifAddr := range ifAddrs {
		i, ok := pos[ifAddr.Interface.Index]
		if !ok {
			i = len(out)
			pos[ifAddr.Interface.Index] = i
			out = append(out, Interface{
				Index: ifAddr.Interface.Index,
				Name:  ifAddr.Interface.Name,
				Flags: ifAddr.Interface.Flags,
			})
		}
		addIfAddr(&out[i], ifAddr)
	}
	return out, nil
}

func addIfAddr(ifi *Interface, ifAddr sockaddr.IfAddr) {
	switch sa := ifAddr.SockAddr.(type) {
	case sockaddr.IPv4Addr:
		addr, ok := fromNetIP(sa.NetIP())
		if !ok {
			return
		}
		ifi.IPv4 = append(ifi.IPv4, addr)
		if ifi.Flags&net.FlagBroadcast != 0 && !ifi.Broadcast.IsValid() {
			if bcast, ok := fromNetIP(sa.Broadcast().NetIP()); ok {
				ifi.Broadcast = bcast
			}
		}
	case sockaddr.IPv6Addr:
		if addr, ok := fromNetIP(sa.NetIP()); ok {
			ifi.IPv6 = append(ifi.IPv6, addr)
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function":  "Interfaces",
			"interface": ifi.Name,
			"address":   ifAddr.SockAddr.String(),
		}).Debug("Skipping non-IP interface address")
	}
}

func fromNetIP(ip *net.IP) (netip.Addr, bool) {
	if ip == nil {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(*ip)
	return addr.Unmap(), ok
}
