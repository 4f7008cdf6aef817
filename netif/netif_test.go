package netif

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture() Static {
	return Static{
		{
			Index: 1,
			Name:  "lo",
			Flags: net.FlagUp | net.FlagLoopback,
			IPv4:  []netip.Addr{netip.MustParseAddr("127.0.0.1")},
			IPv6:  []netip.Addr{netip.MustParseAddr("::1")},
		},
		{
			Index:     2,
			Name:      "eth0",
			Flags:     net.FlagUp | net.FlagBroadcast | net.FlagMulticast,
			IPv4:      []netip.Addr{netip.MustParseAddr("192.168.1.10")},
			IPv6:      []netip.Addr{netip.MustParseAddr("fe80::1")},
			Broadcast: netip.MustParseAddr("192.168.1.255"),
		},
		{
			Index: 3,
			Name:  "tun0",
			Flags: net.FlagUp | net.FlagPointToPoint | net.FlagMulticast,
			IPv4:  []netip.Addr{netip.MustParseAddr("10.8.0.2")},
		},
	}
}

func TestLookups(t *testing.T) {
	dir := fixture()

	ifi, err := ByIndex(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, "eth0", ifi.Name)

	ifi, err = ByName(dir, "tun0")
	require.NoError(t, err)
	assert.Equal(t, 3, ifi.Index)

	ifi, err = ByAddress(dir, netip.MustParseAddr("fe80::1%eth0"))
	require.NoError(t, err)
	assert.Equal(t, 2, ifi.Index, "zone must be ignored when matching")

	ifi, err = ByAddress(dir, netip.MustParseAddr("::ffff:127.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, "lo", ifi.Name, "IPv4-mapped form must match the IPv4 address")
}

func TestLookups_NotFound(t *testing.T) {
	dir := fixture()

	_, err := ByIndex(dir, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ByName(dir, "wlan0")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ByAddress(dir, netip.MustParseAddr("172.16.0.1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInterface_Capabilities(t *testing.T) {
	dir := fixture()

	assert.False(t, dir[0].SupportsMulticast())
	assert.True(t, dir[0].IsLoopback())
	assert.True(t, dir[1].SupportsMulticast())
	assert.False(t, dir[1].IsPointToPoint())
	assert.True(t, dir[2].IsPointToPoint())

	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("127.0.0.1"),
		netip.MustParseAddr("::1"),
	}, dir[0].Addrs())
	assert.Empty(t, dir[2].AddrsOf(netip.MustParseAddr("ff02::1")))
}

func TestStatic_ReturnsCopy(t *testing.T) {
	dir := fixture()

	ifaces, err := dir.Interfaces()
	require.NoError(t, err)
	ifaces[0].Name = "changed"

	assert.Equal(t, "lo", dir[0].Name)
}

func TestSystem_FoldsAddressesPerInterface(t *testing.T) {
	ifaces, err := System.Interfaces()
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, ifi := range ifaces {
		assert.False(t, seen[ifi.Index], "interface %d reported twice", ifi.Index)
		seen[ifi.Index] = true
		assert.NotEmpty(t, ifi.Addrs(), "interface %s has no addresses", ifi.Name)
		for _, a := range ifi.IPv4 {
			assert.True(t, a.Is4())
		}
	}

	lo, err := ByAddress(System, netip.MustParseAddr("127.0.0.1"))
	if err != nil {
		t.Skip("host has no IPv4 loopback address")
	}
	assert.True(t, lo.IsLoopback())
}
