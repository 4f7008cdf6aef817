//go:build darwin || linux

package receiver

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raisov/Transceiver/datagram"
	"github.com/raisov/Transceiver/internal/transport"
	"github.com/raisov/Transceiver/netif"
)

var loopback = netip.MustParseAddr("127.0.0.1")

func collector() (datagram.Handler, <-chan *datagram.Datagram) {
	ch := make(chan *datagram.Datagram, 16)
	return datagram.HandlerFunc(func(d *datagram.Datagram) { ch <- d }), ch
}

func next(t *testing.T, ch <-chan *datagram.Datagram) *datagram.Datagram {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram delivered")
		return nil
	}
}

func dial(t *testing.T, to netip.AddrPort) *net.UDPConn {
	t.Helper()
	c, err := transport.Dial(context.Background(), transport.IPv4, to, transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestReceiver_RoundTrip(t *testing.T) {
	rx, err := New(context.Background(), 0, WithAddresses(loopback))
	require.NoError(t, err)
	defer rx.Close()

	locals := rx.LocalAddrs()
	require.Len(t, locals, 1)
	assert.Equal(t, loopback, locals[0].Addr())

	replies := make(chan error, 1)
	got := make(chan *datagram.Datagram, 1)
	rx.SetHandler(datagram.HandlerFunc(func(d *datagram.Datagram) {
		got <- d
		replies <- d.Reply(context.Background(), append([]byte("re: "), d.Data()...))
	}))

	cli := dial(t, locals[0])
	_, err = cli.Write([]byte("hello"))
	require.NoError(t, err)

	d := next(t, got)
	assert.Equal(t, []byte("hello"), d.Data())
	dest, ok := d.DestinationIPv4()
	require.True(t, ok)
	assert.Equal(t, loopback, dest)
	require.NoError(t, <-replies)

	buf := make([]byte, 64)
	require.NoError(t, cli.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "re: hello", string(buf[:n]))
}

func TestReceiver_BindsEveryAddress(t *testing.T) {
	lo := netif.Interface{
		Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback,
		IPv4: []netip.Addr{loopback},
	}
	rx, err := New(context.Background(), 0, WithDirectory(netif.Static{lo}))
	require.NoError(t, err)
	defer rx.Close()
	assert.Len(t, rx.LocalAddrs(), 1)
}

func TestReceiver_BindAllOrNothing(t *testing.T) {
	// 192.0.2.1 is reserved for documentation and never configured.
	_, err := New(context.Background(), 0, WithAddresses(loopback, netip.MustParseAddr("192.0.2.1")))
	require.Error(t, err)

	var nerr *datagram.NetworkError
	assert.ErrorAs(t, err, &nerr)
}

func TestReceiver_NoAddresses(t *testing.T) {
	_, err := New(context.Background(), 0, WithDirectory(netif.Static{}))
	assert.ErrorIs(t, err, datagram.ErrInterfaceNotFound)
}

func TestReceiver_HandlerToggle(t *testing.T) {
	rx, err := New(context.Background(), 0, WithAddresses(loopback))
	require.NoError(t, err)
	defer rx.Close()
	cli := dial(t, rx.LocalAddrs()[0])

	h1, ch1 := collector()
	rx.SetHandler(h1)
	_, err = cli.Write([]byte("one"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), next(t, ch1).Data())

	rx.SetHandler(nil)
	assert.Nil(t, rx.Handler())
	_, err = cli.Write([]byte("two"))
	require.NoError(t, err)

	h2, ch2 := collector()
	rx.SetHandler(h2)
	assert.Equal(t, []byte("two"), next(t, ch2).Data(), "datagrams wait while no handler is set")
	assert.Empty(t, ch1)
}

// 127.0.0.2 is only configured implicitly on Linux loopback.
func twoLoopbacks(t *testing.T) []netip.Addr {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("needs 127.0.0.2 on loopback")
	}
	return []netip.Addr{loopback, netip.MustParseAddr("127.0.0.2")}
}

func TestReceiver_EphemeralPortShared(t *testing.T) {
	rx, err := New(context.Background(), 0, WithAddresses(twoLoopbacks(t)...))
	require.NoError(t, err)
	defer rx.Close()

	locals := rx.LocalAddrs()
	require.Len(t, locals, 2)
	assert.NotZero(t, locals[0].Port())
	assert.Equal(t, locals[0].Port(), locals[1].Port())
}

func TestReceiver_HandlerToggleReleasesDescriptors(t *testing.T) {
	addrs := twoLoopbacks(t)
	base := settledDescriptors(t)

	rx, err := New(context.Background(), 0, WithAddresses(addrs...))
	require.NoError(t, err)
	sockets := len(rx.LocalAddrs())
	require.Equal(t, base+sockets, openDescriptors(t))

	h, _ := collector()
	for i := 0; i < 5; i++ {
		rx.SetHandler(h)
		rx.SetHandler(h)
		assert.Equal(t, base+2*sockets, openDescriptors(t), "one registration per socket")
		rx.SetHandler(nil)
		assert.Equal(t, base+2*sockets, openDescriptors(t), "cleared registrations are only suspended")
	}

	require.NoError(t, rx.Close())
	require.Eventually(t, func() bool {
		return openDescriptors(t) == base
	}, 2*time.Second, 10*time.Millisecond, "close releases sockets and registrations")
}

func TestReceiver_LimitedBroadcastOnWildcard(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("limited broadcast delivery differs by platform")
	}
	rx, err := New(context.Background(), 0, WithAddresses(netip.IPv4Unspecified()))
	require.NoError(t, err)
	defer rx.Close()

	h, ch := collector()
	rx.SetHandler(h)

	to := netip.AddrPortFrom(netip.MustParseAddr("255.255.255.255"), rx.LocalAddrs()[0].Port())
	c, err := transport.Dial(context.Background(), transport.IPv4, to, transport.Options{Broadcast: true})
	if err != nil {
		t.Skipf("no broadcast route: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("all")); err != nil {
		t.Skipf("broadcast not permitted: %v", err)
	}

	d := next(t, ch)
	assert.Equal(t, []byte("all"), d.Data())
	dest, ok := d.DestinationIPv4()
	require.True(t, ok)
	assert.Equal(t, to.Addr(), dest)
}

func TestReceiver_AccessorsDuringClose(t *testing.T) {
	rx, err := New(context.Background(), 0, WithAddresses(loopback))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			rx.LocalAddrs()
			rx.Joined()
		}
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, rx.Close())
	}()
	wg.Wait()
	assert.Empty(t, rx.LocalAddrs())
}

func TestReceiver_CloseFromHandler(t *testing.T) {
	rx, err := New(context.Background(), 0, WithAddresses(loopback))
	require.NoError(t, err)
	cli := dial(t, rx.LocalAddrs()[0])

	closed := make(chan error, 1)
	rx.SetHandler(datagram.HandlerFunc(func(*datagram.Datagram) {
		closed <- rx.Close()
	}))
	_, err = cli.Write([]byte("bye"))
	require.NoError(t, err)

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close from handler blocked")
	}

	errs := make(chan error, 1)
	rx.SetHandler(datagram.Handlers{Error: func(err error) { errs <- err }})
	assert.ErrorIs(t, <-errs, datagram.ErrNotReady)
}

func TestNewMulticast_RejectsNonGroups(t *testing.T) {
	for _, group := range []string{"printer.local", "10.0.0.1", "2001:db8::1"} {
		_, err := NewMulticast(context.Background(), 0, group)
		var rerr *datagram.ResolutionError
		require.ErrorAs(t, err, &rerr, group)
		assert.Equal(t, group, rerr.Host)
	}
}

type recordingJoiner struct {
	joined []string
	fail   string
}

func (j *recordingJoiner) JoinGroup(ifi *net.Interface, group net.Addr) error {
	if ifi.Name == j.fail {
		return errors.New("join refused")
	}
	j.joined = append(j.joined, ifi.Name+"/"+group.String())
	return nil
}

func TestJoinTargets(t *testing.T) {
	ifaces := []netif.Interface{
		{Index: 1, Name: "A", Flags: net.FlagUp | net.FlagMulticast,
			IPv4: []netip.Addr{netip.MustParseAddr("192.168.1.10")},
			IPv6: []netip.Addr{netip.MustParseAddr("fe80::a")}},
		{Index: 2, Name: "B", Flags: net.FlagUp | net.FlagMulticast | net.FlagPointToPoint,
			IPv4: []netip.Addr{netip.MustParseAddr("10.8.0.2")}},
		{Index: 3, Name: "C", Flags: net.FlagUp,
			IPv4: []netip.Addr{netip.MustParseAddr("172.16.0.3")}},
		{Index: 4, Name: "D", Flags: net.FlagUp | net.FlagMulticast,
			IPv6: []netip.Addr{netip.MustParseAddr("fe80::d")}},
	}

	tests := []struct {
		group string
		want  []string
	}{
		{"224.0.0.251", []string{"A"}},
		{"ff02::fb", []string{"A", "D"}},
	}
	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			var names []string
			for _, ifi := range joinTargets(ifaces, netip.MustParseAddr(tt.group), nil) {
				names = append(names, ifi.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	explicit := ifaces[2]
	got := joinTargets(ifaces, netip.MustParseAddr("224.0.0.251"), &explicit)
	require.Len(t, got, 1)
	assert.Equal(t, "C", got[0].Name, "an explicit interface is joined as given")
}

func TestJoinGroup(t *testing.T) {
	targets := []netif.Interface{{Index: 1, Name: "A"}, {Index: 4, Name: "D"}}
	group := netip.MustParseAddr("224.0.0.251")

	j := &recordingJoiner{}
	joined, err := joinGroup(j, targets, group)
	require.NoError(t, err)
	assert.Equal(t, []string{"A/224.0.0.251:0", "D/224.0.0.251:0"}, j.joined)
	assert.Len(t, joined, 2)

	_, err = joinGroup(&recordingJoiner{fail: "D"}, targets, group)
	var nerr *datagram.NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "join group", nerr.Operation)
}

func TestNewMulticast_Loopback(t *testing.T) {
	lo, err := netif.ByName(netif.System, "lo")
	if err != nil {
		t.Skip("no interface named lo")
	}

	rx, err := NewMulticast(context.Background(), 0, "239.255.42.99", WithInterface(lo))
	if err != nil {
		t.Skipf("multicast on loopback unavailable: %v", err)
	}
	defer rx.Close()

	assert.Equal(t, netip.MustParseAddr("239.255.42.99"), rx.Group())
	require.Len(t, rx.Joined(), 1)
	assert.Equal(t, "lo", rx.Joined()[0].Name)

	h, ch := collector()
	rx.SetHandler(h)

	port := rx.LocalAddrs()[0].Port()
	tx, err := transport.Dial(context.Background(), transport.IPv4,
		netip.AddrPortFrom(rx.Group(), port), transport.Options{Interface: lo.Index})
	if err != nil {
		t.Skipf("cannot send multicast on loopback: %v", err)
	}
	defer tx.Close()
	mc := transport.IPv4.Multicast(tx)
	require.NoError(t, mc.SetMulticastInterface(lo.Net()))
	require.NoError(t, mc.SetMulticastLoopback(true))

	_, err = tx.Write([]byte("group"))
	require.NoError(t, err)

	select {
	case d := <-ch:
		assert.Equal(t, []byte("group"), d.Data())
		dest, ok := d.DestinationIPv4()
		require.True(t, ok)
		assert.Equal(t, rx.Group(), dest)
	case <-time.After(time.Second):
		t.Skip("loopback multicast not delivered on this host")
	}
}

func openDescriptors(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if errors.Is(err, os.ErrNotExist) {
		t.Skip("/proc is not mounted")
	}
	require.NoError(t, err)
	return len(entries)
}

// settledDescriptors waits until the descriptor count stops changing.
func settledDescriptors(t *testing.T) int {
	t.Helper()
	prev := openDescriptors(t)
	for i := 0; i < 100; i++ {
		time.Sleep(20 * time.Millisecond)
		n := openDescriptors(t)
		if n == prev {
			return n
		}
		prev = n
	}
	t.Fatalf("descriptor count did not settle, last %d", prev)
	return prev
}
