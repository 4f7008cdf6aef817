//go:build darwin || linux

package dispatch

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raisov/Transceiver/internal/packet"
	"github.com/raisov/Transceiver/internal/transport"
)

func pair(t *testing.T) (srv, cli *net.UDPConn) {
	t.Helper()
	ctx := context.Background()
	srv, err := transport.Listen(ctx, transport.IPv4, netip.MustParseAddrPort("127.0.0.1:0"), transport.Options{PacketInfo: true})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	dst, _ := transport.LocalAddrPort(srv)
	cli, err = transport.Dial(ctx, transport.IPv4, dst, transport.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return srv, cli
}

func collector() (packet.Handler, <-chan *packet.Datagram) {
	ch := make(chan *packet.Datagram, 16)
	return packet.HandlerFunc(func(d *packet.Datagram) { ch <- d }), ch
}

func next(t *testing.T, ch <-chan *packet.Datagram) *packet.Datagram {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram delivered")
		return nil
	}
}

func quiet(t *testing.T, ch <-chan *packet.Datagram) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected datagram %q", d.Data())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBinding_DeliversWithMetadata(t *testing.T) {
	srv, cli := pair(t)

	b, err := Bind(srv, packet.Config{MaxDataLength: 2})
	require.NoError(t, err)
	defer b.Close(nil)

	h, ch := collector()
	b.SetHandler(h)
	assert.NotNil(t, b.Handler())

	_, err = cli.Write([]byte("hello"))
	require.NoError(t, err)

	d := next(t, ch)
	assert.Equal(t, []byte("he"), d.Data())
	assert.True(t, d.DataTruncated())

	dest, ok := d.DestinationIPv4()
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), dest)

	require.NoError(t, d.Reply(context.Background(), []byte("ok")))
	buf := make([]byte, 8)
	require.NoError(t, cli.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := cli.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestBinding_ClearAndSwap(t *testing.T) {
	srv, cli := pair(t)

	b, err := Bind(srv, packet.Config{})
	require.NoError(t, err)
	defer b.Close(nil)

	first, ch1 := collector()
	b.SetHandler(first)
	_, err = cli.Write([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), next(t, ch1).Data())

	b.SetHandler(nil)
	assert.Nil(t, b.Handler())
	_, err = cli.Write([]byte("b"))
	require.NoError(t, err)
	quiet(t, ch1)

	second, ch2 := collector()
	b.SetHandler(second)
	assert.Equal(t, []byte("b"), next(t, ch2).Data(), "datagrams queued while cleared go to the next handler")
	quiet(t, ch1)
}

func TestBinding_ErrorsKeepBinding(t *testing.T) {
	// A connected socket gets ECONNREFUSED once the peer is gone.
	peer, err := transport.Listen(context.Background(), transport.IPv4, netip.MustParseAddrPort("127.0.0.1:0"), transport.Options{})
	require.NoError(t, err)
	peerAddr, _ := transport.LocalAddrPort(peer)
	conn, err := transport.Dial(context.Background(), transport.IPv4, peerAddr, transport.Options{})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, peer.Close())

	b, err := Bind(conn, packet.Config{})
	require.NoError(t, err)
	defer b.Close(nil)

	errs := make(chan error, 4)
	got := make(chan *packet.Datagram, 4)
	b.SetHandler(packet.Handlers{
		Datagram: func(d *packet.Datagram) { got <- d },
		Error:    func(err error) { errs <- err },
	})

	_, _ = conn.Write([]byte("into the void"))
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Skip("no asynchronous ICMP error reported on this host")
	}

	select {
	case <-b.Done():
		t.Fatal("an error must not cancel the binding")
	default:
	}
}

func TestBinding_CloseRunsCallback(t *testing.T) {
	srv, _ := pair(t)

	b, err := Bind(srv, packet.Config{})
	require.NoError(t, err)

	closed := make(chan struct{})
	b.Close(func() { close(closed) })
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback not invoked")
	}
	<-b.Done()
}
