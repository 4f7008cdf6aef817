//go:build darwin || linux

// Package dispatch connects a reactor registration to a datagram handler.
package dispatch

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	dgerrors "github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/internal/metrics"
	"github.com/raisov/Transceiver/internal/packet"
	"github.com/raisov/Transceiver/internal/reactor"
)

// Binding delivers each datagram queued on one socket to a handler. Receive
// failures go to the handler's OnError and never tear the binding down.
type Binding struct {
	reg    *reactor.Registration
	cfg    packet.Config
	origin packet.Origin

	mu      sync.Mutex
	handler packet.Handler
}

// Bind registers c and returns a suspended binding. c stays owned by the
// caller.
func Bind(c *net.UDPConn, cfg packet.Config) (*Binding, error) {
	reg, err := reactor.Register(c)
	if err != nil {
		return nil, err
	}
	b := &Binding{
		reg:    reg,
		cfg:    cfg,
		origin: packet.OriginOf(reg.Conn()),
	}
	reg.SetEventHandler(b.onEvent)
	return b, nil
}

// SetHandler installs h. A nil h suspends delivery; queued datagrams wait for
// the next handler. Replacing a handler suspends first so no notification
// sees a half-installed handler.
func (b *Binding) SetHandler(h packet.Handler) {
	b.reg.Suspend()
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	if h != nil {
		b.reg.Resume()
	}
}

// Handler returns the installed handler.
func (b *Binding) Handler() packet.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

// Close cancels the binding without waiting for it to wind down. onClosed,
// if not nil, runs once the duplicate descriptor is closed.
func (b *Binding) Close(onClosed func()) {
	b.reg.Cancel(onClosed)
}

// Done is closed once the binding is torn down.
func (b *Binding) Done() <-chan struct{} {
	return b.reg.Done()
}

func (b *Binding) onEvent(fd uintptr, size int, err error) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}

	if err != nil {
		b.fail(h, &dgerrors.NetworkError{Operation: "receive", Err: err, Details: b.origin.Local.String()})
		return
	}

	d, err := packet.Receive(fd, size, b.cfg, b.origin)
	if err != nil {
		b.fail(h, err)
		return
	}

	metrics.DatagramsReceived.Inc()
	metrics.BytesReceived.Inc(float64(len(d.Data())))
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		from, _ := d.Sender()
		logrus.WithFields(logrus.Fields{
			"function": "onEvent",
			"local":    b.origin.Local.String(),
			"sender":   from.String(),
			"bytes":    len(d.Data()),
		}).Debug("datagram received")
	}
	h.OnDatagram(d)
}

func (b *Binding) fail(h packet.Handler, err error) {
	metrics.ReceiveErrors.Inc()
	logrus.WithFields(logrus.Fields{
		"function": "onEvent",
		"local":    b.origin.Local.String(),
	}).WithError(err).Warn("receive failed")
	h.OnError(err)
}
