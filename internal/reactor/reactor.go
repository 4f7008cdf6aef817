//go:build darwin || linux

// Package reactor delivers readiness notifications for UDP sockets.
//
// A Registration owns a duplicate of the registered descriptor and one
// goroutine parked in the Go netpoller (syscall.RawConn.Read). Each time a
// datagram is queued the event handler runs once, on that goroutine, with the
// descriptor still valid; it is expected to consume exactly one datagram.
// Handlers of one registration never overlap.
package reactor

import (
	"errors"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raisov/Transceiver/internal/transport"
)

// EventHandler is invoked when a datagram is queued on fd. size is the payload
// size of that datagram, or -1 when the system cannot tell. A non-nil err is a
// pending socket error; there may be nothing to read.
type EventHandler func(fd uintptr, size int, err error)

// Registration is the readiness registration of one socket. It starts
// suspended; call SetEventHandler and Resume to begin delivery.
type Registration struct {
	conn *net.UDPConn
	raw  syscall.RawConn

	mu        sync.Mutex
	handler   EventHandler
	suspended bool
	cancelled bool
	onCancel  func()

	wake chan struct{}
	done chan struct{}
}

// Register duplicates the descriptor of c and starts watching the duplicate.
// c stays owned by the caller and may be closed right away.
func Register(c *net.UDPConn) (*Registration, error) {
	dup, err := transport.Duplicate(c)
	if err != nil {
		return nil, err
	}
	raw, err := dup.SyscallConn()
	if err != nil {
		_ = dup.Close()
		return nil, err
	}

	r := &Registration{
		conn:      dup,
		raw:       raw,
		suspended: true,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go r.loop()

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"local":    dup.LocalAddr().String(),
	}).Debug("socket registered")

	return r, nil
}

// Conn returns the duplicate connection the registration watches. It is
// closed after the registration is cancelled.
func (r *Registration) Conn() *net.UDPConn {
	return r.conn
}

// SetEventHandler installs h for subsequent notifications.
func (r *Registration) SetEventHandler(h EventHandler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
	r.signal()
}

// Suspend stops delivery. Queued datagrams stay queued.
func (r *Registration) Suspend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended || r.cancelled {
		return
	}
	r.suspended = true
	// Unpark the netpoller wait.
	_ = r.conn.SetReadDeadline(time.Unix(1, 0))
}

// Resume restarts delivery after Suspend.
func (r *Registration) Resume() {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.suspended = false
	_ = r.conn.SetReadDeadline(time.Time{})
	r.mu.Unlock()
	r.signal()
}

// Cancel stops delivery for good. It does not wait: once the watching
// goroutine has exited the duplicate is closed and onCancel, if not nil, is
// called exactly once. Only the first Cancel's onCancel is kept. Cancel may be
// called from inside the event handler.
func (r *Registration) Cancel(onCancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.onCancel = onCancel
	_ = r.conn.SetReadDeadline(time.Unix(1, 0))
	r.signal()
}

// Done is closed when the registration has been torn down.
func (r *Registration) Done() <-chan struct{} {
	return r.done
}

func (r *Registration) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// state reports whether the loop is done, or idle and should wait for a
// signal instead of reading.
func (r *Registration) state() (cancelled, idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled, r.suspended || r.handler == nil
}

func (r *Registration) loop() {
	defer r.finish()

	for {
		cancelled, idle := r.state()
		if cancelled {
			return
		}
		if idle {
			<-r.wake
			continue
		}

		err := r.raw.Read(r.ready)
		switch {
		case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
		case errors.Is(err, net.ErrClosed):
			return
		default:
			logrus.WithFields(logrus.Fields{
				"function": "loop",
				"local":    r.conn.LocalAddr().String(),
			}).WithError(err).Error("readiness wait failed, dropping registration")
			return
		}
	}
}

// ready runs inside RawConn.Read. Returning false parks the goroutine until
// the socket becomes readable again.
func (r *Registration) ready(fd uintptr) bool {
	size, ok, perr := transport.Pending(fd)
	if !ok {
		return false
	}

	r.mu.Lock()
	h := r.handler
	live := !r.suspended && !r.cancelled
	r.mu.Unlock()

	if live && h != nil {
		h(fd, size, perr)
	}
	return true
}

func (r *Registration) finish() {
	r.mu.Lock()
	r.cancelled = true
	onCancel := r.onCancel
	r.onCancel = nil
	r.mu.Unlock()

	if err := r.conn.Close(); err != nil {
		logrus.WithFields(logrus.Fields{"function": "finish"}).WithError(err).Debug("closing duplicate")
	}
	close(r.done)
	if onCancel != nil {
		onCancel()
	}
}
