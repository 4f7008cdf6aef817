//go:build darwin || linux

// Package datagram is the public face of received datagrams: the Datagram
// type with its metadata accessors and Reply, the Handler contract used by
// transmitters and receivers, and the error values they return.
//
// Reading a single datagram synchronously:
//
//	d, err := datagram.Read(ctx, conn, datagram.Config{MaxDataLength: 1500})
//	if err != nil {
//		return err
//	}
//	from, _ := d.Sender()
//	fmt.Printf("%s from %v\n", d.Data(), from)
package datagram

import (
	"context"
	"net"

	"github.com/raisov/Transceiver/internal/errors"
	"github.com/raisov/Transceiver/internal/packet"
)

// Datagram is one received datagram.
type Datagram = packet.Datagram

// Config sizes datagram buffers.
type Config = packet.Config

// Handler receives datagrams and asynchronous errors.
type Handler = packet.Handler

// HandlerFunc adapts a function to Handler, ignoring errors.
type HandlerFunc = packet.HandlerFunc

// Handlers builds a Handler from optional functions.
type Handlers = packet.Handlers

// Error types.
type (
	NetworkError    = errors.NetworkError
	ResolutionError = errors.ResolutionError
	InterfaceError  = errors.InterfaceError
)

// Error values, for use with errors.Is.
var (
	ErrNotReady          = errors.ErrNotReady
	ErrInterfaceNotFound = errors.ErrInterfaceNotFound
	ErrNoDestination     = errors.ErrNoDestination
)

const (
	DefaultAncillaryLength = packet.DefaultAncillaryLength
	DefaultDataLength      = packet.DefaultDataLength
)

// Read waits for one datagram on conn, honouring the deadline and
// cancellation of ctx.
func Read(ctx context.Context, conn *net.UDPConn, cfg Config) (*Datagram, error) {
	return packet.Read(ctx, conn, cfg)
}
