// Package errors defines the error taxonomy shared by the transceiver packages.
//
// Every syscall failure (create, bind, connect, send, receive, set option) is
// reported as a *NetworkError. Name lookups that yield nothing or fail are a
// *ResolutionError. The remaining conditions are sentinel values so callers can
// classify with errors.Is:
//
//	if errors.Is(err, ErrNotReady) { ... }
package errors

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	// ErrNotReady is returned when an operation needs the local and remote
	// addresses of a socket and at least one of them is not established.
	ErrNotReady = errors.New("not ready: local and remote addresses are not established")

	// ErrInterfaceNotFound is returned when an address or index cannot be
	// matched to any interface of the directory.
	ErrInterfaceNotFound = errors.New("interface not found")

	// ErrNoDestination is returned when a reply has nowhere to go because the
	// datagram carries no sender address.
	ErrNoDestination = errors.New("no destination")
)

// NetworkError represents a failed socket operation.
type NetworkError struct {
	Operation string // e.g. "bind", "send", "join group"
	Err       error  // underlying error
	Details   string // context for diagnostics
}

func (e *NetworkError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("network error during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("network error during %s: %v (%s)", e.Operation, e.Err, e.Details)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResolutionError reports that a host could not be turned into an address.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot resolve %q: no addresses", e.Host)
	}
	return fmt.Sprintf("cannot resolve %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// InterfaceError identifies the lookup key that did not match an interface.
// It matches ErrInterfaceNotFound with errors.Is.
type InterfaceError struct {
	Index int
	Name  string
	Addr  netip.Addr
}

func (e *InterfaceError) Error() string {
	switch {
	case e.Addr.IsValid():
		return fmt.Sprintf("%v: no interface has address %s", ErrInterfaceNotFound, e.Addr)
	case e.Name != "":
		return fmt.Sprintf("%v: no interface named %q", ErrInterfaceNotFound, e.Name)
	default:
		return fmt.Sprintf("%v: no interface with index %d", ErrInterfaceNotFound, e.Index)
	}
}

func (e *InterfaceError) Is(target error) bool {
	return target == ErrInterfaceNotFound
}
