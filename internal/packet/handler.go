//go:build darwin || linux

package packet

// Handler receives the datagrams and asynchronous errors of a socket.
// Methods are called on the socket's watching goroutine.
type Handler interface {
	OnDatagram(d *Datagram)
	OnError(err error)
}

// HandlerFunc adapts a function to Handler. Errors are ignored.
type HandlerFunc func(d *Datagram)

func (f HandlerFunc) OnDatagram(d *Datagram) { f(d) }

func (HandlerFunc) OnError(error) {}

// Handlers builds a Handler from optional functions.
type Handlers struct {
	Datagram func(d *Datagram)
	Error    func(err error)
}

func (h Handlers) OnDatagram(d *Datagram) {
	if h.Datagram != nil {
		h.Datagram(d)
	}
}

func (h Handlers) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
