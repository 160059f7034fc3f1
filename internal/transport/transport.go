// Package transport implements the byte-stream boundary the RCON client
// talks through. The client never touches sockets itself; it dials a Conn,
// registers its handlers, and from then on only writes bytes and reacts to
// data, error, and close events.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("transport: connection closed")

// Handlers receive stream events. They are invoked from the connection's
// reader goroutine, one at a time, and never after Close returns.
type Handlers struct {
	OnData  func(data []byte)
	OnError func(err error)
	OnClose func()
}

// Conn is an established byte stream.
type Conn interface {
	// Start registers h and begins delivering events. It must be called at
	// most once.
	Start(h Handlers)

	// Write sends data, honouring the deadline of ctx.
	Write(ctx context.Context, data []byte) error

	// Close unregisters the handlers and closes the stream. It is safe to
	// call more than once.
	Close() error
}

// Dialer opens byte streams.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, host string, port int) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, host string, port int) (Conn, error) {
	return f(ctx, host, port)
}
