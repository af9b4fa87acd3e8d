package stream

import (
	"context"
	"io"
)

// Conn is one message-oriented connection. Send and Recv may be called from different
// goroutines, but not concurrently with themselves. Close unblocks a pending Recv.
type Conn interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
}

// Transport opens client connections to a feed
type Transport interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, addr string) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}
