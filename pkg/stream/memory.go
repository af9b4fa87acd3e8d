package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// pipeBuffer is the number of frames each direction of a pipe holds
const pipeBuffer = 64

type pipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	peer   <-chan struct{}
	once   sync.Once
}

// Pipe returns two connected in-process connections
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a := &pipeConn{in: ba, out: ab, closed: aClosed, peer: bClosed}
	b := &pipeConn{in: ab, out: ba, closed: bClosed, peer: aClosed}
	return a, b
}

func (c *pipeConn) Send(p []byte) error {
	frame := append([]byte(nil), p...)
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.peer:
		return ErrClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.closed:
		return ErrClosed
	case <-c.peer:
		return ErrClosed
	}
}

func (c *pipeConn) Recv() ([]byte, error) {
	select {
	case p := <-c.in:
		return p, nil
	case <-c.closed:
		return nil, ErrClosed
	case <-c.peer:
		// frames sent before the peer closed are still delivered
		select {
		case p := <-c.in:
			return p, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// ErrOffline is returned by a MemoryTransport taken offline
var ErrOffline = errors.New("feed unreachable")

// MemoryTransport connects clients to a Feed in the same process. The address is ignored.
type MemoryTransport struct {
	feed    *Feed
	offline atomic.Bool
	dials   atomic.Int64
}

// NewMemoryTransport creates a transport serving feed
func NewMemoryTransport(feed *Feed) *MemoryTransport {
	return &MemoryTransport{feed: feed}
}

// Dial opens a pipe and serves the feed on its far end
func (t *MemoryTransport) Dial(ctx context.Context, _ string) (Conn, error) {
	t.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.offline.Load() {
		return nil, ErrOffline
	}
	client, server := Pipe()
	go func() {
		_ = t.feed.Serve(server)
	}()
	return client, nil
}

// SetOffline makes subsequent dials fail
func (t *MemoryTransport) SetOffline(offline bool) {
	t.offline.Store(offline)
}

// Dials returns the number of Dial calls so far
func (t *MemoryTransport) Dials() int {
	return int(t.dials.Load())
}
