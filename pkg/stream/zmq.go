//go:build zmq
// +build zmq

package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

// zmqPoll bounds each blocking receive so Close is noticed
const zmqPoll = 100 * time.Millisecond

// zmqConn wraps a ZeroMQ PAIR socket. ZeroMQ sockets must not be used from two threads
// at once, so every socket call holds mu.
type zmqConn struct {
	mu     sync.Mutex
	sock   *zmq.Socket
	closed atomic.Bool
}

func newZMQConn() (*zmqConn, error) {
	sock, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		return nil, fmt.Errorf("create pair socket: %w", err)
	}
	if err := sock.SetRcvtimeo(zmqPoll); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &zmqConn{sock: sock}, nil
}

func (c *zmqConn) Send(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.sock.SendBytes(p, 0)
	return err
}

func (c *zmqConn) Recv() ([]byte, error) {
	for {
		c.mu.Lock()
		if c.closed.Load() {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		p, err := c.sock.RecvBytes(0)
		c.mu.Unlock()

		if err == nil {
			return p, nil
		}
		if zmq.AsErrno(err) != zmq.Errno(syscall.EAGAIN) {
			return nil, err
		}
	}
}

func (c *zmqConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.Close()
}

// ZMQTransport dials feeds over ZeroMQ PAIR sockets
type ZMQTransport struct{}

func (ZMQTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := newZMQConn()
	if err != nil {
		return nil, err
	}
	if err := conn.sock.Connect(addr); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return conn, nil
}

// ZMQListener serves a feed on a bound PAIR socket, one client at a time
type ZMQListener struct {
	feed   *Feed
	addr   string
	logger logging.Logger
}

// NewZMQListener creates a listener for addr
func NewZMQListener(feed *Feed, addr string, logger logging.Logger) *ZMQListener {
	return &ZMQListener{
		feed:   feed,
		addr:   addr,
		logger: logging.OrDefault(logger).With(logging.Component("zmq"), logging.Addr(addr)),
	}
}

// Serve binds until ctx is cancelled
func (l *ZMQListener) Serve(ctx context.Context) error {
	for ctx.Err() == nil {
		conn, err := newZMQConn()
		if err != nil {
			return err
		}
		if err := conn.sock.Bind(l.addr); err != nil {
			_ = conn.Close()
			return fmt.Errorf("bind %s: %w", l.addr, err)
		}

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = l.feed.Serve(conn)
		stop()
		if err != nil && ctx.Err() == nil {
			l.logger.Debug("session ended", logging.Error(err))
		}
	}
	return nil
}

func newZMQTransport() (Transport, error) {
	return ZMQTransport{}, nil
}

func serveZMQ(ctx context.Context, feed *Feed, addr string, logger logging.Logger) error {
	return NewZMQListener(feed, addr, logger).Serve(ctx)
}
