package stream

import (
	"context"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

// nngConn wraps a mangos PAIR socket
type nngConn struct {
	sock mangos.Socket
}

func (c *nngConn) Send(p []byte) error {
	return c.sock.Send(p)
}

func (c *nngConn) Recv() ([]byte, error) {
	return c.sock.Recv()
}

func (c *nngConn) Close() error {
	return c.sock.Close()
}

// NNGTransport dials feeds over nanomsg PAIR sockets (tcp://, ipc://, inproc://)
type NNGTransport struct {
	SendTimeout time.Duration
}

func (t *NNGTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sock, err := pair.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create pair socket: %w", err)
	}
	if t.SendTimeout > 0 {
		if err := sock.SetOption(mangos.OptionSendDeadline, t.SendTimeout); err != nil {
			_ = sock.Close()
			return nil, err
		}
	}
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &nngConn{sock: sock}, nil
}

// NNGListener serves a feed on a PAIR socket, one client at a time. Clients of a PAIR
// socket cannot be told apart, so the socket is recreated after every session.
type NNGListener struct {
	feed        *Feed
	addr        string
	sendTimeout time.Duration
	logger      logging.Logger
}

// NewNNGListener creates a listener for addr
func NewNNGListener(feed *Feed, addr string, logger logging.Logger) *NNGListener {
	return &NNGListener{
		feed:        feed,
		addr:        addr,
		sendTimeout: 5 * time.Second,
		logger:      logging.OrDefault(logger).With(logging.Component("nng"), logging.Addr(addr)),
	}
}

// Serve listens until ctx is cancelled
func (l *NNGListener) Serve(ctx context.Context) error {
	for ctx.Err() == nil {
		sock, err := pair.NewSocket()
		if err != nil {
			return fmt.Errorf("create pair socket: %w", err)
		}
		if err := sock.SetOption(mangos.OptionSendDeadline, l.sendTimeout); err != nil {
			_ = sock.Close()
			return err
		}
		if err := sock.Listen(l.addr); err != nil {
			_ = sock.Close()
			return fmt.Errorf("listen %s: %w", l.addr, err)
		}

		stop := context.AfterFunc(ctx, func() { _ = sock.Close() })
		err = l.feed.Serve(&nngConn{sock: sock})
		stop()
		if err != nil && ctx.Err() == nil {
			l.logger.Debug("session ended", logging.Error(err))
		}
	}
	return nil
}
