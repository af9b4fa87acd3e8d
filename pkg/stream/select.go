package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

// ErrZMQUnavailable is returned for the zmq transport in builds without the zmq tag
var ErrZMQUnavailable = errors.New("zmq transport requires a build with -tags zmq")

// NewTransport returns the client transport called name: websocket, nng or zmq
func NewTransport(name string) (Transport, error) {
	switch name {
	case "", "websocket":
		return &WebsocketTransport{}, nil
	case "nng":
		return &NNGTransport{SendTimeout: 5 * time.Second}, nil
	case "zmq":
		return newZMQTransport()
	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

// ServeSocket serves feed on a socket transport (nng or zmq) bound to addr until ctx ends.
// Websocket feeds are served through WebsocketHandler instead.
func ServeSocket(ctx context.Context, name string, feed *Feed, addr string, logger logging.Logger) error {
	switch name {
	case "nng":
		return NewNNGListener(feed, addr, logger).Serve(ctx)
	case "zmq":
		return serveZMQ(ctx, feed, addr, logger)
	default:
		return fmt.Errorf("transport %q is not a socket transport", name)
	}
}
