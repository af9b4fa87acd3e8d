//go:build !zmq
// +build !zmq

package stream

import (
	"context"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

func newZMQTransport() (Transport, error) {
	return nil, ErrZMQUnavailable
}

func serveZMQ(context.Context, *Feed, string, logging.Logger) error {
	return ErrZMQUnavailable
}
