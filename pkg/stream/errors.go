package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted means reconnecting hit the attempt ceiling
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrClosed is returned by operations on a closed connection or feed
	ErrClosed = errors.New("stream closed")
)

// StreamError is a failure of the record stream. Transient errors are retried with backoff;
// permanent ones fail the ingester.
type StreamError struct {
	Permanent bool
	Err       error
}

func (e *StreamError) Error() string {
	class := "transient"
	if e.Permanent {
		class = "permanent"
	}
	return fmt.Sprintf("%s stream error: %v", class, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func transient(format string, args ...any) error {
	return &StreamError{Err: fmt.Errorf(format, args...)}
}

func permanent(format string, args ...any) error {
	return &StreamError{Permanent: true, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is a permanent stream error
func IsPermanent(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Permanent
}
