package replay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/gqlerrors"
)

var (
	// ErrOutOfOrder means a record's position was not current+1
	ErrOutOfOrder = errors.New("record out of order")

	// ErrRejected means the transition module refused the record
	ErrRejected = errors.New("record rejected by module")

	// ErrInvalidated is returned by every call after a replay failure or Close
	ErrInvalidated = errors.New("replica state invalidated")
)

// ReplayError is a fatal failure to apply a record. The engine that returned it
// accepts no further records.
type ReplayError struct {
	Position uint64
	Expected uint64
	Err      error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay record %d (expected %d): %v", e.Position, e.Expected, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// QueryError carries the query language's own error list. It is scoped to one query.
type QueryError struct {
	Errors []gqlerrors.FormattedError
}

func (e *QueryError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return "query failed: " + strings.Join(msgs, "; ")
}

// newQueryError wraps a plain error in the query error shape
func newQueryError(err error) *QueryError {
	return &QueryError{Errors: []gqlerrors.FormattedError{gqlerrors.FormatError(err)}}
}
