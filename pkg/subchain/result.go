package subchain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/gqlerrors"
)

// QueryResult is the outcome of one query. Exactly one of IsLoading, IsError or success
// holds; a failed query may still carry partial Data.
type QueryResult struct {
	IsLoading bool                       `json:"isLoading"`
	IsError   bool                       `json:"isError"`
	Data      map[string]any             `json:"data,omitempty"`
	Errors    []gqlerrors.FormattedError `json:"errors,omitempty"`
}

// LoadingResult is the result for a consumer with no client yet
func LoadingResult() QueryResult {
	return QueryResult{IsLoading: true}
}

// ErrorResult converts err into an error result with a single message
func ErrorResult(err error) QueryResult {
	return QueryResult{
		IsError: true,
		Errors:  []gqlerrors.FormattedError{gqlerrors.NewFormattedError(err.Error())},
	}
}

// Decode converts Data into v through its JSON form
func (r QueryResult) Decode(v any) error {
	if r.IsLoading {
		return errors.New("result is still loading")
	}
	if r.Data == nil {
		return fmt.Errorf("result has no data: %s", r.Message())
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Message joins the error messages
func (r QueryResult) Message() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}
