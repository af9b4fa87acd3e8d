package graphql

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
)

// Request is one query execution
type Request struct {
	Query         string
	Variables     map[string]any
	OperationName string
	MaxDepth      int
}

// Execute runs a request against a schema. Depth violations are returned as result errors,
// the same shape as parse and validation errors.
func Execute(ctx context.Context, schema graphql.Schema, req Request) *graphql.Result {
	if req.MaxDepth > 0 {
		// unparsable queries fall through so graphql.Do reports them with locations
		if depth, err := QueryDepth(req.Query); err == nil && depth > req.MaxDepth {
			return &graphql.Result{
				Errors: []gqlerrors.FormattedError{
					gqlerrors.NewFormattedError(fmt.Sprintf("query depth %d exceeds maximum allowed depth %d", depth, req.MaxDepth)),
				},
			}
		}
	}

	params := graphql.Params{
		Schema:         schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	}

	return graphql.Do(params)
}

// ExecuteQuery executes a GraphQL query against a schema
func ExecuteQuery(query string, schema graphql.Schema) *graphql.Result {
	return Execute(context.Background(), schema, Request{Query: query})
}
