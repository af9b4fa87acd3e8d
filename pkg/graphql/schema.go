// Package graphql exposes the replica's tables through a GraphQL schema.
package graphql

import (
	"fmt"
	"sort"

	"github.com/dd0wney/cluso-subchain/pkg/state"
	"github.com/graphql-go/graphql"
)

// Source is the read side of a replica that the schema resolves against.
// Resolvers run while the owner holds its query lock, so Source needs no locking of its own.
type Source interface {
	Store() *state.Store
	Position() uint64
	Params() map[string]string
}

// NewSchema builds the query schema over src
func NewSchema(src Source, limits *LimitConfig) (graphql.Schema, error) {
	if limits == nil {
		limits = DefaultLimitConfig()
	}
	if err := ValidateLimitConfig(limits); err != nil {
		return graphql.Schema{}, err
	}

	pageInfoType := createPageInfoType()
	rowType := createRowType()
	rowEdgeType := createConnectionEdgeType("Row", rowType)
	rowConnectionType := createConnectionType("Row", rowEdgeType, pageInfoType)
	tableType := createTableType(src, rowType, rowConnectionType, limits)
	paramType := createParamType()

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"position": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Position of the last applied transition record",
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return int(src.Position()), nil
				},
			},
			"tables": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return src.Store().Tables(), nil
				},
			},
			"table": &graphql.Field{
				Type: tableType,
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: func(p graphql.ResolveParams) (any, error) {
					name, _ := p.Args["name"].(string)
					if name == "" {
						return nil, fmt.Errorf("table name must not be empty")
					}
					return tableRef{name: name}, nil
				},
			},
			"params": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(paramType))),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					params := src.Params()
					names := make([]string, 0, len(params))
					for name := range params {
						names = append(names, name)
					}
					sort.Strings(names)

					out := make([]map[string]any, len(names))
					for i, name := range names {
						out[i] = map[string]any{"name": name, "value": params[name]}
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}
