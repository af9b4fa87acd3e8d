package graphql

import (
	"encoding/json"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// tableRef is the resolved value of a Table field; rows are read lazily
type tableRef struct {
	name string
}

// row is the resolved value of a Row field
type row struct {
	key   string
	value string
}

// JSONScalar exposes stored row values as structured JSON
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value. Stored text that is not valid JSON is returned as a string.",
	Serialize: func(value any) any {
		switch v := value.(type) {
		case string:
			return decodeJSON(v)
		case *string:
			if v == nil {
				return nil
			}
			return decodeJSON(*v)
		default:
			return v
		}
	},
	ParseValue: func(value any) any {
		return value
	},
	ParseLiteral: parseJSONLiteral,
})

func decodeJSON(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return text
	}
	return v
}

func parseJSONLiteral(valueAST ast.Value) any {
	switch v := valueAST.(type) {
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n
		}
		return nil
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f
		}
		return nil
	case *ast.ListValue:
		out := make([]any, len(v.Values))
		for i, item := range v.Values {
			out[i] = parseJSONLiteral(item)
		}
		return out
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, field := range v.Fields {
			out[field.Name.Value] = parseJSONLiteral(field.Value)
		}
		return out
	default:
		return nil
	}
}

// createRowType creates the Row type (key + decoded and raw value)
func createRowType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Row",
		Fields: graphql.Fields{
			"key": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(row).key, nil
				},
			},
			"value": &graphql.Field{
				Type: JSONScalar,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(row).value, nil
				},
			},
			"raw": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(row).value, nil
				},
			},
		},
	})
}

// createParamType creates the Param type for engine identity parameters
func createParamType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Param",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"value": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
		},
	})
}

// createPageInfoType creates the PageInfo type for connections
func createPageInfoType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "PageInfo",
		Fields: graphql.Fields{
			"hasNextPage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
			"hasPreviousPage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
			"startCursor": &graphql.Field{
				Type: graphql.String,
			},
			"endCursor": &graphql.Field{
				Type: graphql.String,
			},
		},
	})
}

// createConnectionEdgeType creates an edge type for connections (cursor + node)
func createConnectionEdgeType(name string, nodeType *graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: name + "Edge",
		Fields: graphql.Fields{
			"cursor": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"node": &graphql.Field{
				Type: nodeType,
			},
		},
	})
}

// createConnectionType creates a connection type (edges + pageInfo)
func createConnectionType(name string, edgeType *graphql.Object, pageInfoType *graphql.Object) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: name + "Connection",
		Fields: graphql.Fields{
			"edges": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(edgeType))),
			},
			"pageInfo": &graphql.Field{
				Type: graphql.NewNonNull(pageInfoType),
			},
			"totalCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
			},
		},
	})
}

// createTableType creates the Table type with keyed and paged row access
func createTableType(src Source, rowType, connectionType *graphql.Object, limits *LimitConfig) *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Table",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(tableRef).name, nil
				},
			},
			"count": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return src.Store().Len(p.Source.(tableRef).name), nil
				},
			},
			"row": &graphql.Field{
				Type: rowType,
				Args: graphql.FieldConfigArgument{
					"key": &graphql.ArgumentConfig{
						Type: graphql.NewNonNull(graphql.String),
					},
				},
				Resolve: createRowResolver(src),
			},
			"rows": &graphql.Field{
				Type: graphql.NewNonNull(connectionType),
				Args: graphql.FieldConfigArgument{
					"first": &graphql.ArgumentConfig{
						Type: graphql.Int,
					},
					"after": &graphql.ArgumentConfig{
						Type: graphql.String,
					},
					"last": &graphql.ArgumentConfig{
						Type: graphql.Int,
					},
					"before": &graphql.ArgumentConfig{
						Type: graphql.String,
					},
				},
				Resolve: createRowConnectionResolver(src, limits),
			},
		},
	})
}
