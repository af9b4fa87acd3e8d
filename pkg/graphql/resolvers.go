package graphql

import (
	"github.com/graphql-go/graphql"
)

// createRowResolver resolves Table.row(key)
func createRowResolver(src Source) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		table := p.Source.(tableRef).name
		key, _ := p.Args["key"].(string)

		value, ok := src.Store().Get(table, key)
		if !ok {
			return nil, nil
		}
		return row{key: key, value: value}, nil
	}
}

// createRowConnectionResolver resolves Table.rows with cursor pagination
func createRowConnectionResolver(src Source, limits *LimitConfig) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (any, error) {
		table := p.Source.(tableRef).name

		pa, err := parsePageArgs(p.Args)
		if err != nil {
			return nil, err
		}

		store := src.Store()
		keys := store.Keys(table)
		start, end := page(keys, pa, limits)

		return buildConnection(keys, start, end, func(key string) (string, bool) {
			return store.Get(table, key)
		}), nil
	}
}
