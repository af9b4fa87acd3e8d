package graphql

import (
	"fmt"
	"sort"
)

// pageArgs are the Relay connection arguments of one request
type pageArgs struct {
	first, last       int
	hasFirst, hasLast bool
	after, before     string
	hasAfter          bool
	hasBefore         bool
}

func parsePageArgs(args map[string]any) (pageArgs, error) {
	var pa pageArgs
	pa.first, pa.hasFirst = args["first"].(int)
	pa.last, pa.hasLast = args["last"].(int)

	// an empty cursor means no anchor
	if after, ok := args["after"].(string); ok && after != "" {
		key, err := decodeCursor(after)
		if err != nil {
			return pa, err
		}
		pa.after, pa.hasAfter = key, true
	}
	if before, ok := args["before"].(string); ok && before != "" {
		key, err := decodeCursor(before)
		if err != nil {
			return pa, err
		}
		pa.before, pa.hasBefore = key, true
	}

	if pa.hasFirst && pa.first < 0 {
		return pa, fmt.Errorf("first must not be negative, got %d", pa.first)
	}
	if pa.hasLast && pa.last < 0 {
		return pa, fmt.Errorf("last must not be negative, got %d", pa.last)
	}
	return pa, nil
}

// page selects the window [start, end) of sorted keys for the given arguments.
// Cursors are keys, so they stay valid when rows around them change.
func page(keys []string, pa pageArgs, limits *LimitConfig) (start, end int) {
	start = 0
	if pa.hasAfter {
		// first key strictly greater than the after cursor
		start = sort.Search(len(keys), func(i int) bool { return keys[i] > pa.after })
	}

	end = len(keys)
	if pa.hasBefore {
		end = sort.SearchStrings(keys, pa.before)
	}

	if start > end {
		start = end
	}

	switch {
	case pa.hasFirst:
		if n := applyLimit(pa.first, limits); start+n < end {
			end = start + n
		}
	case pa.hasLast:
		if n := applyLimit(pa.last, limits); end-n > start {
			start = end - n
		}
	default:
		if n := limits.DefaultLimit; start+n < end {
			end = start + n
		}
	}

	if pa.hasFirst && pa.hasLast {
		// Relay: apply last to the result of first
		if n := applyLimit(pa.last, limits); end-n > start {
			start = end - n
		}
	}

	return start, end
}

// buildConnection renders the window as a Relay connection
func buildConnection(keys []string, start, end int, lookup func(string) (string, bool)) map[string]any {
	edges := make([]map[string]any, 0, end-start)
	for _, key := range keys[start:end] {
		value, _ := lookup(key)
		edges = append(edges, map[string]any{
			"cursor": encodeCursor(key),
			"node":   row{key: key, value: value},
		})
	}

	var startCursor, endCursor *string
	if len(edges) > 0 {
		s := encodeCursor(keys[start])
		e := encodeCursor(keys[end-1])
		startCursor = &s
		endCursor = &e
	}

	pageInfo := map[string]any{
		"hasNextPage":     end < len(keys),
		"hasPreviousPage": start > 0,
		"startCursor":     startCursor,
		"endCursor":       endCursor,
	}

	return map[string]any{
		"edges":      edges,
		"pageInfo":   pageInfo,
		"totalCount": len(keys),
	}
}
