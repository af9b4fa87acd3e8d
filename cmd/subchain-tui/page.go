package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/bubbles/table"

	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// rowsTemplate pages through one table; %q is the table name
const rowsTemplate = `{ position table(name: %q) { count rows(@page@) { edges { node { key value } } pageInfo { hasNextPage hasPreviousPage startCursor endCursor } } } }`

type pageData struct {
	Position int `json:"position"`
	Table    struct {
		Count int `json:"count"`
		Rows  struct {
			Edges []struct {
				Node struct {
					Key   string          `json:"key"`
					Value json.RawMessage `json:"value"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"rows"`
	} `json:"table"`
}

// pageRows converts a page result into table rows
func pageRows(res subchain.QueryResult) (rows []table.Row, count, position int, err error) {
	if res.IsError {
		return nil, 0, 0, fmt.Errorf("%s", res.Message())
	}
	var data pageData
	if err := res.Decode(&data); err != nil {
		return nil, 0, 0, err
	}

	rows = make([]table.Row, 0, len(data.Table.Rows.Edges))
	for _, e := range data.Table.Rows.Edges {
		rows = append(rows, table.Row{e.Node.Key, cellText(e.Node.Value)})
	}
	return rows, data.Table.Count, data.Position, nil
}

// cellText shows strings bare and any other JSON value as written
func cellText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
