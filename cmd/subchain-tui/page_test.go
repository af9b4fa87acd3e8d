package main

import (
	"fmt"
	"testing"

	"github.com/charmbracelet/bubbles/table"

	"github.com/dd0wney/cluso-subchain/pkg/reactive"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

func TestRowsTemplate(t *testing.T) {
	text, err := reactive.Render(fmt.Sprintf(rowsTemplate, "members"), reactive.FirstArgs(5))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := `{ position table(name: "members") { count rows(first:5) { edges { node { key value } } pageInfo { hasNextPage hasPreviousPage startCursor endCursor } } } }`
	if text != want {
		t.Errorf("text = %s", text)
	}
}

func TestPageRows(t *testing.T) {
	res := subchain.QueryResult{Data: map[string]any{
		"position": 12,
		"table": map[string]any{
			"count": 3,
			"rows": map[string]any{
				"edges": []any{
					map[string]any{"node": map[string]any{"key": "alice", "value": "1"}},
					map[string]any{"node": map[string]any{"key": "bob", "value": "2"}},
					map[string]any{"node": map[string]any{"key": "carol", "value": map[string]any{"votes": 4}}},
				},
			},
		},
	}}

	rows, count, position, err := pageRows(res)
	if err != nil {
		t.Fatalf("pageRows() error = %v", err)
	}
	if count != 3 || position != 12 {
		t.Errorf("count/position = %d/%d", count, position)
	}
	want := []table.Row{{"alice", "1"}, {"bob", "2"}, {"carol", `{"votes":4}`}}
	if fmt.Sprint(rows) != fmt.Sprint(want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}

	if _, _, _, err := pageRows(subchain.QueryResult{IsError: true, Data: map[string]any{}}); err == nil {
		t.Error("expected an error for an error result")
	}
}
