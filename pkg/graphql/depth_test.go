package graphql

import (
	"testing"
)

func TestQueryDepth(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"scalar only", `{ position }`, 0},
		{"one level", `{ params { name } }`, 1},
		{"connection", `{ table(name: "t") { rows { edges { node { key } } } } }`, 4},
		{"introspection ignored", `{ __schema { types { name } } position }`, 0},
		{"inline fragment", `{ table(name: "t") { ... on Table { rows { pageInfo { hasNextPage } } } } }`, 3},
		{"fragment spread", `{ table(name: "t") { ...T } } fragment T on Table { row(key: "a") { key } }`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QueryDepth(tt.query)
			if err != nil {
				t.Fatalf("QueryDepth() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("QueryDepth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestQueryDepth_CyclicFragment(t *testing.T) {
	query := `{ table(name: "t") { ...A } } fragment A on Table { ...A }`
	if _, err := QueryDepth(query); err != nil {
		t.Fatalf("QueryDepth() error = %v", err)
	}
}

func TestValidateQueryDepth(t *testing.T) {
	if err := ValidateQueryDepth(`{ params { name } }`, 1); err != nil {
		t.Errorf("depth 1 within limit 1: %v", err)
	}
	if err := ValidateQueryDepth(`{ table(name: "t") { row(key: "a") { key } } }`, 1); err == nil {
		t.Error("expected depth 2 to exceed limit 1")
	}
	if err := ValidateQueryDepth(`{`, 1); err == nil {
		t.Error("expected parse error")
	}
}
