package graphql

import (
	"fmt"
	"testing"

	"github.com/dd0wney/cluso-subchain/pkg/state"
)

func pagedSource(n int) *fakeSource {
	s := state.New()
	for i := 0; i < n; i++ {
		s.Put("items", fmt.Sprintf("k%02d", i), fmt.Sprintf(`{"i":%d}`, i))
	}
	return &fakeSource{store: s}
}

type connection struct {
	keys    []string
	hasNext bool
	hasPrev bool
	start   string
	end     string
	total   int
}

func queryRows(t *testing.T, s *schemaUnderTest, args string) connection {
	t.Helper()
	data := s.run(fmt.Sprintf(`{ table(name: "items") { rows%s {
		totalCount
		edges { cursor node { key } }
		pageInfo { hasNextPage hasPreviousPage startCursor endCursor }
	} } }`, args))

	rows := data["table"].(map[string]any)["rows"].(map[string]any)
	pageInfo := rows["pageInfo"].(map[string]any)

	var c connection
	for _, e := range rows["edges"].([]any) {
		edge := e.(map[string]any)
		c.keys = append(c.keys, edge["node"].(map[string]any)["key"].(string))
	}
	c.hasNext = pageInfo["hasNextPage"].(bool)
	c.hasPrev = pageInfo["hasPreviousPage"].(bool)
	c.start, _ = pageInfo["startCursor"].(string)
	c.end, _ = pageInfo["endCursor"].(string)
	c.total = rows["totalCount"].(int)
	return c
}

func TestRowsPaginationForward(t *testing.T) {
	s := mustSchema(t, pagedSource(10))

	page1 := queryRows(t, s, `(first: 4)`)
	if len(page1.keys) != 4 || page1.keys[0] != "k00" || page1.keys[3] != "k03" {
		t.Fatalf("page1 keys = %v", page1.keys)
	}
	if !page1.hasNext || page1.hasPrev {
		t.Errorf("page1 hasNext=%v hasPrev=%v, want true/false", page1.hasNext, page1.hasPrev)
	}
	if page1.total != 10 {
		t.Errorf("totalCount = %d, want 10", page1.total)
	}

	page2 := queryRows(t, s, fmt.Sprintf(`(first: 4, after: %q)`, page1.end))
	if len(page2.keys) != 4 || page2.keys[0] != "k04" {
		t.Fatalf("page2 keys = %v", page2.keys)
	}
	if !page2.hasPrev {
		t.Error("page2 should have a previous page")
	}

	page3 := queryRows(t, s, fmt.Sprintf(`(first: 4, after: %q)`, page2.end))
	if len(page3.keys) != 2 || page3.hasNext {
		t.Errorf("page3 keys = %v hasNext = %v", page3.keys, page3.hasNext)
	}
}

func TestRowsPaginationBackward(t *testing.T) {
	s := mustSchema(t, pagedSource(10))

	tail := queryRows(t, s, `(last: 3)`)
	if len(tail.keys) != 3 || tail.keys[0] != "k07" || tail.keys[2] != "k09" {
		t.Fatalf("tail keys = %v", tail.keys)
	}
	if tail.hasNext || !tail.hasPrev {
		t.Errorf("tail hasNext=%v hasPrev=%v, want false/true", tail.hasNext, tail.hasPrev)
	}

	before := queryRows(t, s, fmt.Sprintf(`(last: 3, before: %q)`, tail.start))
	if len(before.keys) != 3 || before.keys[0] != "k04" || before.keys[2] != "k06" {
		t.Errorf("before keys = %v", before.keys)
	}
}

func TestRowsPaginationRoundTrip(t *testing.T) {
	s := mustSchema(t, pagedSource(10))

	first := queryRows(t, s, `(first: 3)`)
	next := queryRows(t, s, fmt.Sprintf(`(first: 3, after: %q)`, first.end))
	prev := queryRows(t, s, fmt.Sprintf(`(last: 3, before: %q)`, next.start))

	if fmt.Sprint(prev.keys) != fmt.Sprint(first.keys) {
		t.Errorf("previous page = %v, want %v", prev.keys, first.keys)
	}
	if prev.start != first.start {
		t.Error("previous page should start at the original start cursor")
	}
}

func TestRowsPaginationCursorSurvivesDelete(t *testing.T) {
	src := pagedSource(6)
	s := mustSchema(t, src)

	first := queryRows(t, s, `(first: 2)`)
	src.store.Delete("items", "k01")

	next := queryRows(t, s, fmt.Sprintf(`(first: 2, after: %q)`, first.end))
	if len(next.keys) != 2 || next.keys[0] != "k02" {
		t.Errorf("keys after deleted cursor row = %v", next.keys)
	}
}

func TestRowsPaginationDefaultLimit(t *testing.T) {
	src := pagedSource(8)
	schema, err := NewSchema(src, &LimitConfig{DefaultLimit: 5, MaxLimit: 6})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}
	s := &schemaUnderTest{t: t, schema: schema}

	if c := queryRows(t, s, ``); len(c.keys) != 5 {
		t.Errorf("default page size = %d, want 5", len(c.keys))
	}
	if c := queryRows(t, s, `(first: 100)`); len(c.keys) != 6 {
		t.Errorf("capped page size = %d, want 6", len(c.keys))
	}
}

func TestRowsPaginationErrors(t *testing.T) {
	s := mustSchema(t, pagedSource(3))

	tests := []struct {
		name string
		args string
	}{
		{"invalid base64", `(after: "!!!")`},
		{"wrong prefix", fmt.Sprintf(`(after: %q)`, "Y3Vyc29yOjE=")},
		{"negative first", `(first: -1)`},
		{"negative last", `(last: -2)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExecuteQuery(fmt.Sprintf(`{ table(name: "items") { rows%s { totalCount } } }`, tt.args), s.schema)
			if !result.HasErrors() {
				t.Error("expected an error")
			}
		})
	}
}

func TestCursorEncoding(t *testing.T) {
	for _, key := range []string{"", "alice", "with space", "ünïcode"} {
		got, err := decodeCursor(encodeCursor(key))
		if err != nil {
			t.Fatalf("decodeCursor(%q) error = %v", key, err)
		}
		if got != key {
			t.Errorf("round trip %q -> %q", key, got)
		}
	}
}

func TestRowsPaginationEmptyCursorIsUnanchored(t *testing.T) {
	s := mustSchema(t, pagedSource(6))

	next := queryRows(t, s, `(first: 2, after: "")`)
	if len(next.keys) != 2 || next.keys[0] != "k00" {
		t.Errorf("first:2 after:\"\" keys = %v, want the first page", next.keys)
	}

	prev := queryRows(t, s, `(last: 2, before: "")`)
	if len(prev.keys) != 2 || prev.keys[1] != "k05" {
		t.Errorf("last:2 before:\"\" keys = %v, want the last page", prev.keys)
	}
}
