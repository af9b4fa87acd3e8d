package reactive

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

const rowsTemplate = `{ table(name: "kv") { rows(@page@) { edges { node { key } } pageInfo { hasNextPage hasPreviousPage startCursor endCursor } } } }`

func pageKeys(t *testing.T, r subchain.QueryResult) []string {
	t.Helper()
	require.False(t, r.IsError, r.Message())
	var out struct {
		Table struct {
			Rows struct {
				Edges []struct {
					Node struct {
						Key string `json:"key"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"rows"`
		} `json:"table"`
	}
	require.NoError(t, r.Decode(&out))
	keys := make([]string, 0, len(out.Table.Rows.Edges))
	for _, e := range out.Table.Rows.Edges {
		keys = append(keys, e.Node.Key)
	}
	return keys
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		args     string
		want     string
		wantErr  error
	}{
		{"single", "{ rows(@page@) { key } }", "first:3", "{ rows(first:3) { key } }", nil},
		{"first occurrence only", "{ a(@page@) b(@page@) }", "last:1", "{ a(last:1) b(@page@) }", nil},
		{"missing placeholder", "{ rows { key } }", "first:3", "", ErrNoPagePlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPageArgs(t *testing.T) {
	if got := FirstArgs(5); got != "first:5" {
		t.Errorf("FirstArgs = %q", got)
	}
	if got := LastArgs(5); got != "last:5" {
		t.Errorf("LastArgs = %q", got)
	}
	if got := NextArgs(5, "cm93OmswMDQ="); got != `first:5 after:"cm93OmswMDQ="` {
		t.Errorf("NextArgs = %q", got)
	}
	if got := PreviousArgs(5, "cm93OmswMDU="); got != `last:5 before:"cm93OmswMDU="` {
		t.Errorf("PreviousArgs = %q", got)
	}
}

func TestPageInfoAt(t *testing.T) {
	extract := PageInfoAt("table", "rows")

	require.Equal(t, PageInfo{}, extract(subchain.LoadingResult()))
	require.Equal(t, PageInfo{}, extract(subchain.QueryResult{Data: map[string]any{"table": nil}}))

	got := extract(subchain.QueryResult{Data: map[string]any{
		"table": map[string]any{
			"rows": map[string]any{
				"pageInfo": map[string]any{
					"hasNextPage":     true,
					"hasPreviousPage": false,
					"startCursor":     "a",
					"endCursor":       "b",
				},
			},
		},
	}})
	require.Equal(t, PageInfo{HasNextPage: true, StartCursor: "a", EndCursor: "b"}, got)
}

func TestNewPager_Invalid(t *testing.T) {
	p := NewProvider(logging.NewNopLogger())

	_, err := NewPager(p, "{ rows { key } }", 2, PageInfoAt("rows"))
	require.ErrorIs(t, err, ErrNoPagePlaceholder)

	_, err = NewPager(p, rowsTemplate, 0, PageInfoAt("table", "rows"))
	require.Error(t, err)

	_, err = NewPager(p, rowsTemplate, 2, nil)
	require.Error(t, err)
}

func TestPager_WithoutClient(t *testing.T) {
	p := NewProvider(logging.NewNopLogger())
	pager, err := NewPager(p, rowsTemplate, 2, PageInfoAt("table", "rows"))
	require.NoError(t, err)
	defer pager.Detach()

	require.Equal(t, "first:2", pager.Args())
	require.True(t, pager.Result().IsLoading)
	require.False(t, pager.HasNextPage())

	pager.Next()
	require.Equal(t, `first:2 after:""`, pager.Args())
	pager.Previous()
	require.Equal(t, `last:2 before:""`, pager.Args())
	pager.Last()
	require.Equal(t, "last:2", pager.Args())
	pager.First()
	require.Equal(t, "first:2", pager.Args())
}

func TestPager_Walk(t *testing.T) {
	c := newClient(t, newFeed(), 5)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	pager, err := NewPager(p, rowsTemplate, 2, PageInfoAt("table", "rows"))
	require.NoError(t, err)
	defer pager.Detach()

	var changes int
	pager.OnChange(func() { changes++ })

	require.Equal(t, []string{"k000", "k001"}, pageKeys(t, pager.Result()))
	require.False(t, pager.HasPreviousPage())
	require.True(t, pager.HasNextPage())

	pager.Next()
	require.Equal(t, []string{"k002", "k003"}, pageKeys(t, pager.Result()))

	pager.Next()
	require.Equal(t, []string{"k004"}, pageKeys(t, pager.Result()))
	require.False(t, pager.HasNextPage())
	require.True(t, pager.HasPreviousPage())

	pager.Previous()
	require.Equal(t, []string{"k002", "k003"}, pageKeys(t, pager.Result()))

	pager.Last()
	require.Equal(t, []string{"k003", "k004"}, pageKeys(t, pager.Result()))

	pager.First()
	require.Equal(t, []string{"k000", "k001"}, pageKeys(t, pager.Result()))
	require.Equal(t, 5, changes)
	require.Equal(t, 2, pager.PageSize())
}

// Property: from any page that has a successor, next followed by previous lands on the same
// page with the same page size.
func TestPager_NextPreviousRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property test in short mode")
	}

	const rows = 23
	c := newClient(t, newFeed(), rows)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("next then previous restores the page", prop.ForAll(
		func(pageSize, skip int) bool {
			pager, err := NewPager(p, rowsTemplate, pageSize, PageInfoAt("table", "rows"))
			if err != nil {
				return false
			}
			defer pager.Detach()

			for i := 0; i < skip && pager.HasNextPage(); i++ {
				pager.Next()
			}

			before := pager.PageInfo()
			if !before.HasNextPage {
				return true
			}
			keys := pageKeys(t, pager.Result())

			pager.Next()
			following := pager.PageInfo()
			pager.Previous()

			after := pager.PageInfo()
			return pager.Args() == PreviousArgs(pageSize, following.StartCursor) &&
				after.StartCursor == before.StartCursor &&
				after.EndCursor == before.EndCursor &&
				len(pageKeys(t, pager.Result())) == len(keys)
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
