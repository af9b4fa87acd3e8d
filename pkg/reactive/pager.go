package reactive

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// Placeholder marks where page arguments go in a paged query template
const Placeholder = "@page@"

// ErrNoPagePlaceholder is returned for a template without Placeholder
var ErrNoPagePlaceholder = errors.New("query template has no " + Placeholder + " placeholder")

// PageInfo is the cursor pair of one page
type PageInfo struct {
	HasPreviousPage bool   `json:"hasPreviousPage"`
	HasNextPage     bool   `json:"hasNextPage"`
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
}

// PageInfoFunc extracts page info from a result. Results without page info yield the zero
// PageInfo.
type PageInfoFunc func(subchain.QueryResult) PageInfo

// PageInfoAt reads the pageInfo object of the connection found by following path from the
// result data, e.g. PageInfoAt("table", "rows").
func PageInfoAt(path ...string) PageInfoFunc {
	keys := append(slices.Clone(path), "pageInfo")
	return func(r subchain.QueryResult) PageInfo {
		var node any = r.Data
		for _, key := range keys {
			m, ok := node.(map[string]any)
			if !ok {
				return PageInfo{}
			}
			node = m[key]
		}
		m, ok := node.(map[string]any)
		if !ok {
			return PageInfo{}
		}

		var info PageInfo
		info.HasPreviousPage, _ = m["hasPreviousPage"].(bool)
		info.HasNextPage, _ = m["hasNextPage"].(bool)
		info.StartCursor, _ = m["startCursor"].(string)
		info.EndCursor, _ = m["endCursor"].(string)
		return info
	}
}

// FirstArgs requests the first page
func FirstArgs(pageSize int) string {
	return fmt.Sprintf("first:%d", pageSize)
}

// LastArgs requests the last page
func LastArgs(pageSize int) string {
	return fmt.Sprintf("last:%d", pageSize)
}

// NextArgs requests the page after endCursor
func NextArgs(pageSize int, endCursor string) string {
	return fmt.Sprintf("first:%d after:%q", pageSize, endCursor)
}

// PreviousArgs requests the page before startCursor
func PreviousArgs(pageSize int, startCursor string) string {
	return fmt.Sprintf("last:%d before:%q", pageSize, startCursor)
}

// Render substitutes args for the first placeholder in template
func Render(template, args string) (string, error) {
	if !strings.Contains(template, Placeholder) {
		return "", ErrNoPagePlaceholder
	}
	return strings.Replace(template, Placeholder, args, 1), nil
}

// Pager drives a paged query. Before a result carries page info, Next and Previous request
// an unanchored page in their direction.
type Pager struct {
	query    *Query
	template string
	pageSize int
	pageInfo PageInfoFunc

	mu   sync.Mutex
	args string
}

// NewPager creates a pager positioned on the first page
func NewPager(provider *Provider, template string, pageSize int, pageInfo PageInfoFunc, opts ...QueryOption) (*Pager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if pageInfo == nil {
		return nil, errors.New("pager requires a PageInfoFunc")
	}
	args := FirstArgs(pageSize)
	text, err := Render(template, args)
	if err != nil {
		return nil, err
	}

	return &Pager{
		query:    NewQuery(provider, text, opts...),
		template: template,
		pageSize: pageSize,
		pageInfo: pageInfo,
		args:     args,
	}, nil
}

func (p *Pager) setArgs(args string) {
	p.mu.Lock()
	p.args = args
	p.mu.Unlock()

	// Render cannot fail: the template was checked in NewPager
	text, _ := Render(p.template, args)
	p.query.SetText(text)
}

// First moves to the first page
func (p *Pager) First() {
	p.setArgs(FirstArgs(p.pageSize))
}

// Last moves to the last page
func (p *Pager) Last() {
	p.setArgs(LastArgs(p.pageSize))
}

// Next moves to the page after the current one
func (p *Pager) Next() {
	p.setArgs(NextArgs(p.pageSize, p.PageInfo().EndCursor))
}

// Previous moves to the page before the current one
func (p *Pager) Previous() {
	p.setArgs(PreviousArgs(p.pageSize, p.PageInfo().StartCursor))
}

// Args returns the current page arguments
func (p *Pager) Args() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.args
}

// PageSize returns the page size
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Result returns the current page's result
func (p *Pager) Result() subchain.QueryResult {
	return p.query.Result()
}

// PageInfo returns the cursor pair of the current result
func (p *Pager) PageInfo() PageInfo {
	return p.pageInfo(p.query.Result())
}

// HasNextPage reports whether a page follows the current one
func (p *Pager) HasNextPage() bool {
	return p.PageInfo().HasNextPage
}

// HasPreviousPage reports whether a page precedes the current one
func (p *Pager) HasPreviousPage() bool {
	return p.PageInfo().HasPreviousPage
}

// OnChange registers a re-render hook
func (p *Pager) OnChange(fn func()) {
	p.query.OnChange(fn)
}

// Detach ends the pager's binding
func (p *Pager) Detach() {
	p.query.Detach()
}
