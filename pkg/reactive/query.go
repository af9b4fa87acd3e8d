package reactive

import (
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/pubsub"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// Executor runs a query against a client
type Executor func(c *subchain.Client, text string) subchain.QueryResult

func defaultExecutor(c *subchain.Client, text string) subchain.QueryResult {
	return c.Query(text)
}

// QueryOption configures a Query
type QueryOption func(*Query)

// WithExecutor replaces the function used to run queries
func WithExecutor(exec Executor) QueryOption {
	return func(q *Query) { q.exec = exec }
}

// WithQueryMetrics records recomputes and live bindings
func WithQueryMetrics(m *metrics.Registry) QueryOption {
	return func(q *Query) { q.metrics = m }
}

// WithQueryLogger sets the logger
func WithQueryLogger(l logging.Logger) QueryOption {
	return func(q *Query) { q.logger = l }
}

// Query is one consumer's binding: it caches the result of its text against the current
// client and recomputes only when the client, the text or the replica changes. After Detach
// its result never changes again.
type Query struct {
	provider *Provider
	exec     Executor

	mu       sync.Mutex
	text     string
	lastText string
	bound    *subchain.Client
	result   subchain.QueryResult
	computed bool
	stale    bool
	trigger  string // why the next recompute happens

	sub          *pubsub.Registration
	subscribedTo *subchain.Client
	watch        *pubsub.Registration
	live         bool

	hooksMu sync.Mutex
	hooks   []func()

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewQuery binds a consumer to provider
func NewQuery(provider *Provider, text string, opts ...QueryOption) *Query {
	q := &Query{
		provider: provider,
		exec:     defaultExecutor,
		text:     text,
		trigger:  "bind",
		result:   subchain.LoadingResult(),
		live:     true,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.OrDefault(q.logger).With(logging.Component("reactive"))
	q.watch = provider.Watch(func(*subchain.Client) { q.invalidate("client") })
	q.metrics.AddBindings(1)
	return q
}

// Text returns the current query text
func (q *Query) Text() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.text
}

// SetText changes the query. The next Result recomputes.
func (q *Query) SetText(text string) {
	q.mu.Lock()
	if !q.live || text == q.text {
		q.mu.Unlock()
		return
	}
	q.text = text
	q.trigger = "text"
	q.mu.Unlock()

	q.changed()
}

// Result returns the cached result, recomputing it if anything it depends on changed
func (q *Query) Result() subchain.QueryResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.live {
		return q.result
	}

	client := q.provider.Current()
	if client == nil {
		q.unsubscribeLocked()
		q.bound = nil
		q.computed = false
		q.result = subchain.LoadingResult()
		return q.result
	}

	if q.computed && client == q.bound && q.text == q.lastText && !q.stale {
		return q.result
	}

	trigger := q.trigger
	if client != q.bound {
		trigger = "client"
	}
	q.metrics.RecordRecompute(trigger)

	q.result = q.execute(client, q.text)
	q.bound = client
	q.lastText = q.text
	q.computed = true
	q.stale = false
	q.trigger = "notify"

	if q.subscribedTo != client {
		q.unsubscribeLocked()
		q.subscribedTo = client
		q.sub = client.Subscribe(func(emitter *subchain.Client) { q.notify(emitter) })
	}
	return q.result
}

func (q *Query) execute(client *subchain.Client, text string) (result subchain.QueryResult) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Warn("query execution panicked", logging.Any("panic", r))
			result = subchain.ErrorResult(fmt.Errorf("%v", r))
		}
	}()
	return q.exec(client, text)
}

// notify handles a replica change. One notification marks the result stale once and
// drops the subscription; the next Result subscribes again.
func (q *Query) notify(emitter *subchain.Client) {
	q.mu.Lock()
	if !q.live || emitter != q.subscribedTo {
		q.mu.Unlock()
		return
	}
	q.stale = true
	q.trigger = "notify"
	q.unsubscribeLocked()
	q.mu.Unlock()

	q.changed()
}

func (q *Query) invalidate(trigger string) {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()
		return
	}
	q.stale = true
	q.trigger = trigger
	q.mu.Unlock()

	q.changed()
}

func (q *Query) unsubscribeLocked() {
	if q.sub != nil {
		q.sub.Unsubscribe()
		q.sub = nil
	}
	q.subscribedTo = nil
}

// OnChange registers fn to run when the result may have changed. fn typically re-reads
// Result; it runs on the goroutine that caused the change.
func (q *Query) OnChange(fn func()) {
	q.hooksMu.Lock()
	defer q.hooksMu.Unlock()
	q.hooks = append(q.hooks, fn)
}

func (q *Query) changed() {
	q.hooksMu.Lock()
	hooks := append([]func(){}, q.hooks...)
	q.hooksMu.Unlock()

	for _, fn := range hooks {
		q.mu.Lock()
		live := q.live
		q.mu.Unlock()
		if !live {
			return
		}
		fn()
	}
}

// Detach ends the binding. The last result stays readable and never changes.
func (q *Query) Detach() {
	q.mu.Lock()
	if !q.live {
		q.mu.Unlock()
		return
	}
	q.live = false
	q.unsubscribeLocked()
	q.mu.Unlock()

	q.watch.Unsubscribe()
	q.metrics.AddBindings(-1)
}

// Live reports whether the binding is still attached
func (q *Query) Live() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live
}
