package reactive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
	"github.com/dd0wney/cluso-subchain/pkg/snapshot"
	"github.com/dd0wney/cluso-subchain/pkg/state"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

const kvModule = `
abi_version = 1
function apply(position, block)
  state.put("kv", block.key, block.value)
end
`

func kvRecord(pos uint64) replay.Record {
	return replay.Record{
		Position: pos,
		Payload:  []byte(fmt.Sprintf(`{"key":"r%d","value":"v%d"}`, pos, pos)),
	}
}

// clientOptions builds options for a client over a snapshot holding rows k000..k(n-1)
func clientOptions(t *testing.T, feed *stream.Feed, rows int) subchain.Options {
	t.Helper()
	store := state.New()
	for i := 0; i < rows; i++ {
		store.Put("kv", fmt.Sprintf("k%03d", i), fmt.Sprintf("%d", i))
	}
	blob, err := snapshot.Encode(snapshot.Snapshot{ABIVersion: 1, State: store})
	require.NoError(t, err)

	return subchain.Options{
		ModuleSource:   snapshot.BytesSource(kvModule),
		SnapshotSource: snapshot.BytesSource(blob),
		BlocksURL:      "memory://feed",
		Transport:      stream.NewMemoryTransport(feed),
		Ingest: stream.IngestConfig{
			InitialReconnectDelay: 5 * time.Millisecond,
			MaxReconnectDelay:     20 * time.Millisecond,
		},
		Logger: logging.NewNopLogger(),
	}
}

func newFeed() *stream.Feed {
	return stream.NewFeed(stream.FeedOptions{Logger: logging.NewNopLogger()})
}

func newClient(t *testing.T, feed *stream.Feed, rows int) *subchain.Client {
	t.Helper()
	c, err := subchain.New(context.Background(), clientOptions(t, feed, rows))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

// countingExecutor counts executions per client
type countingExecutor struct {
	mu    sync.Mutex
	calls map[*subchain.Client]int
}

func (e *countingExecutor) exec(c *subchain.Client, text string) subchain.QueryResult {
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[*subchain.Client]int)
	}
	e.calls[c]++
	e.mu.Unlock()
	return c.Query(text)
}

func (e *countingExecutor) count(c *subchain.Client) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[c]
}

func position(t *testing.T, r subchain.QueryResult) int {
	t.Helper()
	require.False(t, r.IsError, r.Message())
	var out struct {
		Position int `json:"position"`
	}
	require.NoError(t, r.Decode(&out))
	return out.Position
}

func TestQuery_LoadingBeforeClient(t *testing.T) {
	p := NewProvider(logging.NewNopLogger())

	release := make(chan struct{})
	feed := newFeed()
	opts := clientOptions(t, feed, 0)
	blob, _ := opts.SnapshotSource.Bytes(context.Background())
	opts.SnapshotSource = snapshot.SourceFunc(func(ctx context.Context) ([]byte, error) {
		select {
		case <-release:
			return blob, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	teardown := p.Create(context.Background(), opts)
	defer teardown()

	q := NewQuery(p, "{ x }")
	defer q.Detach()

	res := q.Result()
	require.True(t, res.IsLoading)
	require.False(t, res.IsError)

	var changed atomic.Int32
	q.OnChange(func() { changed.Add(1) })

	close(release)
	require.Eventually(t, func() bool { return changed.Load() >= 1 }, 5*time.Second, 5*time.Millisecond,
		"binding a client should signal a change")

	res = q.Result()
	require.False(t, res.IsLoading)
	require.True(t, res.IsError, "{ x } is not a field")
}

func TestQuery_Memoizes(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed, 0)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	exec := &countingExecutor{}
	q := NewQuery(p, "{ position }", WithExecutor(exec.exec))
	defer q.Detach()

	first := q.Result()
	second := q.Result()
	require.Equal(t, 1, exec.count(c))
	require.Equal(t, first, second)

	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })

	require.NoError(t, feed.Append(kvRecord(1)))
	require.Eventually(t, func() bool { return changes.Load() == 1 }, 5*time.Second, time.Millisecond)

	require.Equal(t, 1, position(t, q.Result()))
	require.Equal(t, 2, exec.count(c))
	q.Result()
	require.Equal(t, 2, exec.count(c))
}

func TestQuery_OneRefreshPerNotification(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed, 0)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	q := NewQuery(p, "{ position }")
	defer q.Detach()
	q.Result()

	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })

	// nobody re-reads, so the binding stays unsubscribed after the first notification
	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2), kvRecord(3)))
	require.Eventually(t, func() bool { return c.Position() == 3 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), changes.Load())

	require.Equal(t, 3, position(t, q.Result()))

	require.NoError(t, feed.Append(kvRecord(4)))
	require.Eventually(t, func() bool { return changes.Load() == 2 }, 5*time.Second, time.Millisecond)
}

func TestQuery_SetText(t *testing.T) {
	c := newClient(t, newFeed(), 3)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	exec := &countingExecutor{}
	q := NewQuery(p, "{ position }", WithExecutor(exec.exec))
	defer q.Detach()
	q.Result()

	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })

	q.SetText("{ position }")
	require.Equal(t, int32(0), changes.Load(), "same text is not a change")

	q.SetText(`{ table(name: "kv") { count } }`)
	require.Equal(t, int32(1), changes.Load())
	require.Equal(t, `{ table(name: "kv") { count } }`, q.Text())

	var out struct {
		Table struct {
			Count int `json:"count"`
		} `json:"table"`
	}
	require.NoError(t, q.Result().Decode(&out))
	require.Equal(t, 3, out.Table.Count)
	require.Equal(t, 2, exec.count(c))
}

func TestQuery_Detach(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed, 0)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	exec := &countingExecutor{}
	q := NewQuery(p, "{ position }", WithExecutor(exec.exec))
	before := q.Result()

	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })

	q.Detach()
	q.Detach()
	require.False(t, q.Live())

	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2)))
	require.Eventually(t, func() bool { return c.Position() == 2 }, 5*time.Second, time.Millisecond)
	p.Set(nil)
	q.SetText("{ tables }")

	require.Equal(t, before, q.Result())
	require.Equal(t, int32(0), changes.Load())
	require.Equal(t, 1, exec.count(c))
}

func TestQuery_ClientChange(t *testing.T) {
	c1 := newClient(t, newFeed(), 1)
	c2 := newClient(t, newFeed(), 4)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c1)

	exec := &countingExecutor{}
	q := NewQuery(p, `{ table(name: "kv") { count } }`, WithExecutor(exec.exec))
	defer q.Detach()

	var out struct {
		Table struct {
			Count int `json:"count"`
		} `json:"table"`
	}
	require.NoError(t, q.Result().Decode(&out))
	require.Equal(t, 1, out.Table.Count)

	var changes atomic.Int32
	q.OnChange(func() { changes.Add(1) })
	p.Set(c2)
	require.Equal(t, int32(1), changes.Load())

	require.NoError(t, q.Result().Decode(&out))
	require.Equal(t, 4, out.Table.Count)
	require.Equal(t, 1, exec.count(c2))

	p.Set(nil)
	require.True(t, q.Result().IsLoading)
}

func TestQuery_ExecutorPanic(t *testing.T) {
	c := newClient(t, newFeed(), 0)
	p := NewProvider(logging.NewNopLogger())
	p.Set(c)

	q := NewQuery(p, "{ position }", WithExecutor(func(*subchain.Client, string) subchain.QueryResult {
		panic("template exploded")
	}))
	defer q.Detach()

	res := q.Result()
	require.True(t, res.IsError)
	require.Contains(t, res.Message(), "template exploded")
}

func TestProvider_ClearsFailedClient(t *testing.T) {
	feed := newFeed()
	p := NewProvider(logging.NewNopLogger())
	teardown := p.Create(context.Background(), clientOptions(t, feed, 0))
	defer teardown()

	require.Eventually(t, func() bool { return p.Current() != nil }, 5*time.Second, 5*time.Millisecond)
	c := p.Current()

	q := NewQuery(p, "{ position }")
	defer q.Detach()
	require.Equal(t, 0, position(t, q.Result()))

	require.NoError(t, feed.Append(kvRecord(2)))
	<-c.Done()

	require.Eventually(t, func() bool { return p.Current() == nil }, 5*time.Second, 5*time.Millisecond)
	require.True(t, q.Result().IsLoading)
	require.Error(t, c.Err())
}

func TestProvider_Teardown(t *testing.T) {
	p := NewProvider(logging.NewNopLogger())
	teardown := p.Create(context.Background(), clientOptions(t, newFeed(), 0))

	require.Eventually(t, func() bool { return p.Current() != nil }, 5*time.Second, 5*time.Millisecond)
	c := p.Current()

	teardown()
	require.Nil(t, p.Current())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("teardown did not shut the client down")
	}
	require.Equal(t, stream.StateShutdown, c.State())
}

func TestProvider_TeardownDuringConstruction(t *testing.T) {
	for i := range 20 {
		p := NewProvider(logging.NewNopLogger())
		teardown := p.Create(context.Background(), clientOptions(t, newFeed(), 0))
		time.Sleep(time.Duration(i) * 100 * time.Microsecond)
		teardown()

		require.Never(t, func() bool { return p.Current() != nil }, 30*time.Millisecond, time.Millisecond,
			"client installed after teardown (iteration %d)", i)
	}
}

func TestProvider_SetNotifiesWatchers(t *testing.T) {
	p := NewProvider(logging.NewNopLogger())
	c := newClient(t, newFeed(), 0)

	var seen []*subchain.Client
	reg := p.Watch(func(got *subchain.Client) { seen = append(seen, got) })
	defer reg.Unsubscribe()

	p.Set(c)
	p.Set(c)
	p.Set(nil)
	require.Equal(t, []*subchain.Client{c, nil}, seen)
}
