package subchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
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
)

const kvModule = `
abi_version = 1
function apply(position, block)
  if block.reject then
    error("rejected by module")
  end
  state.put("kv", block.key, block.value)
end
`

func kvRecord(pos uint64) replay.Record {
	return replay.Record{
		Position: pos,
		Payload:  []byte(fmt.Sprintf(`{"key":"k%d","value":"v%d"}`, pos, pos)),
	}
}

func emptySnapshot(t *testing.T) []byte {
	t.Helper()
	b, err := snapshot.Encode(snapshot.Snapshot{ABIVersion: 1})
	require.NoError(t, err)
	return b
}

func testIngest() stream.IngestConfig {
	return stream.IngestConfig{
		InitialReconnectDelay: 5 * time.Millisecond,
		MaxReconnectDelay:     20 * time.Millisecond,
		MaxReconnectAttempts:  3,
		ConnectTimeout:        time.Second,
		HandshakeTimeout:      time.Second,
	}
}

func testOptions(t *testing.T, feed *stream.Feed) Options {
	return Options{
		ModuleSource:   snapshot.BytesSource(kvModule),
		SnapshotSource: snapshot.BytesSource(emptySnapshot(t)),
		BlocksURL:      "memory://feed",
		Transport:      stream.NewMemoryTransport(feed),
		Params:         map[string]string{"eden": "genesis.eden"},
		Ingest:         testIngest(),
		Logger:         logging.NewNopLogger(),
	}
}

func newFeed() *stream.Feed {
	return stream.NewFeed(stream.FeedOptions{Logger: logging.NewNopLogger()})
}

func newClient(t *testing.T, feed *stream.Feed) *Client {
	t.Helper()
	c, err := New(context.Background(), testOptions(t, feed))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

func waitPosition(t *testing.T, c *Client, pos uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Position() >= pos }, 5*time.Second, 5*time.Millisecond,
		"position %d never reached", pos)
}

func TestNew_EmptySnapshot(t *testing.T) {
	c := newClient(t, newFeed())

	require.Equal(t, stream.StateStreaming, c.State())
	require.Equal(t, uint64(0), c.Position())
	require.NotEmpty(t, c.ID())

	res := c.Query("{ position tables }")
	require.False(t, res.IsLoading)
	require.False(t, res.IsError, res.Message())

	var out struct {
		Position int      `json:"position"`
		Tables   []string `json:"tables"`
	}
	require.NoError(t, res.Decode(&out))
	require.Equal(t, 0, out.Position)
	require.Empty(t, out.Tables)
}

func TestClient_ThreeRecordsThreePublishes(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)

	var deliveries atomic.Int32
	c.Subscribe(func(got *Client) {
		if got == c {
			deliveries.Add(1)
		}
	})

	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2), kvRecord(3)))
	waitPosition(t, c, 3)
	require.Eventually(t, func() bool { return deliveries.Load() == 3 }, time.Second, time.Millisecond)

	res := c.Query(`{ table(name: "kv") { count row(key: "k2") { value } } }`)
	require.False(t, res.IsError, res.Message())

	var out struct {
		Table struct {
			Count int `json:"count"`
			Row   struct {
				Value string `json:"value"`
			} `json:"row"`
		} `json:"table"`
	}
	require.NoError(t, res.Decode(&out))
	require.Equal(t, 3, out.Table.Count)
	require.Equal(t, "v2", out.Table.Row.Value)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(3), deliveries.Load(), "no extra publishes")
	require.Equal(t, uint64(3), c.Stats().RecordsApplied)
}

func TestClient_OutOfOrderFails(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)

	var deliveries atomic.Int32
	c.Subscribe(func(*Client) { deliveries.Add(1) })

	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2), kvRecord(3), kvRecord(5)))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop after out-of-order record")
	}

	require.Equal(t, stream.StateFailed, c.State())
	var re *replay.ReplayError
	require.ErrorAs(t, c.Err(), &re)
	require.Equal(t, uint64(5), re.Position)
	require.Equal(t, uint64(4), re.Expected)
	require.Equal(t, uint64(3), c.Position())

	// three records plus the failure notice
	require.Equal(t, int32(4), deliveries.Load())

	res := c.Query("{ position }")
	require.True(t, res.IsError)
	require.Contains(t, res.Message(), ErrFailed.Error())
}

func TestClient_RejectedRecordFails(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)

	require.NoError(t, feed.Append(kvRecord(1), replay.Record{Position: 2, Payload: []byte(`{"reject":true}`)}))
	<-c.Done()

	require.ErrorIs(t, c.Err(), replay.ErrRejected)
	require.True(t, c.Query("{ position }").IsError)
}

func TestClient_ShutdownTwice(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)

	var deliveries atomic.Int32
	c.Subscribe(func(*Client) { deliveries.Add(1) })

	require.NoError(t, feed.Append(kvRecord(1)))
	waitPosition(t, c, 1)

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after Shutdown")
	}
	require.Equal(t, stream.StateShutdown, c.State())
	require.NoError(t, c.Err())

	before := deliveries.Load()
	require.NoError(t, feed.Append(kvRecord(2)))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, before, deliveries.Load(), "publish after shutdown")

	res := c.Query("{ position }")
	require.True(t, res.IsError)
	require.Contains(t, res.Message(), ErrShutdown.Error())
}

func TestClient_ShutdownFromSubscriber(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)
	c.Subscribe(func(got *Client) { _ = got.Shutdown() })

	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2)))

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown from a subscriber deadlocked")
	}
	require.Equal(t, uint64(1), c.Position())
}

func TestClient_QueryErrorIsData(t *testing.T) {
	c := newClient(t, newFeed())

	res := c.Query("{ nosuchfield }")
	require.True(t, res.IsError)
	require.False(t, res.IsLoading)
	require.NotEmpty(t, res.Errors)
	require.Contains(t, res.Errors[0].Message, "nosuchfield")

	res = c.Query("{ position")
	require.True(t, res.IsError)

	// the client keeps serving
	require.False(t, c.Query("{ position }").IsError)

	stats := c.Stats()
	require.Equal(t, uint64(3), stats.QueriesExecuted)
	require.Equal(t, uint64(2), stats.QueryErrors)
}

func TestClient_QueriesDuringIngest(t *testing.T) {
	feed := newFeed()
	c := newClient(t, feed)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res := c.Query(`{ position table(name: "kv") { count } }`)
				if res.IsError {
					t.Errorf("query failed: %s", res.Message())
					return
				}
			}
		}()
	}

	for i := uint64(1); i <= 50; i++ {
		require.NoError(t, feed.Append(kvRecord(i)))
	}
	waitPosition(t, c, 50)
	close(stop)
	wg.Wait()
}

func TestNew_InitializationErrors(t *testing.T) {
	badABI, err := snapshot.Encode(snapshot.Snapshot{ABIVersion: 7})
	require.NoError(t, err)

	opts := testOptions(t, newFeed())
	opts.SnapshotSource = snapshot.BytesSource(badABI)

	_, err = New(context.Background(), opts)
	var ie *snapshot.InitializationError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, snapshot.StageCompat, ie.Stage)
}

func TestNew_PreloadedSnapshot(t *testing.T) {
	store := state.New()
	store.Put("kv", "k1", "v1")
	blob, err := snapshot.Encode(snapshot.Snapshot{ABIVersion: 1, Position: 1, State: store})
	require.NoError(t, err)

	feed := newFeed()
	require.NoError(t, feed.Append(kvRecord(1), kvRecord(2)))

	opts := testOptions(t, feed)
	opts.SnapshotSource = snapshot.BytesSource(blob)
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Shutdown()

	waitPosition(t, c, 2)
	require.NoError(t, c.Err())
}

func TestClient_SnapshotAheadOfFillingFeed(t *testing.T) {
	store := state.New()
	for _, k := range []string{"k1", "k2", "k3"} {
		store.Put("kv", k, "v"+k[1:])
	}
	blob, err := snapshot.Encode(snapshot.Snapshot{ABIVersion: 1, Position: 3, State: store})
	require.NoError(t, err)

	feed := newFeed()
	opts := testOptions(t, feed)
	opts.SnapshotSource = snapshot.BytesSource(blob)
	c, err := New(context.Background(), opts)
	require.NoError(t, err)
	defer c.Shutdown()

	for pos := uint64(1); pos <= 5; pos++ {
		require.NoError(t, feed.Append(kvRecord(pos)))
	}

	waitPosition(t, c, 5)
	require.NoError(t, c.Err())
	require.Equal(t, stream.StateStreaming, c.State())
}

func TestNew_FeedRejects(t *testing.T) {
	feed := newFeed()
	feed.Fail("incompatible", "wrong chain")

	_, err := New(context.Background(), testOptions(t, feed))
	require.Error(t, err)
	require.True(t, stream.IsPermanent(err))
	require.True(t, strings.Contains(err.Error(), "wrong chain"))
}

func TestNew_ContextCancelled(t *testing.T) {
	feed := newFeed()
	transport := stream.NewMemoryTransport(feed)
	transport.SetOffline(true)

	opts := testOptions(t, feed)
	opts.Transport = transport
	opts.Ingest.MaxReconnectAttempts = 1000
	opts.Ingest.MaxReconnectDelay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(ctx, opts)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_MissingOptions(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)

	opts := testOptions(t, newFeed())
	opts.BlocksURL = ""
	_, err = New(context.Background(), opts)
	require.Error(t, err)
}

func TestQueryResult_Decode(t *testing.T) {
	var v map[string]any
	require.Error(t, LoadingResult().Decode(&v))
	require.Error(t, ErrorResult(errors.New("boom")).Decode(&v))

	res := ErrorResult(errors.New("boom"))
	require.True(t, res.IsError)
	require.Equal(t, "boom", res.Message())
}
