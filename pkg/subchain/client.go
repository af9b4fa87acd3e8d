// Package subchain is the replica client: it loads a snapshot, keeps it current from a
// block stream, answers queries and notifies subscribers after every applied record.
package subchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	gql "github.com/dd0wney/cluso-subchain/pkg/graphql"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/pubsub"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
	"github.com/dd0wney/cluso-subchain/pkg/snapshot"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
	"github.com/dd0wney/cluso-subchain/pkg/tracing"
)

var (
	// ErrShutdown is returned for queries on a client that was shut down
	ErrShutdown = errors.New("client shut down")

	// ErrFailed wraps the fatal error of a failed client
	ErrFailed = errors.New("client failed")
)

// Options configures New
type Options struct {
	ModuleSource   snapshot.Source
	SnapshotSource snapshot.Source
	BlocksURL      string
	Transport      stream.Transport // WebsocketTransport when nil

	// Params are account identities handed to the module untouched
	Params map[string]string
	Slowmo bool

	Ingest  stream.IngestConfig
	Limits  *gql.LimitConfig
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// Stats is a snapshot of client counters
type Stats struct {
	Position        uint64
	RecordsApplied  uint64
	QueriesExecuted uint64
	QueryErrors     uint64
	Subscribers     int
	State           string
}

// Client owns one replica. Record application and queries are serialized by mu; notifications
// are published on the ingest goroutine after mu is released.
type Client struct {
	id string

	mu     sync.Mutex
	engine *replay.Engine
	fatal  error
	closed bool

	bus      *pubsub.Bus[*Client]
	ingester *stream.Ingester
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	applied     atomic.Uint64
	queries     atomic.Uint64
	queryErrors atomic.Uint64

	logger  logging.Logger
	metrics *metrics.Registry
}

// New loads the replica and returns once the block stream is streaming. ctx bounds
// construction only; the client runs until Shutdown or a fatal error.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.ModuleSource == nil || opts.SnapshotSource == nil {
		return nil, errors.New("module and snapshot sources are required")
	}
	if opts.BlocksURL == "" {
		return nil, errors.New("blocks URL is required")
	}

	id := uuid.NewString()
	logger := logging.OrDefault(opts.Logger).With(logging.ClientID(id))

	handle, err := snapshot.Load(ctx, opts.ModuleSource, opts.SnapshotSource, snapshot.LoadOptions{
		Params:  opts.Params,
		Limits:  opts.Limits,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	engine, err := handle.Take()
	if err != nil {
		return nil, err
	}

	c := &Client{
		id:     id,
		engine: engine,
		bus: pubsub.NewBus[*Client](
			pubsub.WithLogger(logger),
			pubsub.WithMetrics(opts.Metrics),
		),
		done:    make(chan struct{}),
		logger:  logger.With(logging.Component("client")),
		metrics: opts.Metrics,
	}

	transport := opts.Transport
	if transport == nil {
		transport = &stream.WebsocketTransport{}
	}
	cfg := opts.Ingest
	cfg.ClientID = id
	cfg.Slowmo = cfg.Slowmo || opts.Slowmo

	c.ingester, err = stream.NewIngester(opts.BlocksURL, transport, applier{c}, cfg,
		stream.WithLogger(logger),
		stream.WithMetrics(opts.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("ingest config: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx)

	select {
	case <-c.ingester.Ready():
		c.logger.Info("client streaming", logging.Position(c.Position()))
		return c, nil
	case <-c.ingester.Done():
		_ = c.Shutdown()
		if err := c.ingester.Err(); err != nil {
			return nil, err
		}
		return nil, ErrShutdown
	case <-ctx.Done():
		_ = c.Shutdown()
		return nil, ctx.Err()
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	err := c.ingester.Run(ctx)

	c.mu.Lock()
	if err != nil && !c.closed {
		c.fatal = err
	}
	c.engine.Close()
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("client failed", logging.Error(err))
		// bound consumers re-query and observe the failure
		c.bus.Publish(c)
	}
	c.bus.Close()
}

// applier feeds records to the engine under the client lock and publishes after each one
type applier struct {
	c *Client
}

func (a applier) Position() uint64 {
	return a.c.Position()
}

func (a applier) ApplyRecord(ctx context.Context, rec replay.Record) error {
	c := a.c
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	err := c.engine.ApplyRecord(ctx, rec)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.applied.Add(1)
	c.bus.Publish(c)
	return nil
}

// Query executes text against the replica. It never returns a loading result.
func (c *Client) Query(text string) QueryResult {
	return c.QueryContext(context.Background(), text)
}

// QueryContext is Query with a context for tracing
func (c *Client) QueryContext(ctx context.Context, text string) QueryResult {
	ctx, span := tracing.Tracer().Start(ctx, "subchain.query")
	defer span.End()
	span.SetAttributes(tracing.ClientID(c.id), attribute.Int("query.length", len(text)))

	start := time.Now()
	result := c.query(ctx, text)
	status := "success"
	if result.IsError {
		status = "error"
		c.queryErrors.Add(1)
		span.SetStatus(codes.Error, result.Message())
	}
	c.queries.Add(1)
	c.metrics.RecordQuery(status, time.Since(start))
	return result
}

func (c *Client) query(ctx context.Context, text string) (result QueryResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("query panicked", logging.Any("panic", r))
			result = ErrorResult(fmt.Errorf("query panicked: %v", r))
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.fatal != nil:
		return ErrorResult(fmt.Errorf("%w: %v", ErrFailed, c.fatal))
	case c.closed:
		return ErrorResult(ErrShutdown)
	}

	data, err := c.engine.Query(ctx, text)
	if err != nil {
		var qe *replay.QueryError
		if errors.As(err, &qe) {
			return QueryResult{IsError: true, Data: data, Errors: qe.Errors}
		}
		return ErrorResult(err)
	}
	return QueryResult{Data: data}
}

// Subscribe registers fn to run after every applied record, on the ingest goroutine. fn
// must not block; it is never called after Shutdown returns.
func (c *Client) Subscribe(fn func(*Client)) *pubsub.Registration {
	return c.bus.Subscribe(fn)
}

// Shutdown stops ingest and closes the connection and the bus. It is idempotent and safe
// to call from a subscriber. Done reports when teardown has finished.
func (c *Client) Shutdown() error {
	c.once.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.bus.Close()
		c.logger.Info("client shutting down", logging.Position(c.Position()))
	})
	return nil
}

// Done is closed once ingest has stopped and the replica is released
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the fatal error of a failed client
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// State returns the ingest state
func (c *Client) State() stream.State {
	return c.ingester.State()
}

// Position returns the position of the last applied record
func (c *Client) Position() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Position()
}

// ID returns the client identity. Consumers compare clients by pointer; ID is for logs.
func (c *Client) ID() string {
	return c.id
}

// Stats returns the client's counters
func (c *Client) Stats() Stats {
	return Stats{
		Position:        c.Position(),
		RecordsApplied:  c.applied.Load(),
		QueriesExecuted: c.queries.Load(),
		QueryErrors:     c.queryErrors.Load(),
		Subscribers:     c.bus.Len(),
		State:           c.State().String(),
	}
}
