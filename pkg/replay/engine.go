// Package replay applies transition records to the replica through a sandboxed module and
// answers queries against the result.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/graphql-go/graphql"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gql "github.com/dd0wney/cluso-subchain/pkg/graphql"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/state"
	"github.com/dd0wney/cluso-subchain/pkg/tracing"
)

// EngineConfig configures an Engine
type EngineConfig struct {
	Module   *Module
	Store    *state.Store // initial replica state, owned by the engine afterwards
	Position uint64       // position of the last record reflected in Store
	Params   map[string]string
	Limits   *gql.LimitConfig
	Logger   logging.Logger
	Metrics  *metrics.Registry
}

// Engine owns the replica state. It has no internal locking: callers must not run
// ApplyRecord and Query concurrently.
type Engine struct {
	module   *Module
	l        *lua.State
	store    *state.Store
	batch    *state.Batch
	position uint64
	params   map[string]string
	schema   graphql.Schema
	limits   *gql.LimitConfig
	failed   error

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewEngine loads the module into a fresh sandbox over cfg.Store
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Module == nil {
		return nil, fmt.Errorf("engine requires a module")
	}
	if cfg.Store == nil {
		cfg.Store = state.New()
	}
	if cfg.Limits == nil {
		cfg.Limits = gql.DefaultLimitConfig()
	}

	e := &Engine{
		module:   cfg.Module,
		store:    cfg.Store,
		position: cfg.Position,
		params:   maps.Clone(cfg.Params),
		limits:   cfg.Limits,
		logger:   logging.OrDefault(cfg.Logger).With(logging.Component("replay")),
		metrics:  cfg.Metrics,
	}
	if e.params == nil {
		e.params = map[string]string{}
	}

	e.l = newSandbox(e.logger)
	installHostAPI(e.l, e, e.params)
	if err := loadChunk(e.l, cfg.Module.name, cfg.Module.source); err != nil {
		return nil, err
	}

	schema, err := gql.NewSchema(e, cfg.Limits)
	if err != nil {
		return nil, fmt.Errorf("build query schema: %w", err)
	}
	e.schema = schema

	return e, nil
}

// ApplyRecord advances the replica by exactly one record. Any failure is a *ReplayError and
// leaves the engine permanently invalidated; the replica keeps the last good state.
func (e *Engine) ApplyRecord(ctx context.Context, rec Record) error {
	expected := e.position + 1
	if e.failed != nil {
		return &ReplayError{Position: rec.Position, Expected: expected, Err: ErrInvalidated}
	}

	_, span := tracing.Tracer().Start(ctx, "replay.apply", trace.WithAttributes(tracing.Position(rec.Position)))
	defer span.End()

	if rec.Position != expected {
		err := e.fail(rec.Position, expected, fmt.Errorf("%w: got %d", ErrOutOfOrder, rec.Position), "out_of_order")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	start := time.Now()
	batch, err := e.run(rec)
	if err != nil {
		err = e.fail(rec.Position, expected, fmt.Errorf("%w: %v", ErrRejected, err), "rejected")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	writes := batch.Len()
	batch.Commit()
	e.position = rec.Position

	e.metrics.RecordApply(rec.Position, time.Since(start))
	e.logger.Debug("record applied",
		logging.Position(rec.Position),
		logging.Int("writes", writes),
		logging.Latency(time.Since(start)),
	)
	return nil
}

// run calls the module's apply inside a batch. The batch is returned uncommitted.
func (e *Engine) run(rec Record) (batch *state.Batch, err error) {
	var block any
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &block); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	batch = e.store.NewBatch()
	e.batch = batch
	top := e.l.Top()
	defer func() {
		e.batch = nil
		e.l.SetTop(top)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in transition module: %v", r)
		}
	}()

	e.l.Global("apply")
	if !e.l.IsFunction(-1) {
		return nil, fmt.Errorf("module no longer defines apply")
	}
	e.l.PushInteger(int(rec.Position))
	pushValue(e.l, block)
	e.l.PushInteger(int(rec.Timestamp))

	if err := e.l.ProtectedCall(3, 0, 0); err != nil {
		return nil, luaError(e.l, err)
	}
	return batch, nil
}

func (e *Engine) fail(position, expected uint64, cause error, reason string) error {
	err := &ReplayError{Position: position, Expected: expected, Err: cause}
	e.failed = err
	e.metrics.RecordReplayError(reason)
	e.logger.Error("replay failed", logging.Position(position), logging.Uint64("expected", expected), logging.Error(cause))
	return err
}

// Query runs a query against the current replica state
func (e *Engine) Query(ctx context.Context, text string) (map[string]any, error) {
	return e.Execute(ctx, gql.Request{Query: text})
}

// Execute runs a full request (variables, operation name). GraphQL errors are returned as
// *QueryError alongside any partial data.
func (e *Engine) Execute(ctx context.Context, req gql.Request) (data map[string]any, err error) {
	if e.failed != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidated, e.failed)
	}

	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = newQueryError(fmt.Errorf("panic during query: %v", r))
		}
	}()

	if req.MaxDepth == 0 {
		req.MaxDepth = e.limits.MaxDepth
	}
	result := gql.Execute(ctx, e.schema, req)
	data, _ = result.Data.(map[string]any)
	if result.HasErrors() {
		return data, &QueryError{Errors: result.Errors}
	}
	return data, nil
}

// Close invalidates the engine
func (e *Engine) Close() {
	if e.failed == nil {
		e.failed = errors.New("engine closed")
	}
}

// Failed returns the error that invalidated the engine, if any
func (e *Engine) Failed() error { return e.failed }

// Store returns the committed replica state. Callers must not mutate it.
func (e *Engine) Store() *state.Store { return e.store }

// Position returns the position of the last applied record
func (e *Engine) Position() uint64 { return e.position }

// Params returns the identity parameters given to the module
func (e *Engine) Params() map[string]string { return e.params }

// Module returns the module backing the engine
func (e *Engine) Module() *Module { return e.module }

func (e *Engine) get(table, key string) (string, bool) {
	if e.batch != nil {
		return e.batch.Get(table, key)
	}
	return e.store.Get(table, key)
}

func (e *Engine) put(table, key, value string) error {
	if e.batch == nil {
		return fmt.Errorf("writes are only allowed inside apply")
	}
	if table == "" {
		return fmt.Errorf("table name must not be empty")
	}
	e.batch.Put(table, key, value)
	return nil
}

func (e *Engine) del(table, key string) error {
	if e.batch == nil {
		return fmt.Errorf("writes are only allowed inside apply")
	}
	e.batch.Delete(table, key)
	return nil
}

func (e *Engine) keys(table string) []string {
	if e.batch != nil {
		return e.batch.Keys(table)
	}
	return e.store.Keys(table)
}
