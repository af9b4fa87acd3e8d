package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
)

// Applier receives records in order. *replay.Engine satisfies it.
type Applier interface {
	Position() uint64
	ApplyRecord(ctx context.Context, rec replay.Record) error
}

// Option configures an Ingester
type Option func(*Ingester)

// WithLogger sets the ingester's logger
func WithLogger(logger logging.Logger) Option {
	return func(in *Ingester) { in.logger = logger }
}

// WithMetrics sets the registry that receives ingest metrics
func WithMetrics(m *metrics.Registry) Option {
	return func(in *Ingester) { in.metrics = m }
}

// WithStateHook registers fn to run on every state change, on the ingest goroutine
func WithStateHook(fn func(from, to State)) Option {
	return func(in *Ingester) { in.onState = fn }
}

// Ingester keeps a connection to a feed open and hands each record to an Applier exactly
// once, in order. Connection loss is retried with exponential backoff; anything else is
// terminal.
type Ingester struct {
	addr      string
	transport Transport
	applier   Applier
	cfg       IngestConfig

	mu      sync.Mutex
	state   State
	err     error
	onState func(from, to State)

	started   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewIngester creates an ingester for the feed at addr
func NewIngester(addr string, transport Transport, applier Applier, cfg IngestConfig, opts ...Option) (*Ingester, error) {
	if transport == nil {
		return nil, errors.New("ingester requires a transport")
	}
	if applier == nil {
		return nil, errors.New("ingester requires an applier")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	in := &Ingester{
		addr:      addr,
		transport: transport,
		applier:   applier,
		cfg:       cfg,
		state:     StateConnecting,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.logger = logging.OrDefault(in.logger).With(logging.Component("ingest"), logging.Addr(addr))
	in.metrics.SetIngestState(StateConnecting.String())
	return in, nil
}

// Run drives the state machine until ctx is cancelled (returns nil, state Shutdown) or a
// fatal error occurs (returns it, state Failed). Run may be called once.
func (in *Ingester) Run(ctx context.Context) error {
	if !in.started.CompareAndSwap(false, true) {
		return errors.New("ingester already running")
	}
	defer close(in.done)

	b := in.cfg.newBackOff()
	failures := 0

	for {
		if ctx.Err() != nil {
			return in.shutdown()
		}
		in.setState(StateConnecting)

		conn, err := in.connect(ctx)
		if err == nil {
			failures = 0
			b.Reset()
			in.setState(StateStreaming)
			in.readyOnce.Do(func() { close(in.ready) })

			err = in.stream(ctx, conn)
			_ = conn.Close()
		}

		if ctx.Err() != nil {
			return in.shutdown()
		}

		var se *StreamError
		if !errors.As(err, &se) || se.Permanent {
			return in.fail(err)
		}

		failures++
		in.metrics.RecordStreamError(false)
		if failures > in.cfg.MaxReconnectAttempts {
			return in.fail(&StreamError{
				Permanent: true,
				Err:       fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, failures, err),
			})
		}

		in.setState(StateReconnecting)
		delay := b.NextBackOff()
		in.metrics.RecordReconnect()
		in.logger.Warn("stream interrupted, reconnecting",
			logging.Error(err),
			logging.Attempt(failures),
			logging.Duration("delay", delay))

		if !sleep(ctx, delay) {
			return in.shutdown()
		}
	}
}

// connect dials and completes the handshake
func (in *Ingester) connect(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, in.cfg.ConnectTimeout)
	defer cancel()

	conn, err := in.transport.Dial(dialCtx, in.addr)
	if err != nil {
		return nil, transient("dial %s: %w", in.addr, err)
	}
	if err := in.handshake(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (in *Ingester) handshake(ctx context.Context, conn Conn) error {
	from := in.applier.Position() + 1

	frame, err := encodeMessage(MsgHandshake, HandshakeRequest{
		ClientID:     in.cfg.ClientID,
		FromPosition: from,
		Version:      ProtocolVersion,
		Capabilities: []string{"records", "heartbeat"},
	})
	if err != nil {
		return permanent("encode handshake: %w", err)
	}
	if err := conn.Send(frame); err != nil {
		return transient("send handshake: %w", err)
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(in.cfg.HandshakeTimeout, func() {
		timedOut.Store(true)
		_ = conn.Close()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		frame, err := conn.Recv()
		if err != nil {
			if timedOut.Load() {
				return transient("no handshake reply within %v", in.cfg.HandshakeTimeout)
			}
			return transient("receive handshake: %w", err)
		}

		msg, err := decodeMessage(frame)
		if err != nil {
			return permanent("malformed handshake reply: %w", err)
		}

		switch msg.Type {
		case MsgHandshake:
			var resp HandshakeResponse
			if err := msg.Decode(&resp); err != nil {
				return permanent("malformed handshake reply: %w", err)
			}
			if !resp.Accepted {
				if resp.Fatal {
					return permanent("handshake rejected: %s", resp.ErrorMessage)
				}
				return transient("handshake rejected: %s", resp.ErrorMessage)
			}
			if resp.Version != ProtocolVersion {
				return permanent("feed speaks protocol %q, want %q", resp.Version, ProtocolVersion)
			}
			in.logger.Info("connected to feed",
				logging.String("server_id", resp.ServerID),
				logging.Uint64("head_position", resp.HeadPosition),
				logging.Uint64("from_position", from))
			return nil

		case MsgError:
			return errorFrom(msg)

		case MsgRecord, MsgHeartbeat:
			// left over from an earlier session on transports whose socket outlives the peer

		default:
			return permanent("unexpected %s frame during handshake", msg.Type)
		}
	}
}

// stream receives until the connection fails or a record is rejected
func (in *Ingester) stream(ctx context.Context, conn Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var idle *time.Timer
	if in.cfg.IdleTimeout > 0 {
		idle = time.AfterFunc(in.cfg.IdleTimeout, func() { _ = conn.Close() })
		defer idle.Stop()
	}

	for {
		frame, err := conn.Recv()
		if err != nil {
			return transient("connection lost: %w", err)
		}

		msg, err := decodeMessage(frame)
		if err != nil {
			return permanent("malformed frame: %w", err)
		}

		switch msg.Type {
		case MsgHeartbeat:
			in.metrics.RecordHeartbeat()

		case MsgRecord:
			var rm RecordMessage
			if err := msg.Decode(&rm); err != nil {
				return permanent("malformed record frame: %w", err)
			}
			in.metrics.RecordReceived(len(rm.Record.Payload))

			if idle != nil {
				idle.Stop()
			}
			if err := in.deliver(ctx, rm.Record); err != nil {
				return err
			}

		case MsgError:
			return errorFrom(msg)

		default:
			return permanent("unexpected %s frame", msg.Type)
		}

		if idle != nil {
			idle.Reset(in.cfg.IdleTimeout)
		}
	}
}

func (in *Ingester) deliver(ctx context.Context, rec replay.Record) error {
	in.setState(StateApplying)

	if in.cfg.Slowmo && !sleep(ctx, in.cfg.SlowmoDelay) {
		return ctx.Err()
	}
	if err := in.applier.ApplyRecord(ctx, rec); err != nil {
		return err
	}

	in.setState(StateStreaming)
	return nil
}

func errorFrom(msg *Message) error {
	var em ErrorMessage
	if err := msg.Decode(&em); err != nil {
		return permanent("malformed error frame: %w", err)
	}
	if em.Fatal {
		return permanent("feed error %s: %s", em.Code, em.Message)
	}
	return transient("feed error %s: %s", em.Code, em.Message)
}

func (in *Ingester) fail(err error) error {
	in.mu.Lock()
	in.err = err
	in.mu.Unlock()

	if IsPermanent(err) {
		in.metrics.RecordStreamError(true)
	}
	in.logger.Error("ingest failed", logging.Error(err), logging.Position(in.applier.Position()))
	in.setState(StateFailed)
	return err
}

func (in *Ingester) shutdown() error {
	in.logger.Info("ingest stopped", logging.Position(in.applier.Position()))
	in.setState(StateShutdown)
	return nil
}

func (in *Ingester) setState(to State) {
	in.mu.Lock()
	from := in.state
	if from == to || from.Terminal() {
		in.mu.Unlock()
		return
	}
	in.state = to
	hook := in.onState
	in.mu.Unlock()

	in.metrics.SetIngestState(to.String())
	in.logger.Debug("ingest state changed", logging.String("from", from.String()), logging.State(to.String()))
	if hook != nil {
		hook(from, to)
	}
}

// State returns the current state
func (in *Ingester) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Err returns the fatal error once the ingester has failed
func (in *Ingester) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Ready is closed the first time the ingester reaches Streaming
func (in *Ingester) Ready() <-chan struct{} {
	return in.ready
}

// Done is closed when Run returns
func (in *Ingester) Done() <-chan struct{} {
	return in.done
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
