package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/replay"
)

// FeedOptions configures a Feed
type FeedOptions struct {
	ServerID          string        // generated when empty
	HeartbeatInterval time.Duration // 0 disables heartbeats
	Logger            logging.Logger
	Metrics           *metrics.Registry
}

// Feed is the serving side of a record stream: an in-memory log of records that every
// connected client streams from its requested position. Positions are not checked on
// Append, so a feed can also serve a broken log.
type Feed struct {
	id        string
	heartbeat time.Duration

	mu         sync.Mutex
	records    []replay.Record
	changed    chan struct{} // closed and replaced on every change
	generation uint64        // bumped by Drop
	failure    *ErrorMessage
	closed     bool

	sessions atomic.Int64

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewFeed creates an empty feed
func NewFeed(opts FeedOptions) *Feed {
	id := opts.ServerID
	if id == "" {
		id = uuid.NewString()
	}
	return &Feed{
		id:        id,
		heartbeat: opts.HeartbeatInterval,
		changed:   make(chan struct{}),
		logger:    logging.OrDefault(opts.Logger).With(logging.Component("feed"), logging.String("server_id", id)),
		metrics:   opts.Metrics,
	}
}

// ID returns the server identity sent in handshakes
func (f *Feed) ID() string {
	return f.id
}

// broadcast wakes every session. Caller holds f.mu.
func (f *Feed) broadcast() {
	close(f.changed)
	f.changed = make(chan struct{})
}

// Append adds records to the log and wakes streaming sessions
func (f *Feed) Append(recs ...replay.Record) error {
	if len(recs) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.records = append(f.records, recs...)
	f.metrics.SetFeedHead(recs[len(recs)-1].Position)
	f.broadcast()
	return nil
}

// Head returns the position of the newest record, 0 when empty
func (f *Feed) Head() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.records) == 0 {
		return 0
	}
	return f.records[len(f.records)-1].Position
}

// Len returns the number of records held
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// Sessions returns the number of clients currently streaming
func (f *Feed) Sessions() int {
	return int(f.sessions.Load())
}

// Fail sends a fatal error to every client and rejects future handshakes
func (f *Feed) Fail(code, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failure = &ErrorMessage{Code: code, Message: message, Fatal: true}
	f.broadcast()
}

// Drop severs every current session. Clients see a lost connection.
func (f *Feed) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	f.broadcast()
}

// Close ends every session with a non-fatal error; clients keep retrying elsewhere
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.broadcast()
}

// Serve runs the feed protocol on one connection and closes it on return. A handshake that
// arrives mid-session restarts streaming from the newly requested position.
func (f *Feed) Serve(conn Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	incoming := make(chan []byte)
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			frame, err := conn.Recv()
			if err != nil {
				return
			}
			select {
			case incoming <- frame:
			case <-done:
				return
			}
		}
	}()

	var frame []byte
	select {
	case frame = <-incoming:
	case <-gone:
		return ErrClosed
	}

	for {
		next, err := f.session(conn, frame, incoming, gone)
		if err != nil || next == nil {
			return err
		}
		frame = next
	}
}

// session answers one handshake and streams. It returns the frame of a new handshake when
// the peer restarts.
func (f *Feed) session(conn Conn, frame []byte, incoming <-chan []byte, gone <-chan struct{}) ([]byte, error) {
	msg, err := decodeMessage(frame)
	if err != nil || msg.Type != MsgHandshake {
		_ = f.sendError(conn, ErrorMessage{Code: CodeBadRequest, Message: "expected handshake", Fatal: true})
		return nil, errors.New("peer did not open with a handshake")
	}
	var req HandshakeRequest
	if err := msg.Decode(&req); err != nil {
		_ = f.sendError(conn, ErrorMessage{Code: CodeBadRequest, Message: "malformed handshake", Fatal: true})
		return nil, fmt.Errorf("decode handshake: %w", err)
	}

	resp, next, gen := f.admit(req)
	if err := f.send(conn, MsgHandshake, resp); err != nil {
		return nil, err
	}
	if !resp.Accepted {
		f.logger.Warn("handshake rejected",
			logging.ClientID(req.ClientID),
			logging.String("reason", resp.ErrorMessage))
		return nil, nil
	}

	f.sessions.Add(1)
	f.metrics.FeedConnectionOpened()
	defer func() {
		f.sessions.Add(-1)
		f.metrics.FeedConnectionClosed()
	}()
	f.logger.Info("client streaming",
		logging.ClientID(req.ClientID),
		logging.Uint64("from_position", req.FromPosition))

	var tick <-chan time.Time
	if f.heartbeat > 0 {
		ticker := time.NewTicker(f.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}
	var seq uint64

	for {
		f.mu.Lock()
		switch {
		case f.generation != gen:
			f.mu.Unlock()
			return nil, nil
		case f.failure != nil:
			em := *f.failure
			f.mu.Unlock()
			return nil, f.sendError(conn, em)
		case f.closed:
			f.mu.Unlock()
			return nil, f.sendError(conn, ErrorMessage{Code: CodeTerminated, Message: "feed closed"})
		case next < len(f.records):
			rec := f.records[next]
			next++
			if rec.Position < req.FromPosition {
				// appended after the handshake but still behind the peer
				f.mu.Unlock()
				continue
			}
			f.mu.Unlock()
			if err := f.send(conn, MsgRecord, RecordMessage{Record: rec}); err != nil {
				return nil, err
			}
			continue
		}
		wait := f.changed
		f.mu.Unlock()

		select {
		case <-wait:
		case <-gone:
			return nil, nil
		case frame := <-incoming:
			if m, err := decodeMessage(frame); err == nil && m.Type == MsgHandshake {
				return frame, nil
			}
		case <-tick:
			seq++
			if err := f.send(conn, MsgHeartbeat, HeartbeatMessage{From: f.id, Sequence: seq, HeadPosition: f.Head()}); err != nil {
				return nil, err
			}
		}
	}
}

// admit decides a handshake and returns the reply, the index to stream from and the
// current generation
func (f *Feed) admit(req HandshakeRequest) (HandshakeResponse, int, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := HandshakeResponse{ServerID: f.id, Version: ProtocolVersion}
	if len(f.records) > 0 {
		resp.HeadPosition = f.records[len(f.records)-1].Position
	}

	switch {
	case req.Version != ProtocolVersion:
		resp.Fatal = true
		resp.ErrorMessage = fmt.Sprintf("unsupported protocol version %q", req.Version)
	case f.failure != nil:
		resp.Fatal = true
		resp.ErrorMessage = f.failure.Message
	case f.closed:
		resp.ErrorMessage = "feed closed"
	case req.FromPosition == 0:
		resp.Fatal = true
		resp.ErrorMessage = "from_position must be at least 1"
	case len(f.records) > 0 && req.FromPosition < f.records[0].Position:
		resp.Fatal = true
		resp.ErrorMessage = fmt.Sprintf("history before position %d is unavailable", f.records[0].Position)
	default:
		resp.Accepted = true
	}

	next := len(f.records)
	for i, rec := range f.records {
		if rec.Position >= req.FromPosition {
			next = i
			break
		}
	}
	return resp, next, f.generation
}

func (f *Feed) send(conn Conn, msgType MessageType, data any) error {
	frame, err := encodeMessage(msgType, data)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

func (f *Feed) sendError(conn Conn, em ErrorMessage) error {
	return f.send(conn, MsgError, em)
}
