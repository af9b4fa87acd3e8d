package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/reactive"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// subscribeRequest is a client frame on /subscribe. Each frame replaces the subscribed query.
type subscribeRequest struct {
	Query string `json:"query"`
}

type incomingFrame struct {
	query string
	err   error
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	s.metrics.AddSubscribeSessions(1)
	defer s.metrics.AddSubscribeSessions(-1)
	s.serveSubscription(r.Context(), conn)
}

// serveSubscription binds a reactive query to conn and pushes its result whenever it may
// have changed. It returns when the peer goes away or the server closes.
func (s *Server) serveSubscription(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	incoming := make(chan incomingFrame)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var frame incomingFrame
			var req subscribeRequest
			switch {
			case json.Unmarshal(data, &req) != nil:
				frame.err = errors.New("frame is not a subscribe request")
			case req.Query == "":
				frame.err = errors.New("empty query")
			default:
				frame.query = req.Query
			}

			select {
			case incoming <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	dirty := make(chan struct{}, 1)
	markDirty := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}

	var query *reactive.Query
	defer func() {
		if query != nil {
			query.Detach()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return

		case frame := <-incoming:
			if frame.err != nil {
				if err := s.push(conn, subchain.ErrorResult(frame.err)); err != nil {
					return
				}
				continue
			}
			if query == nil {
				query = reactive.NewQuery(s.provider, frame.query,
					reactive.WithQueryMetrics(s.metrics),
					reactive.WithQueryLogger(s.logger))
				query.OnChange(markDirty)
			} else {
				query.SetText(frame.query)
			}
			markDirty()

		case <-dirty:
			if err := s.push(conn, query.Result()); err != nil {
				s.logger.Debug("subscription write failed", logging.Error(err))
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, res subchain.QueryResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
