package stream

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

type wsConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (c *wsConn) Send(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) Recv() ([]byte, error) {
	_, p, err := c.ws.ReadMessage()
	return p, err
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// WebsocketTransport dials feeds at ws:// or wss:// URLs
type WebsocketTransport struct {
	Dialer *websocket.Dialer // websocket.DefaultDialer when nil
	Header http.Header
}

func (t *WebsocketTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, addr, t.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebsocketHandler serves feed to websocket clients
func WebsocketHandler(feed *Feed) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			feed.logger.Warn("websocket upgrade failed", logging.Error(err), logging.Addr(r.RemoteAddr))
			return
		}
		if err := feed.Serve(&wsConn{ws: ws}); err != nil {
			feed.logger.Debug("session ended", logging.Error(err), logging.Addr(r.RemoteAddr))
		}
	})
}
