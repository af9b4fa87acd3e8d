// Package server exposes a replica to HTTP consumers: one-shot GraphQL queries, websocket
// subscriptions that push a fresh result on every replica change, health and metrics.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-subchain/pkg/health"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
	"github.com/dd0wney/cluso-subchain/pkg/reactive"
)

const (
	// maxBodyBytes caps a /graphql request body
	maxBodyBytes = 1 << 20

	writeWait             = 10 * time.Second
	systemMetricsInterval = 10 * time.Second
)

// Server serves the HTTP consumer surface for whatever client provider holds
type Server struct {
	provider *reactive.Provider
	metrics  *metrics.Registry
	logger   logging.Logger
	health   *health.Checker
	upgrader websocket.Upgrader

	startTime time.Time
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a server. registry may be nil, in which case /metrics is not served.
func New(provider *reactive.Provider, registry *metrics.Registry, logger logging.Logger) *Server {
	s := &Server{
		provider: provider,
		metrics:  registry,
		logger:   logging.OrDefault(logger).With(logging.Component("server")),
		health:   health.NewChecker(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		startTime: time.Now(),
		closing:   make(chan struct{}),
	}
	s.health.Register("replica", health.ReplicaCheck(s.replicaStatus), true)
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /graphql", s.handleGraphQL)
	mux.HandleFunc("POST /graphql", s.handleGraphQL)
	mux.HandleFunc("GET /subscribe", s.handleSubscribe)
	mux.HandleFunc("GET /health", s.health.Handler())
	mux.HandleFunc("GET /ready", s.health.ReadinessHandler())
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.recoveryMiddleware(s.metricsMiddleware(mux))
}

// Run serves on addr until ctx ends
func (s *Server) Run(ctx context.Context, addr string) error {
	gs := NewGracefulServer(addr, s.Handler(), s.logger)
	gs.RegisterOnShutdown(s.Close)

	go s.updateMetricsPeriodically(ctx)
	return gs.Run(ctx)
}

// Close ends every open subscription
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) replicaStatus() health.ReplicaStatus {
	c := s.provider.Current()
	if c == nil {
		return health.ReplicaStatus{}
	}
	return health.ReplicaStatus{
		Bound:    true,
		ClientID: c.ID(),
		State:    c.State().String(),
		Position: c.Position(),
		Err:      c.Err(),
	}
}

func (s *Server) updateMetricsPeriodically(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		s.metrics.UpdateSystemMetrics(s.startTime)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
