// Package reactive lets many consumers share one replica client: a Provider holds the
// current client, a Query memoizes one consumer's result until the replica changes, and a
// Pager drives cursor navigation on top of a Query.
package reactive

import (
	"context"
	"sync"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/pubsub"
	"github.com/dd0wney/cluso-subchain/pkg/subchain"
)

// Provider is the slot holding the client consumers bind to. A nil client means none is
// available yet, or the last one failed.
type Provider struct {
	mu      sync.RWMutex
	current *subchain.Client
	changes *pubsub.Bus[*subchain.Client]
	logger  logging.Logger
}

// NewProvider creates an empty provider
func NewProvider(logger logging.Logger) *Provider {
	logger = logging.OrDefault(logger).With(logging.Component("provider"))
	return &Provider{
		changes: pubsub.NewBus[*subchain.Client](pubsub.WithLogger(logger)),
		logger:  logger,
	}
}

// Current returns the bound client, or nil
func (p *Provider) Current() *subchain.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Set replaces the client and notifies watchers
func (p *Provider) Set(c *subchain.Client) {
	p.mu.Lock()
	if p.current == c {
		p.mu.Unlock()
		return
	}
	p.current = c
	p.mu.Unlock()

	p.changes.Publish(c)
}

// clear empties the slot if it still holds c
func (p *Provider) clear(c *subchain.Client) {
	p.mu.Lock()
	if p.current != c {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.mu.Unlock()

	p.changes.Publish(nil)
}

// Watch registers fn to run whenever the client changes
func (p *Provider) Watch(fn func(*subchain.Client)) *pubsub.Registration {
	return p.changes.Subscribe(fn)
}

// Create constructs a client in the background and installs it when it is streaming. A
// client that later fails is removed from the slot. teardown cancels construction or shuts
// the client down.
func (p *Provider) Create(ctx context.Context, opts subchain.Options) (teardown func()) {
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu     sync.Mutex
		client *subchain.Client
		done   bool
	)

	go func() {
		c, err := subchain.New(ctx, opts)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Error("client construction failed", logging.Error(err))
			}
			return
		}

		// installed under mu so teardown either sees the client or stops it here
		mu.Lock()
		if done {
			mu.Unlock()
			_ = c.Shutdown()
			return
		}
		client = c
		p.Set(c)
		mu.Unlock()

		<-c.Done()
		if err := c.Err(); err != nil {
			p.logger.Error("client stopped", logging.ClientID(c.ID()), logging.Error(err))
		}
		p.clear(c)
	}()

	return func() {
		mu.Lock()
		done = true
		c := client
		mu.Unlock()

		cancel()
		if c != nil {
			_ = c.Shutdown()
			p.clear(c)
		}
	}
}
