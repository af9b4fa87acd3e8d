// Package pubsub provides the synchronous notification bus used to signal replica changes.
package pubsub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/metrics"
)

// Bus fans an event out to registered listeners, synchronously and in registration order.
type Bus[E any] struct {
	entries map[uint64]*Registration
	order   []uint64
	nextID  uint64
	mu      sync.RWMutex
	closed  atomic.Bool

	logger  logging.Logger
	metrics *metrics.Registry
}

// Registration is a listener's handle on the bus
type Registration struct {
	id     uint64
	active atomic.Bool
	once   sync.Once
	remove func(uint64)
	call   func(any)
}

// Option configures a Bus
type Option func(*options)

type options struct {
	logger  logging.Logger
	metrics *metrics.Registry
}

// WithLogger sets the logger used to report recovered listener panics
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records publishes and listener counts
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// NewBus creates an empty bus
func NewBus[E any](opts ...Option) *Bus[E] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[E]{
		entries: make(map[uint64]*Registration),
		logger:  logging.OrDefault(o.logger).With(logging.Component("pubsub")),
		metrics: o.metrics,
	}
}

// Subscribe registers fn. After Close the returned registration is already inactive.
func (b *Bus[E]) Subscribe(fn func(E)) *Registration {
	reg := &Registration{
		remove: b.remove,
		call:   func(v any) { fn(v.(E)) },
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return reg
	}

	b.nextID++
	reg.id = b.nextID
	reg.active.Store(true)
	b.entries[reg.id] = reg
	b.order = append(b.order, reg.id)
	b.metrics.SetListeners(len(b.entries))

	return reg
}

// Publish delivers event to every active listener and returns the number of deliveries.
// Listeners removed during the pass are skipped. A panicking listener is logged and does
// not stop delivery to the rest.
func (b *Bus[E]) Publish(event E) int {
	if b.closed.Load() {
		return 0
	}

	// Snapshot the ordered listeners so callbacks can (un)subscribe freely
	b.mu.RLock()
	regs := make([]*Registration, 0, len(b.order))
	for _, id := range b.order {
		regs = append(regs, b.entries[id])
	}
	b.mu.RUnlock()

	delivered := 0
	for _, reg := range regs {
		if b.closed.Load() {
			break
		}
		if !reg.active.Load() {
			continue
		}
		if err := b.deliver(reg, event); err != nil {
			b.metrics.RecordListenerPanic()
			b.logger.Error("listener panicked", logging.Error(err), logging.Uint64("listener", reg.id))
		}
		delivered++
	}

	b.metrics.RecordPublish(delivered)
	return delivered
}

func (b *Bus[E]) deliver(reg *Registration, event E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in listener: %v", r)
		}
	}()
	reg.call(event)
	return nil
}

func (b *Bus[E]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[id]; !ok {
		return
	}
	delete(b.entries, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
	b.metrics.SetListeners(len(b.entries))
}

// Len returns the number of registered listeners
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close deactivates every registration. Publish is a no-op afterwards. Idempotent.
func (b *Bus[E]) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for id, reg := range b.entries {
		reg.active.Store(false)
		delete(b.entries, id)
	}
	b.order = nil
	b.mu.Unlock()

	b.metrics.SetListeners(0)
}

// Closed reports whether Close has been called
func (b *Bus[E]) Closed() bool {
	return b.closed.Load()
}

// Unsubscribe removes the listener. Safe to call more than once and from inside a delivery.
func (r *Registration) Unsubscribe() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.active.Store(false)
		if r.id != 0 {
			r.remove(r.id)
		}
	})
}

// Active reports whether the listener will receive further events
func (r *Registration) Active() bool {
	return r != nil && r.active.Load()
}
