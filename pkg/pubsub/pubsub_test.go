package pubsub

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

func newTestBus() *Bus[int] {
	return NewBus[int](WithLogger(logging.NewNopLogger()))
}

// TestPublishOrder tests that listeners run in registration order
func TestPublishOrder(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var got []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(func(int) { got = append(got, i) })
	}

	if n := bus.Publish(7); n != 3 {
		t.Fatalf("Publish delivered %d, want 3", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery order = %v, want [0 1 2]", got)
		}
	}
}

// TestEventPassedThrough tests that listeners see the published value
func TestEventPassedThrough(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var seen int
	bus.Subscribe(func(v int) { seen = v })
	bus.Publish(42)

	if seen != 42 {
		t.Errorf("listener saw %d, want 42", seen)
	}
}

// TestUnsubscribeDuringPublish tests that a listener removed mid-pass is not called later in it
func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var second *Registration
	secondCalls := 0

	bus.Subscribe(func(int) { second.Unsubscribe() })
	second = bus.Subscribe(func(int) { secondCalls++ })

	bus.Publish(1)
	bus.Publish(2)

	if secondCalls != 0 {
		t.Errorf("unsubscribed listener called %d times", secondCalls)
	}
	if bus.Len() != 1 {
		t.Errorf("Len = %d, want 1", bus.Len())
	}
}

// TestSelfUnsubscribe tests one-shot listeners that remove themselves
func TestSelfUnsubscribe(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	calls := 0
	var reg *Registration
	reg = bus.Subscribe(func(int) {
		calls++
		reg.Unsubscribe()
	})

	bus.Publish(1)
	bus.Publish(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if reg.Active() {
		t.Error("registration still active")
	}
}

// TestUnsubscribeIdempotent tests repeated unsubscribe calls
func TestUnsubscribeIdempotent(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	reg := bus.Subscribe(func(int) {})
	other := bus.Subscribe(func(int) {})

	reg.Unsubscribe()
	reg.Unsubscribe()

	if bus.Len() != 1 {
		t.Errorf("Len = %d, want 1", bus.Len())
	}
	if !other.Active() {
		t.Error("unrelated registration was removed")
	}

	var nilReg *Registration
	nilReg.Unsubscribe()
}

// TestListenerPanicRecovered tests that one panicking listener does not stop the pass
func TestListenerPanicRecovered(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	after := false
	bus.Subscribe(func(int) { panic("boom") })
	bus.Subscribe(func(int) { after = true })

	if n := bus.Publish(1); n != 2 {
		t.Errorf("Publish delivered %d, want 2", n)
	}
	if !after {
		t.Error("listener after the panicking one was not called")
	}
}

// TestClose tests that nothing is delivered after Close
func TestClose(t *testing.T) {
	bus := newTestBus()

	calls := 0
	reg := bus.Subscribe(func(int) { calls++ })

	bus.Close()
	bus.Close()

	if n := bus.Publish(1); n != 0 {
		t.Errorf("Publish after Close delivered %d", n)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if reg.Active() {
		t.Error("registration active after Close")
	}
	if !bus.Closed() {
		t.Error("Closed() = false")
	}

	late := bus.Subscribe(func(int) { calls++ })
	if late.Active() {
		t.Error("subscription after Close should be inactive")
	}
	late.Unsubscribe()
}

// TestCloseDuringPublish tests that Close stops the remainder of an in-progress pass
func TestCloseDuringPublish(t *testing.T) {
	bus := newTestBus()

	secondCalls := 0
	bus.Subscribe(func(int) { bus.Close() })
	bus.Subscribe(func(int) { secondCalls++ })

	bus.Publish(1)
	if secondCalls != 0 {
		t.Errorf("listener called after Close: %d", secondCalls)
	}
}

// TestConcurrentSubscribePublish tests concurrent access under the race detector
func TestConcurrentSubscribePublish(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var total atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				reg := bus.Subscribe(func(int) { total.Add(1) })
				bus.Publish(j)
				reg.Unsubscribe()
			}
		}()
	}
	wg.Wait()

	if bus.Len() != 0 {
		t.Errorf("Len = %d after all unsubscribed", bus.Len())
	}
	if total.Load() == 0 {
		t.Error("no deliveries observed")
	}
}
