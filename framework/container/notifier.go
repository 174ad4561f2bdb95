package container

import (
	"context"
	"fmt"
	"sync"
)

// EventType names a binding change.
type EventType string

const (
	EventBind   EventType = "bind"
	EventUnbind EventType = "unbind"
	// EventTag reports tags added to a binding already registered in Context.
	EventTag EventType = "tag"
)

// Event describes one binding change. Context is the Context whose registry
// changed; observers of descendant Contexts receive the event unchanged.
type Event struct {
	Type    EventType
	Binding *Binding
	Context *Context

	state    *Binding // key and tags when the event was emitted
	previous *Binding // EventTag: key and tags before the change
}

// passes applies filter to the binding as it was when ev was emitted. A tag
// event passes only when the change made the binding match.
func (ev Event) passes(filter func(*Binding) bool) bool {
	state := ev.state
	if state == nil {
		state = ev.Binding
	}
	if !filter(state) {
		return false
	}
	if ev.Type == EventTag && ev.previous != nil {
		return !filter(ev.previous)
	}
	return true
}

// Observer receives binding change events.
type Observer interface {
	Observe(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, ev Event) error { return f(ctx, ev) }

// FilteredObserver only receives events whose binding passes Filter. The
// filter runs on delivery but sees the key and tags the binding had when the
// event was emitted. Tag events are delivered only when the new tags make
// the binding pass.
type FilteredObserver interface {
	Observer
	Filter(b *Binding) bool
}

type subscription struct {
	observer Observer
}

// notifier is the per-Context event queue. A single goroutine, started on
// the first subscription, delivers queued events in FIFO order.
type notifier struct {
	owner *Context

	mu        sync.Mutex
	cond      *sync.Cond
	observers []*subscription
	queue     []Event
	busy      bool
	idle      chan struct{} // closed while nothing is queued or delivering
	running   bool
	stopped   bool
	done      chan struct{}
}

func newNotifier(owner *Context) *notifier {
	n := &notifier{
		owner: owner,
		idle:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	close(n.idle)
	return n
}

func (n *notifier) subscribe(o Observer) (unsubscribe func(), ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return func() {}, false
	}
	sub := &subscription{observer: o}
	n.observers = append(n.observers, sub)
	if !n.running {
		n.running = true
		go n.loop()
	}
	var once sync.Once
	return func() {
		once.Do(func() { n.remove(sub) })
	}, true
}

func (n *notifier) remove(sub *subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.observers {
		if s == sub {
			n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
			return
		}
	}
}

func (n *notifier) hasObservers() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.observers) > 0
}

// enqueue appends ev without blocking. Events are dropped while nobody
// observes the Context.
func (n *notifier) enqueue(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped || len(n.observers) == 0 {
		return
	}
	n.queue = append(n.queue, ev)
	if !n.busy {
		n.busy = true
		n.idle = make(chan struct{})
	}
	n.owner.metrics.eventQueued()
	n.cond.Signal()
}

func (n *notifier) loop() {
	n.mu.Lock()
	for {
		for len(n.queue) == 0 && !n.stopped {
			n.setIdle()
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.setIdle()
			n.mu.Unlock()
			close(n.done)
			return
		}

		ev := n.queue[0]
		n.queue[0] = Event{}
		n.queue = n.queue[1:]
		subs := append([]*subscription(nil), n.observers...)
		n.mu.Unlock()

		n.deliver(ev, subs)
		n.owner.metrics.eventDelivered()

		n.mu.Lock()
	}
}

func (n *notifier) setIdle() {
	if n.busy {
		n.busy = false
		close(n.idle)
	}
}

func (n *notifier) deliver(ev Event, subs []*subscription) {
	for _, s := range subs {
		if err := observe(s.observer, ev); err != nil {
			n.owner.observerFailed(ev, err)
		}
	}
}

// observe runs one observer, turning a panic into an error.
func observe(o Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	if f, ok := o.(FilteredObserver); ok && !ev.passes(f.Filter) {
		return nil
	}
	return o.Observe(context.Background(), ev)
}

// waitIdle blocks until the queue is empty and no event is being delivered.
func (n *notifier) waitIdle(ctx context.Context) error {
	n.mu.Lock()
	idle := n.idle
	n.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close delivers what is queued, then stops the drain goroutine. It must
// not be called from an observer of the same Context.
func (n *notifier) close() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	running := n.running
	n.cond.Broadcast()
	n.mu.Unlock()
	if running {
		<-n.done
	}
	n.mu.Lock()
	n.observers = nil
	n.mu.Unlock()
}
