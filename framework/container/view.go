package container

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ViewOption configures a View.
type ViewOption func(*View)

// WithComparator orders the bindings of a view.
func WithComparator(cmp BindingComparator) ViewOption {
	return func(v *View) { v.comparator = cmp }
}

// OwnBindingsOnly restricts a view to the bindings of its own Context.
func OwnBindingsOnly() ViewOption {
	return func(v *View) { v.ownOnly = true }
}

// View is a live, filtered projection of the bindings visible from one
// Context. It subscribes to the Context and marks its membership stale on
// every relevant event; the next access recomputes it. Each relevant event
// triggers one refresh notification. A binding tagged after it was bound
// becomes relevant through its tag event.
type View struct {
	ctx        *Context
	filter     BindingFilter
	comparator BindingComparator
	ownOnly    bool

	mu        sync.Mutex
	entries   []ownedBinding
	stale     bool
	closed    bool
	listeners []*refreshListener

	unsubscribe func()
}

type refreshListener struct {
	fn func(*View)
}

func newView(c *Context, filter BindingFilter, opts ...ViewOption) *View {
	if filter == nil {
		filter = All
	}
	v := &View{ctx: c, filter: filter, stale: true}
	for _, opt := range opts {
		opt(v)
	}
	v.unsubscribe = c.Subscribe(v)
	return v
}

// Context returns the Context the view is anchored on.
func (v *View) Context() *Context { return v.ctx }

// Filter implements FilteredObserver.
func (v *View) Filter(b *Binding) bool { return v.filter(b) }

// Observe implements Observer.
func (v *View) Observe(_ context.Context, ev Event) error {
	if v.ownOnly && ev.Context != v.ctx {
		return nil
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.stale = true
	listeners := append([]*refreshListener(nil), v.listeners...)
	v.mu.Unlock()

	for _, l := range listeners {
		v.notify(l)
	}
	return nil
}

func (v *View) notify(l *refreshListener) {
	defer func() {
		if r := recover(); r != nil {
			v.ctx.logger.Error("view refresh listener panicked",
				zap.String("context", v.ctx.name),
				zap.Any("panic", r),
			)
			v.ctx.metrics.observerFailed()
		}
	}()
	l.fn(v)
}

// OnRefresh registers fn to run after each relevant change. fn runs on the
// Context's notifier goroutine.
func (v *View) OnRefresh(fn func(*View)) (unsubscribe func()) {
	l := &refreshListener{fn: fn}
	v.mu.Lock()
	v.listeners = append(v.listeners, l)
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, cur := range v.listeners {
			if cur == l {
				v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh discards the cached membership.
func (v *View) Refresh() {
	v.mu.Lock()
	v.stale = true
	v.mu.Unlock()
}

func (v *View) current() []ownedBinding {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stale {
		entries := v.ctx.findWithOwners(v.filter, v.ownOnly)
		if v.comparator != nil {
			sort.SliceStable(entries, func(i, j int) bool {
				return v.comparator(entries[i].binding, entries[j].binding) < 0
			})
		}
		v.entries = entries
		v.stale = false
	}
	return append([]ownedBinding(nil), v.entries...)
}

// Bindings returns the matching bindings.
func (v *View) Bindings() []*Binding {
	entries := v.current()
	out := make([]*Binding, len(entries))
	for i, e := range entries {
		out[i] = e.binding
	}
	return out
}

// Values resolves every matching binding, awaiting promises.
func (v *View) Values(ctx context.Context) ([]any, error) {
	return v.values(func() *Session { return newSession(ctx, false) })
}

// ValuesSync resolves every matching binding on the synchronous path.
func (v *View) ValuesSync() ([]any, error) {
	return v.values(func() *Session { return newSession(context.Background(), true) })
}

func (v *View) values(session func() *Session) ([]any, error) {
	if v.ctx.IsClosed() {
		return nil, ErrContextClosed
	}
	entries := v.current()
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		val, err := e.binding.getValue(v.ctx, e.owner, session())
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

// SingleValue resolves the only matching binding. It returns nil when
// nothing matches and an error when more than one binding matches.
func (v *View) SingleValue(ctx context.Context) (any, error) {
	if v.ctx.IsClosed() {
		return nil, ErrContextClosed
	}
	entries := v.current()
	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		return entries[0].binding.getValue(v.ctx, entries[0].owner, newSession(ctx, false))
	default:
		keys := make([]string, len(entries))
		for i, e := range entries {
			keys[i] = e.binding.Key()
		}
		return nil, fmt.Errorf("container: %d bindings match the view, expected at most one: %v", len(entries), keys)
	}
}

// Close detaches the view from its Context.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.listeners = nil
	v.entries = nil
	v.mu.Unlock()
	v.unsubscribe()
}
