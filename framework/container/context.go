package container

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/km-arc/go-context/framework/container"

// InterceptorProxyKey is consulted by AsProxy resolutions. When it is bound
// to an Extender, resolved values are passed through it.
const InterceptorProxyKey = "container.interceptorProxy"

// Extender wraps an already resolved value.
type Extender func(value any, rc *ResolutionContext) (any, error)

// ChildPolicy decides what happens to child Contexts when their parent is
// closed.
type ChildPolicy int

const (
	// OrphanChildren detaches children; they keep their own bindings and
	// lose ancestor fallback.
	OrphanChildren ChildPolicy = iota
	// CloseChildren closes children recursively.
	CloseChildren
)

// ParseChildPolicy parses "orphan" or "close".
func ParseChildPolicy(s string) (ChildPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "orphan":
		return OrphanChildren, nil
	case "close":
		return CloseChildren, nil
	}
	return OrphanChildren, fmt.Errorf("container: unknown child policy %q", s)
}

func (p ChildPolicy) String() string {
	if p == CloseChildren {
		return "close"
	}
	return "orphan"
}

// ── Context ───────────────────────────────────────────────────────────────────

// Context is a node in a tree of registries. It owns bindings and resolves
// keys against itself first, then its ancestors.
//
//	root := container.NewContext(nil, "app")
//	root.Bind("currentUser").To("John")
//
//	req := container.NewContext(root, "request")
//	user, err := req.Get(ctx, "currentUser") // "John"
type Context struct {
	name string

	mu       sync.RWMutex
	parent   *Context
	bindings map[string]*entry
	seq      uint64
	closed   bool
	children map[*Context]struct{}
	cached   map[*Binding]struct{} // bindings holding context-scoped values for this Context

	logger      *zap.Logger
	metrics     *Metrics
	tracer      trace.Tracer
	onError     func(error)
	childPolicy ChildPolicy

	notifier *notifier

	evMu      sync.Mutex
	listeners []*Context // descendants that receive this Context's events
	listening bool
}

type entry struct {
	binding *Binding
	seq     uint64
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithLogger sets the logger. Defaults to the parent's, or a no-op logger.
func WithLogger(l *zap.Logger) ContextOption {
	return func(c *Context) { c.logger = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) ContextOption {
	return func(c *Context) { c.metrics = m }
}

// WithTracer sets the tracer used for Get spans.
func WithTracer(t trace.Tracer) ContextOption {
	return func(c *Context) { c.tracer = t }
}

// WithErrorHandler receives observer failures.
func WithErrorHandler(fn func(error)) ContextOption {
	return func(c *Context) { c.onError = fn }
}

// WithChildPolicy sets what Close does with child Contexts.
func WithChildPolicy(p ChildPolicy) ContextOption {
	return func(c *Context) { c.childPolicy = p }
}

// NewContext creates a Context under parent (nil for a root). An empty
// name is replaced by a generated one. Children inherit the parent's
// logger, metrics, tracer, error handler and child policy unless
// overridden. NewContext panics when parent is closed.
func NewContext(parent *Context, name string, opts ...ContextOption) *Context {
	if name == "" {
		name = "context-" + uuid.NewString()
	}
	c := &Context{
		name:     name,
		parent:   parent,
		bindings: make(map[string]*entry),
		children: make(map[*Context]struct{}),
	}
	if parent != nil {
		c.logger = parent.logger
		c.metrics = parent.metrics
		c.tracer = parent.tracer
		c.onError = parent.onError
		c.childPolicy = parent.childPolicy
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(instrumentationName)
	}
	c.notifier = newNotifier(c)

	if parent != nil {
		parent.mu.Lock()
		if parent.closed {
			parent.mu.Unlock()
			panic(fmt.Errorf("container: cannot create %q under %q: %w", name, parent.name, ErrContextClosed))
		}
		parent.children[c] = struct{}{}
		parent.mu.Unlock()
	}

	c.metrics.contextOpened()
	c.logger.Debug("context created",
		zap.String("context", c.name),
		zap.String("parent", parent.Name()),
	)
	return c
}

// Name returns the human-readable name. Safe on a nil Context.
func (c *Context) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Parent returns the parent Context, nil for roots and orphans.
func (c *Context) Parent() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parent
}

// Logger returns the Context's logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// IsClosed reports whether Close was called.
func (c *Context) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// ── Registry ──────────────────────────────────────────────────────────────────

// Bind creates a binding for key and adds it to the Context, replacing an
// unlocked binding of the same key. It panics when the key is invalid, the
// existing binding is locked or the Context is closed.
//
//	ctx.Bind("greeting").To("hello")
func (c *Context) Bind(key string) *Binding {
	b := NewBinding(key)
	if err := c.Add(b); err != nil {
		panic(err)
	}
	return b
}

// Add registers b. An unlocked binding with the same key is replaced, and
// observers see an unbind of the old binding followed by a bind of the new.
func (c *Context) Add(b *Binding) error {
	key := b.Key()
	if err := validateKey(key); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}

	old, exists := c.bindings[key]
	if exists {
		if old.binding == b {
			return nil
		}
		if old.binding.IsLocked() {
			return &BindingError{Key: key, Reason: "cannot rebind a locked binding"}
		}
		c.bindings[key] = &entry{binding: b, seq: old.seq}
		c.release(old.binding)
		c.emit(Event{Type: EventUnbind, Binding: old.binding, Context: c})
	} else {
		c.seq++
		c.bindings[key] = &entry{binding: b, seq: c.seq}
	}
	b.attach(c)
	c.emit(Event{Type: EventBind, Binding: b, Context: c})
	return nil
}

// Unbind removes the binding of key from this Context. It reports whether a
// binding was removed; a locked binding is refused.
func (c *Context) Unbind(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrContextClosed
	}
	e, ok := c.bindings[key]
	if !ok {
		return false, nil
	}
	if e.binding.IsLocked() {
		return false, &BindingError{Key: key, Reason: "cannot unbind a locked binding"}
	}
	delete(c.bindings, key)
	c.release(e.binding)
	c.emit(Event{Type: EventUnbind, Binding: e.binding, Context: c})
	return true, nil
}

// release drops every value cached by a binding leaving c. Caller holds c.mu.
func (c *Context) release(b *Binding) {
	delete(c.cached, b)
	b.detach(c)
	b.clearCache()
}

// tagged emits EventTag when b is still registered in c. prev holds the
// key and tags b had before the change.
func (c *Context) tagged(b, prev *Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if e, ok := c.bindings[b.Key()]; !ok || e.binding != b {
		return
	}
	c.emit(Event{Type: EventTag, Binding: b, Context: c, previous: prev})
}

func validateKey(key string) error {
	if key == "" {
		return &BindingError{Key: key, Reason: "binding key must not be empty"}
	}
	if strings.Contains(key, PropertySeparator) {
		return &BindingError{Key: key, Reason: fmt.Sprintf("binding key must not contain %q", PropertySeparator)}
	}
	return nil
}

// Contains reports whether key is bound in this Context itself.
func (c *Context) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bindings[key]
	return ok
}

// IsBound reports whether key is bound in this Context or an ancestor.
func (c *Context) IsBound(key string) bool {
	b, _ := c.lookup(key)
	return b != nil
}

// GetBinding returns the binding for key from this Context or an ancestor.
func (c *Context) GetBinding(key string) (*Binding, bool) {
	b, _ := c.lookup(key)
	return b, b != nil
}

// GetOwnerContext returns the Context that owns the binding for key.
func (c *Context) GetOwnerContext(key string) *Context {
	_, owner := c.lookup(key)
	return owner
}

// lookup walks the ancestor chain for key.
func (c *Context) lookup(key string) (*Binding, *Context) {
	for cur := c; cur != nil; {
		cur.mu.RLock()
		e, ok := cur.bindings[key]
		next := cur.parent
		cur.mu.RUnlock()
		if ok {
			return e.binding, cur
		}
		cur = next
	}
	return nil, nil
}

// ownedBinding pairs a binding with the Context holding it.
type ownedBinding struct {
	binding *Binding
	owner   *Context
}

// findWithOwners collects matching bindings, own bindings first in
// registration order, then each ancestor's. A key bound in a descendant
// hides the same key bound higher up.
func (c *Context) findWithOwners(filter BindingFilter, ownOnly bool) []ownedBinding {
	if filter == nil {
		filter = All
	}
	seen := make(map[string]bool)
	var out []ownedBinding
	for cur := c; cur != nil; {
		cur.mu.RLock()
		entries := make([]*entry, 0, len(cur.bindings))
		for _, e := range cur.bindings {
			entries = append(entries, e)
		}
		next := cur.parent
		cur.mu.RUnlock()

		sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
		for _, e := range entries {
			key := e.binding.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			if filter(e.binding) {
				out = append(out, ownedBinding{binding: e.binding, owner: cur})
			}
		}
		if ownOnly {
			break
		}
		cur = next
	}
	return out
}

// Find returns the bindings visible from this Context that pass filter.
func (c *Context) Find(filter BindingFilter) []*Binding {
	owned := c.findWithOwners(filter, false)
	out := make([]*Binding, len(owned))
	for i, o := range owned {
		out[i] = o.binding
	}
	return out
}

// FindByKey returns the visible bindings whose key matches pattern (see
// FilterByKey).
func (c *Context) FindByKey(pattern string) []*Binding {
	return c.Find(FilterByKey(pattern))
}

// FindByTag returns the visible bindings carrying every tag.
func (c *Context) FindByTag(tags ...string) []*Binding {
	return c.Find(FilterByTag(tags...))
}

// Keys returns the keys bound in this Context, in registration order.
func (c *Context) Keys() []string {
	owned := c.findWithOwners(All, true)
	keys := make([]string, len(owned))
	for i, o := range owned {
		keys[i] = o.binding.Key()
	}
	return keys
}

// Configure binds the configuration of key.
//
//	ctx.Configure("db").To(map[string]any{"host": "localhost"})
//	host, _ := ctx.GetConfigSync("db", "host")
func (c *Context) Configure(key string) *Binding {
	return c.Bind(ConfigKey(key))
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Get resolves key (optionally "key#path"), awaiting any *Promise produced
// along the way. ctx bounds the wait.
func (c *Context) Get(ctx context.Context, key string, opts ...ResolveOption) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := c.startSpan(ctx, "container.Get", key)
	defer span.End()

	start := time.Now()
	v, err := c.resolve(key, newSession(ctx, false), applyResolveOptions(opts))
	c.metrics.observeResolution("async", err, time.Since(start))
	recordSpanError(span, err)
	return v, err
}

// GetSync resolves key without awaiting. A strategy yielding a *Promise
// fails the call with *AsyncResolutionError.
func (c *Context) GetSync(key string, opts ...ResolveOption) (any, error) {
	ctx, span := c.startSpan(context.Background(), "container.GetSync", key)
	defer span.End()

	start := time.Now()
	v, err := c.resolve(key, newSession(ctx, true), applyResolveOptions(opts))
	c.metrics.observeResolution("sync", err, time.Since(start))
	recordSpanError(span, err)
	return v, err
}

func (c *Context) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("container.key", key),
		attribute.String("container.context", c.name),
	))
}

func recordSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// GetAsync starts Get in its own goroutine and returns the promise of its
// result.
func (c *Context) GetAsync(ctx context.Context, key string, opts ...ResolveOption) *Promise {
	return NewPromise(func() (any, error) {
		return c.Get(ctx, key, opts...)
	})
}

// GetConfig resolves the configuration of key at path. Missing
// configuration resolves to nil.
func (c *Context) GetConfig(ctx context.Context, key, path string) (any, error) {
	return c.Get(ctx, KeyWithPath(ConfigKey(key), path), Optional())
}

// GetConfigSync is GetConfig on the synchronous path.
func (c *Context) GetConfigSync(key, path string) (any, error) {
	return c.GetSync(KeyWithPath(ConfigKey(key), path), Optional())
}

func (c *Context) resolve(keyWithPath string, s *Session, o resolveOptions) (any, error) {
	if c.IsClosed() {
		return nil, ErrContextClosed
	}
	key, path := ParseKey(keyWithPath)
	b, owner := c.lookup(key)
	if b == nil {
		if o.optional {
			return nil, nil
		}
		return nil, &BindingNotFoundError{Key: key, Context: c.name, Path: append(s.Path(), key)}
	}

	v, err := b.getValue(c, owner, s)
	if err != nil {
		return nil, err
	}
	v = DeepProperty(v, path)
	if o.asProxy {
		return c.applyProxy(v, b, s)
	}
	return v, nil
}

// applyProxy passes v through the Extender bound at InterceptorProxyKey.
func (c *Context) applyProxy(v any, target *Binding, s *Session) (any, error) {
	pb, owner := c.lookup(InterceptorProxyKey)
	if pb == nil || v == nil {
		return v, nil
	}
	raw, err := pb.getValue(c, owner, s)
	if err != nil {
		return nil, err
	}
	var ext Extender
	switch fn := raw.(type) {
	case Extender:
		ext = fn
	case func(any, *ResolutionContext) (any, error):
		ext = fn
	case nil:
		return v, nil
	default:
		return nil, &ResolutionError{Key: InterceptorProxyKey, Path: s.Path(), Cause: fmt.Errorf("%T is not a container.Extender", raw)}
	}
	out, err := ext(v, &ResolutionContext{Context: c, Binding: target, session: s})
	if err != nil {
		return nil, target.wrap(err, s)
	}
	return out, nil
}

func (c *Context) trackCache(b *Binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		b.clearCacheFor(c)
		return
	}
	if c.cached == nil {
		c.cached = make(map[*Binding]struct{})
	}
	c.cached[b] = struct{}{}
}

// ── Observation ───────────────────────────────────────────────────────────────

// Subscribe registers o for the binding events of this Context and its
// ancestors. The returned function unsubscribes.
func (c *Context) Subscribe(o Observer) (unsubscribe func()) {
	unsubscribe, ok := c.notifier.subscribe(o)
	if ok {
		c.listenToParent()
	}
	return unsubscribe
}

// SubscribeFunc registers fn as an observer.
func (c *Context) SubscribeFunc(fn func(ctx context.Context, ev Event) error) (unsubscribe func()) {
	return c.Subscribe(ObserverFunc(fn))
}

// WaitUntilIdle blocks until every event queued on this Context was
// delivered to its observers.
func (c *Context) WaitUntilIdle(ctx context.Context) error {
	return c.notifier.waitIdle(ctx)
}

// emit queues ev on this Context and forwards it to listening descendants.
// Caller holds c.mu when c is the origin, which keeps events in mutation
// order.
func (c *Context) emit(ev Event) {
	if ev.Context == c {
		if ev.state == nil {
			ev.state = ev.Binding.snapshot()
		}
		c.metrics.eventEmitted(ev.Type)
	}
	c.notifier.enqueue(ev)

	c.evMu.Lock()
	listeners := append([]*Context(nil), c.listeners...)
	c.evMu.Unlock()
	for _, l := range listeners {
		l.emit(ev)
	}
}

// listenToParent makes the ancestors forward their events to c.
func (c *Context) listenToParent() {
	c.evMu.Lock()
	if c.listening {
		c.evMu.Unlock()
		return
	}
	c.listening = true
	c.evMu.Unlock()

	parent := c.Parent()
	if parent == nil {
		return
	}
	parent.evMu.Lock()
	parent.listeners = append(parent.listeners, c)
	parent.evMu.Unlock()
	parent.listenToParent()
}

func (c *Context) removeListener(child *Context) {
	c.evMu.Lock()
	defer c.evMu.Unlock()
	for i, l := range c.listeners {
		if l == child {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Context) observerFailed(ev Event, err error) {
	oerr := &ObserverError{Context: c.name, Event: ev, Cause: err}
	c.logger.Error("observer failed",
		zap.String("context", c.name),
		zap.String("event", string(ev.Type)),
		zap.String("key", ev.Binding.Key()),
		zap.Error(err),
	)
	c.metrics.observerFailed()
	if c.onError != nil {
		c.onError(oerr)
	}
}

// CreateView creates a live view over the bindings visible from c.
//
//	view := ctx.CreateView(container.FilterByTag("controller"))
//	defer view.Close()
func (c *Context) CreateView(filter BindingFilter, opts ...ViewOption) *View {
	return newView(c, filter, opts...)
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Close delivers pending events, detaches c from its parent, releases its
// bindings and context-scoped values, and orphans or closes its children.
// Close is idempotent. It must not be called from an observer of c.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	parent := c.parent
	children := make([]*Context, 0, len(c.children))
	for child := range c.children {
		children = append(children, child)
	}
	c.children = make(map[*Context]struct{})
	cached := c.cached
	c.cached = nil
	c.mu.Unlock()

	c.notifier.close()

	if parent != nil {
		parent.mu.Lock()
		delete(parent.children, c)
		parent.mu.Unlock()
		parent.removeListener(c)
	}

	for b := range cached {
		b.clearCacheFor(c)
	}

	c.mu.Lock()
	for _, e := range c.bindings {
		e.binding.detach(c)
	}
	c.bindings = make(map[string]*entry)
	c.mu.Unlock()

	for _, child := range children {
		if c.childPolicy == CloseChildren {
			_ = child.Close()
		} else {
			child.orphan()
		}
	}

	c.metrics.contextClosed()
	c.logger.Debug("context closed",
		zap.String("context", c.name),
		zap.Int("children", len(children)),
		zap.Stringer("childPolicy", c.childPolicy),
	)
	return nil
}

func (c *Context) orphan() {
	c.mu.Lock()
	c.parent = nil
	c.mu.Unlock()
	c.evMu.Lock()
	c.listening = false
	c.evMu.Unlock()
}

// ── Inspection ────────────────────────────────────────────────────────────────

// InspectOptions tunes Inspect.
type InspectOptions struct {
	// IncludeParent adds the ancestor chain under "parent".
	IncludeParent bool
}

// Inspect returns a JSON-friendly description of the Context.
func (c *Context) Inspect(opts InspectOptions) map[string]any {
	owned := c.findWithOwners(All, true)
	bindings := make(map[string]any, len(owned))
	for _, o := range owned {
		bindings[o.binding.Key()] = o.binding.Inspect()
	}
	out := map[string]any{
		"name":     c.name,
		"bindings": bindings,
	}
	if opts.IncludeParent {
		if p := c.Parent(); p != nil {
			out["parent"] = p.Inspect(opts)
		}
	}
	return out
}

// Children returns the open child Contexts, sorted by name.
func (c *Context) Children() []*Context {
	c.mu.RLock()
	out := make([]*Context, 0, len(c.children))
	for child := range c.children {
		out = append(out, child)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (c *Context) String() string {
	return fmt.Sprintf("Context(%s)", c.name)
}

// ── Generic helpers ───────────────────────────────────────────────────────────

// Resolve is a generic Get.
//
//	greeter, err := container.Resolve[*Greeter](ctx, app, "greeter")
func Resolve[T any](ctx context.Context, c *Context, key string, opts ...ResolveOption) (T, error) {
	v, err := c.Get(ctx, key, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, v)
}

// ResolveSync is a generic GetSync.
func ResolveSync[T any](c *Context, key string, opts ...ResolveOption) (T, error) {
	v, err := c.GetSync(key, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](key, v)
}

// MustResolve is ResolveSync that panics on failure.
func MustResolve[T any](c *Context, key string) T {
	v, err := ResolveSync[T](c, key)
	if err != nil {
		panic(err)
	}
	return v
}

func cast[T any](key string, v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: %q resolved to %T, not %v", key, v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return t, nil
}
