package container

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ── Scopes & types ────────────────────────────────────────────────────────────

// Scope controls how long a resolved value is cached.
type Scope string

const (
	// ScopeTransient resolves a fresh value on every request. Default scope.
	ScopeTransient Scope = "transient"

	// ScopeContext caches one value per requesting Context. Descendant
	// Contexts that request the key get their own value.
	ScopeContext Scope = "context"

	// ScopeSingleton caches one value on the binding, shared by every Context
	// beneath the binding's owner. Dependencies resolve from the owner.
	ScopeSingleton Scope = "singleton"

	// ScopeRequest caches the value for the duration of one top-level
	// resolution call, so one dependency graph shares a single instance.
	ScopeRequest Scope = "request"
)

func (s Scope) String() string { return string(s) }

// BindingType names the resolution strategy of a binding.
type BindingType string

const (
	TypeUnset        BindingType = ""
	TypeConstant     BindingType = "constant"
	TypeDynamicValue BindingType = "dynamic_value"
	TypeClass        BindingType = "class"
	TypeProvider     BindingType = "provider"
	TypeAlias        BindingType = "alias"
)

// DynamicFactory produces a value at resolution time. The result may be a
// *Promise when the value is only available asynchronously.
type DynamicFactory func(rc *ResolutionContext) (any, error)

// Provider is implemented by the values constructed for ToProvider
// bindings. Value may return a *Promise.
type Provider interface {
	Value() (any, error)
}

// ── Binding ───────────────────────────────────────────────────────────────────

// Binding describes how to produce the value of one key: its strategy, its
// scope and the tags used to classify it.
//
//	ctx.Bind("greeter").
//	    ToClass(NewGreeter, container.Inject("currentUser")).
//	    InScope(container.ScopeTransient).
//	    Tag("controller")
type Binding struct {
	key string

	mu       sync.RWMutex
	scope    Scope
	typ      BindingType
	tags     map[string]any
	locked   bool
	strategy DynamicFactory
	source   string // describes the strategy for Inspect
	owners   map[*Context]struct{}

	cacheMu   sync.Mutex
	singleton *cachedValue
	perCtx    map[*Context]any
	flight    singleflight.Group
}

type cachedValue struct {
	value any
}

// NewBinding creates an unregistered binding for key.
func NewBinding(key string) *Binding {
	return &Binding{
		key:   key,
		scope: ScopeTransient,
		tags:  make(map[string]any),
	}
}

// Key returns the bound key.
func (b *Binding) Key() string { return b.key }

// Scope returns the caching scope.
func (b *Binding) Scope() Scope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scope
}

// Type returns the strategy type.
func (b *Binding) Type() BindingType {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.typ
}

// IsLocked reports whether strategy and scope changes are refused.
func (b *Binding) IsLocked() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locked
}

// Tags returns a copy of the tag map.
func (b *Binding) Tags() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.tags))
	for k, v := range b.tags {
		out[k] = v
	}
	return out
}

// TagNames returns the sorted tag names.
func (b *Binding) TagNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.tags))
	for k := range b.tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HasTag reports whether the binding carries the named tag.
func (b *Binding) HasTag(name string) bool {
	_, ok := b.TagValueOf(name)
	return ok
}

// TagValueOf returns the value stored under a tag name.
func (b *Binding) TagValueOf(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.tags[name]
	return v, ok
}

// ── Strategy setters ──────────────────────────────────────────────────────────

// To binds a constant value. Promises are refused: use ToDynamicValue.
func (b *Binding) To(value any) *Binding {
	if IsPromise(value) {
		panic(&BindingError{Key: b.key, Reason: "promises are not allowed as constant values, use ToDynamicValue"})
	}
	return b.setStrategy(TypeConstant, fmt.Sprintf("%T", value), func(*ResolutionContext) (any, error) {
		return value, nil
	})
}

// ToDynamicValue binds a factory invoked on each (uncached) resolution.
func (b *Binding) ToDynamicValue(factory DynamicFactory) *Binding {
	if factory == nil {
		panic(&BindingError{Key: b.key, Reason: "dynamic value factory cannot be nil"})
	}
	return b.setStrategy(TypeDynamicValue, funcName(factory), factory)
}

// ToClass binds a constructor function. args is the injection plan, one
// Injection per constructor parameter, resolved in declaration order.
//
//	ctx.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))
func (b *Binding) ToClass(ctor any, args ...Injection) *Binding {
	plan, err := parseConstructor(ctor, args)
	if err != nil {
		panic(&BindingError{Key: b.key, Reason: err.Error()})
	}
	return b.setStrategy(TypeClass, plan.name, plan.invoke)
}

// ToProvider binds a constructor whose result implements Provider; the
// provider's Value becomes the bound value.
func (b *Binding) ToProvider(ctor any, args ...Injection) *Binding {
	plan, err := parseConstructor(ctor, args)
	if err != nil {
		panic(&BindingError{Key: b.key, Reason: err.Error()})
	}
	return b.setStrategy(TypeProvider, plan.name, func(rc *ResolutionContext) (any, error) {
		inst, err := plan.invoke(rc)
		if err != nil {
			return nil, err
		}
		p, ok := inst.(Provider)
		if !ok {
			return nil, fmt.Errorf("%T does not implement container.Provider", inst)
		}
		return p.Value()
	})
}

// ToAlias binds the key to another key, optionally with a property path:
// "config#db.host".
func (b *Binding) ToAlias(target string) *Binding {
	if target == "" {
		panic(&BindingError{Key: b.key, Reason: "alias target cannot be empty"})
	}
	return b.setStrategy(TypeAlias, target, func(rc *ResolutionContext) (any, error) {
		return rc.Resolve(target)
	})
}

// InScope sets the caching scope. Cached values are dropped.
func (b *Binding) InScope(scope Scope) *Binding {
	switch scope {
	case ScopeTransient, ScopeContext, ScopeSingleton, ScopeRequest:
	default:
		panic(&BindingError{Key: b.key, Reason: fmt.Sprintf("unknown scope %q", scope)})
	}
	b.mu.Lock()
	if b.locked {
		b.mu.Unlock()
		panic(&BindingError{Key: b.key, Reason: "cannot change the scope of a locked binding"})
	}
	b.scope = scope
	b.mu.Unlock()
	b.clearCache()
	return b
}

// Tag adds tags whose value is their own name. Tags are never removed.
// Tagging a registered binding emits EventTag in the Contexts holding it.
func (b *Binding) Tag(names ...string) *Binding {
	tags := make(map[string]any, len(names))
	for _, n := range names {
		tags[n] = n
	}
	return b.addTags(tags)
}

// TagValue adds a tag carrying an arbitrary value.
//
//	b.TagValue("route.path", "/greet")
func (b *Binding) TagValue(name string, value any) *Binding {
	return b.addTags(map[string]any{name: value})
}

// TagMap merges a map of tags.
func (b *Binding) TagMap(tags map[string]any) *Binding {
	return b.addTags(tags)
}

func (b *Binding) addTags(tags map[string]any) *Binding {
	b.mu.Lock()
	prev := b.snapshotLocked()
	changed := false
	for k, v := range tags {
		if old, ok := b.tags[k]; !ok || !tagEqual(old, v) {
			changed = true
		}
		b.tags[k] = v
	}
	owners := make([]*Context, 0, len(b.owners))
	for c := range b.owners {
		owners = append(owners, c)
	}
	b.mu.Unlock()

	if changed {
		for _, c := range owners {
			c.tagged(b, prev)
		}
	}
	return b
}

// snapshot copies the key and tags of b for filtering events.
func (b *Binding) snapshot() *Binding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Binding) snapshotLocked() *Binding {
	tags := make(map[string]any, len(b.tags))
	for k, v := range b.tags {
		tags[k] = v
	}
	return &Binding{key: b.key, scope: b.scope, typ: b.typ, source: b.source, locked: b.locked, tags: tags}
}

// attach records that c holds b. Caller holds c.mu.
func (b *Binding) attach(c *Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owners == nil {
		b.owners = make(map[*Context]struct{})
	}
	b.owners[c] = struct{}{}
}

func (b *Binding) detach(c *Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.owners, c)
}

// Lock refuses further strategy or scope changes, and rebinding or
// unbinding the key in its Context.
func (b *Binding) Lock() *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locked = true
	return b
}

// Unlock reverts Lock.
func (b *Binding) Unlock() *Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locked = false
	return b
}

func (b *Binding) setStrategy(typ BindingType, source string, fn DynamicFactory) *Binding {
	b.mu.Lock()
	if b.locked {
		b.mu.Unlock()
		panic(&BindingError{Key: b.key, Reason: "cannot change the value of a locked binding"})
	}
	b.typ = typ
	b.source = source
	b.strategy = fn
	b.mu.Unlock()
	b.clearCache()
	return b
}

// Inspect returns a JSON-friendly description of the binding.
func (b *Binding) Inspect() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tags := make(map[string]any, len(b.tags))
	for k, v := range b.tags {
		tags[k] = v
	}
	out := map[string]any{
		"key":      b.key,
		"scope":    string(b.scope),
		"type":     string(b.typ),
		"isLocked": b.locked,
		"tags":     tags,
	}
	switch b.typ {
	case TypeAlias:
		out["alias"] = b.source
	case TypeClass:
		out["valueConstructor"] = b.source
	case TypeProvider:
		out["providerConstructor"] = b.source
	case TypeDynamicValue:
		out["factory"] = b.source
	case TypeConstant:
		out["valueType"] = b.source
	}
	return out
}

// ── Resolution ────────────────────────────────────────────────────────────────

// resolutionContext picks the Context that dependencies resolve against.
func (b *Binding) resolutionContext(scope Scope, requester, owner *Context) *Context {
	if scope == ScopeSingleton && owner != nil {
		return owner
	}
	return requester
}

// getValue resolves the binding inside session s. requester is the Context
// that issued the lookup and owner the Context holding the binding.
func (b *Binding) getValue(requester, owner *Context, s *Session) (any, error) {
	if err := s.push(b); err != nil {
		return nil, err
	}
	defer s.pop()

	b.mu.RLock()
	scope, strategy := b.scope, b.strategy
	b.mu.RUnlock()

	if strategy == nil {
		return nil, &ResolutionError{Key: b.key, Path: s.Path(), Cause: errors.New("no value was configured for the binding")}
	}

	resCtx := b.resolutionContext(scope, requester, owner)
	if v, ok := b.cached(scope, resCtx, s); ok {
		return v, nil
	}

	produce := func() (any, error) {
		rc := &ResolutionContext{Context: resCtx, Binding: b, session: s}
		v, err := b.invoke(strategy, rc)
		if err != nil {
			return nil, err
		}
		return b.settle(v, s)
	}

	switch scope {
	case ScopeSingleton, ScopeContext:
		flightKey := fmt.Sprintf("%p/%t", resCtx, s.sync)
		v, err, _ := b.flight.Do(flightKey, func() (any, error) {
			if v, ok := b.cached(scope, resCtx, s); ok {
				return v, nil
			}
			v, err := produce()
			if err != nil {
				return nil, err
			}
			return b.store(scope, resCtx, s, v), nil
		})
		return v, err
	case ScopeRequest:
		v, err := produce()
		if err != nil {
			return nil, err
		}
		return b.store(scope, resCtx, s, v), nil
	default:
		return produce()
	}
}

// invoke runs a strategy, turning panics and foreign errors into
// *ResolutionError while letting engine errors through untouched.
func (b *Binding) invoke(strategy DynamicFactory, rc *ResolutionContext) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && isEngineError(e) {
				v, err = nil, e
				return
			}
			v, err = nil, &ResolutionError{Key: b.key, Path: rc.session.Path(), Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err = strategy(rc)
	if err != nil {
		return nil, b.wrap(err, rc.session)
	}
	return v, nil
}

// settle enforces the sync/async duality on a strategy result.
func (b *Binding) settle(v any, s *Session) (any, error) {
	p, ok := v.(*Promise)
	if !ok {
		return v, nil
	}
	if s.sync {
		return nil, &AsyncResolutionError{Key: b.key, Path: s.Path()}
	}
	settled, err := p.Await(s.ctx)
	if err != nil {
		return nil, b.wrap(err, s)
	}
	if IsPromise(settled) {
		return b.settle(settled, s)
	}
	return settled, nil
}

func (b *Binding) wrap(err error, s *Session) error {
	if isEngineError(err) {
		return err
	}
	return &ResolutionError{Key: b.key, Path: s.Path(), Cause: err}
}

// ── Cache ─────────────────────────────────────────────────────────────────────

func (b *Binding) cached(scope Scope, resCtx *Context, s *Session) (any, bool) {
	switch scope {
	case ScopeRequest:
		return s.requestValue(b)
	case ScopeSingleton:
		b.cacheMu.Lock()
		defer b.cacheMu.Unlock()
		if b.singleton != nil {
			return b.singleton.value, true
		}
	case ScopeContext:
		b.cacheMu.Lock()
		defer b.cacheMu.Unlock()
		if v, ok := b.perCtx[resCtx]; ok {
			return v, true
		}
	}
	return nil, false
}

// store caches v unless a value was stored concurrently, in which case the
// stored value wins and is returned.
func (b *Binding) store(scope Scope, resCtx *Context, s *Session, v any) any {
	switch scope {
	case ScopeRequest:
		return s.storeRequestValue(b, v)
	case ScopeSingleton:
		b.cacheMu.Lock()
		defer b.cacheMu.Unlock()
		if b.singleton != nil {
			return b.singleton.value
		}
		b.singleton = &cachedValue{value: v}
	case ScopeContext:
		b.cacheMu.Lock()
		if prev, ok := b.perCtx[resCtx]; ok {
			b.cacheMu.Unlock()
			return prev
		}
		if b.perCtx == nil {
			b.perCtx = make(map[*Context]any)
		}
		b.perCtx[resCtx] = v
		b.cacheMu.Unlock()
		resCtx.trackCache(b)
	}
	return v
}

// clearCache drops every cached value of the binding.
func (b *Binding) clearCache() {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	b.singleton = nil
	b.perCtx = nil
}

// clearCacheFor drops the value cached for one Context.
func (b *Binding) clearCacheFor(c *Context) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	delete(b.perCtx, c)
}

func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Sprintf("%T", fn)
	}
	if f := runtime.FuncForPC(v.Pointer()); f != nil {
		return f.Name()
	}
	return v.Type().String()
}
