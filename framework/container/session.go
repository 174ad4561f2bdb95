package container

import (
	"context"
)

// Session is the bookkeeping of one top-level resolution call. It tracks
// the bindings being resolved, by identity, so a binding that reappears on
// the stack is reported as a cycle instead of recursing forever. It also
// holds request-scoped values.
type Session struct {
	ctx     context.Context
	sync    bool
	stack   []*Binding
	request map[*Binding]any
}

func newSession(ctx context.Context, sync bool) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{ctx: ctx, sync: sync}
}

// push adds b to the stack, failing when b is already being resolved.
func (s *Session) push(b *Binding) error {
	for _, cur := range s.stack {
		if cur == b {
			path := append(s.Path(), b.key)
			return &CircularDependencyError{Path: path}
		}
	}
	s.stack = append(s.stack, b)
	return nil
}

func (s *Session) pop() {
	if n := len(s.stack); n > 0 {
		s.stack[n-1] = nil
		s.stack = s.stack[:n-1]
	}
}

// Path returns the keys currently on the stack, outermost first.
func (s *Session) Path() []string {
	path := make([]string, len(s.stack))
	for i, b := range s.stack {
		path[i] = b.key
	}
	return path
}

// Current returns the binding being resolved, or nil.
func (s *Session) Current() *Binding {
	if n := len(s.stack); n > 0 {
		return s.stack[n-1]
	}
	return nil
}

// Depth returns the number of bindings on the stack.
func (s *Session) Depth() int { return len(s.stack) }

// IsSync reports whether the session refuses promises.
func (s *Session) IsSync() bool { return s.sync }

func (s *Session) requestValue(b *Binding) (any, bool) {
	v, ok := s.request[b]
	return v, ok
}

func (s *Session) storeRequestValue(b *Binding, v any) any {
	if prev, ok := s.request[b]; ok {
		return prev
	}
	if s.request == nil {
		s.request = make(map[*Binding]any)
	}
	s.request[b] = v
	return v
}

// ── ResolutionContext ─────────────────────────────────────────────────────────

// ResolutionContext is handed to factories and constructors. Resolve looks
// up further keys inside the same session, so cycles through factories are
// still detected and request-scoped values are shared.
type ResolutionContext struct {
	// Context is the Context dependencies resolve against.
	Context *Context
	// Binding is the binding being resolved.
	Binding *Binding

	session *Session
}

// Resolve resolves key (optionally "key#path") within the current session.
func (rc *ResolutionContext) Resolve(key string, opts ...ResolveOption) (any, error) {
	return rc.Context.resolve(key, rc.session, applyResolveOptions(opts))
}

// Ctx returns the context.Context of the top-level call. Synchronous
// resolutions carry context.Background.
func (rc *ResolutionContext) Ctx() context.Context { return rc.session.ctx }

// Session returns the current session.
func (rc *ResolutionContext) Session() *Session { return rc.session }

// ── Options ───────────────────────────────────────────────────────────────────

// ResolveOption tunes one Get/GetSync call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	optional bool
	asProxy  bool
}

// Optional makes an unbound key resolve to nil instead of failing.
func Optional() ResolveOption {
	return func(o *resolveOptions) { o.optional = true }
}

// AsProxy passes the resolved value through the Extender bound at
// InterceptorProxyKey, when there is one.
func AsProxy() ResolveOption {
	return func(o *resolveOptions) { o.asProxy = true }
}

func applyResolveOptions(opts []ResolveOption) resolveOptions {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
