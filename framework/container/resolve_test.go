package container_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-context/framework/container"
)

// ── fixtures ──────────────────────────────────────────────────────────────────

type greeter struct {
	User  string
	Clock *clock `inject:"clock,optional"`
}

func NewGreeter(user string) *greeter { return &greeter{User: user} }

func (g *greeter) Greet() string { return "Hello, " + g.User }

type clock struct{ now time.Time }

type dateProvider struct{ format string }

func (p *dateProvider) Value() (any, error) {
	return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Format(p.format), nil
}

type asyncProvider struct{ v string }

func (p *asyncProvider) Value() (any, error) {
	return container.NewPromise(func() (any, error) { return p.v, nil }), nil
}

type node struct{ dep any }

func newNode(dep any) *node { return &node{dep: dep} }

func asyncValue(v any) container.DynamicFactory {
	return func(*container.ResolutionContext) (any, error) {
		return container.NewPromise(func() (any, error) {
			time.Sleep(time.Millisecond)
			return v, nil
		}), nil
	}
}

func newInstance(*container.ResolutionContext) (any, error) { return &struct{ n int }{}, nil }

// ── ancestor fallback ─────────────────────────────────────────────────────────

func TestResolve_AncestorFallback(t *testing.T) {
	parent := container.NewContext(nil, "parent")
	parent.Bind("x").To(1)
	child := container.NewContext(parent, "child")

	v, err := child.GetSync("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	child.Bind("x").To(2)

	v, err = child.GetSync("x")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = parent.GetSync("x")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestResolve_NotFound(t *testing.T) {
	parent := container.NewContext(nil, "parent")
	child := container.NewContext(parent, "child")

	_, err := child.GetSync("missing")
	var notFound *container.BindingNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Key)
	assert.Equal(t, "child", notFound.Context)

	v, err := child.GetSync("missing", container.Optional())
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = child.Get(context.Background(), "missing", container.Optional())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolve_NotFoundReportsPath(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))

	_, err := ctx.Get(context.Background(), "greeter")
	var notFound *container.BindingNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []string{"greeter", "currentUser"}, notFound.Path)
	assert.Contains(t, err.Error(), "greeter --> currentUser")
}

// ── cycles ────────────────────────────────────────────────────────────────────

func TestResolve_CircularDependency(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("a").ToClass(newNode, container.Inject("b"))
	ctx.Bind("b").ToClass(newNode, container.Inject("a"))

	done := make(chan error, 1)
	go func() {
		_, err := ctx.Get(context.Background(), "a")
		done <- err
	}()

	select {
	case err := <-done:
		var cycle *container.CircularDependencyError
		require.ErrorAs(t, err, &cycle)
		assert.Equal(t, []string{"a", "b", "a"}, cycle.Path)
		assert.Equal(t, []string{"a", "b", "a"}, cycle.Cycle())
		assert.Contains(t, err.Error(), "a --> b --> a")
	case <-time.After(5 * time.Second):
		t.Fatal("resolution of a cycle did not terminate")
	}

	_, err := ctx.GetSync("b")
	var cycle *container.CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"b", "a", "b"}, cycle.Path)
}

func TestResolve_CycleThroughFactoryAndAlias(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("entry").ToClass(newNode, container.Inject("loop"))
	ctx.Bind("loop").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
		return rc.Resolve("back")
	})
	ctx.Bind("back").ToAlias("loop")

	_, err := ctx.GetSync("entry")
	var cycle *container.CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"entry", "loop", "back", "loop"}, cycle.Path)
	assert.Equal(t, []string{"loop", "back", "loop"}, cycle.Cycle())
}

func TestResolve_SiblingDependenciesAreNotCycles(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("leaf").To("leaf")
	ctx.Bind("pair").ToClass(func(a, b string) []string { return []string{a, b} },
		container.Inject("leaf"), container.Inject("leaf"))
	ctx.Bind("alias1").ToAlias("leaf")
	ctx.Bind("alias2").ToAlias("leaf")
	ctx.Bind("both").ToClass(func(a, b string) string { return a + b },
		container.Inject("alias1"), container.Inject("alias2"))

	v, err := ctx.GetSync("pair")
	require.NoError(t, err)
	assert.Equal(t, []string{"leaf", "leaf"}, v)

	v, err = ctx.GetSync("both")
	require.NoError(t, err)
	assert.Equal(t, "leafleaf", v)
}

// ── sync/async duality ────────────────────────────────────────────────────────

func TestResolve_SyncAndAsyncAgreeOnPlainValues(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("plain").ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		return "value", nil
	})

	syncValue, err := ctx.GetSync("plain")
	require.NoError(t, err)
	asyncResult, err := ctx.Get(context.Background(), "plain")
	require.NoError(t, err)
	assert.Equal(t, syncValue, asyncResult)
}

func TestResolve_PromiseRequiresAsyncPath(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("later").ToDynamicValue(asyncValue("value"))

	v, err := ctx.Get(context.Background(), "later")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	_, err = ctx.GetSync("later")
	var asyncErr *container.AsyncResolutionError
	require.ErrorAs(t, err, &asyncErr)
	assert.Equal(t, "later", asyncErr.Key)

	v, err = ctx.GetAsync(context.Background(), "later").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestResolve_AsyncDependencyMakesConstructionAsync(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("currentUser").ToDynamicValue(asyncValue("John"))
	ctx.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))

	g, err := container.Resolve[*greeter](context.Background(), ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "John", g.User)

	_, err = ctx.GetSync("greeter")
	var asyncErr *container.AsyncResolutionError
	require.ErrorAs(t, err, &asyncErr)
	assert.Equal(t, "currentUser", asyncErr.Key)
	assert.Equal(t, []string{"greeter", "currentUser"}, asyncErr.Path)
}

func TestResolve_AsyncProvider(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("name").ToProvider(func() *asyncProvider { return &asyncProvider{v: "from-provider"} })

	v, err := ctx.Get(context.Background(), "name")
	require.NoError(t, err)
	assert.Equal(t, "from-provider", v)

	_, err = ctx.GetSync("name")
	var asyncErr *container.AsyncResolutionError
	assert.ErrorAs(t, err, &asyncErr)
}

func TestResolve_GetHonoursContextCancellation(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	block := make(chan struct{})
	defer close(block)
	ctx.Bind("slow").ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		return container.NewPromise(func() (any, error) {
			<-block
			return "never", nil
		}), nil
	})

	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := ctx.Get(cctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolve_RejectedPromise(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	boom := errors.New("boom")
	ctx.Bind("broken").ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		return container.Rejected(boom), nil
	})

	_, err := ctx.Get(context.Background(), "broken")
	var resErr *container.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "broken", resErr.Key)
	assert.ErrorIs(t, err, boom)
}

// ── scopes ────────────────────────────────────────────────────────────────────

func TestResolve_SingletonSharedAcrossDescendants(t *testing.T) {
	root := container.NewContext(nil, "root")
	root.Bind("shared").ToDynamicValue(newInstance).InScope(container.ScopeSingleton)

	a := container.NewContext(root, "a")
	b := container.NewContext(container.NewContext(root, "mid"), "b")

	va, err := a.GetSync("shared")
	require.NoError(t, err)
	vb, err := b.Get(context.Background(), "shared")
	require.NoError(t, err)
	assert.Same(t, va, vb)
}

func TestResolve_SingletonResolvesDependenciesFromOwner(t *testing.T) {
	root := container.NewContext(nil, "root")
	root.Bind("currentUser").To("root-user")
	root.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser")).InScope(container.ScopeSingleton)

	child := container.NewContext(root, "child")
	child.Bind("currentUser").To("child-user")

	g, err := container.ResolveSync[*greeter](child, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "root-user", g.User)
}

func TestResolve_TransientCreatesNewInstances(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	var calls atomic.Int32
	ctx.Bind("t").ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		calls.Add(1)
		return &struct{ n int }{}, nil
	})

	v1, err := ctx.GetSync("t")
	require.NoError(t, err)
	v2, err := ctx.GetSync("t")
	require.NoError(t, err)
	assert.NotSame(t, v1, v2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolve_ContextScopePerRequestingContext(t *testing.T) {
	root := container.NewContext(nil, "root")
	root.Bind("perCtx").ToDynamicValue(newInstance).InScope(container.ScopeContext)

	a := container.NewContext(root, "a")
	b := container.NewContext(root, "b")

	a1, _ := a.GetSync("perCtx")
	a2, _ := a.GetSync("perCtx")
	b1, _ := b.GetSync("perCtx")
	r1, _ := root.GetSync("perCtx")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b1)
	assert.NotSame(t, a1, r1)

	require.NoError(t, a.Close())
	a3, err := container.NewContext(root, "a2").GetSync("perCtx")
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)
}

func TestResolve_RequestScopeSharedWithinOneResolution(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("req").ToDynamicValue(newInstance).InScope(container.ScopeRequest)
	ctx.Bind("pair").ToClass(func(a, b any) [2]any { return [2]any{a, b} },
		container.Inject("req"), container.Inject("req"))

	v1, err := container.ResolveSync[[2]any](ctx, "pair")
	require.NoError(t, err)
	assert.Same(t, v1[0], v1[1])

	v2, err := container.ResolveSync[[2]any](ctx, "pair")
	require.NoError(t, err)
	assert.NotSame(t, v1[0], v2[0])
}

func TestResolve_SingletonConstructedOnceUnderConcurrency(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	var calls atomic.Int32
	ctx.Bind("db").ToDynamicValue(func(*container.ResolutionContext) (any, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return &struct{ n int }{}, nil
	}).InScope(container.ScopeSingleton)

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = ctx.Get(context.Background(), "db")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

// ── strategies ────────────────────────────────────────────────────────────────

func TestResolve_AliasWithPath(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Configure("db").To(map[string]any{"host": "localhost", "port": 5432})
	ctx.Bind("dbHost").ToAlias(container.KeyWithPath(container.ConfigKey("db"), "host"))

	v, err := ctx.GetSync("dbHost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", v)

	port, err := ctx.GetConfigSync("db", "port")
	require.NoError(t, err)
	assert.Equal(t, 5432, port)

	missing, err := ctx.GetConfig(context.Background(), "cache", "ttl")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResolve_KeyWithPath(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("greeter").To(&greeter{User: "John"})

	v, err := ctx.GetSync("greeter#User")
	require.NoError(t, err)
	assert.Equal(t, "John", v)
}

func TestResolve_KeyWithOutOfRangeIndex(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("list").To([]string{"a", "b"})

	for _, key := range []string{"list#9223372036854775808", "list#99999999999999999999", "list#-1", "list#2"} {
		v, err := ctx.GetSync(key)
		require.NoError(t, err, key)
		assert.Nil(t, v, key)
	}

	v, err := ctx.GetSync("list#1")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestResolve_ProviderStrategy(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("format").To("2006-01-02")
	ctx.Bind("today").ToProvider(func(f string) *dateProvider { return &dateProvider{format: f} },
		container.Inject("format"))

	v, err := ctx.GetSync("today")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", v)

	ctx.Bind("notProvider").ToProvider(func() string { return "nope" })
	_, err = ctx.GetSync("notProvider")
	var resErr *container.ResolutionError
	assert.ErrorAs(t, err, &resErr)
}

func TestResolve_PropertyInjection(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("currentUser").To("John")
	ctx.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))

	g, err := container.ResolveSync[*greeter](ctx, "greeter")
	require.NoError(t, err)
	assert.Nil(t, g.Clock, "optional property stays nil while unbound")

	c := &clock{now: time.Now()}
	ctx.Bind("clock").To(c)
	g, err = container.ResolveSync[*greeter](ctx, "greeter")
	require.NoError(t, err)
	assert.Same(t, c, g.Clock)
}

func TestResolve_OptionalInjection(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("greeter").ToClass(NewGreeter, container.InjectOptional("currentUser"))

	g, err := container.ResolveSync[*greeter](ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "", g.User)
}

func TestResolve_StrategyFailures(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("fails").ToClass(func() (*greeter, error) { return nil, errors.New("db down") })
	ctx.Bind("panics").ToDynamicValue(func(*container.ResolutionContext) (any, error) { panic("oops") })
	ctx.Bind("number").To(42)
	ctx.Bind("wrongType").ToClass(NewGreeter, container.Inject("number"))
	ctx.Bind("empty")

	for key, want := range map[string]string{
		"fails":     "db down",
		"panics":    "oops",
		"wrongType": "cannot use int as string",
		"empty":     "no value was configured",
	} {
		_, err := ctx.GetSync(key)
		var resErr *container.ResolutionError
		require.ErrorAs(t, err, &resErr, key)
		assert.Equal(t, key, resErr.Key)
		assert.Contains(t, err.Error(), want)
	}
}

func TestResolve_GenericTypeMismatch(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("n").To(1)

	_, err := container.ResolveSync[string](ctx, "n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolved to int, not string")

	assert.Panics(t, func() { container.MustResolve[string](ctx, "n") })
}

// ── interceptor proxy ─────────────────────────────────────────────────────────

func TestResolve_AsProxy(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("greeting").To("hello")

	v, err := ctx.GetSync("greeting", container.AsProxy())
	require.NoError(t, err)
	assert.Equal(t, "hello", v, "no interceptor bound: value unchanged")

	ctx.Bind(container.InterceptorProxyKey).To(container.Extender(func(v any, rc *container.ResolutionContext) (any, error) {
		return fmt.Sprintf("proxy(%v:%s)", v, rc.Binding.Key()), nil
	}))

	v, err = ctx.GetSync("greeting", container.AsProxy())
	require.NoError(t, err)
	assert.Equal(t, "proxy(hello:greeting)", v)

	v, err = ctx.GetSync("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

// ── end to end ────────────────────────────────────────────────────────────────

func TestResolve_GreeterEndToEnd(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("currentUser").To("John")
	ctx.Bind("greeter").ToClass(NewGreeter, container.Inject("currentUser"))

	first, err := container.Resolve[*greeter](context.Background(), ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "John", first.User)
	assert.Equal(t, "Hello, John", first.Greet())

	ctx.Bind("currentUser").To("Jane")

	second, err := container.Resolve[*greeter](context.Background(), ctx, "greeter")
	require.NoError(t, err)
	assert.Equal(t, "Jane", second.User)
	assert.NotSame(t, first, second)
}

func TestResolve_ClosedContext(t *testing.T) {
	ctx := container.NewContext(nil, "app")
	ctx.Bind("x").To(1)
	require.NoError(t, ctx.Close())

	_, err := ctx.GetSync("x")
	assert.ErrorIs(t, err, container.ErrContextClosed)
	_, err = ctx.Get(context.Background(), "x")
	assert.ErrorIs(t, err, container.ErrContextClosed)
}
