package routing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/km-arc/go-context/framework/container"
)

// Tags describing a route binding.
const (
	RouteTag  = "route"
	MethodTag = "route.method"
	PathTag   = "route.path"
)

// NewRoute returns an unbound binding tagged as a route. Configure its
// strategy, then Add it to a Context:
//
//	b := routing.NewRoute(http.MethodGet, "/greet", "controllers.greeter").
//	    ToClass(NewGreetController, container.Inject("greeter"))
//	_ = app.Add(b)
func NewRoute(method, pattern, key string) *container.Binding {
	return container.NewBinding(key).
		Tag(RouteTag).
		TagValue(MethodTag, strings.ToUpper(method)).
		TagValue(PathTag, pattern)
}

// Routes is a route table backed by a view over the route bindings of a
// Context. The mux is rebuilt whenever the view refreshes, so binding or
// unbinding a route takes effect without restarting the server.
type Routes struct {
	ctx         *container.Context
	view        *container.View
	mux         atomic.Pointer[chi.Mux]
	unsubscribe func()
}

// NewRoutes builds the table for c, including routes bound in ancestors.
func NewRoutes(c *container.Context) *Routes {
	rt := &Routes{
		ctx: c,
		view: c.CreateView(container.FilterByTag(RouteTag),
			container.WithComparator(container.CompareByKey)),
	}
	rt.rebuild(rt.view)
	rt.unsubscribe = rt.view.OnRefresh(rt.rebuild)
	return rt
}

func (rt *Routes) rebuild(v *container.View) {
	mux := chi.NewRouter()
	mounted := 0
	for _, b := range v.Bindings() {
		method, pattern, err := routeOf(b)
		if err != nil {
			rt.ctx.Logger().Warn("skipping route binding", zap.String("key", b.Key()), zap.Error(err))
			continue
		}
		mux.Method(method, pattern, BindingHandler(b.Key(), rt.ctx))
		mounted++
	}
	rt.mux.Store(mux)
	rt.ctx.Logger().Debug("routes rebuilt", zap.String("context", rt.ctx.Name()), zap.Int("routes", mounted))
}

func routeOf(b *container.Binding) (method, pattern string, err error) {
	method = http.MethodGet
	if v, ok := b.TagValueOf(MethodTag); ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return "", "", fmt.Errorf("routing: %s must be a method name, got %v", MethodTag, v)
		}
		method = s
	}
	v, ok := b.TagValueOf(PathTag)
	pattern, isString := v.(string)
	if !ok || !isString || !strings.HasPrefix(pattern, "/") {
		return "", "", fmt.Errorf("routing: %s must start with /, got %v", PathTag, v)
	}
	return method, pattern, nil
}

// Route describes one entry of the table.
type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	Key     string `json:"key"`
}

// Table lists the routes currently served, in key order.
func (rt *Routes) Table() []Route {
	var out []Route
	for _, b := range rt.view.Bindings() {
		method, pattern, err := routeOf(b)
		if err != nil {
			continue
		}
		out = append(out, Route{Method: method, Pattern: pattern, Key: b.Key()})
	}
	return out
}

// WaitUntilIdle blocks until pending route changes have been applied.
func (rt *Routes) WaitUntilIdle(ctx context.Context) error {
	return rt.ctx.WaitUntilIdle(ctx)
}

// ServeHTTP dispatches to the current mux with a fresh chi route context.
func (rt *Routes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
	rt.mux.Load().ServeHTTP(w, r)
}

// Close stops following binding changes. The last table keeps serving.
func (rt *Routes) Close() {
	rt.unsubscribe()
	rt.view.Close()
}
