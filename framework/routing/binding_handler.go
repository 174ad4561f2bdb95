package routing

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
)

// HandleBinding routes method+pattern to the http.Handler bound at key.
// The handler is resolved per request from the request Context.
//
//	c.Bind("controllers.greeter").ToClass(NewGreetController, container.Inject("greeter"))
//	router.HandleBinding(http.MethodGet, "/greet", "controllers.greeter")
func (r *Router) HandleBinding(method, pattern, key string) {
	r.mux.Method(method, pattern, BindingHandler(key, nil))
}

// BindingHandler resolves the handler bound at key on every request. The
// request Context is used when present, otherwise fallback. Resolution
// failures are answered with 500 naming the key and resolution path.
func BindingHandler(key string, fallback *container.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := ContextFrom(r)
		if scope == nil {
			scope = fallback
		}
		res := gohttp.NewResponse(w)
		if scope == nil {
			res.ServerError("no context available to resolve " + key)
			return
		}

		v, err := scope.Get(r.Context(), key)
		if err == nil {
			var h http.Handler
			if h, err = asHandler(key, v); err == nil {
				h.ServeHTTP(w, r)
				return
			}
		}

		scope.Logger().Error("handler resolution failed",
			zap.String("key", key),
			zap.String("context", scope.Name()),
			zap.Error(err),
		)
		res.ResolutionFailure(key, err)
	})
}

func asHandler(key string, v any) (http.Handler, error) {
	switch h := v.(type) {
	case http.Handler:
		return h, nil
	case func(http.ResponseWriter, *http.Request):
		return http.HandlerFunc(h), nil
	case nil:
		return nil, fmt.Errorf("routing: %q resolved to nil", key)
	}
	return nil, fmt.Errorf("routing: %q resolved to %T, not an http.Handler", key, v)
}
