package routing

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/km-arc/go-context/framework/container"
	gohttp "github.com/km-arc/go-context/framework/http"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

type contextKey struct{}

// RequestContext opens a child Context of parent for every request, named
// "request-<uuid>", with the request, the writer and the request id bound.
// The Context is closed once the handler returns.
//
//	router.Middleware(routing.RequestContext(app.Context))
func RequestContext(parent *container.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parent.IsClosed() {
				gohttp.NewResponse(w).Error(http.StatusServiceUnavailable, "application is shutting down")
				return
			}

			id := uuid.NewString()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = id
			}
			w.Header().Set(RequestIDHeader, requestID)

			scope := container.NewContext(parent, "request-"+id)
			defer scope.Close()

			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, scope))
			gohttp.BindRequest(scope, r, w, requestID)
			next.ServeHTTP(w, r)
		})
	}
}

// ContextFrom returns the request Context opened by RequestContext, or nil.
func ContextFrom(r *http.Request) *container.Context {
	c, _ := r.Context().Value(contextKey{}).(*container.Context)
	return c
}
