package http

import (
	"fmt"
	"net/http"

	"github.com/km-arc/go-context/framework/container"
)

// Keys bound into every request Context.
const (
	RequestKey   = "http.request"   // *http.Request
	ResponseKey  = "http.response"  // http.ResponseWriter
	RequestIDKey = "http.requestId" // string
)

// BindRequest binds the request, writer and request id into c.
func BindRequest(c *container.Context, r *http.Request, w http.ResponseWriter, id string) {
	c.Bind(RequestKey).To(r).Tag("http")
	c.Bind(ResponseKey).To(w).Tag("http")
	c.Bind(RequestIDKey).To(id).Tag("http")
}

// RequestFrom resolves the current request out of a request Context.
func RequestFrom(c *container.Context) (*Request, error) {
	return requestFrom(c, c.GetSync)
}

// CurrentRequest resolves the current request from inside a factory, so a
// missing request shows up in the factory's resolution path.
//
//	c.Bind("currentUser").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
//	    req, err := gohttp.CurrentRequest(rc)
//	    ...
//	})
func CurrentRequest(rc *container.ResolutionContext) (*Request, error) {
	return requestFrom(rc.Context, rc.Resolve)
}

func requestFrom(c *container.Context, resolve func(string, ...container.ResolveOption) (any, error)) (*Request, error) {
	v, err := resolve(RequestKey)
	if err != nil {
		return nil, err
	}
	raw, ok := v.(*http.Request)
	if !ok {
		return nil, fmt.Errorf("http: %q resolved to %T, not *http.Request", RequestKey, v)
	}
	v, err = resolve(RequestIDKey, container.Optional())
	if err != nil {
		return nil, err
	}
	id, _ := v.(string)
	return &Request{raw: raw, id: id, scope: c}, nil
}

// ResponseFrom resolves the response writer out of a request Context.
func ResponseFrom(c *container.Context) (*Response, error) {
	w, err := container.ResolveSync[http.ResponseWriter](c, ResponseKey)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return NewResponse(w), nil
}
