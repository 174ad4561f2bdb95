package http

import (
	"errors"
	"net/http"

	"github.com/km-arc/go-context/framework/container"
)

// Request wraps *http.Request. When obtained through RequestFrom it also
// carries the request id and the request Context it was resolved from.
type Request struct {
	raw   *http.Request
	id    string
	scope *container.Context
}

// NewRequest wraps a standard *http.Request.
func NewRequest(r *http.Request) *Request {
	return &Request{raw: r}
}

// ID returns the request id, empty outside a request Context.
func (req *Request) ID() string { return req.id }

// Scope returns the request Context, nil outside one.
func (req *Request) Scope() *container.Context { return req.scope }

// Resolve gets key from the request Context, honouring the request's
// cancellation.
func (req *Request) Resolve(key string, opts ...container.ResolveOption) (any, error) {
	if req.scope == nil {
		return nil, errors.New("http: request has no context")
	}
	return req.scope.Get(req.raw.Context(), key, opts...)
}

// Query returns a query-string value.
func (req *Request) Query(key string, fallback ...string) string {
	v := req.raw.URL.Query().Get(key)
	if v == "" && len(fallback) > 0 {
		return fallback[0]
	}
	return v
}
