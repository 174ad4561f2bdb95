// Package http provides request and response helpers for handlers that
// run inside a request Context.
//
// # Request Context keys
//
// The routing middleware binds three keys into every per-request Context:
//
//	RequestKey   → *http.Request
//	ResponseKey  → http.ResponseWriter
//	RequestIDKey → string
//
// Handlers and factories reach them through the container:
//
//	c.Bind("currentUser").ToDynamicValue(func(rc *container.ResolutionContext) (any, error) {
//	    req, err := gohttp.CurrentRequest(rc)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return req.Query("user", "anonymous"), nil
//	})
//
// # Request
//
//	req, err := gohttp.RequestFrom(scope)
//	page := req.Query("page", "1")
//	user, err := req.Resolve("currentUser")
//
// # Response
//
//	res := gohttp.NewResponse(w)
//	res.Success(v)                     // 200 {"data": v}
//	res.Error(http.StatusBadRequest, m) // {"message": m}
//	res.ResolutionFailure(key, err)    // 500 {"message", "key", "path"}
package http
