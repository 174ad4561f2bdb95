package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/km-arc/go-context/framework/container"
)

// Response wraps http.ResponseWriter with JSON helpers.
type Response struct {
	w http.ResponseWriter
}

// NewResponse wraps a ResponseWriter.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// ── JSON responses ────────────────────────────────────────────────────────────

// JSON sends a JSON response.
//
//	res.JSON(http.StatusOK, map[string]any{"message": "ok"})
func (res *Response) JSON(status int, data any) {
	res.w.Header().Set("Content-Type", "application/json")
	res.w.WriteHeader(status)
	_ = json.NewEncoder(res.w).Encode(data)
}

// Success sends 200 JSON: {"data": v}
func (res *Response) Success(v any) {
	res.JSON(http.StatusOK, envelope{"data": v})
}

// Error sends a JSON error response.
//
//	res.Error(http.StatusNotFound, "binding not found")
func (res *Response) Error(status int, message string) {
	res.JSON(status, envelope{"message": message})
}

// NotFound sends 404.
func (res *Response) NotFound(message ...string) {
	res.JSON(http.StatusNotFound, envelope{"message": first(message, "Not found.")})
}

// ServerError sends 500.
func (res *Response) ServerError(message ...string) {
	res.JSON(http.StatusInternalServerError, envelope{"message": first(message, "Server Error.")})
}

// ResolutionFailure sends 500 describing a failed resolution:
//
//	{"message": "...", "key": "greeter", "path": ["greeter", "currentUser"]}
//
// key and path are filled from the container error types when present.
func (res *Response) ResolutionFailure(key string, err error) {
	body := envelope{"message": err.Error(), "key": key}
	if path := resolutionPath(err); len(path) > 0 {
		body["path"] = path
	}
	res.JSON(http.StatusInternalServerError, body)
}

func resolutionPath(err error) []string {
	var (
		notFound *container.BindingNotFoundError
		circular *container.CircularDependencyError
		async    *container.AsyncResolutionError
		failed   *container.ResolutionError
	)
	switch {
	case errors.As(err, &circular):
		return circular.Path
	case errors.As(err, &notFound):
		return notFound.Path
	case errors.As(err, &async):
		return async.Path
	case errors.As(err, &failed):
		return failed.Path
	}
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type envelope map[string]any

func first(ss []string, fallback string) string {
	if len(ss) > 0 && ss[0] != "" {
		return ss[0]
	}
	return fallback
}
