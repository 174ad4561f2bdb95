package container

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContextClosed is returned by operations on a Context after Close.
var ErrContextClosed = errors.New("container: context is closed")

// BindingNotFoundError is returned when a key is not bound anywhere in the
// ancestor chain of the requesting Context.
type BindingNotFoundError struct {
	Key     string
	Context string
	Path    []string
}

func (e *BindingNotFoundError) Error() string {
	msg := fmt.Sprintf("container: the key %q is not bound to any value in context %q", e.Key, e.Context)
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (resolution path: %s)", formatPath(e.Path))
	}
	return msg
}

// CircularDependencyError reports a binding that reappeared on the
// resolution stack. Path holds the full stack followed by the repeated key.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Path) == 0 {
		return "container: circular dependency detected"
	}
	return fmt.Sprintf("container: circular dependency detected: %s", formatPath(e.Path))
}

// Cycle returns the portion of Path that forms the cycle itself.
func (e *CircularDependencyError) Cycle() []string {
	if len(e.Path) == 0 {
		return nil
	}
	last := e.Path[len(e.Path)-1]
	for i, k := range e.Path[:len(e.Path)-1] {
		if k == last {
			return append([]string(nil), e.Path[i:]...)
		}
	}
	return append([]string(nil), e.Path...)
}

// AsyncResolutionError is returned by the synchronous resolution path when a
// strategy produced a *Promise. Switching to Get resolves the same key.
type AsyncResolutionError struct {
	Key  string
	Path []string
}

func (e *AsyncResolutionError) Error() string {
	msg := fmt.Sprintf("container: cannot get %q synchronously: the value is a promise", e.Key)
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (resolution path: %s)", formatPath(e.Path))
	}
	return msg
}

// BindingError is a caller error against a binding, such as mutating a
// locked binding.
type BindingError struct {
	Key    string
	Reason string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("container: binding %q: %s", e.Key, e.Reason)
}

// ResolutionError wraps a failure raised by a resolution strategy: a factory
// or constructor returning an error, a panic, or an injected value that does
// not fit the declared parameter.
type ResolutionError struct {
	Key   string
	Path  []string
	Cause error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "container: failed to resolve %q", e.Key)
	if len(e.Path) > 1 {
		fmt.Fprintf(&b, " (resolution path: %s)", formatPath(e.Path))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// ObserverError wraps a failure of one observer while handling an event.
type ObserverError struct {
	Context string
	Event   Event
	Cause   error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("container: observer of context %q failed on %s %q: %v",
		e.Context, e.Event.Type, e.Event.Binding.Key(), e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ObserverError) Unwrap() error {
	return e.Cause
}

func formatPath(path []string) string {
	return strings.Join(path, " --> ")
}

// isEngineError reports whether err already carries resolution diagnostics
// and must be propagated unchanged.
func isEngineError(err error) bool {
	var (
		notFound *BindingNotFoundError
		circular *CircularDependencyError
		async    *AsyncResolutionError
		res      *ResolutionError
	)
	return errors.As(err, &notFound) || errors.As(err, &circular) ||
		errors.As(err, &async) || errors.As(err, &res) ||
		errors.Is(err, ErrContextClosed)
}
