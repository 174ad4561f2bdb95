package container

import (
	"context"
	"fmt"
)

// Promise is a value that settles later. A resolution strategy returns a
// *Promise to mark its value as asynchronous; Get awaits it while GetSync
// refuses it with *AsyncResolutionError.
type Promise struct {
	done  chan struct{}
	value any
	err   error
}

// NewPromise runs fn in its own goroutine and settles with its result.
// A panic inside fn rejects the promise.
func NewPromise(fn func() (any, error)) *Promise {
	p := &Promise{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.value, p.err = nil, fmt.Errorf("promise panicked: %v", r)
			}
		}()
		p.value, p.err = fn()
	}()
	return p
}

// Resolved returns an already settled promise holding v.
func Resolved(v any) *Promise {
	p := &Promise{done: make(chan struct{}), value: v}
	close(p.done)
	return p
}

// Rejected returns an already settled promise holding err.
func Rejected(err error) *Promise {
	p := &Promise{done: make(chan struct{}), err: err}
	close(p.done)
	return p
}

// Done is closed once the promise settled.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then chains fn onto the settled value of p.
func (p *Promise) Then(fn func(any) (any, error)) *Promise {
	return NewPromise(func() (any, error) {
		<-p.done
		if p.err != nil {
			return nil, p.err
		}
		return fn(p.value)
	})
}

// IsPromise reports whether v is a *Promise.
func IsPromise(v any) bool {
	_, ok := v.(*Promise)
	return ok
}
