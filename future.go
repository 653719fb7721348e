package raft

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by a future whose result did not arrive in time.
var ErrTimeout = errors.New("a timeout occurred while waiting for the result")

// Future represents an operation that will complete at a later point in time.
type Future[T any] interface {
	// Await blocks until the result is available, the future times out or the
	// context is done. A cancelled context produces a result whose error is the
	// context's error.
	Await(ctx context.Context) Result[T]
}

// Result represents the outcome of an operation.
type Result[T any] interface {
	// Success returns the value produced by the operation.
	// Error should always be called before Success - the value
	// returned by Success is only valid if Error returns nil.
	Success() T

	// Error returns any error that occurred during the operation.
	Error() error
}

// ResponseFuture implements Future. The producer completes it exactly once
// with Respond; later calls are ignored.
type ResponseFuture[T any] struct {
	// The channel that will receive the result.
	responseCh chan Result[T]

	// The amount of time to wait on a result before timing out, zero to wait
	// until the context is done.
	timeout time.Duration

	// The result of the future once it has been awaited.
	response Result[T]

	respondOnce sync.Once
	mu          sync.Mutex
}

// NewFuture creates a future that times out after the provided duration.
func NewFuture[T any](timeout time.Duration) *ResponseFuture[T] {
	return &ResponseFuture[T]{
		timeout:    timeout,
		responseCh: make(chan Result[T], 1),
	}
}

// Respond completes the future. It never blocks.
func (f *ResponseFuture[T]) Respond(value T, err error) {
	f.respondOnce.Do(func() {
		f.responseCh <- NewResult(value, err)
	})
}

func (f *ResponseFuture[T]) Await(ctx context.Context) Result[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.response != nil {
		return f.response
	}

	var timeoutCh <-chan time.Time
	if f.timeout > 0 {
		timer := time.NewTimer(f.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var zero T
	select {
	case response := <-f.responseCh:
		f.response = response
	case <-timeoutCh:
		f.response = NewResult(zero, ErrTimeout)
	case <-ctx.Done():
		// Cancellation is not sticky: a later Await may still observe the result.
		return NewResult(zero, ctx.Err())
	}

	return f.response
}

// result implements the Result interface.
type result[T any] struct {
	// The actual result of an operation.
	success T

	// Any error that occurred during the processing of the result.
	err error
}

// NewResult creates a result from a value and an error.
func NewResult[T any](value T, err error) Result[T] {
	return &result[T]{success: value, err: err}
}

func (r *result[T]) Success() T {
	return r.success
}

func (r *result[T]) Error() error {
	return r.err
}
