// Package future implements the async substrate shared by the queue and pool
// packages: a settable (decomposed) future, a timeout wrapper with
// late-resolution cleanup hooks, a bounded retry combinator, and an
// inspectable future.
package future

import (
	"context"
	"sync"
	"sync/atomic"
)

type state int32

const (
	pending state = iota
	settled
)

// Future is a read-only handle to a value that settles exactly once, either
// with a value or with an error.
type Future[V any] struct {
	state atomic.Int32
	value V
	err   error
	done  chan struct{}
	once  sync.Once
}

// NewSettable returns a Future together with the resolve and reject
// functions that settle it. Only the first call to either wins; every call
// after that is a no-op.
func NewSettable[V any]() (*Future[V], func(V), func(error)) {
	f := &Future[V]{done: make(chan struct{})}
	return f, f.resolve, f.reject
}

// Resolved returns an already-settled Future, useful for adapting a
// synchronous result into this package's async combinators.
func Resolved[V any](v V) *Future[V] {
	f, resolve, _ := NewSettable[V]()
	resolve(v)
	return f
}

// Rejected returns an already-settled Future carrying err.
func Rejected[V any](err error) *Future[V] {
	f, _, reject := NewSettable[V]()
	reject(err)
	return f
}

func (f *Future[V]) resolve(v V) {
	f.once.Do(func() {
		f.value = v
		f.state.Store(int32(settled))
		close(f.done)
	})
}

func (f *Future[V]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		f.state.Store(int32(settled))
		close(f.done)
	})
}

// IsDone reports whether the future has settled, without blocking.
func (f *Future[V]) IsDone() bool {
	return state(f.state.Load()) == settled
}

// TryGet returns the settled value/error without blocking. ok is false if
// the future has not settled yet, in which case value and err are both
// zero/nil and must be ignored.
func (f *Future[V]) TryGet() (value V, err error, ok bool) {
	if !f.IsDone() {
		return value, nil, false
	}
	return f.value, f.err, true
}

// Wait blocks until the future settles and returns its result.
func (f *Future[V]) Wait() (V, error) {
	<-f.done
	return f.value, f.err
}

// Get blocks until the future settles or ctx is done, whichever comes
// first. A context cancellation does not settle the future itself (only
// resolve/reject can do that) -- it only stops this particular caller from
// waiting any longer.
func (f *Future[V]) Get(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Done returns a channel closed exactly when the future settles, for use in
// select statements.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}
