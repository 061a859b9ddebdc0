// Package cancel implements a cancellation token in the abort-controller
// style: a writer side (Abort) and a read side (Aborted, Reason, AddListener,
// ThrowIfAborted), shared between the owner of an operation and the user code
// running inside it (a task handler, a pool's create/destroy call).
//
// It is built on context.Context + context.CancelCauseFunc, with one addition
// the stdlib has no equivalent for: a listener list, so callers can react to
// cancellation without polling a channel.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrNoReason is the reason recorded when Abort is called with a nil error.
var ErrNoReason = errors.New("cancelled")

// Token is the read side of a cancellation signal.
type Token interface {
	// Aborted reports whether Abort has already been called.
	Aborted() bool
	// Reason returns the error passed to Abort, or nil if not yet aborted.
	Reason() error
	// AddListener registers fn to run when the token aborts. If the token is
	// already aborted, fn runs synchronously, inline, before AddListener
	// returns. Order across multiple listeners is registration order.
	AddListener(fn func(reason error))
	// ThrowIfAborted returns Reason() if aborted, nil otherwise. It never
	// panics despite the name, which follows the abort-signal convention.
	ThrowIfAborted() error
	// Done returns a channel closed exactly when Abort is first called, for
	// use in select statements (future.WithTimeout's race is built on this).
	Done() <-chan struct{}
}

// Source is the write side: whoever creates a Token owns the right to abort
// it. Kept separate from Token so a Task can hand out the read side without
// handing out the ability to cancel someone else's work.
type Source interface {
	Token
	// Abort requests cancellation, recording reason (ErrNoReason if nil).
	// Only the first call has any effect; later calls are no-ops, matching
	// the settable future's "subsequent settles are no-ops" contract this
	// module applies everywhere a thing settles exactly once.
	Abort(reason error)
}

type token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu         sync.Mutex
	listeners  []func(error)
	dispatched bool
	once       sync.Once
}

// New creates an unlinked cancellation source.
func New() Source {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &token{ctx: ctx, cancel: cancel}
}

// WithParent creates a cancellation source that also aborts whenever ctx is
// done, carrying ctx's cause forward as the reason. Used to fold a
// caller-supplied context.Context into a task's own token.
func WithParent(ctx context.Context) Source {
	childCtx, cancel := context.WithCancelCause(ctx)
	return &token{ctx: childCtx, cancel: cancel}
}

// Link subscribes t to an external Token: when external aborts, t aborts
// with the same reason. This is how enqueue({signal}) and acquire wire a
// caller-supplied token into the internal one without giving the caller a
// reference to the internal source.
func Link(t Source, external Token) {
	if external == nil {
		return
	}
	external.AddListener(func(reason error) {
		t.Abort(reason)
	})
}

func (t *token) Abort(reason error) {
	if reason == nil {
		reason = ErrNoReason
	}
	t.cancel(reason)
}

func (t *token) Aborted() bool {
	return t.ctx.Err() != nil
}

func (t *token) Reason() error {
	return context.Cause(t.ctx)
}

func (t *token) ThrowIfAborted() error {
	if t.ctx.Err() == nil {
		return nil
	}
	return t.Reason()
}

func (t *token) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t *token) AddListener(fn func(reason error)) {
	t.mu.Lock()
	if t.ctx.Err() != nil {
		reason := context.Cause(t.ctx)
		t.mu.Unlock()
		fn(reason)
		return
	}
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()

	// A single dispatcher goroutine per token fires every registered
	// listener, in registration order, the moment the token aborts. Only
	// the first AddListener call needs to start it.
	t.once.Do(func() {
		go func() {
			<-t.ctx.Done()
			reason := context.Cause(t.ctx)
			t.mu.Lock()
			listeners := t.listeners
			t.mu.Unlock()
			for _, l := range listeners {
				l(reason)
			}
		}()
	})
}
