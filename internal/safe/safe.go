// Package safe provides panic-safe goroutine launching used by the queue and
// pool packages whenever they hand control to a user-supplied callback
// (onTask, create, destroy, onAcquire, onRelease).
package safe

import (
	"fmt"
	"runtime/debug"
	"time"
)

// PanicError wraps a recovered panic so it can flow through this module's
// ordinary error returns instead of crashing the process.
type PanicError struct {
	Time  time.Time
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered at %s: %v\n%s", e.Time.Format(time.RFC3339Nano), e.Value, e.Stack)
}

// Unwrap lets errors.Is/As see through to the panic value when it is itself
// an error (panic(err) is common enough to be worth preserving).
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *PanicError {
	return &PanicError{
		Time:  time.Now(),
		Value: v,
		Stack: debug.Stack(),
	}
}

// Go launches fn in a new goroutine, recovering any panic and passing it to
// the optional handlers instead of letting it crash the process. Used for
// fire-and-forget work (progress listener dispatch, the default task
// executor) where there is no caller left to hand an error back to.
func Go(fn func(), onPanic ...func(error)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := newPanicError(r)
				for _, h := range onPanic {
					h(err)
				}
			}
		}()
		fn()
	}()
}

// Call runs fn synchronously, converting a panic into a returned
// *PanicError. Used anywhere a user callback's panic must become part of the
// same error path as an ordinary returned error (onTask, create, destroy,
// onAcquire, onRelease all funnel through this).
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return fn()
}
