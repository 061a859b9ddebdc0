// Package clock provides the injectable time source shared by the queue and
// pool packages, so tests can control "now" without sleeping.
package clock

import "time"

// Clock abstracts wall-clock time behind a single method, kept as small as
// the rest of this module's collaborator contracts (future.Executor,
// cancel.Token).
type Clock interface {
	Now() time.Time
}

// Wall is the default Clock, backed by time.Now.
type Wall struct{}

// Now returns the current wall-clock time.
func (Wall) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function into a Clock, handy for tests that only need
// to stub a handful of calls.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}
