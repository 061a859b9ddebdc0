package future

import (
	"errors"
	"time"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/internal/safe"
)

// TimeoutOptions configures WithTimeout. TimeoutMs <= 0 means "no deadline":
// WithTimeout returns its source unchanged.
type TimeoutOptions[V any] struct {
	TimeoutMs            time.Duration
	TimeoutErrorMessage  string
	AbortErrorMessage    string
	ExternalCancel       cancel.Source
	CleanupOnLateResolve func(V)
	CleanupOnLateReject  func(error)
}

// WithTimeout races source against a timer and an optional external
// cancellation token. The first to settle wins: a timer win produces a
// *TimeoutError, a cancel win produces a *AbortError, and a source win
// forwards the source's own result untouched.
//
// When the timer wins and ExternalCancel is set, it is aborted with the
// TimeoutError so anything downstream still watching that token (a task's
// handler, a pool record's create call) observes the cancellation too.
//
// If source settles after losing the race, the matching cleanup hook runs
// exactly once, so a caller can free whatever the abandoned operation ended
// up producing (WithTimeout itself never does this on the caller's behalf).
func WithTimeout[V any](source *Future[V], opts TimeoutOptions[V]) *Future[V] {
	if opts.TimeoutMs <= 0 {
		return source
	}

	result, resolve, reject := NewSettable[V]()
	timer := time.NewTimer(opts.TimeoutMs)

	var cancelDone <-chan struct{}
	if opts.ExternalCancel != nil {
		cancelDone = opts.ExternalCancel.Done()
	}

	go func() {
		select {
		case <-source.Done():
			timer.Stop()
			v, err := source.Wait()
			if err != nil {
				reject(err)
				return
			}
			resolve(v)

		case <-timer.C:
			te := &TimeoutError{Message: opts.TimeoutErrorMessage, TimeoutMs: opts.TimeoutMs}
			if opts.ExternalCancel != nil {
				opts.ExternalCancel.Abort(te)
			}
			reject(te)
			watchLateSettle(source, opts)

		case <-cancelDone:
			timer.Stop()
			var reason error
			if opts.ExternalCancel != nil {
				reason = opts.ExternalCancel.Reason()
			}
			reject(&AbortError{Message: opts.AbortErrorMessage, Reason: reason})
			watchLateSettle(source, opts)
		}
	}()

	return result
}

// watchLateSettle waits for a source that has already lost the timeout/
// cancel race and routes its eventual outcome to the matching cleanup hook.
func watchLateSettle[V any](source *Future[V], opts TimeoutOptions[V]) {
	safe.Go(func() {
		v, err := source.Wait()
		if err != nil {
			if opts.CleanupOnLateReject == nil {
				return
			}
			var pe *safe.PanicError
			if errors.As(err, &pe) {
				// The source rejected with a recovered panic rather than a
				// deliberately constructed error: surface the original panic
				// payload, not the wrapper.
				opts.CleanupOnLateReject(&TimeoutSourceLateRejection{Value: pe.Value})
				return
			}
			opts.CleanupOnLateReject(err)
			return
		}
		if opts.CleanupOnLateResolve != nil {
			opts.CleanupOnLateResolve(v)
		}
	})
}
