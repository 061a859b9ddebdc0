package future

import "github.com/patrickhulce/asyncronaut/internal/safe"

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// Retries is the number of retries after the first attempt; total
	// attempts = Retries + 1.
	Retries int
	// Cleanup, if set, is awaited after every failed attempt, the last one
	// included, and before any next attempt is started.
	Cleanup func(err error)
}

// WithRetry invokes action, retrying on rejection up to opts.Retries times
// (total attempts = opts.Retries + 1). It returns the first success;
// otherwise it rethrows the last error. A panic inside action or Cleanup is
// recovered and ends the loop: no further attempts are made and the
// recovered panic is the returned error.
func WithRetry[V any](action func() *Future[V], opts RetryOptions) *Future[V] {
	result, resolve, reject := NewSettable[V]()

	go func() {
		var finalValue V
		err := safe.Call(func() error {
			var lastErr error
			attempts := opts.Retries + 1
			for i := 0; i < attempts; i++ {
				v, attemptErr := action().Wait()
				if attemptErr == nil {
					finalValue = v
					return nil
				}
				lastErr = attemptErr
				if opts.Cleanup != nil {
					opts.Cleanup(attemptErr)
				}
			}
			return lastErr
		})
		if err != nil {
			reject(err)
			return
		}
		resolve(finalValue)
	}()

	return result
}
