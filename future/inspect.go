package future

import "runtime"

// Inspectable exposes a future's settle-state synchronously, for diagnostics
// and tests that need to assert on in-flight state without racing a Wait().
type Inspectable[V any] struct {
	source *Future[V]
}

// WithInspection wraps source with a synchronous inspection handle. It does
// not alter settlement semantics; it only adds read access to state that
// would otherwise require blocking on Wait/Get.
func WithInspection[V any](source *Future[V]) *Inspectable[V] {
	return &Inspectable[V]{source: source}
}

// IsDone reports whether the underlying future has settled.
func (i *Inspectable[V]) IsDone() bool {
	return i.source.IsDone()
}

// GetDebugValues returns the settled value and error without blocking. ok is
// false while the future is still pending.
func (i *Inspectable[V]) GetDebugValues() (value V, err error, ok bool) {
	return i.source.TryGet()
}

// Future returns the wrapped future so callers can still Wait/Get on it.
func (i *Inspectable[V]) Future() *Future[V] {
	return i.source
}

// FlushAllMicrotasks is a test helper that yields to the scheduler enough
// times for any chain of already-spawned dependent goroutines (combinators
// scheduling follow-on work via internal/safe.Go, listeners reacting to a
// settle) to run before an assertion. Tests waiting on a single future should
// block on its Done channel instead; this exists for the cases where the
// interesting state is a side effect of settlement rather than the settlement
// itself.
func FlushAllMicrotasks() {
	for i := 0; i < 16; i++ {
		done := make(chan struct{})
		go func() { close(done) }()
		<-done
		runtime.Gosched()
	}
}
