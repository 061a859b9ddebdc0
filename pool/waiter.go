package pool

// waiter is a settable slot parked in the acquire FIFO. revalidate resolves
// it directly with an allocated lease once capacity frees up; a losing
// acquire (timeout or drain) rejects it instead, so
// whichever side observes it first unblocks the other without a second
// round of allocation.
type waiter struct {
	id int64

	resolve func(*InternalLease)
	reject  func(error)
}
