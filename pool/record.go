package pool

import (
	"time"

	"github.com/patrickhulce/asyncronaut/future"
)

// Record tracks one pool-managed resource: its async creation, its lease
// history, and (once retired) its async destruction. All fields are
// guarded by the owning Pool's mutex; Record never locks on its own.
type Record struct {
	id        int64
	createdAt time.Time

	retiredAt    time.Time
	hasRetiredAt bool
	destroying   bool

	resourceRef *future.Future[any]
	destroyRef  *future.Future[error] // unset until destruction begins

	activeLeases []*InternalLease
	pastLeases   []*InternalLease
}

func (r *Record) uses() int {
	return len(r.activeLeases) + len(r.pastLeases)
}

// failed reports whether the record's create has already settled with an
// error, which disqualifies it from serving any further leases.
func (r *Record) failed() bool {
	_, err, ok := r.resourceRef.TryGet()
	return ok && err != nil
}

func (r *Record) hasSpareCapacity(max int) bool {
	return !r.hasRetiredAt && !r.destroying && !r.failed() && len(r.activeLeases) < max
}
