package pool

import (
	"time"

	"github.com/patrickhulce/asyncronaut/future"
)

// InternalLease is the pool's own view of a granted lease: it carries the
// shared resourceRef future and a back-reference to its Record so release
// and revalidate can find their way back.
type InternalLease struct {
	id       int64
	leasedAt time.Time

	resourceRef *future.Future[any]
	record      *Record
}

// ExternalLease is the view handed to callers. It is re-lookupable by ID
// back to its InternalLease for as long as the lease is active; callers
// must not mutate it.
type ExternalLease struct {
	ID       int64
	Resource any
}
