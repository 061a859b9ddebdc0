package pool

import (
	"time"

	"github.com/patrickhulce/asyncronaut/future"
	"github.com/patrickhulce/asyncronaut/internal/safe"
)

// revalidateLocked is the pool's single scheduling tick, run after every
// lease/release/retire/destroy/drain-related mutation while holding p.mu:
//
//  1. retire records that have exhausted their use count or age limit,
//  2. begin destruction of retired records that are idle (or overdue for a
//     forced destroy),
//  3. replenish up to minResources,
//  4. wake as many parked waiters as the remaining capacity allows, oldest
//     first, each handed an already-allocated lease.
//
// The step itself is synchronous; everything slow (create, destroy) is
// launched onto its own goroutine with its result captured in a future.
func (p *Pool) revalidateLocked() {
	now := p.cfg.Now.Now()

	for _, rec := range p.records {
		if rec.hasRetiredAt {
			continue
		}
		usedUp := p.cfg.RetireResourceAfterUses > 0 && rec.uses() >= p.cfg.RetireResourceAfterUses
		agedOut := p.cfg.RetireResourceAfterSeconds > 0 && now.Sub(rec.createdAt) >= p.cfg.RetireResourceAfterSeconds
		if usedUp || agedOut || rec.failed() {
			rec.hasRetiredAt = true
			rec.retiredAt = now
		}
	}

	retired := make([]*Record, 0, len(p.records))
	for _, rec := range p.records {
		if rec.hasRetiredAt {
			retired = append(retired, rec)
		}
	}
	for _, rec := range retired {
		idle := len(rec.activeLeases) == 0
		overdue := p.cfg.DestroyRetiredResourceForciblyAfterSeconds > 0 &&
			now.Sub(rec.retiredAt) >= p.cfg.DestroyRetiredResourceForciblyAfterSeconds
		if idle || overdue {
			p.beginDestructionLocked(rec)
		}
	}

	if !p.drained {
		for len(p.records) < p.cfg.MinResources {
			p.createRecordLocked(now)
		}
	}

	capacity := 0
	for _, rec := range p.records {
		if rec.hasRetiredAt {
			continue
		}
		if spare := p.cfg.MaxConcurrentLeasesPerResource - len(rec.activeLeases); spare > 0 {
			capacity += spare
		}
	}
	if p.cfg.MaxResources > 0 {
		capacity += (p.cfg.MaxResources - len(p.records)) * p.cfg.MaxConcurrentLeasesPerResource
	} else {
		capacity += p.waiters.Len()
	}

	for capacity > 0 && p.waiters.Len() > 0 {
		lease, ok := p.allocateLocked(now)
		if !ok {
			break
		}
		w := p.waiters.PopFront()
		w.resolve(lease)
		capacity--
	}
}

// allocateLocked hands out a lease immediately if the allocation method
// permits one: LAZY reuses an existing record with spare per-resource
// concurrency before creating, EAGER creates until maxResources before
// reusing. Ties within a strategy break by insertion order. Must be called
// with p.mu held.
func (p *Pool) allocateLocked(now time.Time) (*InternalLease, bool) {
	underMax := p.cfg.MaxResources <= 0 || len(p.records) < p.cfg.MaxResources

	if p.cfg.AllocationMethod == Eager {
		if underMax {
			return p.leaseRecordLocked(p.createRecordLocked(now), now), true
		}
		if rec := p.firstSpareLocked(); rec != nil {
			return p.leaseRecordLocked(rec, now), true
		}
		return nil, false
	}

	if rec := p.firstSpareLocked(); rec != nil {
		return p.leaseRecordLocked(rec, now), true
	}
	if underMax {
		return p.leaseRecordLocked(p.createRecordLocked(now), now), true
	}
	return nil, false
}

func (p *Pool) firstSpareLocked() *Record {
	for _, rec := range p.records {
		if rec.hasSpareCapacity(p.cfg.MaxConcurrentLeasesPerResource) {
			return rec
		}
	}
	return nil
}

func (p *Pool) leaseRecordLocked(rec *Record, now time.Time) *InternalLease {
	lease := &InternalLease{
		id:          p.nextLeaseID,
		leasedAt:    now,
		resourceRef: rec.resourceRef,
		record:      rec,
	}
	p.nextLeaseID++
	rec.activeLeases = append(rec.activeLeases, lease)
	return lease
}

// createRecordLocked registers a new record and launches its async create
// under CreateTimeoutMs. A create that settles after losing the timeout race
// still produced a real resource somewhere, so the late-resolve hook destroys
// it; a create that rejects retires-and-destroys the record immediately so
// waiters holding leases on it fail fast instead of starving. Must be called
// with p.mu held.
func (p *Pool) createRecordLocked(now time.Time) *Record {
	rec := &Record{id: p.nextRecordID, createdAt: now}
	p.nextRecordID++

	src, resolve, reject := future.NewSettable[any]()
	rec.resourceRef = future.WithTimeout(src, future.TimeoutOptions[any]{
		TimeoutMs:           p.cfg.CreateTimeoutMs,
		TimeoutErrorMessage: "pool: resource create timed out",
		CleanupOnLateResolve: func(res any) {
			p.destroyOrphan(res)
		},
	})

	p.records = append(p.records, rec)
	p.recordsByID[rec.id] = rec

	safe.Go(func() {
		res, err := safe.Call2(func() (any, error) {
			return p.cfg.Create()
		})
		if err != nil {
			reject(err)
			return
		}
		resolve(res)
	})

	// A failed create must free this record's maxResources slot without
	// anyone having to touch the pool again, so the next tick runs as soon
	// as the rejection lands. Allocation already skips failed records
	// synchronously via Record.failed; this tick handles the retirement
	// and destruction bookkeeping.
	safe.Go(func() {
		if _, err := rec.resourceRef.Wait(); err == nil {
			return
		}
		p.mu.Lock()
		p.revalidateLocked()
		p.mu.Unlock()
	})

	return rec
}

// beginDestructionLocked removes rec from the pool's set the instant
// destruction starts and records a destroyRef that stays awaitable after the
// removal, so a release racing the destroy can still surface its outcome.
// Must be called with p.mu held and only for records that are retired or
// being drained.
func (p *Pool) beginDestructionLocked(rec *Record) {
	if rec.destroying {
		return
	}
	rec.destroying = true
	removeRecordFromSlice(&p.records, rec)
	delete(p.recordsByID, rec.id)

	destroyRef, resolve, _ := future.NewSettable[error]()
	rec.destroyRef = destroyRef

	safe.Go(func() {
		res, err := rec.resourceRef.Wait()
		if err != nil {
			// Nothing was ever handed to us; the create path already owns
			// cleanup of a late-born resource.
			resolve(nil)
			return
		}
		resolve(p.runDestroy(res))
	})
}

// runDestroy invokes the configured Destroy under DestroyTimeoutMs.
func (p *Pool) runDestroy(res any) error {
	src, resolve, _ := future.NewSettable[error]()
	safe.Go(func() {
		resolve(safe.Call(func() error {
			return p.cfg.Destroy(res)
		}))
	})
	wrapped := future.WithTimeout(src, future.TimeoutOptions[error]{
		TimeoutMs:           p.cfg.DestroyTimeoutMs,
		TimeoutErrorMessage: "pool: resource destroy timed out",
	})
	destroyErr, waitErr := wrapped.Wait()
	if waitErr != nil {
		return waitErr
	}
	return destroyErr
}

// destroyOrphan tears down a resource that finished creating after its
// record had already given up on it. There is no caller left to hand an
// error back to, so a failed destroy is logged and dropped.
func (p *Pool) destroyOrphan(res any) {
	if err := p.runDestroy(res); err != nil {
		p.cfg.Logger.Error("pool: failed to destroy late-created resource", "error", err)
	}
}

// removeWaiterLocked drops w from the acquire FIFO if it is still parked
// there. Must be called with p.mu held.
func (p *Pool) removeWaiterLocked(w *waiter) {
	n := p.waiters.Len()
	for i := 0; i < n; i++ {
		x := p.waiters.PopFront()
		if x == w {
			continue
		}
		p.waiters.PushBack(x)
	}
}

// abandonLease returns a reserved lease to the pool without running
// onRelease, used on the failure paths of Acquire (create failure, onAcquire
// rejection, a lease that resolved after its acquire had already timed out).
func (p *Pool) abandonLease(l *InternalLease) {
	p.mu.Lock()
	delete(p.leasesByID, l.id)
	rec := l.record
	if removeLeaseFromSlice(&rec.activeLeases, l) {
		rec.pastLeases = append(rec.pastLeases, l)
		p.revalidateLocked()
	}
	p.mu.Unlock()
}

// abandonExternalLease is abandonLease keyed by the external view, used by
// Acquire's late-resolve cleanup hook.
func (p *Pool) abandonExternalLease(ext *ExternalLease) {
	p.mu.Lock()
	internal, ok := p.leasesByID[ext.ID]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.abandonLease(internal)
}
