// Package pool implements a concurrent resource pool: a set of resource
// records with per-resource lease counters, a back-pressured FIFO of
// waiting acquire requests, and lifecycle-driven retirement/destruction,
// all recomputed by a single internal "revalidate" step run after every
// mutation.
package pool

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/future"
	"github.com/patrickhulce/asyncronaut/internal/safe"
)

// AcquireOptions are the optional per-call knobs for Acquire.
type AcquireOptions struct {
	TimeoutMs time.Duration
}

// ReleaseOptions are the optional per-call knobs for Release/Retire.
type ReleaseOptions struct {
	TimeoutMs time.Duration
}

// ResourceDiagnostic is one record's entry in GetDiagnostics.
type ResourceDiagnostic struct {
	ID           int64
	CreatedAt    int64 // unix nanos, stable across clock implementations
	RetiredAt    int64
	HasRetiredAt bool
}

// LeaseDiagnostic is one active lease's entry in GetDiagnostics.
type LeaseDiagnostic struct {
	ID         int64
	ResourceID int64
}

// Diagnostics is the snapshot returned by GetDiagnostics.
type Diagnostics struct {
	Resources []ResourceDiagnostic
	Leases    []LeaseDiagnostic
}

// Pool is a concurrent resource pool.
type Pool struct {
	cfg Config

	mu          sync.Mutex
	drained     bool
	drainFuture *future.Future[struct{}]

	records     []*Record // insertion order, doubles as LAZY/EAGER tie-break order
	recordsByID map[int64]*Record
	leasesByID  map[int64]*InternalLease
	waiters     *deque.Deque[*waiter]

	nextRecordID int64
	nextLeaseID  int64
	nextWaiterID int64
}

// New constructs a Pool. Call Initialize to populate minResources before
// first use, though Acquire will create resources on demand regardless.
func New(cfg Config) *Pool {
	cfg.applyDefaults()
	return &Pool{
		cfg:         cfg,
		recordsByID: make(map[int64]*Record),
		leasesByID:  make(map[int64]*InternalLease),
		waiters:     &deque.Deque[*waiter]{},
	}
}

// Initialize ensures minResources are being created and awaits every
// pending create. Rejects if the pool is drained.
func (p *Pool) Initialize() error {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return ErrPoolDrained
	}
	p.revalidateLocked()
	pending := make([]*future.Future[any], 0, len(p.records))
	for _, rec := range p.records {
		pending = append(pending, rec.resourceRef)
	}
	p.mu.Unlock()

	g := new(errgroup.Group)
	for _, f := range pending {
		f := f
		g.Go(func() error {
			_, err := f.Wait()
			return err
		})
	}
	return g.Wait()
}

// Acquire reserves a lease, waiting for capacity if none is immediately
// available, and returns the external view once the resource is ready and
// onAcquire has run. It rejects if the pool is drained, if the wait queue
// is full, or on timeout/cancellation.
func (p *Pool) Acquire(opts AcquireOptions) (*ExternalLease, error) {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil, ErrPoolDrained
	}
	p.mu.Unlock()

	timeout := opts.TimeoutMs
	if timeout <= 0 {
		timeout = p.cfg.DefaultAcquireTimeoutMs
	}

	token := cancel.New()
	src, resolve, reject := future.NewSettable[*ExternalLease]()
	safe.Go(func() {
		ext, err := p.reserveAndPrepare(token)
		if err != nil {
			reject(err)
			return
		}
		resolve(ext)
	})

	wrapped := future.WithTimeout(src, future.TimeoutOptions[*ExternalLease]{
		TimeoutMs:           timeout,
		TimeoutErrorMessage: "pool: acquire timed out waiting for a resource",
		ExternalCancel:      token,
		CleanupOnLateResolve: func(ext *ExternalLease) {
			p.abandonExternalLease(ext)
		},
	})
	return wrapped.Wait()
}

// reserveAndPrepare implements the body of Acquire: allocate-or-park,
// await the resource, then run onAcquire.
func (p *Pool) reserveAndPrepare(token cancel.Token) (*ExternalLease, error) {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil, ErrPoolDrained
	}
	p.revalidateLocked()
	now := p.cfg.Now.Now()

	internal, ok := p.allocateLocked(now)
	if ok {
		p.mu.Unlock()
	} else {
		if p.cfg.MaxQueuedAcquireRequests > 0 && p.waiters.Len() >= p.cfg.MaxQueuedAcquireRequests {
			p.mu.Unlock()
			return nil, errAcquireQueueFull(p.cfg.MaxQueuedAcquireRequests)
		}
		leaseFuture, resolve, reject := future.NewSettable[*InternalLease]()
		w := &waiter{id: p.nextWaiterID, resolve: resolve, reject: reject}
		p.nextWaiterID++
		p.waiters.PushBack(w)
		p.mu.Unlock()

		token.AddListener(func(reason error) {
			p.mu.Lock()
			p.removeWaiterLocked(w)
			p.mu.Unlock()
			w.reject(reason)
		})

		lease, err := leaseFuture.Wait()
		if err != nil {
			return nil, err
		}
		internal = lease
	}

	resource, err := internal.resourceRef.Wait()
	if err != nil {
		p.abandonLease(internal)
		return nil, err
	}
	ext := &ExternalLease{ID: internal.id, Resource: resource}

	if p.cfg.OnAcquire != nil {
		if err := safe.Call(func() error { return p.cfg.OnAcquire(ext) }); err != nil {
			p.abandonLease(internal)
			return nil, err
		}
	}

	p.mu.Lock()
	p.leasesByID[internal.id] = internal
	p.mu.Unlock()
	return ext, nil
}

// Release runs onRelease (unless nil), drops the lease, revalidates, and,
// if the lease's record is destroying, awaits its destroyRef. Timeouts
// still release the lease; silenceReleaseErrors suppresses onRelease and
// destroy errors but never suppresses the release itself.
func (p *Pool) Release(ext *ExternalLease, opts ReleaseOptions) error {
	p.mu.Lock()
	internal, ok := p.leasesByID[ext.ID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownLease
	}
	delete(p.leasesByID, ext.ID)
	p.mu.Unlock()

	var onReleaseErr error
	if p.cfg.OnRelease != nil {
		timeout := opts.TimeoutMs
		if timeout <= 0 {
			timeout = p.cfg.DefaultReleaseTimeoutMs
		}
		onReleaseErr = p.runGuarded(timeout, func() error {
			return p.cfg.OnRelease(ext)
		}, "pool: release timed out")
	}

	p.mu.Lock()
	rec := internal.record
	if removeLeaseFromSlice(&rec.activeLeases, internal) {
		rec.pastLeases = append(rec.pastLeases, internal)
	}
	p.revalidateLocked()
	destroyRef := rec.destroyRef
	p.mu.Unlock()

	var destroyErr error
	if destroyRef != nil {
		destroyErr, _ = destroyRef.Wait()
	}

	if p.cfg.SilenceReleaseErrors {
		return nil
	}
	if onReleaseErr != nil {
		return onReleaseErr
	}
	return destroyErr
}

// Retire marks the lease's record retired, revalidates (which may begin
// destruction immediately if it has no other active leases), then
// releases the lease.
func (p *Pool) Retire(ext *ExternalLease, opts ReleaseOptions) error {
	p.mu.Lock()
	internal, ok := p.leasesByID[ext.ID]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownLease
	}
	rec := internal.record
	if !rec.hasRetiredAt {
		rec.hasRetiredAt = true
		rec.retiredAt = p.cfg.Now.Now()
	}
	p.revalidateLocked()
	p.mu.Unlock()
	return p.Release(ext, opts)
}

// Drain marks the pool drained, rejects every parked waiter, begins
// destruction of every record, and resolves once all of them finish.
// Destroy errors are aggregated and logged rather than surfaced, since
// there is no caller left to propagate them to; a second call returns
// the same future as the first.
func (p *Pool) Drain() *future.Future[struct{}] {
	p.mu.Lock()
	if p.drained {
		if p.drainFuture != nil {
			f := p.drainFuture
			p.mu.Unlock()
			return f
		}
		p.mu.Unlock()
		return future.Resolved(struct{}{})
	}
	p.drained = true

	waiters := make([]*waiter, 0, p.waiters.Len())
	for p.waiters.Len() > 0 {
		waiters = append(waiters, p.waiters.PopFront())
	}

	records := append([]*Record(nil), p.records...)
	now := p.cfg.Now.Now()
	for _, rec := range records {
		if rec.destroying {
			continue
		}
		if !rec.hasRetiredAt {
			rec.hasRetiredAt = true
			rec.retiredAt = now
		}
		p.beginDestructionLocked(rec)
	}
	destroyRefs := make([]*future.Future[error], 0, len(records))
	for _, rec := range records {
		if rec.destroyRef != nil {
			destroyRefs = append(destroyRefs, rec.destroyRef)
		}
	}

	result, resolve, _ := future.NewSettable[struct{}]()
	p.drainFuture = result
	p.mu.Unlock()

	for _, w := range waiters {
		w.reject(ErrPoolDrained)
	}

	go func() {
		var aggregate error
		for _, d := range destroyRefs {
			if err, _ := d.Wait(); err != nil {
				aggregate = multierr.Append(aggregate, err)
			}
		}
		if aggregate != nil {
			p.cfg.Logger.Error("pool drain: one or more resources failed to destroy cleanly", "error", aggregate)
		}
		resolve(struct{}{})
	}()

	return result
}

// GetDiagnostics returns a point-in-time snapshot of every record and
// active lease the pool currently tracks.
func (p *Pool) GetDiagnostics() Diagnostics {
	p.mu.Lock()
	defer p.mu.Unlock()

	var d Diagnostics
	for _, rec := range p.records {
		d.Resources = append(d.Resources, ResourceDiagnostic{
			ID:           rec.id,
			CreatedAt:    rec.createdAt.UnixNano(),
			RetiredAt:    rec.retiredAt.UnixNano(),
			HasRetiredAt: rec.hasRetiredAt,
		})
		for _, l := range rec.activeLeases {
			d.Leases = append(d.Leases, LeaseDiagnostic{ID: l.id, ResourceID: rec.id})
		}
	}
	return d
}

func (p *Pool) runGuarded(timeout time.Duration, fn func() error, timeoutMsg string) error {
	src, resolve, _ := future.NewSettable[error]()
	safe.Go(func() {
		resolve(safe.Call(fn))
	})
	wrapped := future.WithTimeout(src, future.TimeoutOptions[error]{
		TimeoutMs:           timeout,
		TimeoutErrorMessage: timeoutMsg,
	})
	val, waitErr := wrapped.Wait()
	if waitErr != nil {
		return waitErr
	}
	return val
}

func removeLeaseFromSlice(leases *[]*InternalLease, target *InternalLease) bool {
	s := *leases
	for i, l := range s {
		if l == target {
			*leases = append(s[:i], s[i+1:]...)
			return true
		}
	}
	return false
}

func removeRecordFromSlice(records *[]*Record, target *Record) {
	s := *records
	for i, r := range s {
		if r == target {
			*records = append(s[:i], s[i+1:]...)
			return
		}
	}
}
