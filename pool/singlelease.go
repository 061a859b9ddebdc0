package pool

import (
	"sync"

	"github.com/patrickhulce/asyncronaut/future"
)

// SingleLeasePool adapts a Pool so its operations are keyed by the resource
// itself rather than a lease ID, for callers that hold exactly one lease per
// resource and don't want to thread lease handles around. Resources must be
// comparable, since they become map keys.
type SingleLeasePool struct {
	pool *Pool

	mu     sync.Mutex
	leases map[any]*ExternalLease
}

// WrapToSingleLease wraps p in the resource-keyed adapter.
func WrapToSingleLease(p *Pool) *SingleLeasePool {
	return &SingleLeasePool{
		pool:   p,
		leases: make(map[any]*ExternalLease),
	}
}

// Acquire leases a resource and returns it directly. If the underlying pool
// hands back a resource this wrapper has already leased out (possible when
// maxConcurrentLeasesPerResource > 1), the duplicate lease is released and
// the acquire fails with ErrAlreadyLeased.
func (s *SingleLeasePool) Acquire(opts AcquireOptions) (any, error) {
	ext, err := s.pool.Acquire(opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.leases[ext.Resource]; exists {
		s.mu.Unlock()
		s.pool.Release(ext, ReleaseOptions{})
		return nil, ErrAlreadyLeased
	}
	s.leases[ext.Resource] = ext
	s.mu.Unlock()
	return ext.Resource, nil
}

// Release releases the lease held for resource.
func (s *SingleLeasePool) Release(resource any, opts ReleaseOptions) error {
	ext, err := s.takeLease(resource)
	if err != nil {
		return err
	}
	return s.pool.Release(ext, opts)
}

// Retire retires the record behind resource, then releases its lease.
func (s *SingleLeasePool) Retire(resource any, opts ReleaseOptions) error {
	ext, err := s.takeLease(resource)
	if err != nil {
		return err
	}
	return s.pool.Retire(ext, opts)
}

// Drain drains the underlying pool.
func (s *SingleLeasePool) Drain() *future.Future[struct{}] {
	s.mu.Lock()
	s.leases = make(map[any]*ExternalLease)
	s.mu.Unlock()
	return s.pool.Drain()
}

// GetDiagnostics returns the underlying pool's diagnostics.
func (s *SingleLeasePool) GetDiagnostics() Diagnostics {
	return s.pool.GetDiagnostics()
}

func (s *SingleLeasePool) takeLease(resource any) (*ExternalLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ext, ok := s.leases[resource]
	if !ok {
		return nil, ErrUnknownResource
	}
	delete(s.leases, resource)
	return ext, nil
}
