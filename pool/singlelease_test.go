package pool

import (
	"errors"
	"testing"
)

func newSingleLeasePool(t *testing.T, f *countingFactory, configure func(*Config)) *SingleLeasePool {
	t.Helper()
	cfg := Config{
		Create:  f.create,
		Destroy: f.destroy,
	}
	if configure != nil {
		configure(&cfg)
	}
	s := WrapToSingleLease(New(cfg))
	t.Cleanup(func() { s.Drain().Wait() })
	return s
}

func TestSingleLeaseAcquireRelease(t *testing.T) {
	f := &countingFactory{}
	s := newSingleLeasePool(t, f, nil)

	res, err := s.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if res != 1 {
		t.Fatalf("got resource %v, want 1", res)
	}
	if err := s.Release(res, ReleaseOptions{}); err != nil {
		t.Fatalf("release: %v", err)
	}

	res, err = s.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if res != 1 {
		t.Fatalf("got resource %v, want the same resource reused", res)
	}
	s.Release(res, ReleaseOptions{})
}

func TestSingleLeaseRejectsConcurrentLeaseOfSameResource(t *testing.T) {
	f := &countingFactory{}
	s := newSingleLeasePool(t, f, func(c *Config) {
		c.MaxResources = 1
		c.MaxConcurrentLeasesPerResource = 2
	})

	res, err := s.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// The underlying pool happily hands out a second lease on the same
	// record; the wrapper must refuse it.
	if _, err := s.Acquire(AcquireOptions{}); !errors.Is(err, ErrAlreadyLeased) {
		t.Fatalf("got %v, want ErrAlreadyLeased", err)
	}
	s.Release(res, ReleaseOptions{})
}

func TestSingleLeaseReleaseUnknownResource(t *testing.T) {
	f := &countingFactory{}
	s := newSingleLeasePool(t, f, nil)

	if err := s.Release("never leased", ReleaseOptions{}); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("got %v, want ErrUnknownResource", err)
	}
}

func TestSingleLeaseRetire(t *testing.T) {
	f := &countingFactory{}
	s := newSingleLeasePool(t, f, nil)

	res, _ := s.Acquire(AcquireOptions{})
	if err := s.Retire(res, ReleaseOptions{}); err != nil {
		t.Fatalf("retire: %v", err)
	}

	next, err := s.Acquire(AcquireOptions{})
	if err != nil {
		t.Fatalf("acquire after retire: %v", err)
	}
	if next == res {
		t.Fatalf("got retired resource %v back, want a fresh one", next)
	}
	s.Release(next, ReleaseOptions{})
}
