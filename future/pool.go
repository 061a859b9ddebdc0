package future

import (
	"github.com/gammazero/workerpool"
	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/patrickhulce/asyncronaut/internal/safe"
)

// Executor schedules fire-and-forget work under some concurrency policy. The
// queue package depends on this interface rather than any one concrete
// backend, so the bounded-concurrency scheduling strategy can be swapped
// without touching its own logic.
type Executor interface {
	// Submit schedules fn to run. It does not block the caller beyond
	// whatever admission control the backend applies.
	Submit(fn func())
	// Release stops accepting new work and waits for in-flight work to
	// finish.
	Release()
}

// goroutineExecutor is the zero-dependency default: a buffered channel used
// as a counting semaphore, with every unit of work launched through
// internal/safe.Go so a panic in one task never takes down the backend.
type goroutineExecutor struct {
	sem  chan struct{}
	done chan struct{}
	wg   chan int
}

// NewGoroutineExecutor returns the default Executor backend. maxConcurrency
// <= 0 means unbounded; an unbounded executor's Release returns at once
// without waiting for in-flight work.
func NewGoroutineExecutor(maxConcurrency int) Executor {
	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}
	return &goroutineExecutor{sem: sem}
}

func (e *goroutineExecutor) Submit(fn func()) {
	if e.sem == nil {
		safe.Go(fn)
		return
	}
	e.sem <- struct{}{}
	safe.Go(func() {
		defer func() { <-e.sem }()
		fn()
	})
}

func (e *goroutineExecutor) Release() {
	if e.sem == nil {
		return
	}
	for i := 0; i < cap(e.sem); i++ {
		e.sem <- struct{}{}
	}
}

// concExecutor adapts sourcegraph/conc/pool.Pool, which recovers panics and
// propagates them through pool.Wait() rather than silently dropping them.
type concExecutor struct {
	p *pool.Pool
}

// NewConcExecutor returns an Executor backed by sourcegraph/conc/pool,
// bounded to maxConcurrency goroutines.
func NewConcExecutor(maxConcurrency int) Executor {
	p := pool.New().WithMaxGoroutines(maxConcurrency)
	return &concExecutor{p: p}
}

func (e *concExecutor) Submit(fn func()) {
	e.p.Go(fn)
}

func (e *concExecutor) Release() {
	e.p.Wait()
}

// antsExecutor adapts panjf2000/ants, a reusable goroutine-pool library
// popular for workloads that submit very high task volumes and want to
// amortize goroutine creation cost.
type antsExecutor struct {
	p *ants.Pool
}

// NewAntsExecutor returns an Executor backed by an ants.Pool sized to
// maxConcurrency. It panics if ants.NewPool returns an error; a non-positive
// maxConcurrency gives an unbounded ants pool rather than an error.
func NewAntsExecutor(maxConcurrency int) Executor {
	p, err := ants.NewPool(maxConcurrency)
	if err != nil {
		panic(err)
	}
	return &antsExecutor{p: p}
}

func (e *antsExecutor) Submit(fn func()) {
	// ants.Pool.Submit blocks when the pool is saturated and non-blocking
	// mode isn't configured; that back-pressure is exactly what a bounded
	// executor should apply, so it's left as the pool's default.
	_ = e.p.Submit(fn)
}

func (e *antsExecutor) Release() {
	e.p.Release()
}

// workerPoolExecutor adapts gammazero/workerpool, whose Submit call never
// blocks: work beyond the busy workers waits in the pool's unbounded
// internal queue, so unlike antsExecutor it applies no back-pressure.
type workerPoolExecutor struct {
	wp *workerpool.WorkerPool
}

// NewWorkerPoolExecutor returns an Executor backed by a
// gammazero/workerpool.WorkerPool with maxConcurrency workers.
func NewWorkerPoolExecutor(maxConcurrency int) Executor {
	return &workerPoolExecutor{wp: workerpool.New(maxConcurrency)}
}

func (e *workerPoolExecutor) Submit(fn func()) {
	e.wp.Submit(fn)
}

func (e *workerPoolExecutor) Release() {
	e.wp.StopWait()
}
