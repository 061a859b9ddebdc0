package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/clock"
	"github.com/patrickhulce/asyncronaut/future"
)

func newTestQueue(t *testing.T, onTask OnTaskFunc, configure func(*Config)) *Queue {
	t.Helper()
	cfg := Config{
		MaxConcurrentTasks: 1,
		OnTask:             onTask,
		PerTaskTimeoutMs:   time.Second,
	}
	if configure != nil {
		configure(&cfg)
	}
	return New(cfg)
}

// Scenario 1: sequential success.
func TestQueueSequentialSuccess(t *testing.T) {
	var calls int
	q := newTestQueue(t, func(ref *Task) (any, error) {
		calls++
		return "ok", nil
	}, nil)

	var errEvents int
	q.OnError(func(*TaskFailureError) { errEvents++ })

	refs := make([]*Task, 0, 3)
	for _, in := range []int{1, 2, 3} {
		ref, err := q.Enqueue(in, EnqueueOptions{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		refs = append(refs, ref)
	}
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Drain aborts whatever is still queued or active, so let every task
	// finish first.
	q.WaitForCompletion().Wait()
	q.Drain().Wait()

	for _, ref := range refs {
		if ref.State() != Succeeded {
			t.Fatalf("got state %v, want SUCCEEDED", ref.State())
		}
		if ref.Output() != "ok" {
			t.Fatalf("got output %v, want ok", ref.Output())
		}
	}
	if calls != 3 {
		t.Fatalf("got %d handler calls, want 3", calls)
	}
	if errEvents != 0 {
		t.Fatalf("got %d error events, want 0", errEvents)
	}
}

// Scenario 2: per-task timeout.
func TestQueueTaskTimeout(t *testing.T) {
	block := make(chan struct{})
	q := newTestQueue(t, func(ref *Task) (any, error) {
		<-block
		return "too late", nil
	}, func(c *Config) {
		c.PerTaskTimeoutMs = 5 * time.Millisecond
	})
	defer close(block)

	ref, err := q.Enqueue(1, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Start()
	ref.Completed().Wait()

	if ref.State() != Failed {
		t.Fatalf("got state %v, want FAILED", ref.State())
	}
	var tfe *TaskFailureError
	if !errors.As(ref.Err(), &tfe) {
		t.Fatalf("got %v, want *TaskFailureError", ref.Err())
	}
	if _, ok := future.AsTimeout(tfe.Reason); !ok {
		t.Fatalf("got reason %v, want *TimeoutError", tfe.Reason)
	}
}

// Scenario 3: pre-start cancellation.
func TestQueuePreStartCancellation(t *testing.T) {
	var calls int
	q := newTestQueue(t, func(ref *Task) (any, error) {
		calls++
		return "ok", nil
	}, nil)
	var errEvents int
	q.OnError(func(*TaskFailureError) { errEvents++ })

	ref, err := q.Enqueue(1, EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ref.Abort(errors.New("changed my mind"))
	q.Start()
	ref.Completed().Wait()

	if ref.State() != Cancelled {
		t.Fatalf("got state %v, want CANCELLED", ref.State())
	}
	if calls != 0 {
		t.Fatalf("handler should never have run, got %d calls", calls)
	}
	if errEvents != 0 {
		t.Fatalf("got %d error events, want 0", errEvents)
	}
}

func TestQueueActiveCancellation(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	q := newTestQueue(t, func(ref *Task) (any, error) {
		close(started)
		<-block
		return "done", nil
	}, func(c *Config) { c.PerTaskTimeoutMs = time.Minute })
	defer close(block)

	ref, _ := q.Enqueue(1, EnqueueOptions{})
	q.Start()
	<-started
	ref.Abort(errors.New("stop"))
	ref.Completed().Wait()

	if ref.State() != Cancelled {
		t.Fatalf("got state %v, want CANCELLED", ref.State())
	}
	if ref.Output() != nil {
		t.Fatalf("expected no output, got %v", ref.Output())
	}
}

func TestQueueHandlerErrorEmitsError(t *testing.T) {
	boom := errors.New("boom")
	q := newTestQueue(t, func(ref *Task) (any, error) {
		return nil, boom
	}, nil)

	events := make(chan *TaskFailureError, 1)
	q.OnError(func(e *TaskFailureError) { events <- e })

	ref, _ := q.Enqueue(1, EnqueueOptions{})
	q.Start()
	ref.Completed().Wait()

	if ref.State() != Failed {
		t.Fatalf("got state %v, want FAILED", ref.State())
	}
	select {
	case e := <-events:
		if !errors.Is(e.Reason, boom) {
			t.Fatalf("got reason %v, want %v", e.Reason, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("error event never emitted")
	}
}

func TestQueueMaxConcurrentTasks(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var concurrent, maxConcurrent int
	q := newTestQueue(t, func(ref *Task) (any, error) {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()
		<-release
		mu.Lock()
		concurrent--
		mu.Unlock()
		return "ok", nil
	}, func(c *Config) { c.MaxConcurrentTasks = 2 })

	for i := 0; i < 5; i++ {
		q.Enqueue(i, EnqueueOptions{})
	}
	q.Start()
	time.Sleep(20 * time.Millisecond)
	close(release)
	q.Drain().Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent > 2 {
		t.Fatalf("got max concurrent %d, want <= 2", maxConcurrent)
	}
}

func TestQueueMaxQueuedTasks(t *testing.T) {
	block := make(chan struct{})
	q := newTestQueue(t, func(ref *Task) (any, error) {
		<-block
		return nil, nil
	}, func(c *Config) { c.MaxQueuedTasks = 1 })
	defer close(block)

	if _, err := q.Enqueue(1, EnqueueOptions{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(2, EnqueueOptions{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
}

func TestQueueDiagnosticGC(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) {
		return "ok", nil
	}, func(c *Config) { c.MaxCompletedTaskMemory = 2 })
	q.Start()

	var last *Task
	for i := 0; i < 5; i++ {
		ref, _ := q.Enqueue(i, EnqueueOptions{})
		ref.Completed().Wait()
		last = ref
	}

	diag := q.GetDiagnostics()
	total := len(diag.Tasks[Succeeded]) + len(diag.Tasks[Failed]) + len(diag.Tasks[Cancelled])
	if total != 2 {
		t.Fatalf("got %d retained terminal tasks, want 2", total)
	}
	found := false
	for _, tk := range diag.Tasks[Succeeded] {
		if tk == last {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the most recently completed task to still be retained")
	}
}

func TestQueuePauseStartIdentity(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, nil)
	if err := q.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := q.Start(); err != nil {
		t.Fatalf("start again: %v", err)
	}
	if q.GetDiagnostics().State != Running {
		t.Fatalf("got state %v, want RUNNING", q.GetDiagnostics().State)
	}
}

func TestQueueStartPauseAfterDrainErrors(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, nil)
	q.Start()
	q.Drain().Wait()
	if err := q.Start(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
	if err := q.Pause(); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("got %v, want ErrIllegalTransition", err)
	}
}

func TestQueueDrainIsIdempotent(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, nil)
	q.Start()
	f1 := q.Drain()
	f2 := q.Drain()
	f1.Wait()
	f2.Wait()
	if q.GetDiagnostics().State != Drained {
		t.Fatalf("got state %v, want DRAINED", q.GetDiagnostics().State)
	}
}

func TestQueueEnqueueAfterDrainRejected(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, nil)
	q.Start()
	q.Drain().Wait()
	if _, err := q.Enqueue(1, EnqueueOptions{}); !errors.Is(err, ErrQueueDrained) {
		t.Fatalf("got %v, want ErrQueueDrained", err)
	}
}

func TestQueueExternalSignalLinkedAtEnqueue(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) {
		<-ref.Signal().Done()
		return nil, ref.Signal().Reason()
	}, func(c *Config) { c.PerTaskTimeoutMs = time.Minute })

	external := cancel.New()
	ref, _ := q.Enqueue(1, EnqueueOptions{Signal: external})
	q.Start()

	reason := errors.New("caller cancelled")
	external.Abort(reason)
	ref.Completed().Wait()

	if ref.State() != Cancelled {
		t.Fatalf("got state %v, want CANCELLED", ref.State())
	}
}

func TestQueueWaitForCompletionWithLateEnqueue(t *testing.T) {
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, nil)
	q.Start()
	q.Enqueue(1, EnqueueOptions{})

	done := make(chan struct{})
	go func() {
		q.WaitForCompletion().Wait()
		close(done)
	}()

	q.Enqueue(2, EnqueueOptions{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCompletion never resolved")
	}
	diag := q.GetDiagnostics()
	if len(diag.Tasks[Queued]) != 0 || len(diag.Tasks[Active]) != 0 {
		t.Fatal("expected no queued/active tasks left")
	}
}

func TestQueueUsesInjectedClock(t *testing.T) {
	mc := clock.NewManual(time.Unix(1000, 0))
	q := newTestQueue(t, func(ref *Task) (any, error) { return "ok", nil }, func(c *Config) {
		c.Now = mc
	})
	q.Start()
	ref, _ := q.Enqueue(1, EnqueueOptions{})
	ref.Completed().Wait()
	completedAt, ok := ref.CompletedAt()
	if !ok {
		t.Fatal("expected a completedAt timestamp")
	}
	if !completedAt.Equal(mc.Now()) {
		t.Fatalf("got completedAt %v, want %v", completedAt, mc.Now())
	}
}
