// Package queue implements a bounded-concurrency FIFO task queue: an
// admission buffer feeding a worker set bounded by MaxConcurrentTasks, with
// per-task cancellation, per-task timeouts, a bounded diagnostic history of
// terminal tasks, and a single "try-start-next" scheduler step invoked after
// every enqueue, cancellation, or completion.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"golang.org/x/sync/errgroup"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/future"
	"github.com/patrickhulce/asyncronaut/internal/safe"
)

// State is the queue's own lifecycle, independent of any single task's.
type State int

const (
	Paused State = iota
	Running
	Draining
	Drained
)

func (s State) String() string {
	switch s {
	case Paused:
		return "PAUSED"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Drained:
		return "DRAINED"
	default:
		return "UNKNOWN"
	}
}

// EnqueueOptions are the optional per-task knobs for Enqueue.
type EnqueueOptions struct {
	// Signal, if set, is linked into the task's own cancellation token: an
	// abort on Signal aborts the task.
	Signal cancel.Token
}

// Diagnostics is the snapshot returned by GetDiagnostics.
type Diagnostics struct {
	State State
	Tasks map[TaskState][]*Task
}

// Queue is a bounded-concurrency FIFO task queue.
type Queue struct {
	cfg Config

	mu           sync.Mutex
	state        State
	queued       *deque.Deque[*Task]
	active       map[string]*Task
	terminal     []*Task // completion order across SUCCEEDED/FAILED/CANCELLED
	all          map[string]*Task
	errorEmitter *Emitter[*TaskFailureError]
	drainFuture  *future.Future[struct{}]
}

// New constructs a Queue in the PAUSED state. Call Start to begin
// processing admitted tasks.
func New(cfg Config) *Queue {
	cfg.applyDefaults()
	return &Queue{
		cfg:          cfg,
		state:        Paused,
		queued:       &deque.Deque[*Task]{},
		active:       make(map[string]*Task),
		all:          make(map[string]*Task),
		errorEmitter: NewEmitter[*TaskFailureError](),
	}
}

// OnError registers fn to run on every FAILED transition (never CANCELLED).
func (q *Queue) OnError(fn func(*TaskFailureError)) int {
	return q.errorEmitter.On(fn)
}

// OffError unregisters a previously registered error listener.
func (q *Queue) OffError(id int) {
	q.errorEmitter.Off(id)
}

// Enqueue admits a task. It rejects with ErrQueueDraining/ErrQueueDrained if
// the queue is no longer accepting work, and ErrQueueFull if admitting it
// would exceed MaxQueuedTasks. If the queue is RUNNING with spare worker
// capacity, the task may already be ACTIVE by the time this returns.
func (q *Queue) Enqueue(request any, opts EnqueueOptions) (*Task, error) {
	q.mu.Lock()
	switch q.state {
	case Draining:
		q.mu.Unlock()
		return nil, ErrQueueDraining
	case Drained:
		q.mu.Unlock()
		return nil, ErrQueueDrained
	}
	admitted := q.queued.Len() + len(q.active)
	if q.cfg.MaxQueuedTasks > 0 && admitted >= q.cfg.MaxQueuedTasks {
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
	now := q.cfg.Now.Now()
	q.mu.Unlock()

	task := q.newTask(now, request, opts.Signal)

	q.mu.Lock()
	q.all[task.ID()] = task
	if task.State() != Queued {
		// Already cancelled synchronously during creation (the caller's
		// signal had already fired): onTaskAborted already recorded it.
		q.mu.Unlock()
		return task, nil
	}
	q.queued.PushBack(task)
	q.mu.Unlock()

	q.tryStartNext()
	return task, nil
}

func (q *Queue) newTask(now time.Time, request any, externalSignal cancel.Token) *Task {
	task := newTask(now, request, externalSignal)
	task.token.AddListener(func(reason error) {
		q.onTaskAborted(task, reason)
	})
	return task
}

// onTaskAborted handles a cancellation fired on task's own token. Only a
// still-QUEUED task transitions here; an ACTIVE task's cancellation is
// observed through its in-flight future.WithTimeout race instead (see
// executeTask), and a terminal task has nothing left to cancel.
func (q *Queue) onTaskAborted(task *Task, reason error) {
	q.mu.Lock()
	if task.State() != Queued {
		q.mu.Unlock()
		return
	}
	q.removeFromQueuedLocked(task)
	now := q.cfg.Now.Now()
	failureErr := &TaskFailureError{Ref: task, Reason: reason}
	task.transitionTerminal(Cancelled, nil, failureErr, now)
	q.appendTerminalLocked(task)
	q.mu.Unlock()
	q.tryStartNext()
}

func (q *Queue) removeFromQueuedLocked(task *Task) {
	n := q.queued.Len()
	for i := 0; i < n; i++ {
		t := q.queued.PopFront()
		if t == task {
			continue
		}
		q.queued.PushBack(t)
	}
}

// appendTerminalLocked records task's terminal transition in completion
// order and runs the diagnostic GC. Must be called with q.mu held.
func (q *Queue) appendTerminalLocked(task *Task) {
	q.terminal = append(q.terminal, task)
	q.gcLocked()
}

// gcLocked retains only the most recent MaxCompletedTaskMemory terminal
// tasks (by completion order, which already matches completedAt with
// insertion-order tie-breaking), detaching progress listeners of anything
// evicted. Must be called with q.mu held.
func (q *Queue) gcLocked() {
	limit := q.cfg.MaxCompletedTaskMemory
	if len(q.terminal) <= limit {
		return
	}
	evict := len(q.terminal) - limit
	for _, t := range q.terminal[:evict] {
		t.progress.Clear()
		delete(q.all, t.ID())
	}
	remaining := make([]*Task, len(q.terminal)-evict)
	copy(remaining, q.terminal[evict:])
	q.terminal = remaining
}

// Start transitions PAUSED->RUNNING (idempotent on RUNNING) and kicks the
// scheduler. It errors if the queue is DRAINING/DRAINED.
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.state == Draining || q.state == Drained {
		q.mu.Unlock()
		return fmt.Errorf("%w: cannot start a %s queue", ErrIllegalTransition, q.state)
	}
	q.state = Running
	q.mu.Unlock()
	q.tryStartNext()
	return nil
}

// Pause transitions RUNNING->PAUSED (idempotent on PAUSED). In-flight
// ACTIVE tasks continue; no new ACTIVE transitions occur until Start. It
// errors if the queue is DRAINING/DRAINED.
func (q *Queue) Pause() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == Draining || q.state == Drained {
		return fmt.Errorf("%w: cannot pause a %s queue", ErrIllegalTransition, q.state)
	}
	q.state = Paused
	return nil
}

// Drain marks the queue DRAINING, aborts every QUEUED and ACTIVE task with
// a "queue drained" reason, awaits every known task reaching a terminal
// state, then marks it DRAINED. A second call returns the same future as
// the first.
func (q *Queue) Drain() *future.Future[struct{}] {
	q.mu.Lock()
	switch q.state {
	case Drained:
		q.mu.Unlock()
		return future.Resolved(struct{}{})
	case Draining:
		f := q.drainFuture
		q.mu.Unlock()
		return f
	}
	q.state = Draining
	result, resolve, _ := future.NewSettable[struct{}]()
	q.drainFuture = result

	toAbort := make([]*Task, 0, q.queued.Len()+len(q.active))
	for i := 0; i < q.queued.Len(); i++ {
		toAbort = append(toAbort, q.queued.At(i))
	}
	for _, t := range q.active {
		toAbort = append(toAbort, t)
	}
	q.mu.Unlock()

	for _, t := range toAbort {
		t.Abort(ErrQueueDrained)
	}

	go func() {
		q.WaitForCompletion().Wait()
		q.mu.Lock()
		q.state = Drained
		q.mu.Unlock()
		resolve(struct{}{})
	}()

	return result
}

// WaitForCompletion resolves when both QUEUED and ACTIVE are empty,
// re-checking after each await so tasks enqueued mid-wait are accounted
// for.
func (q *Queue) WaitForCompletion() *future.Future[struct{}] {
	result, resolve, _ := future.NewSettable[struct{}]()
	go func() {
		for {
			q.mu.Lock()
			if q.queued.Len() == 0 && len(q.active) == 0 {
				q.mu.Unlock()
				resolve(struct{}{})
				return
			}
			pending := make([]*future.Future[struct{}], 0, q.queued.Len()+len(q.active))
			for i := 0; i < q.queued.Len(); i++ {
				pending = append(pending, q.queued.At(i).Completed())
			}
			for _, t := range q.active {
				pending = append(pending, t.Completed())
			}
			q.mu.Unlock()

			for _, f := range pending {
				f.Wait()
			}
		}
	}()
	return result
}

// GetDiagnostics returns a point-in-time snapshot of the queue's state and
// every task it currently retains, bucketed by state.
func (q *Queue) GetDiagnostics() Diagnostics {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := make(map[TaskState][]*Task)
	for i := 0; i < q.queued.Len(); i++ {
		t := q.queued.At(i)
		tasks[Queued] = append(tasks[Queued], t)
	}
	for _, t := range q.active {
		tasks[Active] = append(tasks[Active], t)
	}
	for _, t := range q.terminal {
		s := t.State()
		tasks[s] = append(tasks[s], t)
	}
	return Diagnostics{State: q.state, Tasks: tasks}
}

// tryStartNext is the scheduler's single synchronous step: while RUNNING
// with spare capacity and a nonempty QUEUED buffer, pop the oldest queued
// task and start it. Invoked after every enqueue, cancellation, or
// completion.
func (q *Queue) tryStartNext() {
	for {
		q.mu.Lock()
		if q.state != Running || len(q.active) >= q.cfg.MaxConcurrentTasks || q.queued.Len() == 0 {
			q.mu.Unlock()
			return
		}
		task := q.queued.PopFront()

		// The token's listener dispatch is asynchronous, so a task aborted
		// moments ago can still be sitting in the deque as nominally QUEUED.
		// Cancellation must be observable before any start, so it is settled
		// here rather than left to the listener racing the scheduler.
		if task.Signal().Aborted() {
			now := q.cfg.Now.Now()
			failureErr := &TaskFailureError{Ref: task, Reason: task.Signal().Reason()}
			task.transitionTerminal(Cancelled, nil, failureErr, now)
			q.appendTerminalLocked(task)
			q.mu.Unlock()
			continue
		}

		task.transitionActive()
		q.active[task.ID()] = task
		q.mu.Unlock()

		q.cfg.Executor.Submit(func() {
			q.executeTask(task)
		})
	}
}

// executeTask runs the configured handler under the per-task timeout and
// routes its outcome to success/failure handling.
func (q *Queue) executeTask(task *Task) {
	src, resolve, reject := future.NewSettable[any]()
	safe.Go(func() {
		out, err := safe.Call2(func() (any, error) {
			return q.cfg.OnTask(task)
		})
		if err != nil {
			reject(err)
			return
		}
		resolve(out)
	})

	wrapped := future.WithTimeout(src, future.TimeoutOptions[any]{
		TimeoutMs:           q.cfg.PerTaskTimeoutMs,
		TimeoutErrorMessage: fmt.Sprintf("task %s timed out after %s", task.ID(), q.cfg.PerTaskTimeoutMs),
		ExternalCancel:      task.token,
	})

	out, err := wrapped.Wait()
	// completeTask may start the next task, and a bounded executor only has
	// a slot for it once this function returns; completing on a separate
	// goroutine frees the slot instead of blocking on it.
	go q.completeTask(task, out, err)
}

func (q *Queue) completeTask(task *Task, out any, err error) {
	now := q.cfg.Now.Now()

	q.mu.Lock()
	delete(q.active, task.ID())

	if err == nil {
		task.transitionTerminal(Succeeded, out, nil, now)
		q.appendTerminalLocked(task)
		q.mu.Unlock()
		q.tryStartNext()
		return
	}

	failureErr, alreadyWrapped := err.(*TaskFailureError)
	reason := err
	if alreadyWrapped {
		reason = failureErr.Reason
	} else {
		failureErr = &TaskFailureError{Ref: task, Reason: err}
	}

	// A timed-out task is FAILED even though the timeout wrapper also
	// aborted the task's own token as a side effect (so the handler sees
	// the cancellation too); only check Aborted() once timeout has been
	// ruled out, so genuine user/caller cancellation still routes to
	// CANCELLED regardless of the exact error shape the handler returned.
	_, isTimeout := future.AsTimeout(reason)
	if !isTimeout && task.Signal().Aborted() {
		task.transitionTerminal(Cancelled, nil, failureErr, now)
		q.appendTerminalLocked(task)
		q.mu.Unlock()
		q.tryStartNext()
		return
	}

	task.transitionTerminal(Failed, nil, failureErr, now)
	q.appendTerminalLocked(task)
	q.mu.Unlock()

	q.cfg.Logger.Error("task failed",
		slog.String("task", task.ID()),
		slog.String("error", failureErr.Reason.Error()))
	q.errorEmitter.Emit(failureErr)
	q.tryStartNext()
}

// DrainAll drains several queues concurrently and waits for all of them
// rather than draining one queue at a time.
func DrainAll(ctx context.Context, queues ...*Queue) error {
	g, _ := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			q.Drain().Wait()
			return nil
		})
	}
	return g.Wait()
}
