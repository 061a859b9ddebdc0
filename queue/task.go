package queue

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/patrickhulce/asyncronaut/cancel"
	"github.com/patrickhulce/asyncronaut/future"
)

// TaskState is a task's position in the lifecycle graph
// QUEUED -> ACTIVE -> {SUCCEEDED | FAILED | CANCELLED}, plus the direct
// QUEUED -> CANCELLED edge for cancellation before scheduling.
type TaskState int

const (
	Queued TaskState = iota
	Active
	Cancelled
	Succeeded
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Active:
		return "ACTIVE"
	case Cancelled:
		return "CANCELLED"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ProgressUpdate is the recommended default shape for a task's
// user-defined progress channel.
type ProgressUpdate struct {
	CompletedItems int
	TotalItems     int
}

// Task is a single admission into a Queue. It is shared by reference with
// user code (the handler receives it, callers hold onto it); all mutable
// state is read and written behind its own mutex so callers can inspect it
// safely from any goroutine.
type Task struct {
	id       string
	request  any
	queuedAt time.Time

	token            cancel.Source
	completed        *future.Future[struct{}]
	resolveCompleted func(struct{})
	progress         *Emitter[ProgressUpdate]

	mu             sync.Mutex
	state          TaskState
	output         any
	err            error
	completedAt    time.Time
	hasCompletedAt bool
}

func newTask(now time.Time, request any, externalSignal cancel.Token) *Task {
	tok := cancel.New()
	if externalSignal != nil {
		cancel.Link(tok, externalSignal)
	}
	completed, resolveCompleted, _ := future.NewSettable[struct{}]()
	return &Task{
		id:               xid.New().String(),
		request:          request,
		queuedAt:         now,
		token:            tok,
		completed:        completed,
		resolveCompleted: resolveCompleted,
		progress:         NewEmitter[ProgressUpdate](),
		state:            Queued,
	}
}

// ID is this task's opaque unique identifier.
func (t *Task) ID() string { return t.id }

// Input returns the request value passed to Enqueue.
func (t *Task) Input() any { return t.request }

// QueuedAt is when this task was admitted.
func (t *Task) QueuedAt() time.Time { return t.queuedAt }

// Signal is the cancellation token observable by the task handler.
func (t *Task) Signal() cancel.Token { return t.token }

// Abort requests cancellation of this task, whether it is still QUEUED or
// already ACTIVE.
func (t *Task) Abort(reason error) { t.token.Abort(reason) }

// Completed resolves exactly once, on terminal transition. It never
// rejects; check State()/Err() for the outcome.
func (t *Task) Completed() *future.Future[struct{}] { return t.completed }

// OnProgress registers fn to run on every EmitProgress call, returning a
// handle for OffProgress.
func (t *Task) OnProgress(fn func(ProgressUpdate)) int { return t.progress.On(fn) }

// OffProgress unregisters a previously registered progress listener.
func (t *Task) OffProgress(id int) { t.progress.Off(id) }

// EmitProgress is called by a task handler to publish progress updates.
func (t *Task) EmitProgress(u ProgressUpdate) { t.progress.Emit(u) }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Output is set iff State() == Succeeded.
func (t *Task) Output() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

// Err is set iff State() is Cancelled or Failed.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// CompletedAt reports the terminal-transition timestamp, and whether the
// task has reached one yet.
func (t *Task) CompletedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedAt, t.hasCompletedAt
}

func (t *Task) transitionActive() {
	t.mu.Lock()
	t.state = Active
	t.mu.Unlock()
}

func (t *Task) transitionTerminal(state TaskState, output any, err error, completedAt time.Time) {
	t.mu.Lock()
	t.state = state
	t.output = output
	t.err = err
	t.completedAt = completedAt
	t.hasCompletedAt = true
	t.mu.Unlock()
	t.resolveCompleted(struct{}{})
}
