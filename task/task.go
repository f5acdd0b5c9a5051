// Package task defines the orchestrator's unit of work: a wrapper around an
// ExecutionRequest carrying its priority, a single-assignment completion
// slot, and the soft/force timers spec.md section 3 requires.
package task

import (
	"sync"
	"time"

	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/types"
)

// State mirrors the task lifecycle spec.md section 3 describes: a task is
// always in exactly one of pending, assigned, or terminally resolved.
type State int

const (
	Queued State = iota
	Assigned
	Resolved
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Assigned:
		return "assigned"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Task is the orchestrator-side record of one ExecutionRequest in flight.
// Apart from Submit, which resolves unknown-language and transpile failures
// before the task ever reaches the loop, every mutating method is called
// from the orchestrator's single-writer control loop (spec.md section 5);
// the mutex exists so Wait
// (used by submit's caller) can safely race the loop's eventual Resolve.
type Task struct {
	Request     types.ExecutionRequest
	SubmittedAt time.Time

	mu          sync.Mutex
	state       State
	assignedTo  string // handle id, empty unless state == Assigned
	done        chan struct{}
	outcome     types.Outcome
	resolveOnce sync.Once

	// SoftTimer fires TimeoutMs + the language's grace margin after dispatch
	// and starts the cancellation sequence with kind timeout (spec.md 4.6).
	SoftTimer *time.Timer
	// ForceTimer fires the configured force timeout (2s by default) after a
	// cancel sequence begins and triggers
	// forced termination (spec.md 4.6).
	ForceTimer *time.Timer

	// CancelKind records why a cancellation sequence was started
	// (errkind.Cancelled or errkind.Timeout), so a terminal message that
	// arrives before the force timer resolves with that kind rather than
	// errkind.Execution. Zero (errkind.None) means no cancellation is in
	// progress.
	CancelKind errkind.Kind
}

// New creates a task in the Queued state.
func New(req types.ExecutionRequest) *Task {
	return &Task{
		Request:     req,
		SubmittedAt: time.Now(),
		state:       Queued,
		done:        make(chan struct{}),
	}
}

// ID is a convenience accessor for the originating request's id.
func (t *Task) ID() string {
	return t.Request.ID
}

// GetState returns the current lifecycle state.
func (t *Task) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkAssigned transitions a queued task to assigned, recording the handle
// id it was dispatched to.
func (t *Task) MarkAssigned(handleID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Assigned
	t.assignedTo = handleID
}

// AssignedHandle returns the handle id a task is assigned to, and whether
// it is currently assigned at all.
func (t *Task) AssignedHandle() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assignedTo, t.state == Assigned
}

// Resolve sets the task's terminal outcome and wakes any waiter. It is
// idempotent: only the first call has any effect, satisfying invariant 5
// in spec.md section 8 (a task's future resolves at most once).
func (t *Task) Resolve(outcome types.Outcome) {
	t.resolveOnce.Do(func() {
		t.mu.Lock()
		t.state = Resolved
		t.outcome = outcome
		t.mu.Unlock()
		close(t.done)
	})
}

// Resolved reports whether Resolve has already run.
func (t *Task) Resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the task resolves and returns its outcome. This is the
// suspension point spec.md section 5 grants callers of submit: it suspends
// at the call site only, never inside the control loop.
func (t *Task) Wait() types.Outcome {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Done exposes the resolution channel for select-based waiting.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// StopTimers cancels both timers if set, safe to call multiple times.
func (t *Task) StopTimers() {
	if t.SoftTimer != nil {
		t.SoftTimer.Stop()
	}
	if t.ForceTimer != nil {
		t.ForceTimer.Stop()
	}
}
