// Package executor implements the Executor Handle of spec.md section 4.1:
// the lifecycle, bidirectional message channel, and ready-state of one
// isolated executor instance. The grounding codebase's Transport interface
// (a duplex line channel wrapping either a real socket or, for tests, a pair
// of Go channels) is generalized here from lines of telnet text to the
// tagged OutboundMessage/InboundMessage union spec.md section 6 defines,
// since an executor here is "a process, thread, or embedded bytecode
// instance" rather than always an OS process.
package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/scratchlab/execorch/bridge"
	"github.com/scratchlab/execorch/types"
	"github.com/sirupsen/logrus"
)

// DefaultReadyBudget bounds how long a handle waits for its first ready
// message before collapsing to handle-fatal (spec.md section 4.1).
const DefaultReadyBudget = 5 * time.Second

// SharedRegions carries the language-specific shared memory regions a
// handle exposes to its runtime, per spec.md section 3 (ExecutorHandle).
type SharedRegions struct {
	Input     *bridge.InputBridge   // scripted only
	Interrupt *bridge.InterruptByte // interpreted only
}

// Wire is what a Runtime sees of its own transport: a place to emit
// messages and a place to receive them, plus whatever shared regions its
// language uses. It deliberately exposes nothing about Handle/pool/
// orchestrator internals.
type Wire struct {
	Outbound chan<- types.OutboundMessage
	Inbound  <-chan types.InboundMessage
	Shared   SharedRegions
}

// Runtime is the capability every concrete executor (scripted, interpreted,
// bytecode) implements: run until ctx is cancelled or the program finishes
// on its own. A non-nil return is treated as a crash (handle-fatal); ctx
// cancellation during a cooperative or forced shutdown is not itself an
// error.
type Runtime interface {
	Run(ctx context.Context, wire Wire) error
}

// Handle is the orchestrator-side lifecycle owner for one isolated
// executor. Handles reference nothing about their pool; the pool holds
// handles by id and looks them up, matching the non-cyclic ownership design
// note in spec.md section 9.
type Handle struct {
	ID       string
	Language types.Language
	Shared   SharedRegions

	log *logrus.Entry

	ready   atomic.Bool
	readyCh chan struct{}

	mu         sync.Mutex
	assignedID string
	hasTask    bool

	inbound  chan types.InboundMessage
	outbound chan types.OutboundMessage

	cancel   context.CancelFunc
	exitedCh chan struct{} // closed once when Run returns; safe for many readers
	exitErr  error
	exitOnce sync.Once
}

// New creates a handle for a runtime of the given language. It does not
// start the runtime; call Spawn for that.
func New(language types.Language, shared SharedRegions, log *logrus.Logger) *Handle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Handle{
		ID:       id,
		Language: language,
		Shared:   shared,
		log:      log.WithFields(logrus.Fields{"handle_id": id, "language": string(language)}),
		readyCh:  make(chan struct{}),
		inbound:  make(chan types.InboundMessage, 16),
		outbound: make(chan types.OutboundMessage, 64),
		exitedCh: make(chan struct{}),
	}
}

// Spawn starts the runtime in its own goroutine, standing in for the
// process/thread the real executor would run on. It returns immediately;
// readiness and messages arrive asynchronously on Outbound/Ready.
func (h *Handle) Spawn(parent context.Context, rt Runtime) {
	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel

	go func() {
		err := rt.Run(ctx, Wire{Outbound: h.outbound, Inbound: h.inbound, Shared: h.Shared})
		h.exitOnce.Do(func() {
			h.exitErr = err
			close(h.exitedCh)
			close(h.outbound)
		})
	}()

	go h.watchReadyBudget()
}

// watchReadyBudget collapses a handle to handle-fatal if no ready message
// arrives within DefaultReadyBudget, per spec.md section 4.1.
func (h *Handle) watchReadyBudget() {
	select {
	case <-h.readyCh:
	case <-time.After(DefaultReadyBudget):
		h.log.Warn("handle did not become ready within budget")
		h.Terminate()
	}
}

// ObserveMessage is called by the orchestrator's control loop for every
// message read off Outbound(). It exists so the ready edge, which must be
// idempotent and must precede any other message (spec.md invariant 3), is
// recognized in one place regardless of how many callers read the channel.
func (h *Handle) ObserveMessage(msg types.OutboundMessage) {
	if msg.Kind == types.MsgReady {
		if h.ready.CompareAndSwap(false, true) {
			close(h.readyCh)
		}
	}
}

// Ready reports whether this handle has observed its ready edge.
func (h *Handle) Ready() bool {
	return h.ready.Load()
}

// Outbound is the channel the control loop selects on for this handle's
// messages. It is closed once the runtime exits.
func (h *Handle) Outbound() <-chan types.OutboundMessage {
	return h.outbound
}

// Send delivers an inbound message to the runtime (execute/cancel/etc).
func (h *Handle) Send(msg types.InboundMessage) {
	select {
	case h.inbound <- msg:
	default:
		// Inbound is sized generously; a full channel means the runtime is
		// wedged. Don't block the control loop — the soft/force timers will
		// eventually escalate to termination.
		h.log.Warn("inbound channel full, dropping message")
	}
}

// Assign records the task this handle is now running. Per invariant 1 in
// spec.md section 3, callers must ensure only ready handles are assigned.
func (h *Handle) Assign(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assignedID = taskID
	h.hasTask = true
}

// Clear removes the current assignment, e.g. after a terminal message.
func (h *Handle) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.assignedID = ""
	h.hasTask = false
}

// AssignedTaskID returns the task id this handle is running, if any.
func (h *Handle) AssignedTaskID() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.assignedID, h.hasTask
}

// Exited returns a channel that is closed once the runtime has returned.
// Unlike a single-value channel, a close can be observed by any number of
// goroutines, so both the control loop's own watcher and a bounded shutdown
// wait can each block on it without racing to consume the one signal.
func (h *Handle) Exited() <-chan struct{} {
	return h.exitedCh
}

// ExitErr returns the runtime's exit error (nil for a clean exit). Only
// meaningful after Exited() has been observed closed.
func (h *Handle) ExitErr() error {
	return h.exitErr
}

// Terminate forcibly stops the runtime by cancelling its context. It
// returns immediately; callers observe completion via Exited().
func (h *Handle) Terminate() {
	if h.cancel != nil {
		h.cancel()
	}
}
