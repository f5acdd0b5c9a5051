// Package pool implements the Language Pool of spec.md section 4.4: a
// bounded, dynamically-grown set of Executor Handles for one language
// family, plus the ready/busy bookkeeping and dispatch policy. It is
// adapted from the grounding codebase's Scheduler, which drives a single
// map of in-flight tasks and a priority heap from one serialized loop;
// here the same single-writer discipline is required of callers rather
// than enforced internally, since the orchestrator's control loop is the
// only caller (spec.md section 5: "pool maps and queues mutated only on
// the control loop").
package pool

import (
	"context"
	"time"

	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/executor"
	"github.com/scratchlab/execorch/queue"
	"github.com/scratchlab/execorch/task"
	"github.com/scratchlab/execorch/types"
	"github.com/sirupsen/logrus"
)

// Ceilings are the per-language constants spec.md section 3 fixes for the
// two built-in families; bytecode pools pass their own configured ceiling.
const (
	ScriptedCeiling    = 4
	InterpretedCeiling = 2
)

// Spawner creates a fresh handle for this pool's language, wiring whatever
// shared regions and runtime the language needs. The pool owns nothing
// about how a handle is built, only its lifecycle once built.
type Spawner func(ctx context.Context, log *logrus.Logger) *executor.Handle

// Config controls ceiling, queue bound, and optional idle-handle retirement
// (spec.md section 4.4: "optional and must not drop below a configured
// floor").
type Config struct {
	Ceiling       int
	QueueCeiling  int
	IdleTimeoutMs int // 0 disables idle retirement
	Floor         int // minimum handles kept alive when retiring idle ones
}

// Stats is the snapshot returned by Pool.Stats, mirroring the pool-level
// fields of the spec's orchestrator stats() call.
type Stats struct {
	Language     types.Language
	HandleCount  int
	ReadyCount   int
	QueueDepth   int
	Ceiling      int
}

// Pool is one language family's handles plus its pending-task queue. Every
// method assumes it is called from the orchestrator's single control-loop
// goroutine; nothing here is safe for concurrent callers (that safety is
// the queue's job, not the pool's — see queue.Queue, which is used by
// multiple pools and may also be inspected off the loop).
type Pool struct {
	Language types.Language
	cfg      Config
	queue    *queue.Queue
	spawn    Spawner
	log      *logrus.Logger

	handles   map[string]*executor.Handle
	idleSince map[string]time.Time

	// OnDispatch, if set, is called synchronously every time a task is
	// handed to a handle, so the orchestrator can start that task's soft
	// timer and record dispatch tracing/metrics without this package
	// knowing about timers, the tracer, or prometheus.
	OnDispatch func(t *task.Task, h *executor.Handle)
}

// New creates an empty pool for the given language and spawner.
func New(language types.Language, cfg Config, spawn Spawner, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		Language:  language,
		cfg:       cfg,
		queue:     queue.New(cfg.QueueCeiling),
		spawn:     spawn,
		log:       log,
		handles:   make(map[string]*executor.Handle),
		idleSince: make(map[string]time.Time),
	}
}

// Submit enqueues a task and immediately attempts dispatch, per spec.md
// section 4.4's "on every state change" policy. Returns a queue-full error
// if the per-language queue ceiling is already reached.
func (p *Pool) Submit(ctx context.Context, t *task.Task) error {
	if err := p.queue.Enqueue(t); err != nil {
		return err
	}
	p.tryDispatch(ctx)
	return nil
}

// Cancel removes a queued task by id, per the cancellation algorithm's
// first step (spec.md section 4.6). Returns false if the task is not
// sitting in this pool's queue (it may be assigned — the orchestrator
// escalates to the cooperative/forced path in that case).
func (p *Pool) Cancel(id string) bool {
	return p.queue.Cancel(id)
}

// FindAssigned returns the handle currently assigned the given task id, if
// any, so the orchestrator can route cancel messages and input resolution.
func (p *Pool) FindAssigned(taskID string) *executor.Handle {
	for _, h := range p.handles {
		if id, ok := h.AssignedTaskID(); ok && id == taskID {
			return h
		}
	}
	return nil
}

// Broadcast sends a message to every handle in the pool, e.g. the scripted
// pool's clearModuleCache fan-out (spec.md section 4.6).
func (p *Pool) Broadcast(msg types.InboundMessage) {
	for _, h := range p.handles {
		h.Send(msg)
	}
}

// Handles returns every handle currently owned by the pool.
func (p *Pool) Handles() []*executor.Handle {
	out := make([]*executor.Handle, 0, len(p.handles))
	for _, h := range p.handles {
		out = append(out, h)
	}
	return out
}

// HandleReady must be called once the orchestrator observes a handle's
// ready edge; it triggers dispatch since a previously-unusable handle may
// now take a queued task (spec.md section 4.4 dispatch triggers).
func (p *Pool) HandleReady(ctx context.Context, h *executor.Handle) {
	p.tryDispatch(ctx)
}

// HandleTerminal must be called when a handle's assignment clears through a
// terminal message; a crashed or force-killed handle goes through
// RemoveHandle instead. It clears the handle's assignment, marks it
// idle-since now, and re-runs dispatch (invariant 4, spec.md section 3).
func (p *Pool) HandleTerminal(ctx context.Context, h *executor.Handle) {
	h.Clear()
	p.idleSince[h.ID] = time.Now()
	p.tryDispatch(ctx)
}

// RemoveHandle drops a handle from the pool, e.g. after crash or forced
// termination, and runs dispatch so a replacement can be spawned if work
// remains (spec.md section 8 property 6, "crash replacement").
func (p *Pool) RemoveHandle(ctx context.Context, id string) {
	delete(p.handles, id)
	delete(p.idleSince, id)
	p.tryDispatch(ctx)
}

// tryDispatch implements the policy of spec.md section 4.4 verbatim:
//  1. empty queue -> return
//  2. idle-ready handle found -> assign highest-priority queued task
//  3. else below ceiling -> spawn a new handle (it dispatches again on ready)
//  4. else -> leave queued
func (p *Pool) tryDispatch(ctx context.Context) {
	if p.queue.Empty() {
		return
	}

	for _, h := range p.handles {
		if !h.Ready() {
			continue
		}
		if _, busy := h.AssignedTaskID(); busy {
			continue
		}
		t := p.queue.Dequeue()
		if t == nil {
			return
		}
		p.dispatch(h, t)
		// One idle handle takes at most one task per call; re-enter so a
		// second idle handle (if any) can pick up the next queued task.
		p.tryDispatch(ctx)
		return
	}

	if len(p.handles) < p.cfg.Ceiling {
		h := p.spawn(ctx, p.log)
		p.handles[h.ID] = h
		p.idleSince[h.ID] = time.Now()
		return
	}
}

// dispatch assigns a dequeued task to a ready, idle handle and sends the
// execute message.
func (p *Pool) dispatch(h *executor.Handle, t *task.Task) {
	t.MarkAssigned(h.ID)
	delete(p.idleSince, h.ID)
	h.Assign(t.ID())
	// The orchestrator is the interrupt byte's sole writer: clear any stale
	// raise left over from a previous task on this handle before the new
	// one starts, so a cooperative cancel that arrived after the old task
	// had already gone terminal can't spuriously cancel the next one.
	if h.Shared.Interrupt != nil {
		h.Shared.Interrupt.Clear()
	}
	h.Send(types.InboundMessage{
		Kind:    types.InExecute,
		TaskID:  t.ID(),
		Code:    t.Request.Code,
		Options: t.Request.Options,
	})
	if p.OnDispatch != nil {
		p.OnDispatch(t, h)
	}
}

// SweepIdle retires idle-ready handles that have exceeded the configured
// idle timeout, never dropping the pool below its configured floor, per
// spec.md section 4.4: "must re-check that the handle is still idle and
// above floor before terminating." Intended to be called periodically from
// the orchestrator's own ticker, matching the grounding codebase's
// tick-driven scheduler loop.
func (p *Pool) SweepIdle(now time.Time) {
	if p.cfg.IdleTimeoutMs <= 0 {
		return
	}
	timeout := time.Duration(p.cfg.IdleTimeoutMs) * time.Millisecond

	for id, since := range p.idleSince {
		if len(p.handles) <= p.cfg.Floor {
			return
		}
		h, ok := p.handles[id]
		if !ok {
			delete(p.idleSince, id)
			continue
		}
		if _, busy := h.AssignedTaskID(); busy {
			continue
		}
		if now.Sub(since) < timeout {
			continue
		}
		h.Terminate()
		delete(p.handles, id)
		delete(p.idleSince, id)
	}
}

// Stats reports the pool's current shape for the orchestrator's stats()
// surface.
func (p *Pool) Stats() Stats {
	ready := 0
	for _, h := range p.handles {
		if h.Ready() {
			ready++
		}
	}
	return Stats{
		Language:    p.Language,
		HandleCount: len(p.handles),
		ReadyCount:  ready,
		QueueDepth:  p.queue.Len(),
		Ceiling:     p.cfg.Ceiling,
	}
}

// Shutdown terminates every handle and drains the queue, resolving any
// still-queued tasks as cancelled. Used by the orchestrator's shutdown(drain
// = false) path; the drain=true path is handled by the orchestrator itself,
// which waits for in-flight tasks before calling Shutdown.
func (p *Pool) Shutdown() {
	for _, h := range p.handles {
		h.Terminate()
	}
	for !p.queue.Empty() {
		t := p.queue.Dequeue()
		if t == nil {
			break
		}
		t.Resolve(types.Err(errkind.Cancelled, "orchestrator shutting down"))
	}
}
