package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scratchlab/execorch/bytecode"
	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/metrics"
	"github.com/scratchlab/execorch/pool"
	"github.com/scratchlab/execorch/queue"
	"github.com/scratchlab/execorch/task"
	"github.com/scratchlab/execorch/types"
)

// bytecodePool is the in-process counterpart to pool.Pool for a single
// bytecode-module language tag (spec.md section 4.8). It has no handles:
// the "executor" is the cache's own timeout-racing Execute call, so there is
// nothing to keep ready-idle and nothing to crash-replace. Ceiling here
// simply bounds how many Execute calls may run at once for this tag.
type bytecodePool struct {
	tag     types.Language
	queue   *queue.Queue
	ceiling int
	pages   int
	cache   *bytecode.Cache

	// inFlight maps a running task's id to the cancel func for its Execute
	// call's context, letting cancel(id) reach a bytecode task the same way
	// FindAssigned lets it reach a scripted/interpreted one.
	inFlight map[string]context.CancelFunc
}

func newBytecodePool(tag types.Language, ceiling, pages, queueCeiling int, cache *bytecode.Cache) *bytecodePool {
	if ceiling <= 0 {
		ceiling = 1
	}
	return &bytecodePool{
		tag:      tag,
		queue:    queue.New(queueCeiling),
		ceiling:  ceiling,
		pages:    pages,
		cache:    cache,
		inFlight: make(map[string]context.CancelFunc),
	}
}

func (p *bytecodePool) submit(t *task.Task) error {
	return p.queue.Enqueue(t)
}

func (p *bytecodePool) cancelQueued(id string) bool {
	return p.queue.Cancel(id)
}

func (p *bytecodePool) findCancel(id string) (context.CancelFunc, bool) {
	c, ok := p.inFlight[id]
	return c, ok
}

func (p *bytecodePool) stats() pool.Stats {
	return pool.Stats{
		Language:    p.tag,
		HandleCount: len(p.inFlight),
		ReadyCount:  p.ceiling - len(p.inFlight),
		QueueDepth:  p.queue.Len(),
		Ceiling:     p.ceiling,
	}
}

// shutdown cancels every in-flight invocation and resolves every queued
// task as cancelled, mirroring pool.Pool.Shutdown.
func (p *bytecodePool) shutdown() {
	for _, cancel := range p.inFlight {
		cancel()
	}
	for !p.queue.Empty() {
		t := p.queue.Dequeue()
		if t == nil {
			break
		}
		t.Resolve(types.Err(errkind.Cancelled, "orchestrator shutting down"))
	}
}

// bytecodeTryDispatch fills every open ceiling slot with the next queued
// task, mirroring pool.Pool.tryDispatch's policy but without a handle/ready
// concept: a slot is "open" whenever fewer than ceiling invocations are
// running.
func (o *Orchestrator) bytecodeTryDispatch(bp *bytecodePool, language types.Language) {
	for len(bp.inFlight) < bp.ceiling {
		t := bp.queue.Dequeue()
		if t == nil {
			return
		}
		t.MarkAssigned("bytecode:" + string(language))
		ctx, cancel := context.WithCancel(o.baseCtx)
		bp.inFlight[t.ID()] = cancel
		o.tracer.Dispatch(t.ID(), language, "bytecode")
		metrics.DispatchTotal.WithLabelValues(string(language)).Inc()
		go o.runBytecode(bp, language, t, ctx)
	}
}

// runBytecode executes off the loop goroutine (Cache.Execute blocks for the
// duration of the run) and reports back onto the loop via a command, so the
// actual task resolution and redispatch stay serialized with everything
// else.
func (o *Orchestrator) runBytecode(bp *bytecodePool, language types.Language, t *task.Task, ctx context.Context) {
	pages := t.Request.Options.MemoryLimitPages
	if pages <= 0 || pages > bp.pages {
		pages = bp.pages
	}
	if max := o.cfg.BytecodeMaxPages; max > 0 && (pages <= 0 || pages > max) {
		pages = max
	}
	out := bp.cache.Execute(ctx, string(language), t.Request.Code, pages, t.Request.Options.Timeout())
	o.submitLoopCmd(func() {
		o.completeBytecode(bp, language, t, out)
	}, nil)
}

func (o *Orchestrator) completeBytecode(bp *bytecodePool, language types.Language, t *task.Task, out bytecode.Outcome) {
	delete(bp.inFlight, t.ID())
	if t.Resolved() {
		// Already resolved by a force path or shutdown while this run was
		// in flight; just let the next queued task take the freed slot.
		o.bytecodeTryDispatch(bp, language)
		return
	}

	var outcome types.Outcome
	var msg types.OutboundMessage
	switch {
	case errors.Is(out.Err, context.Canceled):
		outcome = types.Err(errkind.Cancelled, "cancelled")
		msg = types.OutboundMessage{Kind: types.MsgError, TaskID: t.ID(), Message: "cancelled"}
	case out.Err != nil:
		outcome = types.Err(errkind.Execution, out.Err.Error())
		msg = types.OutboundMessage{Kind: types.MsgError, TaskID: t.ID(), Message: out.Err.Error()}
	case out.ExitCode != 0:
		message := fmt.Sprintf("exit code %d", out.ExitCode)
		outcome = types.Err(errkind.Execution, message)
		msg = types.OutboundMessage{Kind: types.MsgError, TaskID: t.ID(), Message: message}
	default:
		payload := map[string]string{"stdout": out.Stdout, "stderr": out.Stderr}
		outcome = types.Ok(payload)
		msg = types.OutboundMessage{Kind: types.MsgComplete, TaskID: t.ID(), Payload: payload}
	}

	o.egress.ForwardMessage(msg)
	t.Resolve(outcome)
	o.tasks.Remove(t.ID())
	metrics.TaskLatency.WithLabelValues(string(language), kindLabel(outcome)).Observe(time.Since(t.SubmittedAt).Seconds())
	o.bytecodeTryDispatch(bp, language)
}
