// Package orchestrator implements the Execution Orchestrator of spec.md
// section 4: the single-writer control loop that owns every task, pool, and
// executor handle, and the public façade (submit, cancel, resolveInput,
// clearModuleCache, setHostSink, stats, shutdown) the host calls.
//
// Adapted from the grounding codebase's Scheduler.run(), which drains one
// input channel and a ticker from a single goroutine so every mutation to
// its task map and priority heap is serialized without a lock. Here the
// same discipline has to reach across several independently-owned
// collaborators (two language pools, N bytecode pools, a task registry), so
// every external call funnels a closure onto a single commands channel that
// the loop goroutine drains one at a time, and every executor handle's
// outbound messages are forwarded onto a second channel by a small
// per-handle goroutine rather than selected on directly — Go has no
// reflect-free way to select across a dynamic set of channels, and a fan-in
// goroutine per handle is the idiomatic way around that.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/scratchlab/execorch/bridge"
	"github.com/scratchlab/execorch/bytecode"
	"github.com/scratchlab/execorch/config"
	"github.com/scratchlab/execorch/egress"
	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/executor"
	"github.com/scratchlab/execorch/metrics"
	"github.com/scratchlab/execorch/pool"
	"github.com/scratchlab/execorch/registry"
	"github.com/scratchlab/execorch/task"
	"github.com/scratchlab/execorch/trace"
	"github.com/scratchlab/execorch/transform"
	"github.com/scratchlab/execorch/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// idleSweepInterval is how often the loop checks pools for idle-retirement
// candidates, independent of whether retirement is enabled.
const idleSweepInterval = 5 * time.Second

// RuntimeFactory builds a fresh Runtime for a newly spawned handle. The
// orchestrator knows nothing about what a scripted or interpreted runtime
// actually is; the embedder supplies these.
type RuntimeFactory func() executor.Runtime

// Options configures a new Orchestrator.
type Options struct {
	Config             config.Config
	Registry           *registry.Registry
	Transform          transform.Transformer // defaults to transform.Identity
	ScriptedRuntime    RuntimeFactory
	InterpretedRuntime RuntimeFactory
	BytecodeLoader     bytecode.Loader
	Log                *logrus.Logger
	Tracer             *trace.Tracer
}

// Stats is the orchestrator-wide snapshot returned by Stats().
type Stats struct {
	Scripted    pool.Stats
	Interpreted pool.Stats
	Bytecode    map[string]pool.Stats
}

// handleEvent is what a handle's fan-in goroutine posts to the loop: either
// a message the handle emitted, or its terminal exit.
type handleEvent struct {
	language types.Language
	pool     *pool.Pool
	handle   *executor.Handle
	msg      types.OutboundMessage
	exited   bool
	err      error
}

// timeoutEvent is posted by a soft or force timer's AfterFunc, funneling
// timer firings through the same serialized loop as everything else.
type timeoutEvent struct {
	taskID   string
	language types.Language
	force    bool
}

// Orchestrator is the single owner of every task, pool, and handle it
// creates. All exported methods are safe to call from any goroutine; the
// work they request is always carried out on the loop goroutine.
type Orchestrator struct {
	cfg       config.Config
	registry  *registry.Registry
	transform transform.Transformer
	log       *logrus.Logger
	tracer    *trace.Tracer

	scriptedRuntime    RuntimeFactory
	interpretedRuntime RuntimeFactory

	tasks         *task.Registry
	egress        *egress.Egress
	scriptedPool  *pool.Pool
	interpretedPool *pool.Pool

	bytecodeCache *bytecode.Cache
	bytecodePools map[types.Language]*bytecodePool

	cmds     chan func()
	events   chan handleEvent
	timeouts chan timeoutEvent

	idleTicker *time.Ticker
	stopCh     chan struct{}
	stoppedCh  chan struct{}
	drainDone  chan struct{}
	draining   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New constructs an Orchestrator and starts its control loop.
func New(opts Options) *Orchestrator {
	if opts.Log == nil {
		// A fresh logger, not logrus.StandardLogger(): this instance gets its
		// own log-entry hook below, and two orchestrators sharing the global
		// singleton would otherwise accumulate each other's hooks.
		opts.Log = logrus.New()
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.New(false, nil, nil)
	}
	if opts.Transform == nil {
		opts.Transform = transform.Identity
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		cfg:                opts.Config,
		registry:           opts.Registry,
		transform:          opts.Transform,
		log:                opts.Log,
		tracer:             opts.Tracer,
		scriptedRuntime:    opts.ScriptedRuntime,
		interpretedRuntime: opts.InterpretedRuntime,
		tasks:              task.NewRegistry(),
		egress:             egress.New(),
		bytecodeCache:      bytecode.NewCache(opts.BytecodeLoader, time.Duration(opts.Config.BytecodeIdleTTLMs)*time.Millisecond),
		bytecodePools:      make(map[types.Language]*bytecodePool),
		cmds:               make(chan func(), 32),
		events:             make(chan handleEvent, 256),
		timeouts:           make(chan timeoutEvent, 64),
		idleTicker:         time.NewTicker(idleSweepInterval),
		stopCh:             make(chan struct{}),
		stoppedCh:          make(chan struct{}),
		baseCtx:            baseCtx,
		baseCancel:         baseCancel,
	}

	o.scriptedPool = pool.New(types.Scripted, pool.Config{
		Ceiling:       opts.Config.ScriptedCeiling,
		QueueCeiling:  opts.Config.QueueCeiling,
		IdleTimeoutMs: idleTimeoutMs(opts.Config),
		Floor:         opts.Config.IdleFloorScripted,
	}, o.spawnScripted, opts.Log)
	o.scriptedPool.OnDispatch = func(t *task.Task, h *executor.Handle) {
		o.onDispatch(types.Scripted, t, h)
	}

	o.interpretedPool = pool.New(types.Interpreted, pool.Config{
		Ceiling:       opts.Config.InterpretedCeiling,
		QueueCeiling:  opts.Config.QueueCeiling,
		IdleTimeoutMs: idleTimeoutMs(opts.Config),
		Floor:         opts.Config.IdleFloorInterpreted,
	}, o.spawnInterpreted, opts.Log)
	o.interpretedPool.OnDispatch = func(t *task.Task, h *executor.Handle) {
		o.onDispatch(types.Interpreted, t, h)
	}

	opts.Log.AddHook(newLogEntryHook(o.egress))

	go o.run()
	return o
}

func idleTimeoutMs(cfg config.Config) int {
	if !cfg.IdleRetirementEnabled {
		return 0
	}
	return cfg.IdleTimeoutMs
}

// spawnScripted and spawnInterpreted are the pool.Spawner callbacks: build a
// handle with the right shared region, start its runtime, and start the
// fan-in goroutine that forwards its messages onto the loop.
func (o *Orchestrator) spawnScripted(ctx context.Context, log *logrus.Logger) *executor.Handle {
	shared := executor.SharedRegions{Input: bridge.New()}
	h := executor.New(types.Scripted, shared, log)
	h.Spawn(ctx, o.scriptedRuntime())
	o.watchHandle(types.Scripted, o.scriptedPool, h)
	return h
}

func (o *Orchestrator) spawnInterpreted(ctx context.Context, log *logrus.Logger) *executor.Handle {
	shared := executor.SharedRegions{Interrupt: &bridge.InterruptByte{}}
	h := executor.New(types.Interpreted, shared, log)
	h.Spawn(ctx, o.interpretedRuntime())
	o.watchHandle(types.Interpreted, o.interpretedPool, h)
	return h
}

func (o *Orchestrator) watchHandle(language types.Language, p *pool.Pool, h *executor.Handle) {
	go func() {
		for msg := range h.Outbound() {
			select {
			case o.events <- handleEvent{language: language, pool: p, handle: h, msg: msg}:
			case <-o.stopCh:
				return
			}
		}
		<-h.Exited()
		select {
		case o.events <- handleEvent{language: language, pool: p, handle: h, exited: true, err: h.ExitErr()}:
		case <-o.stopCh:
		}
	}()
}

func (o *Orchestrator) onDispatch(language types.Language, t *task.Task, h *executor.Handle) {
	o.tracer.Dispatch(t.ID(), language, h.ID)
	metrics.DispatchTotal.WithLabelValues(string(language)).Inc()
	o.startSoftTimer(t, language)
}

func (o *Orchestrator) startSoftTimer(t *task.Task, language types.Language) {
	grace := o.cfg.ScriptedGraceMs
	if language == types.Interpreted {
		grace = o.cfg.InterpretedGraceMs
	}
	d := t.Request.Options.Timeout() + time.Duration(grace)*time.Millisecond
	taskID := t.ID()
	t.SoftTimer = time.AfterFunc(d, func() {
		select {
		case o.timeouts <- timeoutEvent{taskID: taskID, language: language}:
		case <-o.stopCh:
		}
	})
}

// submitLoopCmd sends a closure to the loop goroutine, or runs onStopped
// (when non-nil) instead if the orchestrator has already stopped.
func (o *Orchestrator) submitLoopCmd(cmd func(), onStopped func()) {
	select {
	case o.cmds <- cmd:
	case <-o.stopCh:
		if onStopped != nil {
			onStopped()
		}
	}
}

// Submit is the pure entry point spec.md section 5 describes: it resolves
// the language, runs the transform for scripted/bytecode requests, and
// hands the resulting task to the control loop for queueing. None of this
// blocks on dispatch; callers suspend, if they want to, on the returned
// task's Wait().
func (o *Orchestrator) Submit(req types.ExecutionRequest) *task.Task {
	if req.Options.TimeoutMs <= 0 && o.cfg.DefaultTimeoutMs > 0 {
		req.Options.TimeoutMs = o.cfg.DefaultTimeoutMs
	}
	req.Options = req.Options.Normalize()
	t := task.New(req)
	o.tasks.Put(t)

	entry, ok := o.registry.Resolve(req.Language)
	if !ok {
		t.Resolve(types.Err(errkind.UnknownLanguage, fmt.Sprintf("unknown language %q", req.Language)))
		o.tasks.Remove(t.ID())
		return t
	}

	if entry.Kind != registry.KindInterpreted {
		transformed, err := o.transform.Transform(req.Code, req.Options)
		if err != nil {
			t.Resolve(types.Err(errkind.Transpile, err.Error()))
			o.tasks.Remove(t.ID())
			return t
		}
		t.Request.Code = transformed
	}

	o.submitLoopCmd(func() {
		o.dispatchSubmit(t, entry)
	}, func() {
		t.Resolve(types.Err(errkind.QueueFull, "orchestrator stopped"))
		o.tasks.Remove(t.ID())
	})
	return t
}

// dispatchSubmit runs on the loop goroutine: it routes a freshly-submitted
// task to its language's pool and lets that pool's own dispatch policy take
// over (spec.md section 4.4).
func (o *Orchestrator) dispatchSubmit(t *task.Task, entry registry.Entry) {
	if o.draining {
		t.Resolve(types.Err(errkind.QueueFull, "orchestrator draining"))
		o.tasks.Remove(t.ID())
		return
	}

	switch entry.Kind {
	case registry.KindScripted:
		if err := o.scriptedPool.Submit(o.baseCtx, t); err != nil {
			t.Resolve(types.Err(errkind.QueueFull, err.Error()))
			o.tasks.Remove(t.ID())
		}
	case registry.KindInterpreted:
		if err := o.interpretedPool.Submit(o.baseCtx, t); err != nil {
			t.Resolve(types.Err(errkind.QueueFull, err.Error()))
			o.tasks.Remove(t.ID())
		}
	default: // registry.KindBytecode
		bp := o.bytecodePoolFor(entry)
		if err := bp.submit(t); err != nil {
			t.Resolve(types.Err(errkind.QueueFull, err.Error()))
			o.tasks.Remove(t.ID())
			return
		}
		o.bytecodeTryDispatch(bp, entry.Tag)
	}
}

func (o *Orchestrator) bytecodePoolFor(entry registry.Entry) *bytecodePool {
	bp, ok := o.bytecodePools[entry.Tag]
	if !ok {
		bp = newBytecodePool(entry.Tag, entry.Ceiling, entry.MemoryPages, o.cfg.QueueCeiling, o.bytecodeCache)
		o.bytecodePools[entry.Tag] = bp
	}
	return bp
}

// Cancel implements the cancellation algorithm of spec.md section 4.6: a
// queued task is removed outright; an assigned one gets a cooperative
// cancel that escalates to forced termination after a grace period.
// Cancelling an unknown or already-resolved id is a no-op.
func (o *Orchestrator) Cancel(id string) bool {
	resultCh := make(chan bool, 1)
	o.submitLoopCmd(func() {
		resultCh <- o.doCancel(id)
	}, func() {
		resultCh <- false
	})
	return <-resultCh
}

func (o *Orchestrator) doCancel(id string) bool {
	t := o.tasks.Get(id)
	if t == nil || t.Resolved() {
		return false
	}
	entry, ok := o.registry.Resolve(t.Request.Language)
	if !ok {
		return false
	}

	if entry.Kind == registry.KindBytecode {
		bp := o.bytecodePoolFor(entry)
		if bp.cancelQueued(id) {
			o.tasks.Remove(id)
			o.tracer.Cancel(id, t.Request.Language, "queued")
			metrics.CancelTotal.WithLabelValues(string(t.Request.Language), "queued").Inc()
			return true
		}
		if cancel, ok := bp.findCancel(id); ok {
			o.tracer.Cancel(id, t.Request.Language, "cooperative")
			metrics.CancelTotal.WithLabelValues(string(t.Request.Language), "cooperative").Inc()
			cancel()
			return true
		}
		return false
	}

	p := o.poolForLanguage(t.Request.Language)
	if p.Cancel(id) {
		o.tasks.Remove(id)
		o.tracer.Cancel(id, t.Request.Language, "queued")
		metrics.CancelTotal.WithLabelValues(string(t.Request.Language), "queued").Inc()
		return true
	}
	h := p.FindAssigned(id)
	if h == nil {
		return false
	}
	o.tracer.Cancel(id, t.Request.Language, "cooperative")
	metrics.CancelTotal.WithLabelValues(string(t.Request.Language), "cooperative").Inc()
	o.beginCooperativeCancel(t, t.Request.Language, errkind.Cancelled)
	return true
}

// beginCooperativeCancel sends the cancel message (and, for interpreted
// tasks, raises the interrupt byte), then arms the force timer that
// escalates to termination if no terminal message arrives within the
// configured grace period. reason is recorded on the task so a terminal
// message that beats the force timer resolves with that kind rather than
// the generic execution kind.
func (o *Orchestrator) beginCooperativeCancel(t *task.Task, language types.Language, reason errkind.Kind) {
	p := o.poolForLanguage(language)
	h := p.FindAssigned(t.ID())
	if h == nil {
		return
	}
	t.CancelKind = reason
	h.Send(types.InboundMessage{Kind: types.InCancel, TaskID: t.ID()})
	if language == types.Interpreted && h.Shared.Interrupt != nil {
		h.Shared.Interrupt.Raise()
	}

	taskID := t.ID()
	t.ForceTimer = time.AfterFunc(time.Duration(o.cfg.ForceTimeoutMs)*time.Millisecond, func() {
		select {
		case o.timeouts <- timeoutEvent{taskID: taskID, language: language, force: true}:
		case <-o.stopCh:
		}
	})
}

func (o *Orchestrator) poolForLanguage(language types.Language) *pool.Pool {
	if language == types.Interpreted {
		return o.interpretedPool
	}
	return o.scriptedPool
}

func (o *Orchestrator) handleTimeout(te timeoutEvent) {
	t := o.tasks.Get(te.taskID)
	if t == nil || t.Resolved() {
		return
	}
	if te.force {
		o.forceTerminate(t, te.language)
		return
	}
	metrics.TimeoutTotal.WithLabelValues(string(te.language)).Inc()
	o.tracer.Cancel(te.taskID, te.language, "timeout")
	o.beginCooperativeCancel(t, te.language, errkind.Timeout)
}

// forceTerminate carries out the last step of the cancellation algorithm: a
// handle that never produced a terminal message within the force grace
// period is killed outright, and a synthetic cancel-error outcome resolves
// the task regardless of whether the handle has actually exited yet.
func (o *Orchestrator) forceTerminate(t *task.Task, language types.Language) {
	p := o.poolForLanguage(language)
	if h := p.FindAssigned(t.ID()); h != nil {
		o.tracer.Crash(t.ID(), language, h.ID, "force-terminated after cancel grace")
		h.Clear()
		h.Terminate()
		p.RemoveHandle(o.baseCtx, h.ID)
	}

	msg := types.OutboundMessage{Kind: types.MsgError, TaskID: t.ID(), Message: "forced termination after cancel grace"}
	o.egress.ForwardMessage(msg)
	outcome := types.Err(errkind.CancelError, "forced termination after cancel grace")
	t.Resolve(outcome)
	o.tasks.Remove(t.ID())
	metrics.TaskLatency.WithLabelValues(string(language), outcome.Err.Kind.String()).Observe(time.Since(t.SubmittedAt).Seconds())
}

// ResolveInput delivers a host-provided value to whichever handle is
// waiting on it: a direct write to the input bridge for scripted tasks, or
// an input-response message for interpreted ones (spec.md section 4.2/4.3).
// requestId is optional and only meaningful for interpreted tasks, which
// may have nested prompts in flight; pass "" when there is nothing to
// correlate against.
func (o *Orchestrator) ResolveInput(id, value, requestID string) {
	o.submitLoopCmd(func() {
		o.doResolveInput(id, value, requestID)
	}, nil)
}

func (o *Orchestrator) doResolveInput(id, value, requestID string) {
	t := o.tasks.Get(id)
	if t == nil {
		return
	}
	entry, ok := o.registry.Resolve(t.Request.Language)
	if !ok {
		return
	}
	switch entry.Kind {
	case registry.KindScripted:
		if h := o.scriptedPool.FindAssigned(id); h != nil && h.Shared.Input != nil {
			h.Shared.Input.ResolveInput(value)
		}
	case registry.KindInterpreted:
		if h := o.interpretedPool.FindAssigned(id); h != nil {
			h.Send(types.InboundMessage{Kind: types.InInputResponse, TaskID: id, Value: value, RequestID: requestID})
		}
	}
}

// ClearModuleCache broadcasts a clear-cache message to every scripted
// handle, per spec.md section 4.6.
func (o *Orchestrator) ClearModuleCache(pkg string) {
	o.submitLoopCmd(func() {
		o.scriptedPool.Broadcast(types.InboundMessage{Kind: types.InClearCache, Package: pkg})
	}, nil)
}

// SetHostSink attaches or clears (pass nil) the host sink. This bypasses the
// loop entirely: Egress is already safe for concurrent callers (spec.md
// section 4.7), and funneling it through the loop would only add latency to
// every send racing a slow swap.
func (o *Orchestrator) SetHostSink(sink egress.HostSink) {
	o.egress.SetHostSink(sink)
}

// Stats returns a snapshot of every pool's current shape.
func (o *Orchestrator) Stats() Stats {
	resultCh := make(chan Stats, 1)
	o.submitLoopCmd(func() {
		bc := make(map[string]pool.Stats, len(o.bytecodePools))
		for tag, bp := range o.bytecodePools {
			bc[string(tag)] = bp.stats()
		}
		resultCh <- Stats{
			Scripted:    o.scriptedPool.Stats(),
			Interpreted: o.interpretedPool.Stats(),
			Bytecode:    bc,
		}
	}, func() {
		resultCh <- Stats{}
	})
	return <-resultCh
}

// Shutdown stops the orchestrator. With drain=false every handle is
// terminated and every queued task resolves cancelled immediately. With
// drain=true new submissions are rejected but in-flight tasks are allowed
// to finish naturally before handles are torn down; it returns once
// everything has drained or ctx is done, whichever comes first.
func (o *Orchestrator) Shutdown(ctx context.Context, drain bool) error {
	done := make(chan struct{})

	if drain {
		o.submitLoopCmd(func() {
			o.draining = true
			o.drainDone = done
			o.drainIdleHandles(o.scriptedPool)
			o.drainIdleHandles(o.interpretedPool)
			o.maybeFinishDraining()
		}, func() { close(done) })
	} else {
		o.submitLoopCmd(func() {
			handles := append(o.scriptedPool.Handles(), o.interpretedPool.Handles()...)
			o.scriptedPool.Shutdown()
			o.interpretedPool.Shutdown()
			for _, bp := range o.bytecodePools {
				bp.shutdown()
			}
			o.stopLoop()
			if err := waitHandlesExited(ctx, handles); err != nil {
				o.log.WithError(err).Warn("shutdown: not every handle exited before the deadline")
			}
			close(done)
		}, func() { close(done) })
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitHandlesExited waits, with bounded concurrency, for every given
// handle's runtime goroutine to actually return, rather than trusting
// Terminate()'s context cancellation to take effect instantly. Bounded via
// errgroup.SetLimit so a shutdown with hundreds of handles doesn't spin up
// hundreds of goroutines at once.
func waitHandlesExited(ctx context.Context, handles []*executor.Handle) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			select {
			case <-h.Exited():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

func (o *Orchestrator) stopLoop() {
	select {
	case <-o.stopCh:
	default:
		o.idleTicker.Stop()
		o.baseCancel()
		o.bytecodeCache.Close()
		close(o.stopCh)
	}
}

// isFullyIdle reports whether every pool is empty of both queued and
// in-flight work, the condition drain-shutdown waits for.
func (o *Orchestrator) isFullyIdle() bool {
	s := o.scriptedPool.Stats()
	if s.HandleCount > 0 || s.QueueDepth > 0 {
		return false
	}
	i := o.interpretedPool.Stats()
	if i.HandleCount > 0 || i.QueueDepth > 0 {
		return false
	}
	for _, bp := range o.bytecodePools {
		if bp.queue.Len() > 0 || len(bp.inFlight) > 0 {
			return false
		}
	}
	return true
}

func (o *Orchestrator) maybeFinishDraining() {
	if !o.draining || o.drainDone == nil {
		return
	}
	if !o.isFullyIdle() {
		return
	}
	close(o.drainDone)
	o.drainDone = nil
	o.stopLoop()
}

// drainIdleHandles terminates any now-idle handle in p once draining has
// begun, rather than waiting for idle-retirement (which may be disabled) to
// eventually reclaim it.
func (o *Orchestrator) drainIdleHandles(p *pool.Pool) {
	if !o.draining {
		return
	}
	for _, h := range p.Handles() {
		if _, busy := h.AssignedTaskID(); !busy && h.Ready() {
			h.Terminate()
		}
	}
}

// run is the control loop: every state mutation in the orchestrator happens
// here, and only here.
func (o *Orchestrator) run() {
	defer close(o.stoppedCh)
	for {
		select {
		case cmd := <-o.cmds:
			cmd()
		case ev := <-o.events:
			o.handleEvent(ev)
		case te := <-o.timeouts:
			o.handleTimeout(te)
		case <-o.idleTicker.C:
			now := time.Now()
			o.scriptedPool.SweepIdle(now)
			o.interpretedPool.SweepIdle(now)
		case <-o.stopCh:
			return
		}
		o.publishGauges()
		o.maybeFinishDraining()
	}
}

func (o *Orchestrator) publishGauges() {
	s := o.scriptedPool.Stats()
	metrics.PoolHandles.WithLabelValues(string(types.Scripted)).Set(float64(s.HandleCount))
	metrics.PoolCeiling.WithLabelValues(string(types.Scripted)).Set(float64(s.Ceiling))
	metrics.QueueDepth.WithLabelValues(string(types.Scripted)).Set(float64(s.QueueDepth))

	i := o.interpretedPool.Stats()
	metrics.PoolHandles.WithLabelValues(string(types.Interpreted)).Set(float64(i.HandleCount))
	metrics.PoolCeiling.WithLabelValues(string(types.Interpreted)).Set(float64(i.Ceiling))
	metrics.QueueDepth.WithLabelValues(string(types.Interpreted)).Set(float64(i.QueueDepth))

	for tag, bp := range o.bytecodePools {
		st := bp.stats()
		metrics.PoolHandles.WithLabelValues(string(tag)).Set(float64(st.HandleCount))
		metrics.PoolCeiling.WithLabelValues(string(tag)).Set(float64(st.Ceiling))
		metrics.QueueDepth.WithLabelValues(string(tag)).Set(float64(st.QueueDepth))
	}
}

func (o *Orchestrator) handleEvent(ev handleEvent) {
	if ev.exited {
		o.handleExit(ev)
		return
	}

	h := ev.handle
	h.ObserveMessage(ev.msg)
	if ev.msg.Kind == types.MsgReady {
		ev.pool.HandleReady(o.baseCtx, h)
		return
	}

	t := o.tasks.Get(ev.msg.TaskID)
	if t == nil || t.Resolved() {
		return // stray message from a terminated or reassigned handle
	}
	if assigned, ok := t.AssignedHandle(); !ok || assigned != h.ID {
		return
	}

	o.tracer.Message(ev.msg.TaskID, ev.language, ev.msg.Kind)
	o.egress.ForwardMessage(ev.msg)

	if ev.msg.Kind.Terminal() {
		t.StopTimers()
		outcome := outcomeFromTerminal(ev.msg, t.CancelKind)
		t.Resolve(outcome)
		o.tasks.Remove(t.ID())
		metrics.TaskLatency.WithLabelValues(string(ev.language), kindLabel(outcome)).Observe(time.Since(t.SubmittedAt).Seconds())
		ev.pool.HandleTerminal(o.baseCtx, h)
		o.drainIdleHandles(ev.pool)
	}
}

func (o *Orchestrator) handleExit(ev handleEvent) {
	h := ev.handle
	if assignedID, hasTask := h.AssignedTaskID(); hasTask {
		if t := o.tasks.Get(assignedID); t != nil && !t.Resolved() {
			t.StopTimers()
			reason := crashReason(ev.err)
			o.tracer.Crash(assignedID, ev.language, h.ID, reason)
			o.egress.ForwardMessage(types.OutboundMessage{Kind: types.MsgError, TaskID: assignedID, Message: "worker crashed: " + reason})
			outcome := types.Err(errkind.WorkerCrash, reason)
			t.Resolve(outcome)
			o.tasks.Remove(assignedID)
			metrics.CrashTotal.WithLabelValues(string(ev.language)).Inc()
			metrics.TaskLatency.WithLabelValues(string(ev.language), outcome.Err.Kind.String()).Observe(time.Since(t.SubmittedAt).Seconds())
		}
	}
	ev.pool.RemoveHandle(o.baseCtx, h.ID)
}

func crashReason(err error) string {
	if err == nil {
		return "exit"
	}
	return err.Error()
}

// outcomeFromTerminal turns a handle's terminal message into the task's
// resolved outcome. A cancellation in progress (cancelKind != errkind.None)
// takes precedence over the generic execution-error kind, matching the
// cancellation algorithm's expectation that an executor which honors a
// cooperative cancel resolves with the cancel's own kind (spec.md section
// 4.6 scenario 2).
func outcomeFromTerminal(msg types.OutboundMessage, cancelKind errkind.Kind) types.Outcome {
	if msg.Kind == types.MsgComplete {
		return types.Ok(msg.Payload)
	}
	if cancelKind != errkind.None {
		return types.Err(cancelKind, msg.Message)
	}
	return types.Err(errkind.Execution, msg.Message)
}

func kindLabel(o types.Outcome) string {
	if o.OK {
		return ""
	}
	return o.Err.Kind.String()
}
