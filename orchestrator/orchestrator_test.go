package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/scratchlab/execorch/bytecode"
	"github.com/scratchlab/execorch/config"
	"github.com/scratchlab/execorch/egress"
	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/executor"
	"github.com/scratchlab/execorch/registry"
	"github.com/scratchlab/execorch/transform"
	"github.com/scratchlab/execorch/types"
	"github.com/stretchr/testify/require"
)

func baseConfig() config.Config {
	c := config.Default()
	c.ScriptedGraceMs = 50
	c.InterpretedGraceMs = 50
	c.ForceTimeoutMs = 50
	return c
}

func reg(entries ...registry.Entry) *registry.Registry {
	r := registry.New()
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

func newTestOrchestrator(t *testing.T, cfg config.Config, r *registry.Registry, scripted, interpreted func() executor.Runtime) *Orchestrator {
	t.Helper()
	if scripted == nil {
		scripted = func() executor.Runtime { return &executor.FakeRuntime{} }
	}
	if interpreted == nil {
		interpreted = func() executor.Runtime { return &executor.FakeRuntime{} }
	}
	o := New(Options{
		Config:             cfg,
		Registry:           r,
		Transform:          transform.Identity,
		ScriptedRuntime:    scripted,
		InterpretedRuntime: interpreted,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx, false)
	})
	return o
}

func waitOutcome(t *testing.T, tk interface{ Done() <-chan struct{} }, waiter func() types.Outcome) types.Outcome {
	t.Helper()
	select {
	case <-tk.Done():
		return waiter()
	case <-time.After(2 * time.Second):
		t.Fatal("task did not resolve in time")
		return types.Outcome{}
	}
}

func TestSubmitScriptedHappyPath(t *testing.T) {
	o := newTestOrchestrator(t, baseConfig(), reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), nil, nil)
	tk := o.Submit(types.ExecutionRequest{ID: "a", Code: "1+2", Language: types.Scripted, Options: types.Options{TimeoutMs: 1000}})
	out := waitOutcome(t, tk, tk.Wait)
	require.True(t, out.OK)
	require.Equal(t, "1+2", out.Value)
}

func TestSubmitUnknownLanguageResolvesImmediately(t *testing.T) {
	o := newTestOrchestrator(t, baseConfig(), reg(), nil, nil)
	tk := o.Submit(types.ExecutionRequest{ID: "a", Code: "x", Language: types.Scripted})
	require.True(t, tk.Resolved())
	out := tk.Wait()
	require.False(t, out.OK)
	require.Equal(t, errkind.UnknownLanguage, out.Err.Kind)
}

func TestTransformFailureResolvesTranspile(t *testing.T) {
	o := New(Options{
		Config:   baseConfig(),
		Registry: reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}),
		Transform: transform.Func(func(code string, _ types.Options) (string, error) {
			return "", errkind.New(errkind.Transpile, "syntax error")
		}),
		ScriptedRuntime:    func() executor.Runtime { return &executor.FakeRuntime{} },
		InterpretedRuntime: func() executor.Runtime { return &executor.FakeRuntime{} },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx, false)
	})

	tk := o.Submit(types.ExecutionRequest{ID: "a", Code: "bad(", Language: types.Scripted})
	require.True(t, tk.Resolved())
	out := tk.Wait()
	require.False(t, out.OK)
	require.Equal(t, errkind.Transpile, out.Err.Kind)
}

// hangingExecute blocks until the cancel message arrives on the inbound
// channel it reads directly (the outer FakeRuntime loop is paused inside
// this call), or until ctx is cancelled.
func hangingExecute(t *testing.T, cancelled chan<- struct{}) func(ctx context.Context, wire executor.Wire, msg types.InboundMessage) {
	return func(ctx context.Context, wire executor.Wire, msg types.InboundMessage) {
		select {
		case <-ctx.Done():
		case in := <-wire.Inbound:
			if in.Kind == types.InCancel {
				close(cancelled)
				wire.Outbound <- types.OutboundMessage{Kind: types.MsgError, TaskID: msg.TaskID, Message: "cancelled"}
			}
		case <-time.After(5 * time.Second):
			wire.Outbound <- types.OutboundMessage{Kind: types.MsgComplete, TaskID: msg.TaskID, Payload: "too slow"}
		}
	}
}

func TestCooperativeCancelResolvesWithCancelledKind(t *testing.T) {
	cancelled := make(chan struct{})
	rt := func() executor.Runtime {
		return &executor.FakeRuntime{OnExecute: hangingExecute(t, cancelled)}
	}
	o := newTestOrchestrator(t, baseConfig(), reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), rt, nil)

	tk := o.Submit(types.ExecutionRequest{ID: "b", Code: "while(true){}", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})

	require.Eventually(t, func() bool {
		return o.Stats().Scripted.HandleCount == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, o.Cancel("b"))
	<-cancelled

	out := waitOutcome(t, tk, tk.Wait)
	require.False(t, out.OK)
	require.Equal(t, errkind.Cancelled, out.Err.Kind)
}

func TestForcedCancelAfterUnresponsiveHandle(t *testing.T) {
	rt := func() executor.Runtime {
		return &executor.FakeRuntime{
			OnExecute: func(ctx context.Context, wire executor.Wire, msg types.InboundMessage) {
				<-ctx.Done() // never reads the cancel message at all
			},
		}
	}
	cfg := baseConfig()
	cfg.ForceTimeoutMs = 30
	o := newTestOrchestrator(t, cfg, reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), rt, nil)

	tk := o.Submit(types.ExecutionRequest{ID: "c", Code: "loop", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})
	require.Eventually(t, func() bool {
		return o.Stats().Scripted.HandleCount == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, o.Cancel("c"))
	out := waitOutcome(t, tk, tk.Wait)
	require.False(t, out.OK)
	require.Equal(t, errkind.CancelError, out.Err.Kind)

	require.Eventually(t, func() bool {
		return o.Stats().Scripted.HandleCount == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCrashReplacesHandleAndNextTaskStillRuns(t *testing.T) {
	first := true
	rt := func() executor.Runtime {
		if first {
			first = false
			return &executor.FakeRuntime{CrashOnExecute: true}
		}
		return &executor.FakeRuntime{}
	}
	o := newTestOrchestrator(t, baseConfig(), reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), rt, nil)

	crashing := o.Submit(types.ExecutionRequest{ID: "crash", Code: "boom", Language: types.Scripted, Options: types.Options{TimeoutMs: 1000}})
	out := waitOutcome(t, crashing, crashing.Wait)
	require.False(t, out.OK)
	require.Equal(t, errkind.WorkerCrash, out.Err.Kind)

	healthy := o.Submit(types.ExecutionRequest{ID: "ok", Code: "42", Language: types.Scripted, Options: types.Options{TimeoutMs: 1000}})
	out2 := waitOutcome(t, healthy, healthy.Wait)
	require.True(t, out2.OK)
}

func TestQueueFullRejectsBeyondCeiling(t *testing.T) {
	rt := func() executor.Runtime {
		return &executor.FakeRuntime{
			OnExecute: func(ctx context.Context, wire executor.Wire, msg types.InboundMessage) {
				<-ctx.Done()
			},
		}
	}
	cfg := baseConfig()
	cfg.ScriptedCeiling = 1
	cfg.QueueCeiling = 1
	o := newTestOrchestrator(t, cfg, reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), rt, nil)

	o.Submit(types.ExecutionRequest{ID: "x1", Code: "a", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})
	o.Submit(types.ExecutionRequest{ID: "x2", Code: "b", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})
	third := o.Submit(types.ExecutionRequest{ID: "x3", Code: "c", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})

	out := waitOutcome(t, third, third.Wait)
	require.False(t, out.OK)
	require.Equal(t, errkind.QueueFull, out.Err.Kind)
}

// --- bytecode fakes ---

type fakeBytecodeInstance struct {
	stdout, stderr io.Writer
	block          <-chan struct{}
}

func (f *fakeBytecodeInstance) Run(code string) (int, error) {
	if f.block != nil {
		<-f.block
	}
	io.WriteString(f.stdout, "ran:"+code)
	return 0, nil
}

type fakeBytecodeModule struct {
	block <-chan struct{}
}

func (m *fakeBytecodeModule) Instantiate(pages int, stdout, stderr io.Writer) (bytecode.Instance, error) {
	return &fakeBytecodeInstance{stdout: stdout, stderr: stderr, block: m.block}, nil
}

func TestBytecodeHappyPath(t *testing.T) {
	loader := func(tag string) (bytecode.Module, *bytecode.Adapter, error) {
		return &fakeBytecodeModule{}, nil, nil
	}
	o := New(Options{
		Config:             baseConfig(),
		Registry:           reg(registry.Entry{Tag: "bytecode-lua", Kind: registry.KindBytecode, Ceiling: 2, MemoryPages: 16}),
		Transform:          transform.Identity,
		ScriptedRuntime:    func() executor.Runtime { return &executor.FakeRuntime{} },
		InterpretedRuntime: func() executor.Runtime { return &executor.FakeRuntime{} },
		BytecodeLoader:     loader,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx, false)
	})

	tk := o.Submit(types.ExecutionRequest{ID: "bc1", Code: "print(1)", Language: "bytecode-lua", Options: types.Options{TimeoutMs: 1000}})
	out := waitOutcome(t, tk, tk.Wait)
	require.True(t, out.OK)
	payload, ok := out.Value.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "ran:print(1)", payload["stdout"])
}

func TestBytecodeCeilingQueuesExcessWork(t *testing.T) {
	block := make(chan struct{})
	loader := func(tag string) (bytecode.Module, *bytecode.Adapter, error) {
		return &fakeBytecodeModule{block: block}, nil, nil
	}
	o := New(Options{
		Config:             baseConfig(),
		Registry:           reg(registry.Entry{Tag: "bytecode-lua", Kind: registry.KindBytecode, Ceiling: 1, MemoryPages: 16}),
		Transform:          transform.Identity,
		ScriptedRuntime:    func() executor.Runtime { return &executor.FakeRuntime{} },
		InterpretedRuntime: func() executor.Runtime { return &executor.FakeRuntime{} },
		BytecodeLoader:     loader,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = o.Shutdown(ctx, false)
	})

	first := o.Submit(types.ExecutionRequest{ID: "q1", Code: "a", Language: "bytecode-lua", Options: types.Options{TimeoutMs: 5000}})
	second := o.Submit(types.ExecutionRequest{ID: "q2", Code: "b", Language: "bytecode-lua", Options: types.Options{TimeoutMs: 5000}})

	require.Eventually(t, func() bool {
		return o.Stats().Bytecode["bytecode-lua"].QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	close(block)
	out1 := waitOutcome(t, first, first.Wait)
	out2 := waitOutcome(t, second, second.Wait)
	require.True(t, out1.OK)
	require.True(t, out2.OK)
}

// --- host egress wiring ---

type fakeSink struct {
	mu       chan struct{}
	messages []types.OutboundMessage
}

func newFakeSink() *fakeSink { return &fakeSink{mu: make(chan struct{}, 64)} }

func (f *fakeSink) Send(channel egress.Channel, payload any) {
	if msg, ok := payload.(types.OutboundMessage); ok && channel == egress.ChannelExecutionResult {
		f.messages = append(f.messages, msg)
		f.mu <- struct{}{}
	}
}

func (f *fakeSink) Destroyed() bool { return false }

func TestSetHostSinkObservesCompleteMessage(t *testing.T) {
	o := newTestOrchestrator(t, baseConfig(), reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}), nil, nil)
	sink := newFakeSink()
	o.SetHostSink(sink)

	tk := o.Submit(types.ExecutionRequest{ID: "s1", Code: "1", Language: types.Scripted, Options: types.Options{TimeoutMs: 1000}})
	waitOutcome(t, tk, tk.Wait)

	select {
	case <-sink.mu:
	case <-time.After(time.Second):
		t.Fatal("host sink never observed a message")
	}
	require.NotEmpty(t, sink.messages)
	require.Equal(t, types.MsgComplete, sink.messages[len(sink.messages)-1].Kind)
}

func TestShutdownTerminatesHandlesAndCancelsQueued(t *testing.T) {
	rt := func() executor.Runtime {
		return &executor.FakeRuntime{
			OnExecute: func(ctx context.Context, wire executor.Wire, msg types.InboundMessage) {
				<-ctx.Done()
			},
		}
	}
	cfg := baseConfig()
	cfg.ScriptedCeiling = 1
	o := New(Options{
		Config:             cfg,
		Registry:           reg(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted}),
		Transform:          transform.Identity,
		ScriptedRuntime:    rt,
		InterpretedRuntime: func() executor.Runtime { return &executor.FakeRuntime{} },
	})

	running := o.Submit(types.ExecutionRequest{ID: "r1", Code: "a", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})
	queued := o.Submit(types.ExecutionRequest{ID: "r2", Code: "b", Language: types.Scripted, Options: types.Options{TimeoutMs: 60_000}})

	require.Eventually(t, func() bool {
		return o.Stats().Scripted.QueueDepth == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx, false))

	qOut := queued.Wait()
	require.False(t, qOut.OK)
	require.Equal(t, errkind.Cancelled, qOut.Err.Kind)

	_ = running // the running task's own outcome depends on FakeRuntime's ctx.Done() handling, not asserted here
}
