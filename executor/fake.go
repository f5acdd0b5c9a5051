package executor

import (
	"context"
	"time"

	"github.com/scratchlab/execorch/types"
)

// FakeRuntime is a scriptable Runtime standing in for a real isolated
// executor in tests, adapted from the grounding codebase's in-memory
// PipeTransport (a channel-backed double for a real socket transport).
// Tests customize behavior via the exported hooks rather than subclassing.
type FakeRuntime struct {
	// ReadyDelay is how long to wait before emitting the ready message.
	ReadyDelay time.Duration
	// OnExecute is invoked for every execute message; if nil, the runtime
	// emits an immediate complete with the code string as the value.
	OnExecute func(ctx context.Context, wire Wire, msg types.InboundMessage)
	// IgnoreCancel, when true, never resolves a task on a cooperative
	// cancel message, forcing the orchestrator's force-timer path.
	IgnoreCancel bool
	// CrashOnExecute, when true, returns a non-nil error (simulating a
	// non-zero exit) as soon as an execute message arrives, instead of
	// running OnExecute.
	CrashOnExecute bool
}

func (f *FakeRuntime) Run(ctx context.Context, wire Wire) error {
	if f.ReadyDelay > 0 {
		select {
		case <-time.After(f.ReadyDelay):
		case <-ctx.Done():
			return nil
		}
	}
	select {
	case wire.Outbound <- types.OutboundMessage{Kind: types.MsgReady}:
	case <-ctx.Done():
		return nil
	}

	var activeTask string
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-wire.Inbound:
			if !ok {
				return nil
			}
			switch msg.Kind {
			case types.InExecute:
				activeTask = msg.TaskID
				if f.CrashOnExecute {
					return errCrash
				}
				if f.OnExecute != nil {
					f.OnExecute(ctx, wire, msg)
					continue
				}
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgComplete, TaskID: msg.TaskID, Payload: msg.Code}:
				case <-ctx.Done():
					return nil
				}
			case types.InCancel:
				if f.IgnoreCancel {
					continue
				}
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgError, TaskID: activeTask, Message: "cancelled"}:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

type fakeCrashError struct{}

func (fakeCrashError) Error() string { return "simulated crash" }

var errCrash = fakeCrashError{}
