package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/scratchlab/execorch/bytecode"
	"github.com/scratchlab/execorch/executor"
	"github.com/scratchlab/execorch/types"
)

// demoScriptedRuntime stands in for an isolated scripted-language process:
// it "runs" by sleeping a token amount proportional to the code length,
// emitting one console line along the way, and completing with the source
// it was given as its result value. A real scripted executor would instead
// be a subprocess speaking the same InboundMessage/OutboundMessage union
// over a pipe.
type demoScriptedRuntime struct{}

func (demoScriptedRuntime) Run(ctx context.Context, wire executor.Wire) error {
	select {
	case wire.Outbound <- types.OutboundMessage{Kind: types.MsgReady}:
	case <-ctx.Done():
		return nil
	}

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
				finished, cancelled := runFor(ctx, wire.Inbound, msg.TaskID, msg.Code)
				if !finished {
					return nil
				}
				if cancelled {
					select {
					case wire.Outbound <- types.OutboundMessage{Kind: types.MsgError, TaskID: msg.TaskID, Message: "cancelled"}:
					case <-ctx.Done():
						return nil
					}
					continue
				}
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgConsole, TaskID: msg.TaskID, Console: types.ConsoleLog, Payload: fmt.Sprintf("evaluating %d bytes", len(msg.Code))}:
				case <-ctx.Done():
					return nil
				}
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgComplete, TaskID: msg.TaskID, Payload: strings.TrimSpace(msg.Code)}:
				case <-ctx.Done():
					return nil
				}
			case types.InCancel:
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgError, TaskID: msg.TaskID, Message: "cancelled"}:
				case <-ctx.Done():
					return nil
				}
			case types.InClearCache:
				// No module cache in this demo; nothing to do.
			}
		}
	}
}

// demoInterpretedRuntime stands in for an embedded interpreter sharing an
// interrupt byte with the orchestrator: it polls the interrupt at
// coarse-grained "safe points" the way a real bytecode-stepping interpreter
// would between instructions.
type demoInterpretedRuntime struct{}

func (demoInterpretedRuntime) Run(ctx context.Context, wire executor.Wire) error {
	select {
	case wire.Outbound <- types.OutboundMessage{Kind: types.MsgReady}:
	case <-ctx.Done():
		return nil
	}

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
				interrupted := false
				steps := len(msg.Code)/8 + 1
				for i := 0; i < steps; i++ {
					select {
					case <-time.After(5 * time.Millisecond):
					case <-ctx.Done():
						return nil
					}
					if wire.Shared.Interrupt != nil && wire.Shared.Interrupt.Check() {
						interrupted = true
						break
					}
				}
				if interrupted {
					select {
					case wire.Outbound <- types.OutboundMessage{Kind: types.MsgError, TaskID: msg.TaskID, Message: "cancelled"}:
					case <-ctx.Done():
						return nil
					}
					continue
				}
				select {
				case wire.Outbound <- types.OutboundMessage{Kind: types.MsgComplete, TaskID: msg.TaskID, Payload: len(msg.Code)}:
				case <-ctx.Done():
					return nil
				}
			case types.InCancel:
				// The orchestrator also raises the shared interrupt byte for
				// interpreted tasks; this message is informational only.
			}
		}
	}
}

// runFor simulates work proportional to code length. finished is false if
// ctx was cancelled or inbound closed first; cancelled is true if a cancel
// message for taskID arrived before the work was done. Other inbound
// messages received meanwhile are discarded.
func runFor(ctx context.Context, inbound <-chan types.InboundMessage, taskID, code string) (finished, cancelled bool) {
	d := time.Duration(len(code)) * time.Millisecond
	if d > 200*time.Millisecond {
		d = 200 * time.Millisecond
	}
	done := time.After(d)
	for {
		select {
		case <-done:
			return true, false
		case in, ok := <-inbound:
			if !ok {
				return false, false
			}
			if in.Kind == types.InCancel && in.TaskID == taskID {
				return true, true
			}
		case <-ctx.Done():
			return false, false
		}
	}
}

// demoBytecodeInstance is a trivial bytecode.Instance: it writes its input
// to the per-invocation stdout buffer and returns exit code 0, standing in
// for a real wasm/bytecode VM instance.
type demoBytecodeInstance struct {
	stdout io.Writer
	stderr io.Writer
}

func (d *demoBytecodeInstance) Run(code string) (int, error) {
	io.WriteString(d.stdout, "bytecode> "+code+"\n")
	return 0, nil
}

// demoBytecodeModule is a trivial bytecode.Module: "instantiating" it just
// allocates a fresh instance bound to this invocation's output buffers.
type demoBytecodeModule struct{}

func (demoBytecodeModule) Instantiate(pages int, stdout, stderr io.Writer) (bytecode.Instance, error) {
	return &demoBytecodeInstance{stdout: stdout, stderr: stderr}, nil
}

// demoBytecodeLoader is the bytecode.Loader the demo registers for every
// "bytecode-*" tag: every tag resolves to the same trivial module, with no
// adapter (so Cache.Execute calls Instance.Run directly).
func demoBytecodeLoader(languageTag string) (bytecode.Module, *bytecode.Adapter, error) {
	return demoBytecodeModule{}, nil, nil
}
