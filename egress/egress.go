// Package egress implements the Host Egress of spec.md section 4.7: a thin
// boundary that serializes messages to the host sink and drops them
// silently once the host is gone. Grounded on the guarded-send pattern of
// the grounding codebase's Connection.Send/ConnectionManager (every send
// goes through a single narrow method; a missing or closed destination
// never panics the caller), generalized here from a per-connection
// transport to a single process-wide sink that can be swapped or cleared
// at any time via setHostSink.
package egress

import (
	"sync/atomic"

	"github.com/scratchlab/execorch/types"
)

// Channel names the host sink's designated delivery channels, per spec.md
// section 6.
type Channel string

const (
	ChannelExecutionResult Channel = "code-execution-result"
	ChannelInputRequest    Channel = "input-request"
	ChannelLogEntry        Channel = "log-entry"
)

// HostSink is the external collaborator spec.md section 1 describes as "a
// message sink exposing a single send(channel, payload) primitive and a
// destroyed predicate." Implementations live outside this module; the
// demo binary supplies a trivial one.
type HostSink interface {
	Send(channel Channel, payload any)
	Destroyed() bool
}

// Egress holds a possibly-nil reference to the host sink. Every send is
// guarded by a null-check and a destroyed-check, both of which short-circuit
// silently (spec.md section 4.7); nothing is ever queued for a departed
// host, and reattaching a new sink never replays prior messages. The sink
// reference is stored behind an atomic pointer rather than a mutex since
// setHostSink may be called from any goroutine while the control loop reads
// it concurrently for every outgoing message — a swap, not a critical
// section, is all the contract needs.
type Egress struct {
	sink atomic.Pointer[HostSink]
}

// New creates an Egress with no attached sink.
func New() *Egress {
	return &Egress{}
}

// SetHostSink attaches or clears (pass nil) the host sink.
func (e *Egress) SetHostSink(sink HostSink) {
	if sink == nil {
		e.sink.Store(nil)
		return
	}
	e.sink.Store(&sink)
}

// send guards a delivery: nil sink or a destroyed one drops silently.
func (e *Egress) send(channel Channel, payload any) {
	p := e.sink.Load()
	if p == nil {
		return
	}
	sink := *p
	if sink == nil || sink.Destroyed() {
		return
	}
	sink.Send(channel, payload)
}

// ForwardMessage delivers a non-ready executor message on the execution
// result channel, and additionally on the input-request channel when it is
// one of the three request kinds the host renders as a modal (spec.md
// section 4.6 "message fanning").
func (e *Egress) ForwardMessage(msg types.OutboundMessage) {
	if msg.Kind == types.MsgReady {
		return
	}
	e.send(ChannelExecutionResult, msg)
	switch msg.Kind {
	case types.MsgPromptRequest, types.MsgAlertRequest, types.MsgInputRequest:
		e.send(ChannelInputRequest, msg)
	}
}

// LogEntry sends an orchestrator diagnostic, not user output, on the
// optional log-entry channel (spec.md section 6).
func (e *Egress) LogEntry(entry any) {
	e.send(ChannelLogEntry, entry)
}
