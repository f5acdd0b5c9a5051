package types

// MessageKind discriminates the tagged union an executor emits, per
// spec.md section 3's OutboundMessage.
type MessageKind int

const (
	MsgReady MessageKind = iota
	MsgResult
	MsgConsole
	MsgDebug
	MsgStatus
	MsgPromptRequest
	MsgAlertRequest
	MsgInputRequest
	MsgComplete
	MsgError
)

func (k MessageKind) String() string {
	switch k {
	case MsgReady:
		return "ready"
	case MsgResult:
		return "result"
	case MsgConsole:
		return "console"
	case MsgDebug:
		return "debug"
	case MsgStatus:
		return "status"
	case MsgPromptRequest:
		return "prompt-request"
	case MsgAlertRequest:
		return "alert-request"
	case MsgInputRequest:
		return "input-request"
	case MsgComplete:
		return "complete"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether this kind is a terminal resolution for its task
// (complete or error).
func (k MessageKind) Terminal() bool {
	return k == MsgComplete || k == MsgError
}

// ConsoleKind is the sub-kind carried by a console message.
type ConsoleKind int

const (
	ConsoleLog ConsoleKind = iota
	ConsoleWarn
	ConsoleError
	ConsoleInfo
	ConsoleTable
	ConsoleDir
)

func (k ConsoleKind) String() string {
	switch k {
	case ConsoleLog:
		return "log"
	case ConsoleWarn:
		return "warn"
	case ConsoleError:
		return "error"
	case ConsoleInfo:
		return "info"
	case ConsoleTable:
		return "table"
	case ConsoleDir:
		return "dir"
	default:
		return "unknown"
	}
}

// OutboundMessage is a message an executor sends back towards the
// orchestrator. TaskID is empty only for MsgReady, which precedes any
// per-task message from a handle.
type OutboundMessage struct {
	Kind      MessageKind
	TaskID    string
	Console   ConsoleKind // only meaningful when Kind == MsgConsole
	Payload   any         // result value, console args, debug info, status, ...
	RequestID string      // correlates nested prompt/input requests
	Message   string      // human-readable text; required for MsgError
}

// InboundMessage is a message the orchestrator sends to an executor.
type InboundKind int

const (
	InExecute InboundKind = iota
	InCancel
	InClearCache
	InInstallPackage
	InListPackages
	InGetMemoryStats
	InCleanupNamespace
	InResetRuntime
	InInputResponse
	InSetInterruptBuffer
)

type InboundMessage struct {
	Kind      InboundKind
	TaskID    string
	Code      string
	Options   Options
	Package   string
	Name      string
	Value     string
	RequestID string
}
