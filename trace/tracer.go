// Package trace provides an optional low-level, line-granular execution
// tracer, adapted from the grounding codebase's verb-call tracer. That
// tracer filtered by glob pattern against a verb name; this one filters
// against task id and language, since there is no verb concept here. Unlike
// the original (a single package-level global), a Tracer is constructed
// per orchestrator instance, consistent with this module's avoidance of
// captured global state.
package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/scratchlab/execorch/types"
)

// Tracer writes one line per traced event to an underlying writer, gated by
// an enabled flag and an optional set of glob filters matched against
// either the task id or the language tag.
type Tracer struct {
	enabled bool
	filters []string
	writer  io.Writer
	mu      sync.Mutex
}

// New creates a tracer. A nil writer defaults to os.Stderr. No filters
// means every event is traced.
func New(enabled bool, filters []string, writer io.Writer) *Tracer {
	if writer == nil {
		writer = os.Stderr
	}
	return &Tracer{enabled: enabled, filters: filters, writer: writer}
}

// Enabled reports whether this tracer emits anything.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Tracer) matches(taskID string, language types.Language) bool {
	if len(t.filters) == 0 {
		return true
	}
	for _, pattern := range t.filters {
		if matched, _ := filepath.Match(pattern, taskID); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, string(language)); matched {
			return true
		}
	}
	return false
}

// Dispatch logs a task being assigned to a handle.
func (t *Tracer) Dispatch(taskID string, language types.Language, handleID string) {
	if !t.Enabled() || !t.matches(taskID, language) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] DISPATCH task=%s language=%s handle=%s\n", taskID, language, handleID)
}

// Message logs a non-ready message observed from an executor.
func (t *Tracer) Message(taskID string, language types.Language, kind types.MessageKind) {
	if !t.Enabled() || !t.matches(taskID, language) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] MESSAGE task=%s language=%s kind=%s\n", taskID, language, kind)
}

// Cancel logs a cancellation attempt and which path it took.
func (t *Tracer) Cancel(taskID string, language types.Language, path string) {
	if !t.Enabled() || !t.matches(taskID, language) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] CANCEL task=%s language=%s path=%s\n", taskID, language, path)
}

// Crash logs a handle-fatal collapse.
func (t *Tracer) Crash(taskID string, language types.Language, handleID string, reason string) {
	if !t.Enabled() || !t.matches(taskID, language) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.writer, "[TRACE] CRASH task=%s language=%s handle=%s reason=%s\n", taskID, language, handleID, reason)
}
