// Package registry implements the closed-set language registry spec.md
// section 4.6 requires submit to resolve tags against: "Language tag is
// resolved against a language registry (closed set); unknown tags resolve
// with error { kind: unknown-language }." Adapted from the grounding
// codebase's builtins.Registry, which likewise holds a fixed, explicitly
// populated map rather than discovering entries dynamically.
package registry

import (
	"sync"

	"github.com/scratchlab/execorch/types"
)

// Kind distinguishes how a registered language is executed.
type Kind int

const (
	KindScripted Kind = iota
	KindInterpreted
	KindBytecode
)

// Entry is one registered language: its execution kind and, for bytecode
// languages, the pool ceiling and page cap a bytecode cache should use for
// it (spec.md section 4.8: "bytecode per-module configurable").
type Entry struct {
	Tag          types.Language
	Kind         Kind
	Ceiling      int // bytecode only; scripted/interpreted use the orchestrator config's ceilings
	MemoryPages  int // bytecode only; 0 means use the orchestrator config's BytecodeMaxPages
}

// Registry is the closed set of languages the orchestrator will accept.
// Unlike the grounding codebase's registry (built once at process start and
// handed to every VM), this is constructed per orchestrator instance so
// tests can register distinct language sets side by side.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.Language]Entry
}

// New creates an empty registry. Scripted and interpreted are not
// registered automatically — callers register every language they intend
// to accept, including the two fixed families, so an orchestrator that
// only wants bytecode languages can omit them.
func New() *Registry {
	return &Registry{entries: make(map[types.Language]Entry)}
}

// Register adds or replaces an entry.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Tag] = e
}

// Resolve looks up a language tag, reporting whether it is registered.
func (r *Registry) Resolve(tag types.Language) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[tag]
	return e, ok
}

// Tags returns every registered language tag, for diagnostics/stats.
func (r *Registry) Tags() []types.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Language, 0, len(r.entries))
	for tag := range r.entries {
		out = append(out, tag)
	}
	return out
}
