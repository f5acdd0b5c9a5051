// Package types holds the wire-level data model shared across the
// orchestrator: execution requests, options, results, and the outbound
// message union an executor emits.
package types

import "time"

// Language identifies a language family. Scripted and Interpreted are fixed;
// Bytecode carries the specific module name (e.g. "bytecode-wasm-lua").
type Language string

const (
	Scripted    Language = "scripted"
	Interpreted Language = "interpreted"
)

// IsBytecode reports whether the tag names a bytecode-module language, i.e.
// anything outside the two fixed families.
func (l Language) IsBytecode() bool {
	return l != Scripted && l != Interpreted
}

// Options carries the recognized fields of an ExecutionRequest's options
// record. Zero values are valid; Normalize fills in spec defaults.
type Options struct {
	TimeoutMs           int
	ShowUndefined       bool
	ShowTopLevelResults bool
	LoopProtection      bool
	MagicComments       bool
	WorkingDirectory    string
	MemoryLimitPages    int // bytecode only; 0 means "use the configured default"
}

const defaultTimeoutMs = 30_000

// Normalize returns a copy with spec-mandated defaults applied.
func (o Options) Normalize() Options {
	if o.TimeoutMs <= 0 {
		o.TimeoutMs = defaultTimeoutMs
	}
	return o
}

// Timeout returns the options' timeout as a duration.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// ExecutionRequest is the host's submission: an id it chose, source text,
// a language tag, and options.
type ExecutionRequest struct {
	ID       string
	Code     string
	Language Language
	Options  Options
	Priority int // higher runs first; FIFO within equal priority
}
