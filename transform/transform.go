// Package transform declares the boundary to the source-code transformer,
// an external collaborator (spec.md section 1) that the orchestrator calls
// but never implements. Keeping it as a small interface, rather than a
// concrete dependency, avoids baking the transpiler's own package graph into
// the orchestrator's.
package transform

import "github.com/scratchlab/execorch/types"

// Transformer turns source text into the form an executor will run. A
// transform failure is reported as an error, never a panic, so the
// orchestrator can fold it into the transpile error kind at the boundary
// (spec.md section 4.6) without a recover().
type Transformer interface {
	Transform(code string, opts types.Options) (string, error)
}

// Func adapts a plain function to a Transformer, matching the pure-function
// shape spec.md describes: transform(code, opts) -> string.
type Func func(code string, opts types.Options) (string, error)

func (f Func) Transform(code string, opts types.Options) (string, error) {
	return f(code, opts)
}

// Identity passes code through unchanged. Interpreted-language requests
// never call the transformer (spec.md section 4.6); this stands in for
// languages that need no transform step in tests and demos.
var Identity Transformer = Func(func(code string, _ types.Options) (string, error) {
	return code, nil
})
