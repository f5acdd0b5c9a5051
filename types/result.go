package types

import "github.com/scratchlab/execorch/errkind"

// Outcome is the tagged union a submission's future ultimately resolves to:
// either {ok, value} or {err, kind, message}, mirroring the external
// submission interface in spec.md section 6.
type Outcome struct {
	OK    bool
	Value any
	Err   *errkind.Error
}

// Ok builds a successful outcome.
func Ok(value any) Outcome {
	return Outcome{OK: true, Value: value}
}

// Err builds a failed outcome from an error kind.
func Err(kind errkind.Kind, message string) Outcome {
	return Outcome{Err: errkind.New(kind, message)}
}

// IsError reports whether the outcome failed.
func (o Outcome) IsError() bool {
	return !o.OK
}
