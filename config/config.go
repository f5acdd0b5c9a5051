// Package config defines the orchestrator's tunables and their defaults,
// bound to CLI flags and environment variables in the grounding pack's
// jessevdk/go-flags struct-tag style (estuary-flow's airbyte connector
// args), rather than the teacher's hand-rolled stdlib flag.String calls —
// go-flags' declarative long/env/default tags are closer to how most of
// the pack configures its binaries.
package config

// Config holds every tunable spec.md leaves to the operator: per-language
// ceilings, timeout defaults and grace margins, queue and idle-retirement
// bounds, and the bytecode page cap.
type Config struct {
	ScriptedCeiling    int `long:"scripted-ceiling" env:"ORCH_SCRIPTED_CEILING" default:"4" description:"max concurrent scripted executor handles"`
	InterpretedCeiling int `long:"interpreted-ceiling" env:"ORCH_INTERPRETED_CEILING" default:"2" description:"max concurrent interpreted executor handles"`

	DefaultTimeoutMs  int `long:"default-timeout-ms" env:"ORCH_DEFAULT_TIMEOUT_MS" default:"30000" description:"execution timeout applied when a request omits one"`
	ScriptedGraceMs   int `long:"scripted-grace-ms" env:"ORCH_SCRIPTED_GRACE_MS" default:"5000" description:"soft-timer grace margin added to the declared timeout for scripted tasks"`
	InterpretedGraceMs int `long:"interpreted-grace-ms" env:"ORCH_INTERPRETED_GRACE_MS" default:"15000" description:"soft-timer grace margin added to the declared timeout for interpreted tasks"`
	ForceTimeoutMs    int `long:"force-timeout-ms" env:"ORCH_FORCE_TIMEOUT_MS" default:"2000" description:"grace period after a cooperative cancel before forced termination"`

	QueueCeiling int `long:"queue-ceiling" env:"ORCH_QUEUE_CEILING" default:"100" description:"per-language pending-task queue ceiling"`

	IdleRetirementEnabled bool `long:"idle-retirement" env:"ORCH_IDLE_RETIREMENT" description:"retire idle-ready handles above the configured floor"`
	IdleTimeoutMs         int  `long:"idle-timeout-ms" env:"ORCH_IDLE_TIMEOUT_MS" default:"60000" description:"how long a handle must sit idle-ready before it becomes a retirement candidate"`
	IdleFloorScripted     int  `long:"idle-floor-scripted" env:"ORCH_IDLE_FLOOR_SCRIPTED" default:"0" description:"minimum scripted handles kept alive during idle retirement"`
	IdleFloorInterpreted  int  `long:"idle-floor-interpreted" env:"ORCH_IDLE_FLOOR_INTERPRETED" default:"0" description:"minimum interpreted handles kept alive during idle retirement"`

	BytecodeIdleTTLMs int `long:"bytecode-idle-ttl-ms" env:"ORCH_BYTECODE_IDLE_TTL_MS" default:"300000" description:"idle TTL before a cached bytecode instance is evicted"`
	BytecodeMaxPages  int `long:"bytecode-max-pages" env:"ORCH_BYTECODE_MAX_PAGES" default:"2048" description:"hard cap on bytecode instance memory pages regardless of per-request request"`
}

// Default returns a Config populated with spec.md's defaults, equivalent to
// what go-flags would produce by parsing zero arguments against the
// default tags above — useful for tests and for embedding as a base that
// callers override piecemeal.
func Default() Config {
	return Config{
		ScriptedCeiling:        4,
		InterpretedCeiling:     2,
		DefaultTimeoutMs:       30_000,
		ScriptedGraceMs:        5_000,
		InterpretedGraceMs:     15_000,
		ForceTimeoutMs:         2_000,
		QueueCeiling:           100,
		IdleRetirementEnabled:  false,
		IdleTimeoutMs:          60_000,
		IdleFloorScripted:      0,
		IdleFloorInterpreted:   0,
		BytecodeIdleTTLMs:      300_000,
		BytecodeMaxPages:       2048,
	}
}
