package main

import (
	"strings"
	"time"

	"github.com/scratchlab/execorch/orchestrator"
	"github.com/scratchlab/execorch/types"
	"github.com/sirupsen/logrus"
)

// runDemo exercises submit, cancel, and stats against every registered
// language family, logging each outcome as it resolves.
func runDemo(orch *orchestrator.Orchestrator, log *logrus.Logger) {
	scripted := orch.Submit(types.ExecutionRequest{
		ID:       "demo-scripted-1",
		Code:     "console.log(1 + 1)",
		Language: types.Scripted,
	})
	logOutcome(log, "scripted", scripted.Wait())

	interpreted := orch.Submit(types.ExecutionRequest{
		ID:       "demo-interpreted-1",
		Code:     "print(21 * 2)",
		Language: types.Interpreted,
	})
	logOutcome(log, "interpreted", interpreted.Wait())

	bc := orch.Submit(types.ExecutionRequest{
		ID:       "demo-bytecode-1",
		Code:     "(module)",
		Language: "bytecode-demo",
	})
	logOutcome(log, "bytecode-demo", bc.Wait())

	longRunning := orch.Submit(types.ExecutionRequest{
		ID:       "demo-scripted-cancel",
		Code:     strings.Repeat("x", 4000),
		Language: types.Scripted,
	})
	time.Sleep(20 * time.Millisecond)
	orch.Cancel(longRunning.ID())
	logOutcome(log, "scripted (cancelled)", longRunning.Wait())

	unknown := orch.Submit(types.ExecutionRequest{
		ID:       "demo-unknown-1",
		Code:     "n/a",
		Language: "cobol",
	})
	logOutcome(log, "unknown language", unknown.Wait())

	stats := orch.Stats()
	log.Infof("final stats: scripted=%+v interpreted=%+v bytecode=%+v", stats.Scripted, stats.Interpreted, stats.Bytecode)
}

func logOutcome(log *logrus.Logger, label string, outcome types.Outcome) {
	if outcome.OK {
		log.Infof("%s -> ok: %v", label, outcome.Value)
		return
	}
	log.Infof("%s -> error[%s]: %s", label, outcome.Err.Kind, outcome.Err.Message)
}
