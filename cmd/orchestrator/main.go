// Command orchestrator is a runnable demonstration of the execution
// orchestrator: it wires demo scripted, interpreted, and bytecode runtimes
// into an Orchestrator, submits a handful of representative requests, and
// prints what comes back before draining and exiting. It plays the role the
// grounding codebase's cmd/barn/main.go plays for the MOO server — a thin
// CLI shell around the library package that does the real work.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scratchlab/execorch/bytecode"
	"github.com/scratchlab/execorch/config"
	"github.com/scratchlab/execorch/egress"
	"github.com/scratchlab/execorch/executor"
	"github.com/scratchlab/execorch/orchestrator"
	"github.com/scratchlab/execorch/registry"
	"github.com/scratchlab/execorch/trace"
	"github.com/scratchlab/execorch/types"
	"github.com/sirupsen/logrus"
)

// cliOptions is the demo binary's own flags, with the orchestrator's tunables
// nested under their own group the way the grounding pack's configs compose
// (e.g. estuary-flow's args.go embedding mbp.LogConfig/DiagnosticsConfig
// alongside command-specific fields).
type cliOptions struct {
	// No env-namespace here: config.Config's own fields already carry full
	// ORCH_* env tags, so adding one would double-prefix to ORCH_ORCH_*.
	Orchestrator config.Config `group:"Orchestrator" namespace:"orch"`

	MetricsAddr string `long:"metrics-addr" env:"ORCH_METRICS_ADDR" default:":9090" description:"address to serve /metrics on"`
	Trace       bool   `long:"trace" env:"ORCH_TRACE" description:"enable execution tracing to stderr"`
	TraceFilter string `long:"trace-filter" env:"ORCH_TRACE_FILTER" description:"comma-separated glob filters for --trace (task id or language)"`
}

// demoHostSink is a trivial egress.HostSink that logs everything it
// receives; a real host (the scratchpad app) would instead forward these
// over IPC to its renderer process.
type demoHostSink struct {
	log *logrus.Logger
}

func (s demoHostSink) Send(channel egress.Channel, payload any) {
	s.log.WithField("channel", string(channel)).Infof("host <- %+v", payload)
}

func (demoHostSink) Destroyed() bool { return false }

func main() {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var filters []string
	if opts.TraceFilter != "" {
		for _, f := range strings.Split(opts.TraceFilter, ",") {
			filters = append(filters, strings.TrimSpace(f))
		}
	}
	tracer := trace.New(opts.Trace, filters, os.Stderr)

	reg := registry.New()
	reg.Register(registry.Entry{Tag: types.Scripted, Kind: registry.KindScripted})
	reg.Register(registry.Entry{Tag: types.Interpreted, Kind: registry.KindInterpreted})
	reg.Register(registry.Entry{Tag: "bytecode-demo", Kind: registry.KindBytecode, Ceiling: 2, MemoryPages: 64})

	orch := orchestrator.New(orchestrator.Options{
		Config:             opts.Orchestrator,
		Registry:           reg,
		ScriptedRuntime:    func() executor.Runtime { return demoScriptedRuntime{} },
		InterpretedRuntime: func() executor.Runtime { return demoInterpretedRuntime{} },
		BytecodeLoader:     bytecode.Loader(demoBytecodeLoader),
		Log:                log,
		Tracer:             tracer,
	})
	orch.SetHostSink(demoHostSink{log: log})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.Infof("serving metrics on %s/metrics", opts.MetricsAddr)

	runDemo(orch, log)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx, true); err != nil {
		log.WithError(err).Warn("orchestrator shutdown did not drain cleanly")
	}
	_ = metricsSrv.Close()
	fmt.Println("done")
}
