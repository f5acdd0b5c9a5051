// Package bytecode implements the Bytecode-Module Executor of spec.md
// section 4.8: a variant executor that runs inside the orchestrator process
// rather than as a separate isolated instance, with its own memory and
// output buffers allocated per invocation.
package bytecode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MaxPages caps the memory a bytecode instance may request, per spec.md
// section 4.8.
const MaxPages = 2048

// PageSize is the size in bytes of one page of instance memory.
const PageSize = 64 * 1024

// DefaultIdleTTL is how long an unused cached instance survives before the
// cleanup sweep reclaims it (spec.md section 4.8).
const DefaultIdleTTL = 5 * time.Minute

// Instance is one running bytecode-module instance: a loaded module plus
// its own memory and output accumulators.
type Instance interface {
	// Run executes the module's default export, returning its exit code.
	Run(code string) (exitCode int, err error)
}

// Module is a loaded bytecode module capable of instantiating execution
// instances with a bounded memory page count. stdout/stderr are the
// per-invocation accumulators the instance's imports should write through
// to, per spec.md section 4.8.
type Module interface {
	Instantiate(pages int, stdout, stderr io.Writer) (Instance, error)
}

// Adapter is the duck-typed capability set a language may supply:
// initialize, prepareCode, execute, and the two output hooks. Every field
// is optional — a tagged set of capabilities rather than an interface
// forcing every language to implement every hook (spec.md section 9 design
// notes: "implement as a tagged variant or small interface, not
// inheritance").
type Adapter struct {
	Initialize   func(inst Instance) error
	PrepareCode  func(code string) (string, error)
	Execute      func(inst Instance, code string) (exitCode int, err error)
	HandleStdout func(data []byte)
	HandleStderr func(data []byte)
}

// Loader resolves a language tag (e.g. "bytecode-lua") to its module and
// optional adapter, loaded lazily on first use.
type Loader func(languageTag string) (Module, *Adapter, error)

// Outcome is the result of one invocation.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// cachedInstance pairs a loaded module/adapter with its last-use timestamp
// for idle eviction. Output accumulators are not cached; Execute allocates
// fresh ones per invocation.
type cachedInstance struct {
	module     Module
	adapter    *Adapter
	lastUsedAt time.Time
}

// Cache loads bytecode modules on first use and evicts idle ones, per
// spec.md section 4.8.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cachedInstance
	load    Loader
	idleTTL time.Duration

	stop chan struct{}
	once sync.Once
}

// NewCache creates a cache that loads modules via load and evicts entries
// idle longer than idleTTL (DefaultIdleTTL if <= 0).
func NewCache(load Loader, idleTTL time.Duration) *Cache {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	c := &Cache{
		entries: make(map[string]*cachedInstance),
		load:    load,
		idleTTL: idleTTL,
		stop:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Close stops the idle-sweep goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.idleTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for tag, e := range c.entries {
		if now.Sub(e.lastUsedAt) > c.idleTTL {
			delete(c.entries, tag)
		}
	}
}

func (c *Cache) getOrLoad(languageTag string) (*cachedInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[languageTag]; ok {
		e.lastUsedAt = time.Now()
		return e, nil
	}

	module, adapter, err := c.load(languageTag)
	if err != nil {
		return nil, err
	}
	e := &cachedInstance{module: module, adapter: adapter, lastUsedAt: time.Now()}
	c.entries[languageTag] = e
	return e, nil
}

// Execute runs code under the named bytecode language, allocating a fresh
// instance (and its own output buffers) for this invocation, enforcing
// timeout by racing a timer against the run rather than killing anything —
// there is no native kill for an in-process instance (spec.md section 4.8).
func (c *Cache) Execute(ctx context.Context, languageTag, code string, pages int, timeout time.Duration) Outcome {
	if pages <= 0 || pages > MaxPages {
		pages = MaxPages
	}

	entry, err := c.getOrLoad(languageTag)
	if err != nil {
		return Outcome{ExitCode: 1, Err: fmt.Errorf("load module %s: %w", languageTag, err)}
	}

	var stdout, stderr bytes.Buffer
	inst, err := entry.module.Instantiate(pages, &stdout, &stderr)
	if err != nil {
		return Outcome{ExitCode: 1, Err: fmt.Errorf("instantiate %s: %w", languageTag, err)}
	}

	if entry.adapter != nil {
		if entry.adapter.Initialize != nil {
			if err := entry.adapter.Initialize(inst); err != nil {
				return Outcome{ExitCode: 1, Err: fmt.Errorf("initialize %s: %w", languageTag, err)}
			}
		}
		if entry.adapter.PrepareCode != nil {
			prepared, err := entry.adapter.PrepareCode(code)
			if err != nil {
				return Outcome{ExitCode: 1, Err: fmt.Errorf("prepare code: %w", err)}
			}
			code = prepared
		}
	}

	type runResult struct {
		exitCode int
		err      error
	}
	resultCh := make(chan runResult, 1)

	go func() {
		if entry.adapter != nil && entry.adapter.Execute != nil {
			exitCode, err := entry.adapter.Execute(inst, code)
			resultCh <- runResult{exitCode, err}
			return
		}
		exitCode, err := inst.Run(code)
		resultCh <- runResult{exitCode, err}
	}()

	var out Outcome
	select {
	case r := <-resultCh:
		// Only safe to read stdout/stderr here: the run goroutine above has
		// already sent on resultCh and is done writing to them. On the
		// timeout/ctx.Done branches below it is still running in the
		// background with no way to kill it, so touching the buffers there
		// would race its writes.
		out = Outcome{ExitCode: r.exitCode, Err: r.err, Stdout: stdout.String(), Stderr: stderr.String()}
		if entry.adapter != nil {
			if entry.adapter.HandleStdout != nil {
				entry.adapter.HandleStdout(stdout.Bytes())
			}
			if entry.adapter.HandleStderr != nil {
				entry.adapter.HandleStderr(stderr.Bytes())
			}
		}
	case <-time.After(timeout):
		// No native kill for an in-process instance: the goroutine above
		// keeps running to completion in the background, but the caller is
		// unblocked now with a timeout outcome, per spec.md section 4.8.
		out = Outcome{ExitCode: 1, Err: fmt.Errorf("timeout")}
	case <-ctx.Done():
		out = Outcome{ExitCode: 1, Err: ctx.Err()}
	}

	return out
}
