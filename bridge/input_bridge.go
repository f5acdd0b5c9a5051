// Package bridge implements the two shared-memory style regions spec.md
// section 4.2 and 4.3 describe: a fixed-size input buffer with an atomic
// lock word for synchronous prompt() reads, and a one-byte interrupt signal
// for the embedded interpreter. Both model "shared memory between an
// orchestrator and an isolated executor" using the primitives Go actually
// gives a single process for synchronizing goroutines standing in for that
// executor: sync/atomic plus a notification channel in place of a futex
// wake, since the standard library has no user-space futex wait/wake and
// nothing in the retrieved pack provides one either.
package bridge

import (
	"context"
	"sync/atomic"
)

// InputCapacity is the fixed capacity of the shared input buffer (10 KiB),
// per spec.md section 4.2.
const InputCapacity = 10 * 1024

const (
	lockWaiting uint32 = 0
	lockReady   uint32 = 1
)

// InputBridge is a single-writer (host egress, on resolveInput), single-reader
// (the owning scripted executor) synchronous handoff: the buffer is opaque
// bytes, truncated-not-terminated, and the atomic lock word is the only
// synchronization primitive (spec.md section 5) — Go's atomic store/load
// pair carries release/acquire semantics, so the buffer write in
// ResolveInput is visible to WaitForInput once it observes lockReady,
// without a separate mutex.
type InputBridge struct {
	buf   [InputCapacity]byte
	n     atomic.Int32 // valid byte count in buf
	lock  atomic.Uint32
	woken chan struct{}
}

// New creates a bridge in the waiting state.
func New() *InputBridge {
	return &InputBridge{
		woken: make(chan struct{}, 1),
	}
}

// Reset rearms the bridge for a new prompt before the executor issues the
// next prompt-request.
func (b *InputBridge) Reset() {
	b.lock.Store(lockWaiting)
	b.n.Store(0)
	select {
	case <-b.woken:
	default:
	}
}

// WaitForInput blocks until resolveInput has written a value, or ctx is
// done. It returns a copy of the valid bytes (never more than
// InputCapacity), so callers may safely retain the slice.
func (b *InputBridge) WaitForInput(ctx context.Context) ([]byte, error) {
	for {
		if b.lock.Load() == lockReady {
			n := b.n.Load()
			out := make([]byte, n)
			copy(out, b.buf[:n])
			return out, nil
		}

		select {
		case <-b.woken:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ResolveInput is the host-egress path's write: zero-fill the buffer, write
// the UTF-8 value truncated to capacity without error, store the lock word,
// and wake one waiter. Per spec.md section 4.2, truncation is silent and
// callers must not rely on a terminator.
func (b *InputBridge) ResolveInput(value string) {
	data := []byte(value)
	if len(data) > InputCapacity {
		data = data[:InputCapacity]
	}
	for i := range b.buf {
		b.buf[i] = 0
	}
	copy(b.buf[:], data)
	b.n.Store(int32(len(data)))
	b.lock.Store(lockReady)

	select {
	case b.woken <- struct{}{}:
	default:
	}
}
