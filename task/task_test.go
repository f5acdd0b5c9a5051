package task

import (
	"testing"
	"time"

	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/types"
	"github.com/stretchr/testify/require"
)

func newTestTask() *Task {
	return New(types.ExecutionRequest{ID: "a", Code: "1+2", Language: types.Scripted})
}

func TestTaskLifecycle(t *testing.T) {
	tk := newTestTask()
	require.Equal(t, Queued, tk.GetState())

	tk.MarkAssigned("handle-1")
	require.Equal(t, Assigned, tk.GetState())
	handle, assigned := tk.AssignedHandle()
	require.True(t, assigned)
	require.Equal(t, "handle-1", handle)

	tk.Resolve(types.Ok(3))
	require.Equal(t, Resolved, tk.GetState())
	require.True(t, tk.Resolved())
}

func TestTaskResolveIsIdempotent(t *testing.T) {
	tk := newTestTask()
	tk.Resolve(types.Ok(1))
	tk.Resolve(types.Err(errkind.WorkerCrash, "should not win"))

	out := tk.Wait()
	require.True(t, out.OK)
	require.Equal(t, 1, out.Value)
}

func TestTaskWaitBlocksUntilResolve(t *testing.T) {
	tk := newTestTask()
	resultCh := make(chan types.Outcome, 1)
	go func() { resultCh <- tk.Wait() }()

	select {
	case <-resultCh:
		t.Fatal("Wait returned before Resolve")
	case <-time.After(20 * time.Millisecond):
	}

	tk.Resolve(types.Ok("done"))
	select {
	case out := <-resultCh:
		require.Equal(t, "done", out.Value)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resolve")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	tk := newTestTask()
	r.Put(tk)

	require.Equal(t, tk, r.Get("a"))
	require.Equal(t, 1, r.Len())

	r.Remove("a")
	require.Nil(t, r.Get("a"))
	require.Equal(t, 0, r.Len())
}
