package queue

import (
	"testing"

	"github.com/scratchlab/execorch/errkind"
	"github.com/scratchlab/execorch/task"
	"github.com/scratchlab/execorch/types"
	"github.com/stretchr/testify/require"
)

func mkTask(id string, priority int) *task.Task {
	return task.New(types.ExecutionRequest{ID: id, Language: types.Scripted, Priority: priority})
}

func TestFIFOWithinPriority(t *testing.T) {
	q := New(0)
	require.NoError(t, q.Enqueue(mkTask("a", 0)))
	require.NoError(t, q.Enqueue(mkTask("b", 0)))
	require.NoError(t, q.Enqueue(mkTask("c", 0)))

	require.Equal(t, "a", q.Dequeue().ID())
	require.Equal(t, "b", q.Dequeue().ID())
	require.Equal(t, "c", q.Dequeue().ID())
	require.Nil(t, q.Dequeue())
}

func TestPriorityOrdering(t *testing.T) {
	q := New(0)
	require.NoError(t, q.Enqueue(mkTask("low", 0)))
	require.NoError(t, q.Enqueue(mkTask("high", 10)))
	require.NoError(t, q.Enqueue(mkTask("mid", 5)))

	require.Equal(t, "high", q.Dequeue().ID())
	require.Equal(t, "mid", q.Dequeue().ID())
	require.Equal(t, "low", q.Dequeue().ID())
}

func TestQueueFull(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Enqueue(mkTask("a", 0)))
	require.NoError(t, q.Enqueue(mkTask("b", 0)))

	err := q.Enqueue(mkTask("c", 0))
	require.Error(t, err)
	var kerr *errkind.Error
	require.ErrorAs(t, err, &kerr)
	require.Equal(t, errkind.QueueFull, kerr.Kind)
}

func TestCancelQueued(t *testing.T) {
	q := New(0)
	tk := mkTask("a", 0)
	require.NoError(t, q.Enqueue(tk))

	require.True(t, q.Cancel("a"))
	require.Equal(t, 0, q.Len())

	out := tk.Wait()
	require.True(t, out.IsError())
	require.Equal(t, errkind.Cancelled, out.Err.Kind)
}

func TestCancelUnknownIsNoOp(t *testing.T) {
	q := New(0)
	require.False(t, q.Cancel("does-not-exist"))
}
